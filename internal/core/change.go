package core

type ChangeAction string

const (
	ChangeSaved   ChangeAction = "saved"
	ChangeDeleted ChangeAction = "deleted"
)

// RecordChange describes a completed mutation on one table.
type RecordChange struct {
	Table    string
	Action   ChangeAction
	RecordID int64
	Created  bool
}
