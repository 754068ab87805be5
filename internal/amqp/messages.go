package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"campi/internal/core"

	"github.com/google/uuid"
)

// ChangeMessage announces that a record was saved or deleted. It carries
// only identifiers; consumers read the record itself when they need it.
type ChangeMessage struct {
	ID        string            `json:"id"`
	Origin    string            `json:"origin"`
	Table     string            `json:"table"`
	Action    core.ChangeAction `json:"action"`
	RecordID  int64             `json:"recordId"`
	Created   bool              `json:"created,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewChangeMessage(origin string, c core.RecordChange) *ChangeMessage {
	return &ChangeMessage{
		ID:        uuid.NewString(),
		Origin:    origin,
		Table:     c.Table,
		Action:    c.Action,
		RecordID:  c.RecordID,
		Created:   c.Created,
		Timestamp: time.Now().UTC(),
	}
}

// Change returns the record change carried by the message.
func (m *ChangeMessage) Change() core.RecordChange {
	return core.RecordChange{Table: m.Table, Action: m.Action, RecordID: m.RecordID, Created: m.Created}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Table == "" {
		return nil, errors.New("change message without table")
	}
	return &msg, nil
}
