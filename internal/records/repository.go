// Package records maps the four domain entities onto spreadsheet tables.
package records

import (
	"context"
	"fmt"

	"campi/internal/core"
	"campi/internal/log"
	"campi/internal/sheets"
)

// Notifier is told about every completed save or delete.
type Notifier interface {
	PublishChange(ctx context.Context, change core.RecordChange) error
}

// Repository lists, saves and deletes records of one entity type.
type Repository[T any] struct {
	store    sheets.RowStore
	schema   sheets.Schema
	decode   func(id int64, c cells) T
	encode   func(T) []any
	prepare  func(T) (T, error)
	idOf     func(T) core.RecordID
	notifier Notifier
	logger   *log.StructuredLogger
}

type (
	Plots      = Repository[core.Plot]
	Operations = Repository[core.Operation]
	Costs      = Repository[core.Cost]
	Harvests   = Repository[core.Harvest]
)

// List returns the records in table order. Rows with a blank first column
// do not count as records.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	rows, err := r.store.ReadRows(ctx, r.schema)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.schema.Name, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) == 0 || sheets.IsBlank(row.Values[0]) {
			continue
		}
		out = append(out, r.decode(row.ID, cells(row.Values)))
	}
	return out, nil
}

// Save inserts rec when it has no id, otherwise overwrites the stored
// record with that id. It returns the record id.
func (r *Repository[T]) Save(ctx context.Context, rec T) (int64, error) {
	rec, err := r.prepare(rec)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", r.schema.Name, err)
	}
	rid := r.idOf(rec)
	if rid < 0 {
		return 0, fmt.Errorf("save %s: %w", r.schema.Name, core.ErrInvalidID)
	}
	created := rid.IsNew()
	id, err := r.store.WriteRow(ctx, r.schema, int64(rid), r.encode(rec))
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", r.schema.Name, err)
	}
	r.changed(ctx, core.RecordChange{Table: r.schema.Name, Action: core.ChangeSaved, RecordID: id, Created: created})
	return id, nil
}

// Delete removes the record with id. Unknown ids are accepted.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("delete %s: %w", r.schema.Name, core.ErrInvalidID)
	}
	if err := r.store.DeleteRow(ctx, r.schema, id); err != nil {
		return fmt.Errorf("delete %s: %w", r.schema.Name, err)
	}
	r.changed(ctx, core.RecordChange{Table: r.schema.Name, Action: core.ChangeDeleted, RecordID: id})
	return nil
}

func (r *Repository[T]) changed(ctx context.Context, change core.RecordChange) {
	op := log.OpSave
	if change.Action == core.ChangeDeleted {
		op = log.OpDelete
	}
	r.logger.LogRecordChange(ctx, op, change.Table, change.RecordID, change.Created)
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PublishChange(ctx, change); err != nil {
		r.logger.LogError(ctx, "Change notification failed", err, log.ComponentAMQP, op,
			log.NewFields().WithRecord(change.Table, change.RecordID))
	}
}
