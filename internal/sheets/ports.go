package sheets

import (
	"context"
	"errors"
)

// ColumnKind drives how raw cells are normalized on read and formatted on insert.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumber
	KindCurrency
	KindDate
)

// IDHeader is the header of the trailing column holding durable record ids.
const IDHeader = "ID"

// Display formats applied to freshly appended rows.
const (
	DateFormat     = "dd/mm/yyyy"
	CurrencyFormat = "€#,##0.00"
)

var ErrRowNotFound = errors.New("row not found")

type (
	Column struct {
		Header string
		Kind   ColumnKind
	}

	// Schema is the fixed layout of one table. The ID column is not listed
	// in Columns; backends store it right after the last one.
	Schema struct {
		Name    string
		Color   string // header background, "#RRGGBB"
		Columns []Column
	}

	// Row is one data row. Values hold string, float64, time.Time or nil
	// (blank), one per schema column.
	Row struct {
		ID     int64
		Values []any
	}

	// RowStore is the port every table backend implements.
	RowStore interface {
		// EnsureTable creates the table with its styled, frozen header when
		// missing. Existing data is left untouched. Memoized per table.
		EnsureTable(ctx context.Context, s Schema) error

		// ReadRows returns the data rows in table order.
		ReadRows(ctx context.Context, s Schema) ([]Row, error)

		// WriteRow appends a row when id is 0 and returns the new id,
		// otherwise overwrites the row holding id in place.
		WriteRow(ctx context.Context, s Schema, id int64, values []any) (int64, error)

		// DeleteRow removes the row holding id. Unknown ids are a no-op.
		DeleteRow(ctx context.Context, s Schema, id int64) error
	}
)

// Headers returns the header row including the ID column.
func (s Schema) Headers() []string {
	out := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		out = append(out, c.Header)
	}
	return append(out, IDHeader)
}

// Width is the number of stored columns including the ID column.
func (s Schema) Width() int {
	return len(s.Columns) + 1
}

// IDColumn is the zero-based index of the ID column.
func (s Schema) IDColumn() int {
	return len(s.Columns)
}

// ColumnsOf returns the zero-based indexes of the columns of the given kind.
func (s Schema) ColumnsOf(kind ColumnKind) []int {
	var out []int
	for i, c := range s.Columns {
		if c.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}
