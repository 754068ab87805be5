// Package storetest holds behaviour checks shared by every RowStore backend.
package storetest

import (
	"context"
	"testing"

	ports "campi/internal/sheets"
)

// Schema is a minimal table used by the shared checks.
var Schema = ports.Schema{
	Name:  "Campi",
	Color: "#2E7D32",
	Columns: []ports.Column{
		{Header: "Nome Campo", Kind: ports.KindText},
	},
}

type step struct {
	op   string // "save" or "delete"
	name string // record name, the target of a delete
}

// RunIDStability checks that deleting rows never changes the ids of other
// rows and that ids of deleted rows are never handed out again, including
// when a delete is retried after a new row has been stored.
func RunIDStability(t *testing.T, newStore func(t *testing.T) ports.RowStore) {
	t.Helper()
	tests := []struct {
		name  string
		steps []step
		want  []string // surviving names in table order
	}{
		{
			name: "delete newest then insert",
			steps: []step{
				{"save", "A"}, {"save", "B"}, {"delete", "B"}, {"save", "C"}, {"delete", "B"},
			},
			want: []string{"A", "C"},
		},
		{
			name: "delete oldest then insert",
			steps: []step{
				{"save", "A"}, {"save", "B"}, {"delete", "A"}, {"save", "C"}, {"delete", "A"},
			},
			want: []string{"B", "C"},
		},
		{
			name: "empty table then insert",
			steps: []step{
				{"save", "A"}, {"delete", "A"}, {"save", "B"}, {"delete", "A"}, {"delete", "A"},
			},
			want: []string{"B"},
		},
		{
			name: "interleaved",
			steps: []step{
				{"save", "A"}, {"save", "B"}, {"save", "C"}, {"delete", "C"}, {"delete", "B"},
				{"save", "D"}, {"delete", "C"}, {"save", "E"}, {"delete", "B"},
			},
			want: []string{"A", "D", "E"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			if err := s.EnsureTable(ctx, Schema); err != nil {
				t.Fatalf("EnsureTable: %v", err)
			}

			ids := map[string]int64{}
			seen := map[int64]string{}
			for _, st := range tt.steps {
				switch st.op {
				case "save":
					id, err := s.WriteRow(ctx, Schema, 0, []any{st.name})
					if err != nil {
						t.Fatalf("save %s: %v", st.name, err)
					}
					if prev, ok := seen[id]; ok {
						t.Fatalf("save %s got id %d, already used by %s", st.name, id, prev)
					}
					ids[st.name], seen[id] = id, st.name
				case "delete":
					if err := s.DeleteRow(ctx, Schema, ids[st.name]); err != nil {
						t.Fatalf("delete %s: %v", st.name, err)
					}
				}
			}

			rows, err := s.ReadRows(ctx, Schema)
			if err != nil {
				t.Fatalf("ReadRows: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("rows = %+v, want names %v", rows, tt.want)
			}
			for i, name := range tt.want {
				if rows[i].ID != ids[name] || ports.CellString(rows[i].Values[0]) != name {
					t.Errorf("row %d = {ID:%d %v}, want {ID:%d %s}", i, rows[i].ID, rows[i].Values[0], ids[name], name)
				}
			}
		})
	}
}
