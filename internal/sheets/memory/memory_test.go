package memory

import (
	"context"
	"errors"
	"testing"

	ports "campi/internal/sheets"
	"campi/internal/sheets/storetest"
)

var testSchema = ports.Schema{
	Name: "Test",
	Columns: []ports.Column{
		{Header: "Nome", Kind: ports.KindText},
		{Header: "Ettari", Kind: ports.KindNumber},
	},
}

func TestStoreWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	id1, err := s.WriteRow(ctx, testSchema, 0, []any{"A", "1,5"})
	if err != nil || id1 != 1 {
		t.Fatalf("append: id=%d err=%v", id1, err)
	}
	id2, _ := s.WriteRow(ctx, testSchema, 0, []any{"B"})
	if id2 != 2 {
		t.Fatalf("second id = %d, want 2", id2)
	}

	rows, _ := s.ReadRows(ctx, testSchema)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Values[1] != 1.5 {
		t.Fatalf("number not normalized: %#v", rows[0].Values[1])
	}
	if rows[1].Values[1] != nil {
		t.Fatalf("short row not padded: %#v", rows[1].Values)
	}

	if _, err := s.WriteRow(ctx, testSchema, id1, []any{"A2", 3.0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.DeleteRow(ctx, testSchema, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteRow(ctx, testSchema, 99); err != nil {
		t.Fatalf("delete unknown id should be a no-op: %v", err)
	}

	rows, _ = s.ReadRows(ctx, testSchema)
	if len(rows) != 1 || rows[0].ID != id2 {
		t.Fatalf("unexpected rows after delete: %+v", rows)
	}

	// Ids are never reused.
	id3, _ := s.WriteRow(ctx, testSchema, 0, []any{"C"})
	if id3 != 3 {
		t.Fatalf("id after delete = %d, want 3", id3)
	}
}

func TestStoreUpdateUnknownID(t *testing.T) {
	s := New()
	_, err := s.WriteRow(context.Background(), testSchema, 7, []any{"X"})
	if !errors.Is(err, ports.ErrRowNotFound) {
		t.Fatalf("err = %v, want ErrRowNotFound", err)
	}
}

func TestStoreEnsureTable(t *testing.T) {
	s := New()
	if h := s.Headers("Test"); h != nil {
		t.Fatalf("table should not exist yet: %v", h)
	}
	if err := s.EnsureTable(context.Background(), testSchema); err != nil {
		t.Fatal(err)
	}
	h := s.Headers("Test")
	if len(h) != 3 || h[2] != ports.IDHeader {
		t.Fatalf("headers = %v", h)
	}
}

func TestReadRowsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.WriteRow(ctx, testSchema, 0, []any{"A", 1.0})
	rows, _ := s.ReadRows(ctx, testSchema)
	rows[0].Values[0] = "mutated"
	again, _ := s.ReadRows(ctx, testSchema)
	if again[0].Values[0] != "A" {
		t.Fatalf("store mutated through returned slice")
	}
}

func TestIDsNeverReused(t *testing.T) {
	storetest.RunIDStability(t, func(*testing.T) ports.RowStore { return New() })
}
