package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ports "campi/internal/sheets"
	"campi/internal/sheets/storetest"
)

var testSchema = ports.Schema{
	Name:  "Raccolta",
	Color: "#E65100",
	Columns: []ports.Column{
		{Header: "Campo", Kind: ports.KindText},
		{Header: "Anno", Kind: ports.KindNumber},
		{Header: "Data Inizio", Kind: ports.KindDate},
	},
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "campi.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	id1, err := s.WriteRow(ctx, testSchema, 0, []any{"Vigna", 2024.0, day})
	if err != nil || id1 != 1 {
		t.Fatalf("append: id=%d err=%v", id1, err)
	}
	id2, err := s.WriteRow(ctx, testSchema, 0, []any{"Oliveto", "2023"})
	if err != nil || id2 != 2 {
		t.Fatalf("append: id=%d err=%v", id2, err)
	}

	rows, err := s.ReadRows(ctx, testSchema)
	if err != nil || len(rows) != 2 {
		t.Fatalf("read: %v err=%v", rows, err)
	}
	if d, ok := rows[0].Values[2].(time.Time); !ok || !d.Equal(day) {
		t.Errorf("date = %#v, want %v", rows[0].Values[2], day)
	}
	if rows[1].Values[1] != 2023.0 || rows[1].Values[2] != nil {
		t.Errorf("row 2 = %#v", rows[1].Values)
	}

	if _, err := s.WriteRow(ctx, testSchema, id1, []any{"Vigna alta", 2024.0, day}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.WriteRow(ctx, testSchema, 99, []any{"x"}); !errors.Is(err, ports.ErrRowNotFound) {
		t.Fatalf("update unknown: %v", err)
	}

	if err := s.DeleteRow(ctx, testSchema, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteRow(ctx, testSchema, 99); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}

	id3, _ := s.WriteRow(ctx, testSchema, 0, []any{"Frutteto"})
	if id3 != 3 {
		t.Fatalf("ids must not be reused: got %d", id3)
	}

	rows, _ = s.ReadRows(ctx, testSchema)
	if len(rows) != 2 || rows[0].ID != id2 || rows[1].ID != id3 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campi.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteRow(context.Background(), testSchema, 0, []any{"Vigna"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Migrations are idempotent and data survives.
	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	rows, err := s.ReadRows(context.Background(), testSchema)
	if err != nil || len(rows) != 1 || rows[0].Values[0] != "Vigna" {
		t.Fatalf("rows = %+v err=%v", rows, err)
	}
}

func TestSQLiteStoreIDsNeverReused(t *testing.T) {
	storetest.RunIDStability(t, func(t *testing.T) ports.RowStore { return newTestStore(t) })
}
