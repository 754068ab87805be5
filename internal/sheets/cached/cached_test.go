package cached

import (
	"context"
	"testing"
	"time"

	ports "campi/internal/sheets"
	"campi/internal/sheets/memory"
	"campi/internal/sheets/storetest"
)

type countingStore struct {
	ports.RowStore
	reads int
}

func (c *countingStore) ReadRows(ctx context.Context, s ports.Schema) ([]ports.Row, error) {
	c.reads++
	return c.RowStore.ReadRows(ctx, s)
}

var testSchema = ports.Schema{Name: "Campi", Columns: []ports.Column{{Header: "Nome", Kind: ports.KindText}}}

func TestReadsAreCachedUntilWrite(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{RowStore: memory.New()}
	s := New(inner, time.Minute, 8)

	if _, err := s.WriteRow(ctx, testSchema, 0, []any{"Vigna"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		rows, err := s.ReadRows(ctx, testSchema)
		if err != nil || len(rows) != 1 {
			t.Fatalf("read %d: %v %v", i, rows, err)
		}
	}
	if inner.reads != 1 {
		t.Fatalf("backend reads = %d, want 1", inner.reads)
	}

	id, _ := s.WriteRow(ctx, testSchema, 0, []any{"Oliveto"})
	rows, _ := s.ReadRows(ctx, testSchema)
	if len(rows) != 2 || inner.reads != 2 {
		t.Fatalf("write did not invalidate: rows=%d reads=%d", len(rows), inner.reads)
	}

	if err := s.DeleteRow(ctx, testSchema, id); err != nil {
		t.Fatal(err)
	}
	rows, _ = s.ReadRows(ctx, testSchema)
	if len(rows) != 1 || inner.reads != 3 {
		t.Fatalf("delete did not invalidate: rows=%d reads=%d", len(rows), inner.reads)
	}
}

func TestEnsureTableInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{RowStore: memory.New()}
	s := New(inner, time.Minute, 8)

	_, _ = s.ReadRows(ctx, testSchema)
	_, _ = s.ReadRows(ctx, testSchema)
	if inner.reads != 1 {
		t.Fatalf("backend reads = %d, want 1", inner.reads)
	}
	if err := s.EnsureTable(ctx, testSchema); err != nil {
		t.Fatal(err)
	}
	_, _ = s.ReadRows(ctx, testSchema)
	if inner.reads != 2 {
		t.Fatalf("ensure did not invalidate: reads=%d", inner.reads)
	}
}

func TestIDsNeverReused(t *testing.T) {
	storetest.RunIDStability(t, func(*testing.T) ports.RowStore {
		return New(memory.New(), time.Minute, 8)
	})
}

func TestCachedRowsAreNotShared(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), time.Minute, 8)
	_, _ = s.WriteRow(ctx, testSchema, 0, []any{"Vigna"})

	rows, _ := s.ReadRows(ctx, testSchema)
	rows[0].Values[0] = "changed"
	again, _ := s.ReadRows(ctx, testSchema)
	if again[0].Values[0] != "Vigna" {
		t.Fatalf("cache shared with caller: %v", again[0].Values[0])
	}
}
