// Package cached puts a short-lived read cache in front of a RowStore.
// Any mutation of a table drops that table's cached rows.
package cached

import (
	"context"
	"log/slog"
	"time"

	"campi/internal/cache"
	ports "campi/internal/sheets"
)

type Store struct {
	next ports.RowStore
	rows *cache.LRUCache[[]ports.Row]
}

var _ ports.RowStore = (*Store)(nil)

// New wraps next. maxTables bounds how many tables are cached at once.
func New(next ports.RowStore, ttl time.Duration, maxTables int) *Store {
	return &Store{next: next, rows: cache.NewLRUCache[[]ports.Row](maxTables, ttl)}
}

// Cache exposes the underlying cache so a cache.Manager can sweep it.
func (s *Store) Cache() *cache.LRUCache[[]ports.Row] {
	return s.rows
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() ports.RowStore {
	return s.next
}

// EnsureTable also drops cached rows: ensuring may add the ID header or
// back-fill ids on the underlying table.
func (s *Store) EnsureTable(ctx context.Context, sc ports.Schema) error {
	defer s.rows.Delete(sc.Name)
	return s.next.EnsureTable(ctx, sc)
}

func (s *Store) ReadRows(ctx context.Context, sc ports.Schema) ([]ports.Row, error) {
	if rows, ok := s.rows.Get(sc.Name); ok {
		slog.DebugContext(ctx, "Rows served from cache", "table", sc.Name, "rows", len(rows))
		return clone(rows), nil
	}
	rows, err := s.next.ReadRows(ctx, sc)
	if err != nil {
		return nil, err
	}
	s.rows.Set(sc.Name, clone(rows))
	return rows, nil
}

func (s *Store) WriteRow(ctx context.Context, sc ports.Schema, id int64, values []any) (int64, error) {
	defer s.rows.Delete(sc.Name)
	return s.next.WriteRow(ctx, sc, id, values)
}

func (s *Store) DeleteRow(ctx context.Context, sc ports.Schema, id int64) error {
	defer s.rows.Delete(sc.Name)
	return s.next.DeleteRow(ctx, sc, id)
}

func clone(rows []ports.Row) []ports.Row {
	out := make([]ports.Row, len(rows))
	for i, r := range rows {
		out[i] = ports.Row{ID: r.ID, Values: append([]any(nil), r.Values...)}
	}
	return out
}

// Invalidate drops the cached rows of table. Used when another instance
// reports a change.
func (s *Store) Invalidate(table string) {
	s.rows.Delete(table)
}
