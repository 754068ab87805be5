// Package memory keeps tables in process memory. It backs the default
// DATA_BACKEND and the repository tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "campi/internal/sheets"
)

type table struct {
	headers []string
	rows    []ports.Row
	nextID  int64
}

type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

var _ ports.RowStore = (*Store)(nil)

func New() *Store {
	return &Store{tables: map[string]*table{}}
}

func (s *Store) EnsureTable(_ context.Context, sc ports.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(sc)
	return nil
}

func (s *Store) ensure(sc ports.Schema) *table {
	t, ok := s.tables[sc.Name]
	if !ok {
		t = &table{headers: sc.Headers(), nextID: 1}
		s.tables[sc.Name] = t
	}
	return t
}

func (s *Store) ReadRows(_ context.Context, sc ports.Schema) ([]ports.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensure(sc)
	out := make([]ports.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = ports.Row{ID: r.ID, Values: append([]any(nil), r.Values...)}
	}
	return out, nil
}

func (s *Store) WriteRow(_ context.Context, sc ports.Schema, id int64, values []any) (int64, error) {
	vals := ports.NormalizeRow(sc, values)
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensure(sc)
	if id == 0 {
		id = t.nextID
		t.nextID++
		t.rows = append(t.rows, ports.Row{ID: id, Values: vals})
		return id, nil
	}
	for i := range t.rows {
		if t.rows[i].ID == id {
			t.rows[i].Values = vals
			return id, nil
		}
	}
	return 0, fmt.Errorf("%s id %d: %w", sc.Name, id, ports.ErrRowNotFound)
}

func (s *Store) DeleteRow(_ context.Context, sc ports.Schema, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensure(sc)
	for i := range t.rows {
		if t.rows[i].ID == id {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Headers returns the header row of a table, or nil when it does not exist.
func (s *Store) Headers(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return append([]string(nil), t.headers...)
	}
	return nil
}
