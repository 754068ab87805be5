// Package storage keeps tables in a local SQLite database. Each row is
// stored as a JSON array of cells next to its durable id.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"campi/internal/core"
	"campi/internal/log"
	ports "campi/internal/sheets"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]bool
}

var _ ports.RowStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps id allocation simple.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, ensured: map[string]bool{}}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) EnsureTable(ctx context.Context, sc ports.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[sc.Name] {
		return nil
	}
	headers, err := json.Marshal(sc.Headers())
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sheet_tables (name, headers, color) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		sc.Name, string(headers), sc.Color)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", sc.Name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.InfoContext(ctx, "Table created in SQLite", log.FieldComponent, log.ComponentStorage, log.FieldTable, sc.Name)
	}
	s.ensured[sc.Name] = true
	return nil
}

func (s *SQLiteStore) ReadRows(ctx context.Context, sc ports.Schema) ([]ports.Row, error) {
	if err := s.EnsureTable(ctx, sc); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cells FROM sheet_rows WHERE table_name = ? ORDER BY id`, sc.Name)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sc.Name, err)
	}
	defer rows.Close()

	var out []ports.Row
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sc.Name, err)
		}
		var cells []any
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			return nil, fmt.Errorf("decode %s id %d: %w", sc.Name, id, err)
		}
		out = append(out, ports.Row{ID: id, Values: ports.NormalizeRow(sc, cells)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", sc.Name, err)
	}
	return out, nil
}

func (s *SQLiteStore) WriteRow(ctx context.Context, sc ports.Schema, id int64, values []any) (int64, error) {
	if err := s.EnsureTable(ctx, sc); err != nil {
		return 0, err
	}
	cells, err := encodeCells(ports.NormalizeRow(sc, values))
	if err != nil {
		return 0, err
	}

	if id != 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sheet_rows SET cells = ?, updated_at = CURRENT_TIMESTAMP WHERE table_name = ? AND id = ?`,
			cells, sc.Name, id)
		if err != nil {
			return 0, fmt.Errorf("update %s id %d: %w", sc.Name, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%s id %d: %w", sc.Name, id, ports.ErrRowNotFound)
		}
		return id, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`UPDATE sheet_tables SET next_id = next_id + 1 WHERE name = ? RETURNING next_id - 1`,
		sc.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate id %s: %w", sc.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_rows (table_name, id, cells) VALUES (?, ?, ?)`,
		sc.Name, id, cells); err != nil {
		return 0, fmt.Errorf("insert %s: %w", sc.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteRow(ctx context.Context, sc ports.Schema, id int64) error {
	if err := s.EnsureTable(ctx, sc); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sheet_rows WHERE table_name = ? AND id = ?`, sc.Name, id); err != nil {
		return fmt.Errorf("delete %s id %d: %w", sc.Name, id, err)
	}
	return nil
}

// encodeCells stores dates as ISO strings and blanks as null.
func encodeCells(values []any) (string, error) {
	out := make([]any, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case time.Time:
			out[i] = core.DateOf(val).String()
		case string:
			out[i] = strings.TrimSpace(val)
		default:
			out[i] = val
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode cells: %w", err)
	}
	return string(b), nil
}
