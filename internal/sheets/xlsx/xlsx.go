// Package xlsx stores tables as worksheets of a local Excel workbook.
// Every operation opens the workbook, applies its change and saves it back.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"campi/internal/log"
	ports "campi/internal/sheets"

	"github.com/xuri/excelize/v2"
)

const (
	defaultSheet = "Sheet1"
	// metaSheet is a hidden worksheet holding each table's id high-water mark.
	metaSheet = "_meta"
)

type Store struct {
	path string
	mu   sync.Mutex
}

var _ ports.RowStore = (*Store)(nil)

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("xlsx path is required")
	}
	return &Store{path: path}, nil
}

// open returns the workbook, or a fresh one when the file does not exist yet.
func (s *Store) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.path)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	return nil, fmt.Errorf("open workbook: %w", err)
}

func (s *Store) save(f *excelize.File) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// withWorkbook runs fn against an ensured sheet and saves when fn reports a
// change or the id high-water mark moved.
func (s *Store) withWorkbook(ctx context.Context, sc ports.Schema, fn func(f *excelize.File, t *table) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := ensureSheet(f, sc)
	if err != nil {
		return err
	}
	stored, metaRow, err := readHighWater(f, sc.Name)
	if err != nil {
		return err
	}
	t, filled, err := readRaw(f, sc, stored)
	if err != nil {
		return err
	}
	changed := false
	if fn != nil {
		if changed, err = fn(f, t); err != nil {
			return err
		}
	}
	marked := t.lastID != stored
	if marked {
		if err := writeHighWater(f, sc.Name, metaRow, t.lastID); err != nil {
			return err
		}
	}
	if created || filled || changed || marked {
		if created {
			slog.InfoContext(ctx, "Worksheet created", log.FieldComponent, log.ComponentSheets, log.FieldTable, sc.Name, "path", s.path)
		}
		return s.save(f)
	}
	return nil
}

// ensureSheet creates the worksheet with a styled frozen header when missing
// and adds the ID header to sheets that predate it.
func ensureSheet(f *excelize.File, sc ports.Schema) (bool, error) {
	idx, err := f.GetSheetIndex(sc.Name)
	if err != nil {
		return false, fmt.Errorf("sheet index %s: %w", sc.Name, err)
	}
	idCell, _ := excelize.CoordinatesToCellName(sc.IDColumn()+1, 1)
	if idx != -1 {
		v, err := f.GetCellValue(sc.Name, idCell)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", idCell, err)
		}
		if strings.TrimSpace(v) == ports.IDHeader {
			return false, nil
		}
		if err := f.SetCellValue(sc.Name, idCell, ports.IDHeader); err != nil {
			return false, fmt.Errorf("write %s: %w", idCell, err)
		}
		return true, nil
	}

	newIdx, err := f.NewSheet(sc.Name)
	if err != nil {
		return false, fmt.Errorf("create sheet %s: %w", sc.Name, err)
	}
	// A brand new workbook carries an empty default sheet.
	if sc.Name != defaultSheet {
		if i, _ := f.GetSheetIndex(defaultSheet); i != -1 {
			if rows, _ := f.GetRows(defaultSheet); len(rows) == 0 {
				f.SetActiveSheet(newIdx)
				_ = f.DeleteSheet(defaultSheet)
			}
		}
	}

	headers := sc.Headers()
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sc.Name, "A1", &row); err != nil {
		return false, fmt.Errorf("write headers %s: %w", sc.Name, err)
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{strings.TrimPrefix(sc.Color, "#")}},
	})
	if err != nil {
		return false, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(sc.Name, "A1", idCell, style); err != nil {
		return false, fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetPanes(sc.Name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return false, fmt.Errorf("freeze header: %w", err)
	}
	return true, nil
}

type rawRow struct {
	number int
	cells  []any
	id     int64
}

// table is a worksheet's data rows plus the last id it handed out.
type table struct {
	rows   []rawRow
	lastID int64
}

func (t *table) allocate() int64 {
	t.lastID++
	return t.lastID
}

// readHighWater returns the stored id mark of a table and the meta row
// holding it, 0 when the table has none yet.
func readHighWater(f *excelize.File, name string) (int64, int, error) {
	idx, err := f.GetSheetIndex(metaSheet)
	if err != nil {
		return 0, 0, fmt.Errorf("sheet index %s: %w", metaSheet, err)
	}
	if idx == -1 {
		return 0, 0, nil
	}
	grid, err := f.GetRows(metaSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", metaSheet, err)
	}
	for i, row := range grid {
		if len(row) == 0 || strings.TrimSpace(row[0]) != name {
			continue
		}
		var last int64
		if len(row) > 1 {
			last, _ = ports.ParseID(row[1])
		}
		return last, i + 1, nil
	}
	return 0, 0, nil
}

// writeHighWater stores the id mark of a table, creating the hidden meta
// sheet on first use. row 0 appends a new entry.
func writeHighWater(f *excelize.File, name string, row int, last int64) error {
	idx, err := f.GetSheetIndex(metaSheet)
	if err != nil {
		return fmt.Errorf("sheet index %s: %w", metaSheet, err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(metaSheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", metaSheet, err)
		}
		if err := f.SetSheetVisible(metaSheet, false); err != nil {
			return fmt.Errorf("hide sheet %s: %w", metaSheet, err)
		}
	}
	if row == 0 {
		grid, err := f.GetRows(metaSheet)
		if err != nil {
			return fmt.Errorf("read %s: %w", metaSheet, err)
		}
		row = len(grid) + 1
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(metaSheet, cell, &[]any{name, last}); err != nil {
		return fmt.Errorf("write %s id mark: %w", name, err)
	}
	return nil
}

// readRaw returns the data rows, assigning ids above the high-water mark to
// rows that lack one.
func readRaw(f *excelize.File, sc ports.Schema, stored int64) (*table, bool, error) {
	grid, err := f.GetRows(sc.Name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", sc.Name, err)
	}
	var rows []rawRow
	var ids []int64
	for i := 1; i < len(grid); i++ {
		cells := make([]any, len(grid[i]))
		for j, v := range grid[i] {
			cells[j] = v
		}
		r := rawRow{number: i + 1, cells: cells}
		if len(cells) > sc.IDColumn() {
			if id, ok := ports.ParseID(cells[sc.IDColumn()]); ok {
				r.id = id
				ids = append(ids, id)
			}
		}
		rows = append(rows, r)
	}

	t := &table{rows: rows, lastID: ports.HighWater(stored, ids...)}
	filled := false
	for i := range t.rows {
		if t.rows[i].id != 0 || blankRow(t.rows[i].cells) {
			continue
		}
		t.rows[i].id = t.allocate()
		cell, _ := excelize.CoordinatesToCellName(sc.IDColumn()+1, t.rows[i].number)
		if err := f.SetCellValue(sc.Name, cell, t.rows[i].id); err != nil {
			return nil, false, fmt.Errorf("assign id %s: %w", cell, err)
		}
		filled = true
	}
	return t, filled, nil
}

func (s *Store) EnsureTable(ctx context.Context, sc ports.Schema) error {
	return s.withWorkbook(ctx, sc, nil)
}

func (s *Store) ReadRows(ctx context.Context, sc ports.Schema) ([]ports.Row, error) {
	var out []ports.Row
	err := s.withWorkbook(ctx, sc, func(_ *excelize.File, t *table) (bool, error) {
		out = make([]ports.Row, 0, len(t.rows))
		for _, r := range t.rows {
			if r.id == 0 {
				continue
			}
			out = append(out, ports.Row{ID: r.id, Values: ports.NormalizeRow(sc, r.cells)})
		}
		return false, nil
	})
	return out, err
}

func (s *Store) WriteRow(ctx context.Context, sc ports.Schema, id int64, values []any) (int64, error) {
	vals := ports.NormalizeRow(sc, values)
	err := s.withWorkbook(ctx, sc, func(f *excelize.File, t *table) (bool, error) {
		number := 0
		insert := id == 0
		if insert {
			id = t.allocate()
			number = len(t.rows) + 2
		} else {
			for _, r := range t.rows {
				if r.id == id {
					number = r.number
					break
				}
			}
			if number == 0 {
				return false, fmt.Errorf("%s id %d: %w", sc.Name, id, ports.ErrRowNotFound)
			}
		}

		row := make([]any, 0, sc.Width())
		for _, v := range vals {
			row = append(row, toCell(v))
		}
		row = append(row, id)
		cell, _ := excelize.CoordinatesToCellName(1, number)
		if err := f.SetSheetRow(sc.Name, cell, &row); err != nil {
			return false, fmt.Errorf("write %s row %d: %w", sc.Name, number, err)
		}
		if insert {
			if err := applyFormats(f, sc, number); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) DeleteRow(ctx context.Context, sc ports.Schema, id int64) error {
	return s.withWorkbook(ctx, sc, func(f *excelize.File, t *table) (bool, error) {
		for _, r := range t.rows {
			if r.id != id {
				continue
			}
			if err := f.RemoveRow(sc.Name, r.number); err != nil {
				return false, fmt.Errorf("delete %s row %d: %w", sc.Name, r.number, err)
			}
			return true, nil
		}
		return false, nil
	})
}

func applyFormats(f *excelize.File, sc ports.Schema, number int) error {
	apply := func(cols []int, format string) error {
		if len(cols) == 0 {
			return nil
		}
		style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
		if err != nil {
			return fmt.Errorf("number format %q: %w", format, err)
		}
		for _, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(col+1, number)
			if err := f.SetCellStyle(sc.Name, cell, cell, style); err != nil {
				return fmt.Errorf("apply format %s: %w", cell, err)
			}
		}
		return nil
	}
	if err := apply(sc.ColumnsOf(ports.KindDate), ports.DateFormat); err != nil {
		return err
	}
	return apply(sc.ColumnsOf(ports.KindCurrency), ports.CurrencyFormat)
}

// toCell converts a normalized value into a workbook cell value. Dates are
// stored as serial numbers so the date format applies.
func toCell(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return ports.TimeToSerial(val)
	default:
		return val
	}
}

func blankRow(cells []any) bool {
	for _, v := range cells {
		if !ports.IsBlank(v) {
			return false
		}
	}
	return true
}
