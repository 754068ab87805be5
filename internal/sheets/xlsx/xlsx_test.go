package xlsx

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ports "campi/internal/sheets"
	"campi/internal/sheets/storetest"

	"github.com/xuri/excelize/v2"
)

var testSchema = ports.Schema{
	Name:  "Lavorazioni",
	Color: "#1565C0",
	Columns: []ports.Column{
		{Header: "Data", Kind: ports.KindDate},
		{Header: "Campo", Kind: ports.KindText},
		{Header: "Costo", Kind: ports.KindCurrency},
	},
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "campi.xlsx")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, path
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEnsureTableCreatesWorkbook(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.EnsureTable(context.Background(), testSchema); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(defaultSheet); idx != -1 {
		t.Errorf("default sheet should be removed")
	}
	rows, err := f.GetRows("Lavorazioni")
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %v err=%v", rows, err)
	}
	want := []string{"Data", "Campo", "Costo", "ID"}
	for i, h := range want {
		if rows[0][i] != h {
			t.Fatalf("header = %v, want %v", rows[0], want)
		}
	}
	if style, _ := f.GetCellStyle("Lavorazioni", "A1"); style == 0 {
		t.Errorf("header should be styled")
	}
}

func TestWriteReadDelete(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	id1, err := s.WriteRow(ctx, testSchema, 0, []any{day, "Vigna", 120.5})
	if err != nil || id1 != 1 {
		t.Fatalf("append: id=%d err=%v", id1, err)
	}
	id2, err := s.WriteRow(ctx, testSchema, 0, []any{"2024-04-01", "Oliveto", nil})
	if err != nil || id2 != 2 {
		t.Fatalf("append: id=%d err=%v", id2, err)
	}

	rows, err := s.ReadRows(ctx, testSchema)
	if err != nil || len(rows) != 2 {
		t.Fatalf("read: %v err=%v", rows, err)
	}
	if d, ok := rows[0].Values[0].(time.Time); !ok || !d.Equal(day) {
		t.Errorf("date = %#v, want %v", rows[0].Values[0], day)
	}
	if rows[0].Values[2] != 120.5 {
		t.Errorf("cost = %#v", rows[0].Values[2])
	}
	if rows[1].Values[2] != nil {
		t.Errorf("blank cost = %#v", rows[1].Values[2])
	}

	f, _ := excelize.OpenFile(path)
	dateStyle, _ := f.GetCellStyle("Lavorazioni", "A2")
	f.Close()
	if dateStyle == 0 {
		t.Errorf("date cell should carry a number format")
	}

	if _, err := s.WriteRow(ctx, testSchema, id2, []any{"2024-04-02", "Oliveto nord", 10.0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.WriteRow(ctx, testSchema, 9, nil); !errors.Is(err, ports.ErrRowNotFound) {
		t.Fatalf("update unknown: %v", err)
	}

	if err := s.DeleteRow(ctx, testSchema, id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteRow(ctx, testSchema, 9); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	rows, _ = s.ReadRows(ctx, testSchema)
	if len(rows) != 1 || rows[0].ID != id2 || rows[0].Values[1] != "Oliveto nord" {
		t.Fatalf("rows after delete = %+v", rows)
	}

	id3, _ := s.WriteRow(ctx, testSchema, 0, []any{day, "Frutteto"})
	if id3 != 3 {
		t.Fatalf("id after delete = %d, want 3", id3)
	}
}

func TestLegacyRowsGetIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.xlsx")
	f := excelize.NewFile()
	_, _ = f.NewSheet("Lavorazioni")
	_ = f.SetSheetRow("Lavorazioni", "A1", &[]any{"Data", "Campo", "Costo"})
	_ = f.SetSheetRow("Lavorazioni", "A2", &[]any{45356.0, "Vigna", 10.0})
	_ = f.SetSheetRow("Lavorazioni", "A3", &[]any{45357.0, "Oliveto", 20.0})
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s, _ := New(path)
	rows, err := s.ReadRows(context.Background(), testSchema)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 1 || rows[1].ID != 2 {
		t.Fatalf("rows = %+v", rows)
	}

	f, _ = excelize.OpenFile(path)
	defer f.Close()
	if v, _ := f.GetCellValue("Lavorazioni", "D1"); v != ports.IDHeader {
		t.Errorf("ID header = %q", v)
	}
	if v, _ := f.GetCellValue("Lavorazioni", "D3"); v != "2" {
		t.Errorf("stored id = %q, want 2", v)
	}
}

func TestIDsNeverReused(t *testing.T) {
	storetest.RunIDStability(t, func(t *testing.T) ports.RowStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestIDMarkIsHiddenAndDurable(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	_, _ = s.WriteRow(ctx, testSchema, 0, []any{"2024-03-05", "Vigna"})
	b, _ := s.WriteRow(ctx, testSchema, 0, []any{"2024-03-05", "Oliveto"})
	if err := s.DeleteRow(ctx, testSchema, b); err != nil {
		t.Fatalf("delete: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	visible, err := f.GetSheetVisible(metaSheet)
	if err != nil || visible {
		t.Errorf("meta sheet visible=%v err=%v, want hidden", visible, err)
	}
	if v, _ := f.GetCellValue(metaSheet, "B1"); v != "2" {
		t.Errorf("stored mark = %q, want 2", v)
	}
	f.Close()

	reopened, _ := New(path)
	id, err := reopened.WriteRow(ctx, testSchema, 0, []any{"2024-03-06", "Frutteto"})
	if err != nil || id != 3 {
		t.Fatalf("id after reopen = %d err=%v, want 3", id, err)
	}
}
