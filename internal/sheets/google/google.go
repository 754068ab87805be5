// Package google stores tables as tabs of a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"campi/internal/log"
	ports "campi/internal/sheets"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string

	// mu serializes mutations so row positions stay valid between the
	// lookup and the write.
	mu      sync.Mutex
	ensured map[string]int64 // tab title -> sheetId
}

var _ ports.RowStore = (*Client)(nil)

// metaSheet is a hidden tab holding each table's id high-water mark.
const metaSheet = "_meta"

// New creates a Sheets client. When opts are given they replace the
// service account setup, which lets tests point the client at a fake server.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if len(opts) == 0 {
		svcOpts, err := serviceAccountOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = svcOpts
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: id, ensured: map[string]int64{}}, nil
}

// serviceAccountOptions resolves the service account credentials from inline
// JSON, a file, or GOOGLE_APPLICATION_CREDENTIALS, in that order.
func serviceAccountOptions(ctx context.Context, cfg Config) ([]goption.ClientOption, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(inline)
	case file != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	// oauth2 builds the authorized client on top of the pooled transport.
	base := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	client := oauth2.NewClient(base, creds.TokenSource)
	return []goption.ClientOption{goption.WithHTTPClient(client)}, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

func (c *Client) EnsureTable(ctx context.Context, s ports.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensure(ctx, s)
	return err
}

// ensure must be called with c.mu held.
func (c *Client) ensure(ctx context.Context, s ports.Schema) (int64, error) {
	if id, ok := c.ensured[s.Name]; ok {
		return id, nil
	}
	tabs, err := c.listSheets(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.ensureMeta(ctx, tabs); err != nil {
		return 0, err
	}
	sheetID, found := tabs[s.Name]
	if !found {
		sheetID, err = c.createSheet(ctx, s)
		if err != nil {
			return 0, err
		}
		slog.InfoContext(ctx, "Sheet created", log.FieldComponent, log.ComponentSheets, log.FieldTable, s.Name, "sheet_id", sheetID)
	} else if err := c.ensureIDHeader(ctx, s); err != nil {
		return 0, err
	}
	c.ensured[s.Name] = sheetID
	return sheetID, nil
}

// listSheets maps every tab title to its sheetId.
func (c *Client) listSheets(ctx context.Context) (map[string]int64, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	tabs := make(map[string]int64, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			tabs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	return tabs, nil
}

// ensureMeta creates the hidden id mark tab when the spreadsheet lacks it.
// Must be called with c.mu held.
func (c *Client) ensureMeta(ctx context.Context, tabs map[string]int64) error {
	if _, ok := c.ensured[metaSheet]; ok {
		return nil
	}
	if id, ok := tabs[metaSheet]; ok {
		c.ensured[metaSheet] = id
		return nil
	}
	add := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{
			Title:  metaSheet,
			Hidden: true,
		}},
	}}}
	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, add).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet %s: %w", metaSheet, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return fmt.Errorf("add sheet %s: empty reply", metaSheet)
	}
	c.ensured[metaSheet] = resp.Replies[0].AddSheet.Properties.SheetId
	return nil
}

// readHighWater returns the stored id mark of a table and the 1-based meta
// row holding it, 0 when the table has none yet.
func (c *Client) readHighWater(ctx context.Context, s ports.Schema) (int64, int, error) {
	rng := quoteSheet(metaSheet) + "!A1:B"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", rng, err)
	}
	for i, row := range resp.Values {
		if len(row) == 0 || ports.CellString(row[0]) != s.Name {
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

// writeHighWater stores the id mark of a table. row 0 appends a new entry
// below the existing ones.
func (c *Client) writeHighWater(ctx context.Context, s ports.Schema, t *table) error {
	row := t.metaRow
	if row == 0 {
		rng := quoteSheet(metaSheet) + "!A1:A"
		resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("read %s: %w", rng, err)
		}
		row = len(resp.Values) + 1
	}
	rng := fmt.Sprintf("%s!A%d:B%d", quoteSheet(metaSheet), row, row)
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{{s.Name, t.lastID}}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s id mark: %w", s.Name, err)
	}
	t.metaRow, t.stored = row, t.lastID
	return nil
}

func (c *Client) createSheet(ctx context.Context, s ports.Schema) (int64, error) {
	add := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{
			Title:          s.Name,
			GridProperties: &gsheet.GridProperties{FrozenRowCount: 1},
		}},
	}}}
	resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, add).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("add sheet %s: %w", s.Name, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet %s: empty reply", s.Name)
	}
	sheetID := resp.Replies[0].AddSheet.Properties.SheetId

	if err := c.writeHeaders(ctx, s); err != nil {
		return 0, err
	}

	bg := parseColor(s.Color)
	style := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		RepeatCell: &gsheet.RepeatCellRequest{
			Range: gridRange(sheetID, 0, 1, 0, int64(s.Width())),
			Cell: &gsheet.CellData{UserEnteredFormat: &gsheet.CellFormat{
				BackgroundColor: bg,
				TextFormat: &gsheet.TextFormat{
					Bold:            true,
					ForegroundColor: &gsheet.Color{Red: 1, Green: 1, Blue: 1},
				},
			}},
			Fields: "userEnteredFormat(backgroundColor,textFormat)",
		},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, style).Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("format header %s: %w", s.Name, err)
	}
	return sheetID, nil
}

func (c *Client) writeHeaders(ctx context.Context, s ports.Schema) error {
	headers := s.Headers()
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	rng := fmt.Sprintf("%s!A1:%s1", quoteSheet(s.Name), columnLetter(s.Width()-1))
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write headers %s: %w", s.Name, err)
	}
	return nil
}

// ensureIDHeader adds the ID header to tabs created before ids existed.
func (c *Client) ensureIDHeader(ctx context.Context, s ports.Schema) error {
	cell := fmt.Sprintf("%s!%s1", quoteSheet(s.Name), columnLetter(s.IDColumn()))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, cell).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", cell, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 && ports.CellString(resp.Values[0][0]) == ports.IDHeader {
		return nil
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, cell, &gsheet.ValueRange{Values: [][]any{{ports.IDHeader}}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", cell, err)
	}
	return nil
}

// rawRow is one data row as read from the tab, with its 1-based row number.
type rawRow struct {
	number int
	cells  []any
	id     int64
}

// table is a tab's data rows plus its id high-water mark, both as stored
// and as advanced by this call.
type table struct {
	rows    []rawRow
	lastID  int64
	stored  int64
	metaRow int
}

func (t *table) allocate() int64 {
	t.lastID++
	return t.lastID
}

// commit persists the high-water mark when it moved.
func (c *Client) commit(ctx context.Context, s ports.Schema, t *table) error {
	if t.lastID == t.stored {
		return nil
	}
	return c.writeHighWater(ctx, s, t)
}

// readRaw reads all data rows and the table's id mark. Rows missing an id
// get one above the mark, written back before returning. Must be called
// with c.mu held.
func (c *Client) readRaw(ctx context.Context, s ports.Schema) (*table, error) {
	stored, metaRow, err := c.readHighWater(ctx, s)
	if err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("%s!A2:%s", quoteSheet(s.Name), columnLetter(s.IDColumn()))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	rows := make([]rawRow, 0, len(resp.Values))
	var ids []int64
	for i, cells := range resp.Values {
		r := rawRow{number: i + 2, cells: cells}
		if len(cells) > s.IDColumn() {
			if id, ok := ports.ParseID(cells[s.IDColumn()]); ok {
				r.id = id
				ids = append(ids, id)
			}
		}
		rows = append(rows, r)
	}

	t := &table{rows: rows, lastID: ports.HighWater(stored, ids...), stored: stored, metaRow: metaRow}
	var fill []*gsheet.ValueRange
	idCol := columnLetter(s.IDColumn())
	for i := range t.rows {
		if t.rows[i].id != 0 || blankRow(t.rows[i].cells) {
			continue
		}
		t.rows[i].id = t.allocate()
		fill = append(fill, &gsheet.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteSheet(s.Name), idCol, t.rows[i].number),
			Values: [][]any{{t.rows[i].id}},
		})
	}
	if len(fill) > 0 {
		req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: fill}
		if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return nil, fmt.Errorf("assign ids %s: %w", s.Name, err)
		}
		slog.InfoContext(ctx, "Assigned ids to rows", log.FieldComponent, log.ComponentSheets, log.FieldTable, s.Name, log.FieldCount, len(fill))
	}
	if err := c.commit(ctx, s, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Client) ReadRows(ctx context.Context, s ports.Schema) ([]ports.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.ensure(ctx, s); err != nil {
		return nil, err
	}
	t, err := c.readRaw(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]ports.Row, 0, len(t.rows))
	for _, r := range t.rows {
		if r.id == 0 {
			continue
		}
		out = append(out, ports.Row{ID: r.id, Values: ports.NormalizeRow(s, r.cells)})
	}
	return out, nil
}

func (c *Client) WriteRow(ctx context.Context, s ports.Schema, id int64, values []any) (int64, error) {
	vals := ports.NormalizeRow(s, values)

	c.mu.Lock()
	defer c.mu.Unlock()
	sheetID, err := c.ensure(ctx, s)
	if err != nil {
		return 0, err
	}
	t, err := c.readRaw(ctx, s)
	if err != nil {
		return 0, err
	}

	number := 0
	if id == 0 {
		// The mark is committed before the row so a failed write burns the
		// id instead of handing it out twice.
		id = t.allocate()
		if err := c.commit(ctx, s, t); err != nil {
			return 0, err
		}
		number = len(t.rows) + 2
	} else {
		for _, r := range t.rows {
			if r.id == id {
				number = r.number
				break
			}
		}
		if number == 0 {
			return 0, fmt.Errorf("%s id %d: %w", s.Name, id, ports.ErrRowNotFound)
		}
	}

	row := make([]any, 0, s.Width())
	for _, v := range vals {
		row = append(row, toCell(v))
	}
	row = append(row, id)
	rng := fmt.Sprintf("%s!A%d:%s%d", quoteSheet(s.Name), number, columnLetter(s.IDColumn()), number)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", rng, err)
	}

	if len(t.rows)+2 == number {
		if err := c.applyFormats(ctx, s, sheetID, number); err != nil {
			// The row is stored; a missing display format is not worth failing the save.
			slog.WarnContext(ctx, "Failed to format new row", log.FieldComponent, log.ComponentSheets, log.FieldTable, s.Name, "row", number, log.FieldError, err)
		}
	}
	return id, nil
}

// applyFormats sets the date and currency display formats on a freshly appended row.
func (c *Client) applyFormats(ctx context.Context, s ports.Schema, sheetID int64, number int) error {
	var reqs []*gsheet.Request
	add := func(cols []int, format *gsheet.NumberFormat) {
		for _, col := range cols {
			reqs = append(reqs, &gsheet.Request{RepeatCell: &gsheet.RepeatCellRequest{
				Range:  gridRange(sheetID, int64(number-1), int64(number), int64(col), int64(col+1)),
				Cell:   &gsheet.CellData{UserEnteredFormat: &gsheet.CellFormat{NumberFormat: format}},
				Fields: "userEnteredFormat.numberFormat",
			}})
		}
	}
	add(s.ColumnsOf(ports.KindDate), &gsheet.NumberFormat{Type: "DATE", Pattern: ports.DateFormat})
	add(s.ColumnsOf(ports.KindCurrency), &gsheet.NumberFormat{Type: "CURRENCY", Pattern: ports.CurrencyFormat})
	if len(reqs) == 0 {
		return nil
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	return err
}

func (c *Client) DeleteRow(ctx context.Context, s ports.Schema, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sheetID, err := c.ensure(ctx, s)
	if err != nil {
		return err
	}
	t, err := c.readRaw(ctx, s)
	if err != nil {
		return err
	}
	for _, r := range t.rows {
		if r.id != id {
			continue
		}
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{Range: &gsheet.DimensionRange{
				SheetId:         sheetID,
				Dimension:       "ROWS",
				StartIndex:      int64(r.number - 1),
				EndIndex:        int64(r.number),
				ForceSendFields: []string{"SheetId", "StartIndex"},
			}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("delete %s row %d: %w", s.Name, r.number, err)
		}
		return nil
	}
	return nil
}

func gridRange(sheetID, r0, r1, c0, c1 int64) *gsheet.GridRange {
	return &gsheet.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    r0,
		EndRowIndex:      r1,
		StartColumnIndex: c0,
		EndColumnIndex:   c1,
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
}

// toCell converts a normalized value into what the Sheets API stores.
func toCell(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
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

// columnLetter converts a zero-based column index to A1 notation.
func columnLetter(idx int) string {
	s := ""
	for idx >= 0 {
		s = string(rune('A'+idx%26)) + s
		idx = idx/26 - 1
	}
	return s
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// parseColor turns "#RRGGBB" into a Sheets color. Invalid input gives nil.
func parseColor(hex string) *gsheet.Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return nil
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil
	}
	return &gsheet.Color{
		Red:   float64((v>>16)&0xff) / 255,
		Green: float64((v>>8)&0xff) / 255,
		Blue:  float64(v&0xff) / 255,
	}
}
