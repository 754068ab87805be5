package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"campi/internal/core"
	"campi/internal/log"
	"campi/internal/overview"
	"campi/internal/records"
	"campi/internal/sheets/memory"
)

const testToken = "s3cret"

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.Store) {
	t.Helper()
	store := memory.New()
	now := func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	reg := records.NewRegistry(store, records.WithLogger(log.Discard()), records.WithClock(now, time.UTC))
	agg := overview.New(reg.Plots, reg.Operations, reg.Costs, reg.Harvests).WithClock(now, time.UTC)
	return New(testToken, reg, agg, log.Discard()), store
}

func call(d *Dispatcher, action, data, rowID string) any {
	return d.Dispatch(context.Background(), Request{Token: testToken, Action: action, Data: data, RowID: rowID})
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestUnauthorized(t *testing.T) {
	d, store := newTestDispatcher(t)
	for _, token := range []string{"", "wrong", testToken + "x"} {
		resp := d.Dispatch(context.Background(), Request{Token: token, Action: "saveCampo", Data: `{"nome":"X"}`})
		if got := toJSON(t, resp); got != `{"error":"Unauthorized"}` {
			t.Errorf("token %q: %s", token, got)
		}
	}
	if h := store.Headers(records.PlotSchema.Name); h != nil {
		t.Fatal("unauthorized request touched the store")
	}
}

func TestUnknownAction(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if got := toJSON(t, call(d, "bogus", "", "")); got != `{"error":"Unknown action: bogus"}` {
		t.Fatalf("got %s", got)
	}
}

func TestSetup(t *testing.T) {
	d, store := newTestDispatcher(t)
	got := toJSON(t, call(d, "setup", "", ""))
	if got != `{"success":true,"message":"Fogli creati correttamente."}` {
		t.Fatalf("got %s", got)
	}
	for _, s := range records.Schemas() {
		if store.Headers(s.Name) == nil {
			t.Errorf("table %s not created", s.Name)
		}
	}
}

func TestSaveListDeleteFlow(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if got := toJSON(t, call(d, "getCampi", "", "")); got != `[]` {
		t.Fatalf("empty list = %s", got)
	}

	got := toJSON(t, call(d, "saveCampo", `{"nome":"Vigna","ettari":"1,5","numPiante":120}`, ""))
	if got != `{"success":true,"id":1}` {
		t.Fatalf("save = %s", got)
	}

	list, ok := call(d, "getCampi", "", "").([]core.Plot)
	if !ok || len(list) != 1 || list[0].Hectares != core.NumberOf(1.5) {
		t.Fatalf("list = %#v", list)
	}
	listJSON := toJSON(t, list)
	if !strings.Contains(listJSON, `"id":1`) || !strings.Contains(listJSON, `"varieta":""`) || !strings.Contains(listJSON, `"annoImpianto":null`) {
		t.Fatalf("list json = %s", listJSON)
	}

	got = toJSON(t, call(d, "saveCampo", `{"id":"1","nome":"Vigna Alta"}`, ""))
	if got != `{"success":true,"id":1}` {
		t.Fatalf("update = %s", got)
	}

	if got := toJSON(t, call(d, "deleteCampo", "", "1")); got != `{"success":true}` {
		t.Fatalf("delete = %s", got)
	}
	if got := toJSON(t, call(d, "getCampi", "", "")); got != `[]` {
		t.Fatalf("list after delete = %s", got)
	}
}

func TestSaveErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	tests := []struct {
		name   string
		action string
		data   string
		rowID  string
		want   string
	}{
		{"missing data", "saveCosto", "", "", "missing data"},
		{"bad json", "saveCosto", "{", "", "invalid data"},
		{"missing date", "saveLavorazione", `{"campo":"Vigna"}`, "", "missing or invalid date"},
		{"empty name", "saveCampo", `{"nome":" "}`, "", "empty plot name"},
		{"unknown id", "saveCampo", `{"id":99,"nome":"X"}`, "", "row not found"},
		{"bad id", "saveCampo", `{"id":"abc","nome":"X"}`, "", "invalid id"},
		{"bad rowId", "deleteCosto", "", "abc", "invalid rowId"},
		{"missing rowId", "deleteRaccolta", "", "", "invalid rowId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := call(d, tt.action, tt.data, tt.rowID).(ErrorResponse)
			if !ok || !strings.Contains(resp.Error, tt.want) {
				t.Fatalf("resp = %#v, want error containing %q", resp, tt.want)
			}
		})
	}
}

func TestOverviewAction(t *testing.T) {
	d, _ := newTestDispatcher(t)
	call(d, "saveCampo", `{"nome":"Vigna"}`, "")
	call(d, "saveCosto", `{"data":"2024-02-01","campo":"Vigna","quantita":2,"costoUnitario":"25"}`, "")
	call(d, "saveCosto", `{"data":"2024-03-01","campo":"Vigna","quantita":"1","costoUnitario":30}`, "")
	call(d, "saveCosto", `{"data":"2023-03-01","campo":"Vigna","quantita":1,"costoUnitario":100}`, "")
	call(d, "saveRaccolta", `{"anno":2023,"campo":"Vigna","kg":500}`, "")
	call(d, "saveRaccolta", `{"anno":"2024","campo":"Vigna","kg":700}`, "")
	call(d, "saveLavorazione", `{"data":"05/03/2024","campo":"Vigna","tipo":"Potatura"}`, "")

	got := toJSON(t, call(d, "getOverview", "", ""))
	for _, want := range []string{
		`"costiAnno":80`,
		`"ultimaRaccolta":{"anno":2024,"kg":700}`,
		`"ultimaPotatura":"2024-03-05"`,
		`"ultimoTrattamento":null`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in %s", want, got)
		}
	}
}

func TestHarvestYearDefault(t *testing.T) {
	d, _ := newTestDispatcher(t)
	call(d, "saveRaccolta", `{"campo":"Vigna"}`, "")
	got := toJSON(t, call(d, "getRaccolte", "", ""))
	if !strings.Contains(got, `"anno":2024`) {
		t.Fatalf("got %s", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.actions["boom"] = func(context.Context, Request) (any, error) { panic("kaboom") }
	if got := toJSON(t, call(d, "boom", "", "")); got != `{"error":"kaboom"}` {
		t.Fatalf("got %s", got)
	}
}

func TestActionsList(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if n := len(d.Actions()); n != 14 {
		t.Fatalf("actions = %d, want 14", n)
	}
}
