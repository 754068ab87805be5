package overview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"campi/internal/core"
)

type staticList[T any] struct {
	items []T
	err   error
}

func (s staticList[T]) List(context.Context) ([]T, error) {
	return s.items, s.err
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newAggregator(plots []core.Plot, ops []core.Operation, costs []core.Cost, harvests []core.Harvest) *Aggregator {
	return New(
		staticList[core.Plot]{items: plots},
		staticList[core.Operation]{items: ops},
		staticList[core.Cost]{items: costs},
		staticList[core.Harvest]{items: harvests},
	).WithClock(fixedClock, time.UTC)
}

func TestComputeDerivedValues(t *testing.T) {
	plots := []core.Plot{{ID: 1, Name: "Vigna"}, {ID: 2, Name: "Oliveto"}}
	ops := []core.Operation{
		{Date: core.NewDate(2024, 1, 10), PlotName: "Vigna", Type: "Potatura"},
		{Date: core.NewDate(2024, 3, 5), PlotName: "Vigna", Type: "Potatura"},
		{Date: core.NewDate(2023, 12, 1), PlotName: "Vigna", Type: "Potatura"},
		{Date: core.NewDate(2024, 4, 1), PlotName: "Vigna", Type: "Trattamento Fitosanitario"},
		{PlotName: "Vigna", Type: "Concimazione"},
		{Date: core.NewDate(2024, 5, 1), PlotName: "Oliveto", Type: "Concimazione"},
	}
	costs := []core.Cost{
		{Date: core.NewDate(2024, 2, 1), PlotName: "Vigna", Total: core.NumberOf(50)},
		{Date: core.NewDate(2024, 3, 1), PlotName: "Vigna", Total: core.NumberOf(30)},
		{Date: core.NewDate(2023, 3, 1), PlotName: "Vigna", Total: core.NumberOf(100)},
		{Date: core.NewDate(2024, 3, 1), PlotName: "Vigna"},
	}
	harvests := []core.Harvest{
		{Year: core.NumberOf(2023), PlotName: "Vigna", Kg: core.NumberOf(500)},
		{Year: core.NumberOf(2024), PlotName: "Vigna", Kg: core.NumberOf(700)},
	}

	got, err := newAggregator(plots, ops, costs, harvests).Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("summaries = %d, want 2", len(got))
	}

	v := got[0]
	if v.LatestPruning == nil || *v.LatestPruning != core.NewDate(2024, 3, 5) {
		t.Errorf("latest pruning = %v", v.LatestPruning)
	}
	if v.LatestTreatment == nil || *v.LatestTreatment != core.NewDate(2024, 4, 1) {
		t.Errorf("latest treatment = %v", v.LatestTreatment)
	}
	if v.LatestFertilization != nil {
		t.Errorf("undated fertilization should be ignored: %v", v.LatestFertilization)
	}
	if v.CurrentYearCosts != 80 {
		t.Errorf("current year costs = %v, want 80", v.CurrentYearCosts)
	}
	if v.LatestHarvest == nil || v.LatestHarvest.Year != core.NumberOf(2024) || v.LatestHarvest.Kg != core.NumberOf(700) {
		t.Errorf("latest harvest = %+v", v.LatestHarvest)
	}

	o := got[1]
	if o.LatestFertilization == nil || o.LatestPruning != nil || o.LatestHarvest != nil || o.CurrentYearCosts != 0 {
		t.Errorf("oliveto = %+v", o)
	}
}

func TestFirstMaxHarvestWins(t *testing.T) {
	harvests := []core.Harvest{
		{Year: core.NumberOf(2024), PlotName: "Vigna", Kg: core.NumberOf(1)},
		{Year: core.NumberOf(2024), PlotName: "Vigna", Kg: core.NumberOf(2)},
	}
	got, _ := newAggregator([]core.Plot{{Name: "Vigna"}}, nil, nil, harvests).Compute(context.Background())
	if got[0].LatestHarvest.Kg != core.NumberOf(1) {
		t.Fatalf("first maximum should win, got %+v", got[0].LatestHarvest)
	}
}

func TestComputeJSONShape(t *testing.T) {
	got, _ := newAggregator([]core.Plot{{ID: 3, Name: "Vigna"}}, nil, nil, nil).Compute(context.Background())
	b, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"nome":"Vigna"`, `"ultimaPotatura":null`, `"costiAnno":0`, `"ultimaRaccolta":null`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}
}

func TestComputePropagatesErrors(t *testing.T) {
	a := New(
		staticList[core.Plot]{},
		staticList[core.Operation]{err: errors.New("sheet gone")},
		staticList[core.Cost]{},
		staticList[core.Harvest]{},
	)
	if _, err := a.Compute(context.Background()); err == nil || !strings.Contains(err.Error(), "sheet gone") {
		t.Fatalf("err = %v", err)
	}
}
