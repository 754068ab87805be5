// Package overview derives per-plot summaries from the four tables.
package overview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campi/internal/core"

	"golang.org/x/sync/errgroup"
)

// Lister is the read side of a repository.
type Lister[T any] interface {
	List(ctx context.Context) ([]T, error)
}

type Aggregator struct {
	plots      Lister[core.Plot]
	operations Lister[core.Operation]
	costs      Lister[core.Cost]
	harvests   Lister[core.Harvest]
	now        func() time.Time
	location   *time.Location
}

func New(plots Lister[core.Plot], operations Lister[core.Operation], costs Lister[core.Cost], harvests Lister[core.Harvest]) *Aggregator {
	return &Aggregator{
		plots:      plots,
		operations: operations,
		costs:      costs,
		harvests:   harvests,
		now:        time.Now,
		location:   time.Local,
	}
}

// WithClock sets the time source and the zone "this year" is evaluated in.
func (a *Aggregator) WithClock(now func() time.Time, loc *time.Location) *Aggregator {
	a.now = now
	if loc != nil {
		a.location = loc
	}
	return a
}

// Compute returns one summary per plot, in plot order.
func (a *Aggregator) Compute(ctx context.Context) ([]core.PlotSummary, error) {
	var (
		plots      []core.Plot
		operations []core.Operation
		costs      []core.Cost
		harvests   []core.Harvest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		plots, err = a.plots.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		operations, err = a.operations.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		costs, err = a.costs.List(gctx)
		return err
	})
	g.Go(func() (err error) {
		harvests, err = a.harvests.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}

	year := a.now().In(a.location).Year()
	out := make([]core.PlotSummary, 0, len(plots))
	for _, p := range plots {
		out = append(out, summarize(p, operations, costs, harvests, year))
	}
	return out, nil
}

func summarize(p core.Plot, operations []core.Operation, costs []core.Cost, harvests []core.Harvest, year int) core.PlotSummary {
	s := core.PlotSummary{Plot: p}

	for _, op := range operations {
		if op.PlotName != p.Name || op.Date.IsBlank() {
			continue
		}
		switch strings.TrimSpace(op.Type) {
		case core.OpPruning:
			s.LatestPruning = later(s.LatestPruning, op.Date)
		case core.OpTreatment:
			s.LatestTreatment = later(s.LatestTreatment, op.Date)
		case core.OpFertilization:
			s.LatestFertilization = later(s.LatestFertilization, op.Date)
		}
	}

	for _, c := range costs {
		if c.PlotName == p.Name && !c.Date.IsBlank() && c.Date.Year() == year {
			s.CurrentYearCosts += c.Total.Or(0)
		}
	}

	var best *core.Harvest
	for i := range harvests {
		h := &harvests[i]
		if h.PlotName != p.Name {
			continue
		}
		if best == nil || h.Year.Or(0) > best.Year.Or(0) {
			best = h
		}
	}
	if best != nil {
		s.LatestHarvest = &core.HarvestRef{Year: best.Year, Kg: best.Kg}
	}
	return s
}

func later(cur *core.Date, d core.Date) *core.Date {
	if cur == nil || d.After(cur.Time) {
		return &d
	}
	return cur
}
