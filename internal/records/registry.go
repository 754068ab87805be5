package records

import (
	"context"
	"fmt"
	"time"

	"campi/internal/core"
	"campi/internal/log"
	"campi/internal/sheets"
)

// Registry groups the repositories of every entity over one store.
type Registry struct {
	store sheets.RowStore

	Plots      *Plots
	Operations *Operations
	Costs      *Costs
	Harvests   *Harvests
}

type Option func(*options)

type options struct {
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
	location *time.Location
}

// WithNotifier publishes every change through n.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time source and zone used to default the harvest year.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(o *options) {
		o.now = now
		if loc != nil {
			o.location = loc
		}
	}
}

func NewRegistry(store sheets.RowStore, opts ...Option) *Registry {
	o := options{now: time.Now, location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.FromContext(context.Background())
	}
	sl := log.NewStructuredLogger(o.logger.WithComponent(log.ComponentRecords))

	return &Registry{
		store: store,
		Plots: &Plots{
			store: store, schema: PlotSchema,
			decode: decodePlot, encode: encodePlot,
			prepare:  func(p core.Plot) (core.Plot, error) { return p, p.Validate() },
			idOf:     func(p core.Plot) core.RecordID { return p.ID },
			notifier: o.notifier, logger: sl,
		},
		Operations: &Operations{
			store: store, schema: OperationSchema,
			decode: decodeOperation, encode: encodeOperation,
			prepare:  func(op core.Operation) (core.Operation, error) { return op, op.Validate() },
			idOf:     func(op core.Operation) core.RecordID { return op.ID },
			notifier: o.notifier, logger: sl,
		},
		Costs: &Costs{
			store: store, schema: CostSchema,
			decode: decodeCost, encode: encodeCost,
			prepare: func(c core.Cost) (core.Cost, error) {
				if err := c.Validate(); err != nil {
					return c, err
				}
				return c.WithTotal(), nil
			},
			idOf:     func(c core.Cost) core.RecordID { return c.ID },
			notifier: o.notifier, logger: sl,
		},
		Harvests: &Harvests{
			store: store, schema: HarvestSchema,
			decode: decodeHarvest, encode: encodeHarvest,
			prepare: func(h core.Harvest) (core.Harvest, error) {
				h = h.WithDefaultYear(o.now().In(o.location).Year())
				return h, h.Validate()
			},
			idOf:     func(h core.Harvest) core.RecordID { return h.ID },
			notifier: o.notifier, logger: sl,
		},
	}
}

// Setup makes sure every table exists. Safe to call repeatedly.
func (r *Registry) Setup(ctx context.Context) error {
	for _, s := range Schemas() {
		if err := r.store.EnsureTable(ctx, s); err != nil {
			return fmt.Errorf("setup %s: %w", s.Name, err)
		}
	}
	return nil
}

// Ping checks that the backing store answers, using the plot table.
func (r *Registry) Ping(ctx context.Context) error {
	store := r.store
	for {
		if p, ok := store.(interface{ Ping(context.Context) error }); ok {
			return p.Ping(ctx)
		}
		u, ok := store.(interface{ Unwrap() sheets.RowStore })
		if !ok {
			break
		}
		store = u.Unwrap()
	}
	return r.store.EnsureTable(ctx, PlotSchema)
}
