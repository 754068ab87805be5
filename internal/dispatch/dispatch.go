// Package dispatch routes named actions to the repositories and the
// overview. Every outcome, including failures, is a JSON-encodable value.
package dispatch

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"campi/internal/core"
	"campi/internal/log"
	"campi/internal/overview"
	"campi/internal/records"
)

const setupMessage = "Fogli creati correttamente."

// Request is one call as received from the transport.
type Request struct {
	Token  string
	Action string
	Data   string // JSON record for save actions
	RowID  string // record id for delete actions
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	ErrMissingData  = errors.New("missing data")
	ErrInvalidRowID = errors.New("invalid rowId")
)

type handler func(ctx context.Context, req Request) (any, error)

type Dispatcher struct {
	token    string
	registry *records.Registry
	overview *overview.Aggregator
	logger   *log.StructuredLogger
	actions  map[string]handler
}

func New(token string, registry *records.Registry, agg *overview.Aggregator, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	d := &Dispatcher{
		token:    token,
		registry: registry,
		overview: agg,
		logger:   log.NewStructuredLogger(logger.WithComponent(log.ComponentDispatch)),
	}
	d.actions = map[string]handler{
		"getCampi":       listAction[core.Plot](registry.Plots),
		"getLavorazioni": listAction[core.Operation](registry.Operations),
		"getCosti":       listAction[core.Cost](registry.Costs),
		"getRaccolte":    listAction[core.Harvest](registry.Harvests),
		"getOverview":    d.getOverview,

		"saveCampo":       saveAction[core.Plot](registry.Plots),
		"saveLavorazione": saveAction[core.Operation](registry.Operations),
		"saveCosto":       saveAction[core.Cost](registry.Costs),
		"saveRaccolta":    saveAction[core.Harvest](registry.Harvests),

		"deleteCampo":       deleteAction[core.Plot](registry.Plots),
		"deleteLavorazione": deleteAction[core.Operation](registry.Operations),
		"deleteCosto":       deleteAction[core.Cost](registry.Costs),
		"deleteRaccolta":    deleteAction[core.Harvest](registry.Harvests),

		"setup": d.setup,
	}
	return d
}

// Actions returns the names of every supported action.
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.actions))
	for name := range d.actions {
		out = append(out, name)
	}
	return out
}

// Dispatch authenticates req and runs its action. It never panics and
// never returns a nil value.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.LogError(ctx, "Action panicked", fmt.Errorf("%v", r), log.ComponentDispatch, log.OpDispatch,
				log.NewFields().WithAction(req.Action))
			log.FromContext(ctx).DebugContext(ctx, "Panic stack", "stack", string(debug.Stack()))
			resp = ErrorResponse{Error: fmt.Sprint(r)}
		}
	}()

	if !d.authorized(req.Token) {
		return ErrorResponse{Error: "Unauthorized"}
	}
	h, ok := d.actions[req.Action]
	if !ok {
		return ErrorResponse{Error: "Unknown action: " + req.Action}
	}
	out, err := h(ctx, req)
	if err != nil {
		d.logger.LogError(ctx, "Action failed", err, log.ComponentDispatch, log.OpDispatch,
			log.NewFields().WithAction(req.Action))
		return ErrorResponse{Error: err.Error()}
	}
	return out
}

func (d *Dispatcher) authorized(token string) bool {
	if d.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(d.token)) == 1
}

func (d *Dispatcher) getOverview(ctx context.Context, _ Request) (any, error) {
	return d.overview.Compute(ctx)
}

func (d *Dispatcher) setup(ctx context.Context, _ Request) (any, error) {
	if err := d.registry.Setup(ctx); err != nil {
		return nil, err
	}
	return SuccessResponse{Success: true, Message: setupMessage}, nil
}

type repository[T any] interface {
	List(ctx context.Context) ([]T, error)
	Save(ctx context.Context, rec T) (int64, error)
	Delete(ctx context.Context, id int64) error
}

func listAction[T any](repo repository[T]) handler {
	return func(ctx context.Context, _ Request) (any, error) {
		items, err := repo.List(ctx)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	}
}

func saveAction[T any](repo repository[T]) handler {
	return func(ctx context.Context, req Request) (any, error) {
		if strings.TrimSpace(req.Data) == "" {
			return nil, ErrMissingData
		}
		var rec T
		if err := json.Unmarshal([]byte(req.Data), &rec); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
		id, err := repo.Save(ctx, rec)
		if err != nil {
			return nil, err
		}
		return SuccessResponse{Success: true, ID: id}, nil
	}
}

func deleteAction[T any](repo repository[T]) handler {
	return func(ctx context.Context, req Request) (any, error) {
		id, err := parseRowID(req.RowID)
		if err != nil {
			return nil, err
		}
		if err := repo.Delete(ctx, id); err != nil {
			return nil, err
		}
		return SuccessResponse{Success: true}, nil
	}
}

func parseRowID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRowID, s)
	}
	return id, nil
}

// compile-time checks that the repositories fit the action helpers
var (
	_ repository[core.Plot]      = (*records.Plots)(nil)
	_ repository[core.Operation] = (*records.Operations)(nil)
	_ repository[core.Cost]      = (*records.Costs)(nil)
	_ repository[core.Harvest]   = (*records.Harvests)(nil)
)
