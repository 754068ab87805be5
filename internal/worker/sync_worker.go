// Package worker runs background consumers of record change messages.
package worker

import (
	"context"
	"log/slog"
	"time"

	"campi/internal/amqp"
	"campi/internal/log"
)

// Invalidator drops cached rows of a table.
type Invalidator interface {
	Invalidate(table string)
}

// Consumer delivers change messages until ctx is done or the stream breaks.
type Consumer interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// SyncWorker keeps the local read cache coherent with writes made by other
// instances sharing the same spreadsheet.
type SyncWorker struct {
	consumer   Consumer
	cache      Invalidator
	instanceID string
	retryDelay time.Duration
}

func NewSyncWorker(consumer Consumer, cache Invalidator, instanceID string) *SyncWorker {
	return &SyncWorker{
		consumer:   consumer,
		cache:      cache,
		instanceID: instanceID,
		retryDelay: 5 * time.Second,
	}
}

// HandleChange invalidates the table named by msg. Messages published by
// this instance are skipped since the write already invalidated locally.
func (w *SyncWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Origin == w.instanceID {
		return nil
	}
	w.cache.Invalidate(msg.Table)
	slog.DebugContext(ctx, "Cache invalidated by remote change",
		log.FieldComponent, log.ComponentWorker,
		log.FieldTable, msg.Table,
		log.FieldAction, msg.Action,
		log.FieldRecordID, msg.RecordID,
		"origin", msg.Origin)
	return nil
}

// Run consumes until ctx is done, resubscribing after failures.
func (w *SyncWorker) Run(ctx context.Context) {
	for {
		err := w.consumer.ConsumeChanges(ctx, w.HandleChange)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Sync worker stopped", log.FieldComponent, log.ComponentWorker)
			return
		}
		slog.WarnContext(ctx, "Change consumer stopped, retrying",
			log.FieldComponent, log.ComponentWorker,
			log.FieldError, err,
			"retry_in", w.retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retryDelay):
		}
	}
}
