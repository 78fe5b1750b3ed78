// Package worker relays audit outbox entries to the message broker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "crvs/pkg/platform/audit"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Producer publishes one message keyed by aggregate id.
type Producer interface {
	Publish(ctx context.Context, key string, payload []byte, headers map[string]string) error
}

// TxRunner scopes a fetch-publish-mark cycle to one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Relay polls the outbox and publishes pending entries in creation order.
// Delivery is at-least-once: a crash between publish and mark republishes
// the batch, and consumers dedupe on the event id in the payload.
type Relay struct {
	outbox    audit.Outbox
	tx        TxRunner
	producer  Producer
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTx runs each batch inside the given transaction runner.
func WithTx(tx TxRunner) Option {
	return func(r *Relay) { r.tx = tx }
}

func NewRelay(outbox audit.Outbox, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
		} else if n > 0 {
			r.logger.DebugContext(ctx, "audit outbox relayed", "count", n)
		}
		// Drain backlogs without waiting for the next tick.
		if n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce relays one batch and returns how many entries were published.
// Publishing stops at the first failure; published entries are still marked.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	cycle := func(ctx context.Context) error {
		entries, err := r.outbox.FetchPending(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			headers := map[string]string{"event_type": e.EventType, "outbox_id": e.ID.String()}
			if err := r.producer.Publish(ctx, e.AggregateID, e.Payload, headers); err != nil {
				publishErr = fmt.Errorf("publish outbox entry %s: %w", e.ID, err)
				break
			}
			ids = append(ids, e.ID)
		}
		if err := r.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	}

	var err error
	if r.tx == nil {
		err = cycle(ctx)
	} else {
		err = r.tx.RunInTx(ctx, cycle)
	}
	if err != nil {
		return 0, errors.Join(publishErr, err)
	}
	return published, publishErr
}
