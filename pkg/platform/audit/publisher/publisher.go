// Package publisher emits lifecycle audit events to an audit.Store.
//
// In the default synchronous mode Emit returns the store error so the caller
// can count and log it. WithAsyncBuffer switches to a buffered background
// writer; Close drains the buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "crvs/pkg/domain"
	audit "crvs/pkg/platform/audit"
	"crvs/pkg/requestcontext"
)

var (
	// ErrBufferFull is returned by Emit in async mode when the buffer is saturated.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Emit once Close has been called.
	ErrClosed = errors.New("audit publisher closed")
)

// Metrics holds Prometheus metrics for audit emission.
type Metrics struct {
	Emitted         prometheus.Counter
	PersistFailures prometheus.Counter
	Dropped         prometheus.Counter
	Tampered        prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics registers audit metrics on reg (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_audit_events_emitted_total",
			Help: "Total number of audit events persisted",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_audit_persist_failures_total",
			Help: "Total number of audit events that failed to persist",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the async buffer was full",
		}),
		Tampered: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_audit_integrity_mismatches_total",
			Help: "Audit events read back whose integrity hash no longer matches",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crvs_audit_persist_duration_seconds",
			Help:    "Time to persist one audit event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics

	// mu guards closed and the buffer send against Close.
	mu     sync.RWMutex
	closed bool
	buffer chan audit.Event
	wg     sync.WaitGroup
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithAsyncBuffer enables buffered background persistence.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit completes the event (id, timestamp, request metadata, integrity) and
// persists it. After Close it returns ErrClosed.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC().Truncate(audit.TimestampPrecision)
	event.Verified = nil
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.Client == "" {
		event.Client = DescribeUserAgent(requestcontext.UserAgent(ctx))
	}
	integrity, err := audit.ComputeIntegrity(event)
	if err != nil {
		return err
	}
	event.Integrity = integrity

	if p.buffer == nil {
		return p.persist(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.metrics != nil {
			p.metrics.Dropped.Inc()
		}
		return ErrBufferFull
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	start := time.Now()
	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.PersistFailures.Inc()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"request_id", event.RequestID,
				"record_id", event.RecordID.String(),
				"action", event.Action,
				"error", err,
			)
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.Emitted.Inc()
		p.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// Detached from the request: the request may be gone by now.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = p.persist(ctx, event)
		cancel()
	}
}

// List returns the record's audit trail with every event's integrity hash
// recomputed. Mismatches are flagged on the event, logged and counted.
func (p *Publisher) List(ctx context.Context, recordID id.RecordID) ([]audit.Event, error) {
	events, err := p.store.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		ok := audit.Verify(events[i])
		events[i].Verified = &ok
		if ok {
			continue
		}
		if p.metrics != nil {
			p.metrics.Tampered.Inc()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit event failed integrity check",
				"request_id", requestcontext.RequestID(ctx),
				"record_id", recordID.String(),
				"event_id", events[i].ID.String(),
				"seq", events[i].Seq,
			)
		}
	}
	return events, nil
}

// Close drains any buffered events. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// DescribeUserAgent reduces a raw User-Agent header to "browser version (os)",
// "bot: name" or the trimmed raw value for non-browser clients.
func DescribeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot: " + name
	}
	if name == "" || ua.OS() == "" {
		if len(raw) > 64 {
			return raw[:64]
		}
		return raw
	}
	label := name
	if version != "" {
		label += " " + version
	}
	label += " (" + ua.OS() + ")"
	if ua.Mobile() {
		label += " mobile"
	}
	return label
}
