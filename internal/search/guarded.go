package search

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"crvs/pkg/platform/circuit"
	"crvs/pkg/requestcontext"
)

// Metrics exposes the index gap: failures, the stale backlog and breaker state.
type Metrics struct {
	UpsertFailures prometheus.Counter
	StaleRecords   prometheus.Gauge
	CircuitOpen    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		UpsertFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crvs_index_upsert_failures_total",
			Help: "Search index upserts that failed after the record was persisted",
		}),
		StaleRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "crvs_index_stale_records",
			Help: "Records whose search projection may lag the record store",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "crvs_index_circuit_open",
			Help: "Search index circuit state (0=closed, 1=open)",
		}),
	}
}

// GuardedIndexer wraps an Indexer. Every upsert is attempted; a failure marks
// the record stale and feeds the breaker, a success clears the mark. The error
// is still returned so the caller can log it against the action.
type GuardedIndexer struct {
	next    Indexer
	stale   StaleSet
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type GuardOption func(*GuardedIndexer)

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *GuardedIndexer) { g.logger = logger }
}

func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *GuardedIndexer) { g.metrics = m }
}

func NewGuardedIndexer(next Indexer, stale StaleSet, breaker *circuit.Breaker, opts ...GuardOption) *GuardedIndexer {
	g := &GuardedIndexer{
		next:    next,
		stale:   stale,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GuardedIndexer) Upsert(ctx context.Context, p Projection) error {
	err := g.next.Upsert(ctx, p)
	if err == nil {
		_, change := g.breaker.RecordSuccess()
		if change.Closed {
			g.logger.InfoContext(ctx, "search index recovered", "breaker", g.breaker.Name())
			g.setCircuitGauge(0)
		}
		// Only a full projection closes a gap. A partial one may have landed
		// on a document that never received its participants.
		if !p.Full() {
			return nil
		}
		// Clearing is best-effort; a leftover mark only costs a redundant rebuild.
		if clearErr := g.stale.Clear(ctx, p.RecordID); clearErr == nil {
			g.refreshStaleGauge(ctx)
		}
		return nil
	}

	if g.metrics != nil {
		g.metrics.UpsertFailures.Inc()
	}
	useFallback, change := g.breaker.RecordFailure()
	if change.Opened {
		g.logger.WarnContext(ctx, "search index degraded, circuit opened",
			"breaker", g.breaker.Name(),
			"request_id", requestcontext.RequestID(ctx),
		)
		g.setCircuitGauge(1)
	}
	if markErr := g.stale.Mark(ctx, p.RecordID, err); markErr != nil {
		g.logger.ErrorContext(ctx, "failed to mark record stale in search index",
			"record_id", p.RecordID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"circuit_open", useFallback,
			"error", markErr,
		)
	}
	g.refreshStaleGauge(ctx)
	return err
}

// RefreshGauges re-reads the stale count, e.g. on startup.
func (g *GuardedIndexer) RefreshGauges(ctx context.Context) {
	g.refreshStaleGauge(ctx)
}

func (g *GuardedIndexer) refreshStaleGauge(ctx context.Context) {
	if g.metrics == nil {
		return
	}
	if n, err := g.stale.Count(ctx); err == nil {
		g.metrics.StaleRecords.Set(float64(n))
	}
}

func (g *GuardedIndexer) setCircuitGauge(v float64) {
	if g.metrics != nil {
		g.metrics.CircuitOpen.Set(v)
	}
}
