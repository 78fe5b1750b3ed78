// Package service runs the lifecycle pipeline for civil-registration records:
//
//	lock -> load (allowed start states) -> guard -> transition -> persist delta
//	     -> {audit, index} concurrently, best-effort
//
// The record store is the single source of truth. Audit and index failures
// after a successful persist are logged and counted but never fail the action;
// index gaps are tracked by the guarded indexer's stale set.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"crvs/internal/search"
	"crvs/internal/workflow/lock"
	"crvs/internal/workflow/metrics"
	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
	"crvs/pkg/platform/audit"
	"crvs/pkg/platform/sentinel"
	"crvs/pkg/requestcontext"
)

const defaultActionTimeout = 5 * time.Second

// Service orchestrates lifecycle actions. Handlers stay thin; the transition
// rules themselves live in models.
type Service struct {
	store         Store
	locker        Locker
	auditor       AuditPublisher
	indexer       Indexer
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	actionTimeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLocker replaces the default in-process sharded locker.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithActionTimeout bounds an action when the caller's context has no deadline.
func WithActionTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.actionTimeout = d
		}
	}
}

func New(store Store, auditor AuditPublisher, indexer Indexer, opts ...Option) *Service {
	s := &Service{
		store:         store,
		auditor:       auditor,
		indexer:       indexer,
		locker:        lock.NewSharded(),
		logger:        slog.Default(),
		tracer:        otel.Tracer("crvs/workflow"),
		actionTimeout: defaultActionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeclareInput is the content of a new declaration.
type DeclareInput struct {
	EventType    id.EventType
	Declaration  models.Declaration
	Participants []models.Participant
	Reason       string
}

// Declare creates a record with its first DECLARED entry.
func (s *Service) Declare(ctx context.Context, in DeclareInput) (*models.Record, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "workflow.Declare",
		trace.WithAttributes(attribute.String("event_type", string(in.EventType))))
	defer span.End()

	now := requestcontext.Now(ctx)
	rec, err := models.NewDeclaredRecord(id.NewRecordID(), in.EventType, in.Declaration, in.Participants, actor, in.Reason, now)
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			err = dErrors.Wrap(err, dErrors.CodeValidation, de.Message)
		}
		return nil, s.fail(ctx, span, models.ActionDeclare, id.RecordID{}, err)
	}
	span.SetAttributes(attribute.String("record_id", rec.ID.String()))

	start := time.Now()
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, s.fail(ctx, span, models.ActionDeclare, rec.ID, translateStoreErr(err, "record not found"))
	}
	s.metrics.ObserveStep("persist", time.Since(start))

	current, _ := rec.Current()
	res := models.TransitionResult{
		Action:     models.ActionDeclare,
		Actor:      actor,
		To:         models.StateDeclared,
		Current:    current,
		Record:     rec,
		OccurredAt: now,
	}
	s.propagate(ctx, res)
	s.succeed(ctx, res)
	return rec.Clone(), nil
}

// Execute applies a lifecycle action to an existing record.
func (s *Service) Execute(ctx context.Context, action models.Action, recordID id.RecordID, input models.TransitionInput) (*models.Record, error) {
	if action == models.ActionDeclare || !action.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unsupported action: "+string(action))
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("record_id", recordID.String()),
	))
	defer span.End()

	res, err := s.apply(ctx, action, recordID, actor, input)
	if err != nil {
		return nil, s.fail(ctx, span, action, recordID, err)
	}

	s.propagate(ctx, res)
	s.succeed(ctx, res)
	return res.Record.Clone(), nil
}

// apply holds the record lock from load through persist.
func (s *Service) apply(ctx context.Context, action models.Action, recordID id.RecordID, actor id.PractitionerID, input models.TransitionInput) (models.TransitionResult, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, recordID)
	if err != nil {
		return models.TransitionResult{}, err
	}
	defer unlock()
	s.metrics.ObserveStep("lock", time.Since(start))

	rec, err := s.Load(ctx, recordID, action.LoadStates())
	if err != nil {
		return models.TransitionResult{}, err
	}
	if err := models.CheckGuards(action, rec); err != nil {
		return models.TransitionResult{}, err
	}
	res, err := models.Transition(action, rec, actor, input, requestcontext.Now(ctx))
	if err != nil {
		return models.TransitionResult{}, err
	}
	if err := s.Persist(ctx, res); err != nil {
		return models.TransitionResult{}, err
	}
	return res, nil
}

// Load fetches the bundle when its current status is in allowed. Missing
// records and records in other states are indistinguishable to the caller.
func (s *Service) Load(ctx context.Context, recordID id.RecordID, allowed []models.State) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.Load")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveStep("load", time.Since(start)) }()

	rec, err := s.store.Load(ctx, recordID, allowed)
	if err != nil {
		span.RecordError(err)
		return nil, translateStoreErr(err, "not found for this state set")
	}
	return rec, nil
}

// Persist writes only the transition's delta, conditional on the version
// observed at load.
func (s *Service) Persist(ctx context.Context, res models.TransitionResult) error {
	ctx, span := s.tracer.Start(ctx, "workflow.Persist")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveStep("persist", time.Since(start)) }()

	if err := s.store.ApplyDelta(ctx, res.Delta()); err != nil {
		span.RecordError(err)
		return translateStoreErr(err, "record not found")
	}
	return nil
}

// RecordAudit appends the audit event for an accepted transition.
func (s *Service) RecordAudit(ctx context.Context, res models.TransitionResult) error {
	ctx, span := s.tracer.Start(ctx, "workflow.RecordAudit")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveStep("audit", time.Since(start)) }()

	if err := s.auditor.Emit(ctx, auditEventFor(res)); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Reindex projects the new current status into the search index. Participant
// fields are only sent on DECLARE.
func (s *Service) Reindex(ctx context.Context, res models.TransitionResult) error {
	ctx, span := s.tracer.Start(ctx, "workflow.Reindex")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveStep("index", time.Since(start)) }()

	p := search.FromTransition(res)
	if res.Action == models.ActionDeclare {
		p = search.FromRecord(res.Record)
	}
	if err := s.indexer.Upsert(ctx, p); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// propagate runs audit and index concurrently once the transition is
// persisted. Neither failure is returned to the caller.
func (s *Service) propagate(ctx context.Context, res models.TransitionResult) {
	var g errgroup.Group
	g.Go(func() error {
		if err := s.RecordAudit(ctx, res); err != nil {
			s.metrics.IncrementAuditFailure()
			s.logger.ErrorContext(ctx, "audit append failed after persisted transition",
				"request_id", requestcontext.RequestID(ctx),
				"record_id", res.Record.ID.String(),
				"action", string(res.Action),
				"error", err,
			)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.Reindex(ctx, res); err != nil {
			s.metrics.IncrementIndexFailure()
			s.logger.WarnContext(ctx, "search index upsert failed, record marked stale",
				"request_id", requestcontext.RequestID(ctx),
				"record_id", res.Record.ID.String(),
				"action", string(res.Action),
				"error", err,
			)
		}
		return nil
	})
	_ = g.Wait()
}

// Get returns the record in any state.
func (s *Service) Get(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	rec, err := s.store.Load(ctx, recordID, nil)
	if err != nil {
		return nil, translateStoreErr(err, "record not found")
	}
	return rec, nil
}

// AuditTrail lists the audit events of an existing record in sequence order.
func (s *Service) AuditTrail(ctx context.Context, recordID id.RecordID) ([]audit.Event, error) {
	if _, err := s.Get(ctx, recordID); err != nil {
		return nil, err
	}
	events, err := s.auditor.List(ctx, recordID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "audit trail unavailable")
	}
	return events, nil
}

func (s *Service) succeed(ctx context.Context, res models.TransitionResult) {
	s.metrics.IncrementTransition(string(res.Action), metrics.OutcomeApplied)
	s.logger.InfoContext(ctx, "lifecycle action applied",
		"request_id", requestcontext.RequestID(ctx),
		"record_id", res.Record.ID.String(),
		"action", string(res.Action),
		"from", string(res.From),
		"to", string(res.To),
		"version", res.Current.Seq,
	)
}

func (s *Service) fail(ctx context.Context, span trace.Span, action models.Action, recordID id.RecordID, err error) error {
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	s.metrics.IncrementTransition(string(action), outcomeFor(code))

	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"record_id", recordID.String(),
		"action", string(action),
		"kind", string(code),
		"error", err,
	}
	switch code {
	case dErrors.CodeStoreUnavailable, dErrors.CodeInternal, dErrors.CodeInvariantViolation:
		s.logger.ErrorContext(ctx, "lifecycle action failed", attrs...)
	default:
		s.logger.InfoContext(ctx, "lifecycle action rejected", attrs...)
	}
	return err
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.actionTimeout)
}

func actorFrom(ctx context.Context) (id.PractitionerID, error) {
	actor := requestcontext.PractitionerID(ctx)
	if actor.IsNil() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "practitioner identity required")
	}
	return actor, nil
}

// translateStoreErr maps store sentinels onto domain errors. notFound is the
// message used for ErrNotFound.
func translateStoreErr(err error, notFound string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record was modified concurrently")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record already exists")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored record violates lifecycle invariants")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "record store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "record store did not respond in time")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "record store error")
}

func outcomeFor(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNotFound:
		return metrics.OutcomeNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return metrics.OutcomeConflict
	case dErrors.CodeStoreUnavailable:
		return metrics.OutcomeUnavailable
	}
	return metrics.OutcomeError
}

func auditEventFor(res models.TransitionResult) audit.Event {
	e := audit.Event{
		Type:       audit.EventRecordTransitioned,
		RecordID:   res.Record.ID,
		EntryID:    res.Current.ID,
		Seq:        res.Current.Seq,
		Action:     string(res.Action),
		ActorID:    res.Actor,
		FromStatus: string(res.From),
		ToStatus:   string(res.To),
		Reason:     res.Current.Reason,
		Timestamp:  res.OccurredAt,
	}
	switch res.Action {
	case models.ActionDeclare:
		e.Type = audit.EventRecordDeclared
	case models.ActionRequestCorrection:
		e.Type = audit.EventCorrectionRequest
		e.Changes = res.Current.RequestedChanges
	case models.ActionRejectCorrection:
		e.Type = audit.EventCorrectionClosed
	case models.ActionApproveCorrection:
		e.Type = audit.EventCorrectionClosed
		e.Changes = res.Current.AppliedChanges
	}
	return e
}
