package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/circuit"
)

type SearchSuite struct {
	suite.Suite
	ctx   context.Context
	actor id.PractitionerID
	rec   *models.Record
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchSuite))
}

func (s *SearchSuite) SetupTest() {
	s.ctx = context.Background()
	s.actor = id.PractitionerID(uuid.New())
	rec, err := models.NewDeclaredRecord(id.NewRecordID(), id.EventTypeBirth,
		models.Declaration{Content: json.RawMessage(`{}`)},
		[]models.Participant{{Role: models.RoleChild, GivenName: "Ada", FamilyName: "Mwale"}},
		s.actor, "", time.Now())
	s.Require().NoError(err)
	s.rec = rec
}

func (s *SearchSuite) transition(rec *models.Record, a models.Action) models.TransitionResult {
	res, err := models.Transition(a, rec, s.actor, models.TransitionInput{Reason: "ok"}, time.Now())
	s.Require().NoError(err)
	return res
}

func (s *SearchSuite) TestMemoryIndex() {
	idx := NewMemoryIndex()
	s.Require().NoError(idx.Upsert(s.ctx, FromRecord(s.rec)))

	s.Run("partial projection keeps participants", func() {
		res := s.transition(s.rec, models.ActionRegister)
		s.Require().NoError(idx.Upsert(s.ctx, FromTransition(res)))

		doc, ok := idx.Get(s.ctx, s.rec.ID)
		s.Require().True(ok)
		s.Equal(models.StateRegistered, doc.Status)
		s.Equal(int64(2), doc.Version)
		s.Equal(s.actor.String(), doc.LastActor)
		s.Require().Len(doc.Participants, 1)
		s.Equal("Ada", doc.Participants[0].GivenName)
		s.Equal([]id.RecordID{s.rec.ID}, idx.ByStatus(s.ctx, models.StateRegistered))
		s.Empty(idx.ByStatus(s.ctx, models.StateDeclared))
	})

	s.Run("older versions never overwrite newer ones", func() {
		s.Require().NoError(idx.Upsert(s.ctx, FromRecord(s.rec)))
		doc, _ := idx.Get(s.ctx, s.rec.ID)
		s.Equal(models.StateRegistered, doc.Status)
	})
}

func (s *SearchSuite) TestProjectionFlags() {
	reg := s.transition(s.rec, models.ActionRegister)
	req := s.transition(reg.Record, models.ActionRequestCorrection)

	p := FromTransition(req)
	s.True(p.PendingCorrection)
	s.False(p.Full())
	s.True(FromRecord(req.Record).PendingCorrection)
	s.True(FromRecord(s.rec).Full())
}

type flakyIndexer struct {
	fail bool
	hits int
}

func (f *flakyIndexer) Upsert(context.Context, Projection) error {
	f.hits++
	if f.fail {
		return errors.New("index unreachable")
	}
	return nil
}

func (s *SearchSuite) TestGuardedIndexer() {
	inner := &flakyIndexer{fail: true}
	stale := NewMemoryStaleSet()
	metrics := NewMetrics(prometheus.NewRegistry())
	breaker := circuit.New("search-index", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	g := NewGuardedIndexer(inner, stale, breaker, WithGuardMetrics(metrics))

	other := id.NewRecordID()
	s.Error(g.Upsert(s.ctx, FromRecord(s.rec)))
	s.Error(g.Upsert(s.ctx, Projection{RecordID: other, Version: 1}))

	s.True(breaker.IsOpen())
	s.Equal(float64(1), testutil.ToFloat64(metrics.CircuitOpen))
	s.Equal(float64(2), testutil.ToFloat64(metrics.StaleRecords))
	s.Equal(float64(2), testutil.ToFloat64(metrics.UpsertFailures))

	s.Run("writes are still attempted while open", func() {
		inner.fail = false
		s.NoError(g.Upsert(s.ctx, FromRecord(s.rec)))
		s.Equal(3, inner.hits)
		s.False(breaker.IsOpen())
		s.Equal(float64(0), testutil.ToFloat64(metrics.CircuitOpen))
	})

	s.Run("success clears only that record", func() {
		ids, err := stale.List(s.ctx, 10)
		s.Require().NoError(err)
		s.Equal([]id.RecordID{other}, ids)
		s.Equal(float64(1), testutil.ToFloat64(metrics.StaleRecords))
	})
}

func (s *SearchSuite) TestPartialUpsertKeepsStaleMark() {
	inner := &flakyIndexer{fail: true}
	stale := NewMemoryStaleSet()
	g := NewGuardedIndexer(inner, stale, circuit.New("search-index"))

	s.Error(g.Upsert(s.ctx, FromRecord(s.rec)))
	inner.fail = false
	s.NoError(g.Upsert(s.ctx, FromTransition(s.transition(s.rec, models.ActionValidate))))

	n, err := stale.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n, "participants were never indexed")

	s.NoError(g.Upsert(s.ctx, FromRecord(s.rec)))
	n, err = stale.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *SearchSuite) TestMemoryStaleSetOrdering() {
	stale := NewMemoryStaleSet()
	first, second := id.NewRecordID(), id.NewRecordID()
	s.Require().NoError(stale.Mark(s.ctx, first, nil))
	time.Sleep(time.Millisecond)
	s.Require().NoError(stale.Mark(s.ctx, second, errors.New("timeout")))

	ids, err := stale.List(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal([]id.RecordID{first}, ids)

	_, err = stale.List(s.ctx, 0)
	s.Error(err)
}
