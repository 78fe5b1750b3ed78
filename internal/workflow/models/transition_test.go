package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

type TransitionSuite struct {
	suite.Suite
	actor id.PractitionerID
	now   time.Time
}

func TestTransitionSuite(t *testing.T) {
	suite.Run(t, new(TransitionSuite))
}

func (s *TransitionSuite) SetupTest() {
	s.actor = id.PractitionerID(uuid.New())
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *TransitionSuite) declared() *models.Record {
	rec, err := models.NewDeclaredRecord(
		id.NewRecordID(),
		id.EventTypeBirth,
		models.Declaration{Content: json.RawMessage(`{"placeOfBirth":"Ibombo"}`)},
		[]models.Participant{{Role: models.RoleChild, GivenName: "Ada", FamilyName: "Mwale"}},
		s.actor,
		"",
		s.now,
	)
	s.Require().NoError(err)
	return rec
}

// drive applies actions in order and returns the final record.
func (s *TransitionSuite) drive(rec *models.Record, actions ...models.Action) *models.Record {
	for i, a := range actions {
		s.Require().NoError(models.CheckGuards(a, rec), "guard for %s", a)
		res, err := models.Transition(a, rec, s.actor, models.TransitionInput{Reason: "step"}, s.now.Add(time.Duration(i+1)*time.Minute))
		s.Require().NoError(err, "transition %s", a)
		rec = res.Record
	}
	return rec
}

func (s *TransitionSuite) TestStateTable() {
	s.Run("every listed start state reaches the fixed target", func() {
		cases := []struct {
			path   []models.Action
			action models.Action
			want   models.State
		}{
			{nil, models.ActionValidate, models.StateValidated},
			{nil, models.ActionWaitForValidation, models.StateWaitingValidation},
			{[]models.Action{models.ActionValidate}, models.ActionWaitForValidation, models.StateWaitingValidation},
			{nil, models.ActionRegister, models.StateRegistered},
			{[]models.Action{models.ActionWaitForValidation}, models.ActionRegister, models.StateRegistered},
			{nil, models.ActionReject, models.StateRejected},
			{[]models.Action{models.ActionReject}, models.ActionArchive, models.StateArchived},
			{[]models.Action{models.ActionRegister}, models.ActionCertify, models.StateCertified},
			{[]models.Action{models.ActionRegister, models.ActionCertify}, models.ActionIssue, models.StateIssued},
		}
		for _, tc := range cases {
			rec := s.drive(s.declared(), tc.path...)
			res, err := models.Transition(tc.action, rec, s.actor, models.TransitionInput{}, s.now)
			s.Require().NoError(err)
			s.Equal(tc.want, res.To, "%v then %s", tc.path, tc.action)
			s.Equal(tc.want, res.Record.Status())
		}
	})

	s.Run("disallowed start state is rejected", func() {
		rec := s.drive(s.declared(), models.ActionRegister)
		_, err := models.Transition(models.ActionValidate, rec, s.actor, models.TransitionInput{}, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Error(models.CheckGuards(models.ActionValidate, rec))
	})

	s.Run("every transition action has allowed start states", func() {
		for _, a := range models.TransitionActions() {
			s.NotEmpty(a.AllowedStartStates(), "action %s", a)
		}
		s.Nil(models.ActionDeclare.AllowedStartStates())
	})

	s.Run("loader admits pending corrections only for a new correction request", func() {
		s.Contains(models.ActionRequestCorrection.LoadStates(), models.StateCorrectionRequested)
		s.NotContains(models.ActionRequestCorrection.AllowedStartStates(), models.StateCorrectionRequested)
		s.Equal(models.ActionCertify.AllowedStartStates(), models.ActionCertify.LoadStates())
	})
}

func (s *TransitionSuite) TestCorrectionRoundTrip() {
	for _, path := range [][]models.Action{
		{models.ActionRegister},
		{models.ActionRegister, models.ActionCertify},
		{models.ActionRegister, models.ActionCertify, models.ActionIssue},
	} {
		rec := s.drive(s.declared(), path...)
		before := rec.Status()

		s.Require().NoError(models.CheckGuards(models.ActionRequestCorrection, rec))
		requested, err := models.Transition(models.ActionRequestCorrection, rec, s.actor, models.TransitionInput{
			Reason:           "misspelled name",
			RequestedChanges: json.RawMessage(`{"child.givenName":"Adah"}`),
		}, s.now)
		s.Require().NoError(err)
		s.Equal(models.StateCorrectionRequested, requested.To)
		s.Equal(before, requested.Current.PrecedingStatus)
		s.JSONEq(`{"child.givenName":"Adah"}`, string(requested.Current.RequestedChanges))
		s.Equal(before, requested.Superseded[0].Status, "superseded entry keeps its status value")

		err = models.CheckGuards(models.ActionRequestCorrection, requested.Record)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "second request conflicts")

		s.Require().NoError(models.CheckGuards(models.ActionRejectCorrection, requested.Record))
		rejected, err := models.Transition(models.ActionRejectCorrection, requested.Record, s.actor, models.TransitionInput{Reason: "no evidence"}, s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.Equal(before, rejected.To, "restores the exact prior status")
		s.Equal(models.EntryRejected, rejected.Superseded[0].EntryStatus)
		s.Equal("no evidence", rejected.Superseded[0].RejectionReason)
		s.False(rejected.Record.HasPendingCorrection())
	}
}

func (s *TransitionSuite) TestApproveCorrectionRecordsAppliedChanges() {
	rec := s.drive(s.declared(), models.ActionRegister, models.ActionCertify)
	requested, err := models.Transition(models.ActionRequestCorrection, rec, s.actor, models.TransitionInput{
		RequestedChanges: json.RawMessage(`{"mother.familyName":"Banda"}`),
	}, s.now)
	s.Require().NoError(err)

	approved, err := models.Transition(models.ActionApproveCorrection, requested.Record, s.actor, models.TransitionInput{}, s.now)
	s.Require().NoError(err)
	s.Equal(models.StateCertified, approved.To)
	s.JSONEq(`{"mother.familyName":"Banda"}`, string(approved.Current.AppliedChanges))
	s.Equal(models.EntrySuperseded, approved.Superseded[0].EntryStatus)
	s.Equal(rec.Declaration.Content, approved.Record.Declaration.Content, "declaration is immutable")
}

func (s *TransitionSuite) TestReinstateRestoresPriorStatus() {
	rec := s.drive(s.declared(), models.ActionValidate, models.ActionArchive)
	s.Require().Equal(models.StateArchived, rec.Status())

	res, err := models.Transition(models.ActionReinstate, rec, s.actor, models.TransitionInput{}, s.now)
	s.Require().NoError(err)
	s.Equal(models.StateValidated, res.To)
}

func (s *TransitionSuite) TestPurity() {
	rec := s.drive(s.declared(), models.ActionRegister)
	snapshot := rec.Clone()

	res, err := models.Transition(models.ActionRequestCorrection, rec, s.actor, models.TransitionInput{Reason: "x"}, s.now)
	s.Require().NoError(err)

	s.Equal(snapshot, rec, "input record is not mutated")
	s.Len(res.Record.Entries, len(rec.Entries)+1)
	for i, e := range rec.Entries[:len(rec.Entries)-1] {
		s.Equal(e, res.Record.Entries[i], "historical entries are untouched")
	}
}

func (s *TransitionSuite) TestBookkeeping() {
	rec := s.drive(s.declared(), models.ActionValidate)
	res, err := models.Transition(models.ActionRegister, rec, s.actor, models.TransitionInput{Reason: "complete"}, s.now)
	s.Require().NoError(err)

	s.Equal(rec.Version(), res.ExpectedVersion)
	s.Equal(rec.Version()+1, res.Current.Seq)
	s.Equal(res.Current.ID, *res.Superseded[0].SupersededBy)
	s.Equal(s.now, *res.Superseded[0].SupersededAt)

	current, err := res.Record.Current()
	s.Require().NoError(err)
	s.Equal(res.Current.ID, current.ID)

	delta := res.Delta()
	s.Equal(rec.ID, delta.RecordID)
	s.Equal(res.ExpectedVersion, delta.ExpectedVersion)
	s.Equal(res.Current.Seq, delta.NewVersion)
	s.Equal(models.StateRegistered, delta.Status)
	s.Len(delta.Superseded, 1)
	s.Equal(res.Current.ID, delta.Appended.ID)
}

func (s *TransitionSuite) TestGuards() {
	s.Run("reject correction without pending request conflicts", func() {
		rec := s.drive(s.declared(), models.ActionRegister)
		err := models.CheckGuards(models.ActionRejectCorrection, rec)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		err = models.CheckGuards(models.ActionApproveCorrection, rec)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("corrupt bundle with two current entries is an invariant violation", func() {
		rec := s.drive(s.declared(), models.ActionRegister)
		rec.Entries[0].EntryStatus = models.EntryActive
		err := models.CheckGuards(models.ActionCertify, rec)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("archived entry without preceding status cannot be reinstated", func() {
		rec := s.drive(s.declared(), models.ActionArchive)
		rec.Entries[len(rec.Entries)-1].PrecedingStatus = ""
		err := models.CheckGuards(models.ActionReinstate, rec)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestNewDeclaredRecord(t *testing.T) {
	s := new(TransitionSuite)
	s.SetT(t)
	s.SetupTest()

	rec := s.declared()
	s.Equal(models.StateDeclared, rec.Status())
	s.Equal(int64(1), rec.Version())
	s.Empty(rec.Entries[0].PrecedingStatus)
	s.False(rec.Participants[0].ID.IsNil(), "participant ids are assigned")

	_, err := models.NewDeclaredRecord(id.NewRecordID(), id.EventTypeDeath, models.Declaration{}, nil, s.actor, "", s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
