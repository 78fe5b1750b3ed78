package models

import (
	"encoding/json"
	"slices"
	"time"

	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

// TransitionInput is the caller-supplied metadata for one action.
type TransitionInput struct {
	Reason           string
	RequestedChanges json.RawMessage
}

// TransitionResult is the outcome of a transition computed against a loaded record.
// Record is a new value; the loaded record is left untouched.
type TransitionResult struct {
	Action          Action
	Actor           id.PractitionerID
	From            State
	To              State
	Current         LifecycleEntry
	Superseded      []LifecycleEntry
	Record          *Record
	ExpectedVersion int64
	OccurredAt      time.Time
}

// Delta is the minimal write derived from a transition: the entries that
// flipped to historical plus the appended entry. Declaration and participants
// are never part of a delta.
type Delta struct {
	RecordID        id.RecordID
	ExpectedVersion int64
	NewVersion      int64
	Status          State
	Superseded      []LifecycleEntry
	Appended        LifecycleEntry
	UpdatedAt       time.Time
}

// Delta extracts the write set for the persistence synchronizer.
func (r TransitionResult) Delta() Delta {
	superseded := make([]LifecycleEntry, len(r.Superseded))
	for i, e := range r.Superseded {
		superseded[i] = e.clone()
	}
	return Delta{
		RecordID:        r.Record.ID,
		ExpectedVersion: r.ExpectedVersion,
		NewVersion:      r.Current.Seq,
		Status:          r.To,
		Superseded:      superseded,
		Appended:        r.Current.clone(),
		UpdatedAt:       r.OccurredAt,
	}
}

// Transition computes the next record value for action. It is pure: rec is
// cloned, and identity and time come from the caller. An error means the
// caller skipped the loader or guards.
func Transition(action Action, rec *Record, actor id.PractitionerID, input TransitionInput, now time.Time) (TransitionResult, error) {
	if rec == nil {
		return TransitionResult{}, dErrors.New(dErrors.CodeInvariantViolation, "record is required")
	}
	current, err := rec.Current()
	if err != nil {
		return TransitionResult{}, err
	}
	target, err := action.Target(current)
	if err != nil {
		return TransitionResult{}, err
	}

	next := rec.Clone()
	entryID := id.NewEntryID()

	appended := LifecycleEntry{
		ID:              entryID,
		Seq:             current.Seq + 1,
		Status:          target,
		EntryStatus:     EntryActive,
		PrecedingStatus: current.Status,
		Action:          action,
		Actor:           actor,
		Timestamp:       now,
		Reason:          input.Reason,
	}

	supersededAt := now
	supersededBy := entryID
	old := current.clone()
	old.EntryStatus = EntrySuperseded
	old.SupersededAt = &supersededAt
	old.SupersededBy = &supersededBy

	switch action {
	case ActionRequestCorrection:
		appended.RequestedChanges = slices.Clone(input.RequestedChanges)
	case ActionRejectCorrection:
		old.EntryStatus = EntryRejected
		old.RejectionReason = input.Reason
	case ActionApproveCorrection:
		appended.AppliedChanges = slices.Clone(current.RequestedChanges)
	}

	idx := len(next.Entries) - 1
	next.Entries[idx] = old
	next.Entries = append(next.Entries, appended)
	next.UpdatedAt = now

	return TransitionResult{
		Action:          action,
		Actor:           actor,
		From:            current.Status,
		To:              target,
		Current:         appended,
		Superseded:      []LifecycleEntry{old},
		Record:          next,
		ExpectedVersion: current.Seq,
		OccurredAt:      now,
	}, nil
}
