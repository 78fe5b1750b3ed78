package models

import (
	dErrors "crvs/pkg/domain-errors"
)

// CheckGuards inspects a freshly loaded record for action-specific invariant
// violations. It runs after the loader's state filter and before any mutation
// is computed, so a rejected action leaves no trace.
func CheckGuards(action Action, rec *Record) error {
	if rec == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "record is required")
	}
	current, err := rec.Current()
	if err != nil {
		return err
	}

	switch action {
	case ActionRequestCorrection:
		if rec.HasPendingCorrection() {
			return dErrors.New(dErrors.CodeConflict, "a correction request is already pending for this record")
		}
	case ActionRejectCorrection, ActionApproveCorrection:
		if !rec.HasPendingCorrection() {
			return dErrors.New(dErrors.CodeConflict, "no active correction request on this record")
		}
		if !current.PrecedingStatus.IsValid() {
			return dErrors.New(dErrors.CodeConflict, "correction request carries no status to restore")
		}
	case ActionReinstate:
		if current.Status != StateArchived || !current.PrecedingStatus.IsValid() {
			return dErrors.New(dErrors.CodeConflict, "archived record carries no status to restore")
		}
	}

	if !action.CanStartFrom(current.Status) {
		return dErrors.New(dErrors.CodeConflict,
			string(action)+" is not allowed from "+string(current.Status))
	}
	return nil
}
