package models

import (
	"slices"

	dErrors "crvs/pkg/domain-errors"
)

// State is the lifecycle status carried by a lifecycle entry. The set is closed:
// values outside it are rejected by ParseState and by the store when scanning.
type State string

const (
	StateDeclared            State = "DECLARED"
	StateWaitingValidation   State = "WAITING_VALIDATION"
	StateValidated           State = "VALIDATED"
	StateRegistered          State = "REGISTERED"
	StateRejected            State = "REJECTED"
	StateArchived            State = "ARCHIVED"
	StateCertified           State = "CERTIFIED"
	StateIssued              State = "ISSUED"
	StateCorrectionRequested State = "CORRECTION_REQUESTED"
)

var allStates = []State{
	StateDeclared,
	StateWaitingValidation,
	StateValidated,
	StateRegistered,
	StateRejected,
	StateArchived,
	StateCertified,
	StateIssued,
	StateCorrectionRequested,
}

// AllStates returns every lifecycle state. Used for unfiltered reads.
func AllStates() []State {
	return slices.Clone(allStates)
}

func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown lifecycle state: "+s)
	}
	return st, nil
}

func (s State) IsValid() bool {
	return slices.Contains(allStates, s)
}

func (s State) String() string {
	return string(s)
}

// Action names a lifecycle operation.
type Action string

const (
	ActionDeclare           Action = "DECLARE"
	ActionValidate          Action = "VALIDATE"
	ActionWaitForValidation Action = "WAIT_FOR_VALIDATION"
	ActionRegister          Action = "REGISTER"
	ActionReject            Action = "REJECT"
	ActionArchive           Action = "ARCHIVE"
	ActionReinstate         Action = "REINSTATE"
	ActionCertify           Action = "CERTIFY"
	ActionIssue             Action = "ISSUE"
	ActionRequestCorrection Action = "REQUEST_CORRECTION"
	ActionRejectCorrection  Action = "REJECT_CORRECTION"
	ActionApproveCorrection Action = "APPROVE_CORRECTION"
)

// rule is one row of the transition table. A rule with restore set has no
// fixed target: the entry produced restores the PrecedingStatus preserved on
// the current entry.
type rule struct {
	from    []State
	to      State
	restore bool
}

var transitionTable = map[Action]rule{
	ActionValidate:          {from: []State{StateDeclared}, to: StateValidated},
	ActionWaitForValidation: {from: []State{StateDeclared, StateValidated}, to: StateWaitingValidation},
	ActionRegister:          {from: []State{StateDeclared, StateValidated, StateWaitingValidation}, to: StateRegistered},
	ActionReject:            {from: []State{StateDeclared, StateValidated}, to: StateRejected},
	ActionArchive:           {from: []State{StateDeclared, StateValidated, StateRejected}, to: StateArchived},
	ActionReinstate:         {from: []State{StateArchived}, restore: true},
	ActionCertify:           {from: []State{StateRegistered}, to: StateCertified},
	ActionIssue:             {from: []State{StateCertified}, to: StateIssued},
	ActionRequestCorrection: {from: []State{StateRegistered, StateCertified, StateIssued}, to: StateCorrectionRequested},
	ActionRejectCorrection:  {from: []State{StateCorrectionRequested}, restore: true},
	ActionApproveCorrection: {from: []State{StateCorrectionRequested}, restore: true},
}

// ParseAction validates an action name. DECLARE is valid but has no table row:
// it creates a record instead of transitioning one.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown action: "+s)
	}
	return a, nil
}

func (a Action) IsValid() bool {
	if a == ActionDeclare {
		return true
	}
	_, ok := transitionTable[a]
	return ok
}

func (a Action) String() string {
	return string(a)
}

// TransitionActions lists every action that moves an existing record.
func TransitionActions() []Action {
	actions := make([]Action, 0, len(transitionTable))
	for a := range transitionTable {
		actions = append(actions, a)
	}
	slices.Sort(actions)
	return actions
}

// AllowedStartStates returns the states from which the action may run.
// The returned slice is a copy; DECLARE and unknown actions return nil.
func (a Action) AllowedStartStates() []State {
	r, ok := transitionTable[a]
	if !ok {
		return nil
	}
	return slices.Clone(r.from)
}

// LoadStates is the state filter handed to the loader. For REQUEST_CORRECTION
// it also admits CORRECTION_REQUESTED so the guard reports a pending
// correction as a conflict instead of the loader reporting not found.
func (a Action) LoadStates() []State {
	states := a.AllowedStartStates()
	if a == ActionRequestCorrection {
		states = append(states, StateCorrectionRequested)
	}
	return states
}

// Restores reports whether the action targets the preserved prior status.
func (a Action) Restores() bool {
	return transitionTable[a].restore
}

// CanStartFrom reports whether the action is legal from the given state.
func (a Action) CanStartFrom(s State) bool {
	r, ok := transitionTable[a]
	return ok && slices.Contains(r.from, s)
}

// Target resolves (action, current entry) to the end state.
// Errors carry CodeInvariantViolation: the loader's state filter and the
// guards are expected to have rejected these inputs already.
func (a Action) Target(current LifecycleEntry) (State, error) {
	r, ok := transitionTable[a]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "action has no transition rule: "+string(a))
	}
	if !slices.Contains(r.from, current.Status) {
		return "", dErrors.New(dErrors.CodeInvariantViolation,
			string(a)+" is not allowed from "+string(current.Status))
	}
	if !r.restore {
		return r.to, nil
	}
	if !current.PrecedingStatus.IsValid() {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "no preceding status preserved to restore")
	}
	return current.PrecedingStatus, nil
}
