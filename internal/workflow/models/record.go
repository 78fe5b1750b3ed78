package models

import (
	"encoding/json"
	"slices"
	"time"

	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

// EntryStatus marks a lifecycle entry as the current one or a historical one.
type EntryStatus string

const (
	EntryActive     EntryStatus = "active"
	EntrySuperseded EntryStatus = "superseded"
	// EntryRejected is a superseded CORRECTION_REQUESTED entry whose request was rejected.
	EntryRejected EntryStatus = "rejected"
)

// ParticipantRole names a party to the registered event.
type ParticipantRole string

const (
	RoleChild     ParticipantRole = "child"
	RoleMother    ParticipantRole = "mother"
	RoleFather    ParticipantRole = "father"
	RoleDeceased  ParticipantRole = "deceased"
	RoleInformant ParticipantRole = "informant"
	RoleSpouse    ParticipantRole = "spouse"
)

func (r ParticipantRole) IsValid() bool {
	switch r {
	case RoleChild, RoleMother, RoleFather, RoleDeceased, RoleInformant, RoleSpouse:
		return true
	}
	return false
}

// Declaration is the descriptive content of the event. It is written once at
// DECLARE and never touched by lifecycle transitions.
type Declaration struct {
	Content json.RawMessage `json:"content"`
}

// Participant is a party record. Read-only for the state machine.
type Participant struct {
	ID         id.ParticipantID `json:"id"`
	Role       ParticipantRole  `json:"role"`
	GivenName  string           `json:"givenName"`
	FamilyName string           `json:"familyName"`
	Details    json.RawMessage  `json:"details,omitempty"`
}

// LifecycleEntry is one status marker on a record.
//
// Invariants:
//   - Seq is unique and strictly increasing within a record
//   - PrecedingStatus is the status of the entry this one superseded (empty for the first entry)
//   - Once EntryStatus leaves active the entry is never written again
type LifecycleEntry struct {
	ID               id.EntryID        `json:"id"`
	Seq              int64             `json:"seq"`
	Status           State             `json:"status"`
	EntryStatus      EntryStatus       `json:"entryStatus"`
	PrecedingStatus  State             `json:"precedingStatus,omitempty"`
	Action           Action            `json:"action"`
	Actor            id.PractitionerID `json:"actor"`
	Timestamp        time.Time         `json:"timestamp"`
	Reason           string            `json:"reason,omitempty"`
	RequestedChanges json.RawMessage   `json:"requestedChanges,omitempty"`
	AppliedChanges   json.RawMessage   `json:"appliedChanges,omitempty"`
	RejectionReason  string            `json:"rejectionReason,omitempty"`
	SupersededAt     *time.Time        `json:"supersededAt,omitempty"`
	SupersededBy     *id.EntryID       `json:"supersededBy,omitempty"`
}

func (e LifecycleEntry) IsCurrent() bool {
	return e.EntryStatus == EntryActive
}

func (e LifecycleEntry) clone() LifecycleEntry {
	c := e
	c.RequestedChanges = slices.Clone(e.RequestedChanges)
	c.AppliedChanges = slices.Clone(e.AppliedChanges)
	if e.SupersededAt != nil {
		t := *e.SupersededAt
		c.SupersededAt = &t
	}
	if e.SupersededBy != nil {
		b := *e.SupersededBy
		c.SupersededBy = &b
	}
	return c
}

// Record is the aggregate root for one civil-registration case.
//
// Invariants:
//   - Entries are ordered by Seq
//   - Exactly one entry is active and it has the highest Seq
//   - At most one active CORRECTION_REQUESTED entry (implied by the above)
type Record struct {
	ID           id.RecordID      `json:"id"`
	EventType    id.EventType     `json:"eventType"`
	Declaration  Declaration      `json:"declaration"`
	Participants []Participant    `json:"participants"`
	Entries      []LifecycleEntry `json:"entries"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Current returns the single active entry. A bundle with zero or several
// active entries, or whose active entry is not the latest, is corrupt.
func (r *Record) Current() (LifecycleEntry, error) {
	var (
		current LifecycleEntry
		found   int
	)
	for _, e := range r.Entries {
		if e.IsCurrent() {
			current = e
			found++
		}
	}
	if found != 1 {
		return LifecycleEntry{}, dErrors.New(dErrors.CodeInvariantViolation, "record must have exactly one current lifecycle entry")
	}
	if last := r.Entries[len(r.Entries)-1]; last.ID != current.ID {
		return LifecycleEntry{}, dErrors.New(dErrors.CodeInvariantViolation, "current lifecycle entry is not the latest")
	}
	return current, nil
}

// Status returns the current state, or "" for a corrupt bundle.
func (r *Record) Status() State {
	c, err := r.Current()
	if err != nil {
		return ""
	}
	return c.Status
}

// Version is the optimistic concurrency token: the Seq of the latest entry.
func (r *Record) Version() int64 {
	if len(r.Entries) == 0 {
		return 0
	}
	return r.Entries[len(r.Entries)-1].Seq
}

// HasPendingCorrection reports whether a correction request is the current entry.
func (r *Record) HasPendingCorrection() bool {
	for _, e := range r.Entries {
		if e.IsCurrent() && e.Status == StateCorrectionRequested {
			return true
		}
	}
	return false
}

// Participant returns the first participant with the given role.
func (r *Record) Participant(role ParticipantRole) (Participant, bool) {
	for _, p := range r.Participants {
		if p.Role == role {
			return p, true
		}
	}
	return Participant{}, false
}

// Clone returns a deep copy; the transition engine works on clones so the
// loaded value is never mutated.
func (r *Record) Clone() *Record {
	c := *r
	c.Declaration.Content = slices.Clone(r.Declaration.Content)
	c.Participants = make([]Participant, len(r.Participants))
	for i, p := range r.Participants {
		p.Details = slices.Clone(p.Details)
		c.Participants[i] = p
	}
	c.Entries = make([]LifecycleEntry, len(r.Entries))
	for i, e := range r.Entries {
		c.Entries[i] = e.clone()
	}
	return &c
}

// SortEntries orders entries by Seq. Stores call this after scanning.
func (r *Record) SortEntries() {
	slices.SortFunc(r.Entries, func(a, b LifecycleEntry) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}

// NewDeclaredRecord builds a record with its first DECLARED entry.
func NewDeclaredRecord(
	recordID id.RecordID,
	eventType id.EventType,
	declaration Declaration,
	participants []Participant,
	actor id.PractitionerID,
	reason string,
	now time.Time,
) (*Record, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record id is required")
	}
	if !eventType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "event type is invalid")
	}
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "acting practitioner is required")
	}
	if len(declaration.Content) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "declaration content is required")
	}
	for _, p := range participants {
		if !p.Role.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid participant role: "+string(p.Role))
		}
	}
	parts := slices.Clone(participants)
	for i := range parts {
		if parts[i].ID.IsNil() {
			parts[i].ID = id.NewParticipantID()
		}
	}
	return &Record{
		ID:           recordID,
		EventType:    eventType,
		Declaration:  Declaration{Content: slices.Clone(declaration.Content)},
		Participants: parts,
		Entries: []LifecycleEntry{{
			ID:          id.NewEntryID(),
			Seq:         1,
			Status:      StateDeclared,
			EntryStatus: EntryActive,
			Action:      ActionDeclare,
			Actor:       actor,
			Timestamp:   now,
			Reason:      reason,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
