// Package domain holds the typed identifiers and small value objects shared
// across modules. Typed IDs keep a record id from being passed where a
// practitioner id is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "crvs/pkg/domain-errors"
)

type (
	RecordID       uuid.UUID
	EntryID        uuid.UUID
	ParticipantID  uuid.UUID
	PractitionerID uuid.UUID
)

// NewRecordID returns a fresh random record id.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// NewEntryID returns a fresh random lifecycle entry id.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// NewParticipantID returns a fresh random participant id.
func NewParticipantID() ParticipantID { return ParticipantID(uuid.New()) }

func (id RecordID) String() string       { return uuid.UUID(id).String() }
func (id EntryID) String() string        { return uuid.UUID(id).String() }
func (id ParticipantID) String() string  { return uuid.UUID(id).String() }
func (id PractitionerID) String() string { return uuid.UUID(id).String() }

func (id RecordID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ParticipantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PractitionerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id RecordID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id ParticipantID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id PractitionerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *RecordID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EntryID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ParticipantID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PractitionerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// ParseRecordID parses a record id at a trust boundary (path parameter, CLI arg).
// Empty, malformed, and nil UUIDs are rejected with CodeInvalidInput.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s, "record id")
	return RecordID(u), err
}

// ParsePractitionerID parses the subject of a resolved credential.
func ParsePractitionerID(s string) (PractitionerID, error) {
	u, err := parseUUID(s, "practitioner id")
	return PractitionerID(u), err
}

// ParseEntryID parses a lifecycle entry id.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s, "entry id")
	return EntryID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}
