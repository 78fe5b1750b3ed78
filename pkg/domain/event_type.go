package domain

import dErrors "crvs/pkg/domain-errors"

// EventType is the vital event a record declares.
// Construct via ParseEventType at trust boundaries; direct casting bypasses validation.
type EventType string

const (
	EventTypeBirth EventType = "birth"
	EventTypeDeath EventType = "death"
)

var validEventTypes = map[EventType]bool{
	EventTypeBirth: true,
	EventTypeDeath: true,
}

// ParseEventType constructs an EventType from external input.
// Returns CodeInvalidInput when the value is empty or unsupported.
func ParseEventType(s string) (EventType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "event type cannot be empty")
	}
	e := EventType(s)
	if !e.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid event type: "+s)
	}
	return e, nil
}

func (e EventType) IsValid() bool {
	return validEventTypes[e]
}

func (e EventType) String() string {
	return string(e)
}
