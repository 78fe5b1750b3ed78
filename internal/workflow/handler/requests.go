package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"crvs/internal/workflow/models"
	"crvs/internal/workflow/service"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

var errReasonRequired = dErrors.New(dErrors.CodeValidation, "reason is required")

// ParticipantRequest is one party in a declaration.
type ParticipantRequest struct {
	Role       string          `json:"role" validate:"required,oneof=child mother father deceased informant spouse"`
	GivenName  string          `json:"givenName" validate:"max=200"`
	FamilyName string          `json:"familyName" validate:"max=200"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// DeclareRequest is the body of POST /records.
type DeclareRequest struct {
	EventType    string               `json:"eventType" validate:"required,oneof=birth death"`
	Declaration  json.RawMessage      `json:"declaration" validate:"required"`
	Participants []ParticipantRequest `json:"participants" validate:"max=20,dive"`
	Reason       string               `json:"reason,omitempty" validate:"max=1000"`

	parsedEventType id.EventType
}

// Prepare parses the event type and requires the declaration to be a JSON object.
func (r *DeclareRequest) Prepare() error {
	eventType, err := id.ParseEventType(strings.TrimSpace(r.EventType))
	if err != nil {
		return err
	}
	r.parsedEventType = eventType
	if !isJSONObject(r.Declaration) {
		return dErrors.New(dErrors.CodeValidation, "declaration must be a JSON object")
	}
	for i := range r.Participants {
		r.Participants[i].GivenName = strings.TrimSpace(r.Participants[i].GivenName)
		r.Participants[i].FamilyName = strings.TrimSpace(r.Participants[i].FamilyName)
		if len(r.Participants[i].Details) > 0 && !isJSONObject(r.Participants[i].Details) {
			return dErrors.New(dErrors.CodeValidation, "participant details must be a JSON object")
		}
	}
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// Input converts the request into the service input.
func (r *DeclareRequest) Input() service.DeclareInput {
	participants := make([]models.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, models.Participant{
			Role:       models.ParticipantRole(p.Role),
			GivenName:  p.GivenName,
			FamilyName: p.FamilyName,
			Details:    p.Details,
		})
	}
	return service.DeclareInput{
		EventType:    r.parsedEventType,
		Declaration:  models.Declaration{Content: r.Declaration},
		Participants: participants,
		Reason:       r.Reason,
	}
}

// ActionRequest is the body of the plain lifecycle actions.
type ActionRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (r *ActionRequest) Prepare() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// RequestCorrectionRequest is the body of POST /records/{recordId}/request-correction.
type RequestCorrectionRequest struct {
	Reason           string          `json:"reason" validate:"required,max=1000"`
	RequestedChanges json.RawMessage `json:"requestedChanges" validate:"required"`
}

func (r *RequestCorrectionRequest) Prepare() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return errReasonRequired
	}
	if !isJSONObject(r.RequestedChanges) {
		return dErrors.New(dErrors.CodeValidation, "requestedChanges must be a JSON object")
	}
	var changes map[string]json.RawMessage
	if err := json.Unmarshal(r.RequestedChanges, &changes); err != nil || len(changes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "requestedChanges must name at least one field")
	}
	return nil
}

// RejectCorrectionRequest is the body of POST /records/{recordId}/reject-correction.
type RejectCorrectionRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (r *RejectCorrectionRequest) Prepare() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return errReasonRequired
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
