// Package httputil holds the JSON response and request helpers shared by handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "crvs/pkg/domain-errors"
)

// maxBodyBytes caps request bodies; declarations with many participants fit comfortably.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the error envelope returned to clients.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Preparable is implemented by request DTOs that normalize and parse their
// fields after struct-tag validation.
type Preparable interface {
	Prepare() error
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and the {kind, message} envelope.
// Internal and store errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := ErrorResponse{Kind: string(code)}
	switch code {
	case dErrors.CodeInternal:
	case dErrors.CodeStoreUnavailable:
		resp.Message = "record store unavailable, retry later"
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Message = de.Message
		}
	}
	WriteJSON(w, status, resp)
}

// DecodeAndPrepare decodes a JSON body into T, runs `validate` struct tags, then
// Prepare when T implements Preparable. On failure it writes the error response
// and returns ok=false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	err := dec.Decode(req)
	if err == nil {
		// The body must hold exactly one JSON value.
		var extra json.RawMessage
		if tailErr := dec.Decode(&extra); !errors.Is(tailErr, io.EOF) {
			err = errors.New("unexpected data after JSON body")
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}

	if err := ValidateStruct(req); err != nil {
		WriteError(w, err)
		return nil, false
	}

	if p, ok := any(req).(Preparable); ok {
		if err := p.Prepare(); err != nil {
			logger.WarnContext(ctx, "request rejected",
				"request_id", requestID,
				"error", err,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return req, true
}

// ValidateStruct runs struct-tag validation and flattens failures into a
// single validation error naming each failing field and rule.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request")
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" "+fe.Tag())
	}
	return dErrors.New(dErrors.CodeValidation, "invalid fields: "+strings.Join(parts, ", "))
}
