package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crvs/internal/workflow/models"
	"crvs/internal/workflow/service"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/audit"
	"crvs/pkg/platform/httputil"
	"crvs/pkg/requestcontext"
)

// Service defines the lifecycle operations exposed over HTTP.
type Service interface {
	Declare(ctx context.Context, in service.DeclareInput) (*models.Record, error)
	Execute(ctx context.Context, action models.Action, recordID id.RecordID, input models.TransitionInput) (*models.Record, error)
	Get(ctx context.Context, recordID id.RecordID) (*models.Record, error)
	AuditTrail(ctx context.Context, recordID id.RecordID) ([]audit.Event, error)
}

// Handler is the action dispatcher: it routes requests into the lifecycle
// pipeline and maps errors onto the {kind, message} envelope.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// plainActions are the transitions whose body is at most a reason.
var plainActions = []struct {
	path           string
	action         models.Action
	reasonRequired bool
}{
	{"validate", models.ActionValidate, false},
	{"wait-for-validation", models.ActionWaitForValidation, false},
	{"register", models.ActionRegister, false},
	{"reject", models.ActionReject, true},
	{"archive", models.ActionArchive, false},
	{"reinstate", models.ActionReinstate, false},
	{"certify", models.ActionCertify, false},
	{"issue", models.ActionIssue, false},
	{"approve-correction", models.ActionApproveCorrection, false},
}

// Register mounts record endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/records", h.HandleDeclare)
	r.Route("/records/{recordId}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Get("/audit", h.HandleAuditTrail)
		for _, a := range plainActions {
			r.Post("/"+a.path, h.handleAction(a.action, a.reasonRequired))
		}
		r.Post("/request-correction", h.HandleRequestCorrection)
		r.Post("/reject-correction", h.HandleRejectCorrection)
	})
}

// HandleDeclare handles POST /records.
func (h *Handler) HandleDeclare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DeclareRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	rec, err := h.service.Declare(ctx, req.Input())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// HandleGet handles GET /records/{recordId}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleAuditTrail handles GET /records/{recordId}/audit.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}
	events, err := h.service.AuditTrail(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{RecordID: recordID, Events: events})
}

func (h *Handler) handleAction(action models.Action, reasonRequired bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		recordID, ok := parseRecordID(w, r)
		if !ok {
			return
		}
		req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		if reasonRequired && req.Reason == "" {
			httputil.WriteError(w, errReasonRequired)
			return
		}
		h.execute(w, r, action, recordID, models.TransitionInput{Reason: req.Reason})
	}
}

// HandleRequestCorrection handles POST /records/{recordId}/request-correction.
func (h *Handler) HandleRequestCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RequestCorrectionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.execute(w, r, models.ActionRequestCorrection, recordID, models.TransitionInput{
		Reason:           req.Reason,
		RequestedChanges: req.RequestedChanges,
	})
}

// HandleRejectCorrection handles POST /records/{recordId}/reject-correction.
func (h *Handler) HandleRejectCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := parseRecordID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectCorrectionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.execute(w, r, models.ActionRejectCorrection, recordID, models.TransitionInput{Reason: req.Reason})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, action models.Action, recordID id.RecordID, input models.TransitionInput) {
	ctx := r.Context()
	start := time.Now()
	rec, err := h.service.Execute(ctx, action, recordID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.DebugContext(ctx, "action dispatched",
		"request_id", requestcontext.RequestID(ctx),
		"record_id", recordID.String(),
		"action", string(action),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func parseRecordID(w http.ResponseWriter, r *http.Request) (id.RecordID, bool) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordId"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RecordID{}, false
	}
	return recordID, true
}
