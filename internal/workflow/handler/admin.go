package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crvs/internal/search"
	"crvs/internal/workflow/service"
	dErrors "crvs/pkg/domain-errors"
	"crvs/pkg/platform/httputil"
	"crvs/pkg/requestcontext"
)

// Reindexer rebuilds projections for records whose index write failed.
type Reindexer interface {
	RebuildStale(ctx context.Context, stale search.StaleSet, limit int) (service.RebuildReport, error)
}

// AdminHandler exposes the stale-projection gap to operators.
type AdminHandler struct {
	reindexer Reindexer
	stale     search.StaleSet
	batch     int
	logger    *slog.Logger
}

func NewAdmin(reindexer Reindexer, stale search.StaleSet, batch int, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{reindexer: reindexer, stale: stale, batch: batch, logger: logger}
}

// StaleResponse reports the number of records whose projection may lag.
type StaleResponse struct {
	Stale int `json:"stale"`
}

// RebuildResponse summarizes one stale rebuild pass.
type RebuildResponse struct {
	Rebuilt   int `json:"rebuilt"`
	Missing   int `json:"missing"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Register mounts the admin endpoints. Callers wrap r with the admin token guard.
func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin/index/stale", h.HandleStaleCount)
	r.Post("/admin/index/rebuild-stale", h.HandleRebuildStale)
}

// HandleStaleCount handles GET /admin/index/stale.
func (h *AdminHandler) HandleStaleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.stale.Count(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "stale set unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StaleResponse{Stale: n})
}

// HandleRebuildStale handles POST /admin/index/rebuild-stale.
func (h *AdminHandler) HandleRebuildStale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.reindexer.RebuildStale(ctx, h.stale, h.batch)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			err = dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "stale set unavailable")
		}
		httputil.WriteError(w, err)
		return
	}
	remaining, err := h.stale.Count(ctx)
	if err != nil {
		remaining = -1
	}
	h.logger.InfoContext(ctx, "stale projections rebuilt",
		"request_id", requestcontext.RequestID(ctx),
		"rebuilt", report.Rebuilt,
		"missing", report.Missing,
		"failed", report.Failed,
	)
	httputil.WriteJSON(w, http.StatusOK, RebuildResponse{
		Rebuilt:   report.Rebuilt,
		Missing:   report.Missing,
		Failed:    report.Failed,
		Remaining: remaining,
	})
}
