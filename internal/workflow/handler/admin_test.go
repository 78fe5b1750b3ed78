package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crvs/internal/search"
	"crvs/internal/workflow/service"
	id "crvs/pkg/domain"
	"crvs/pkg/testutil"
)

type fakeReindexer struct {
	report service.RebuildReport
	err    error
}

func (f *fakeReindexer) RebuildStale(ctx context.Context, stale search.StaleSet, limit int) (service.RebuildReport, error) {
	if f.err != nil {
		return service.RebuildReport{}, f.err
	}
	ids, _ := stale.List(ctx, limit)
	for _, rid := range ids {
		_ = stale.Clear(ctx, rid)
	}
	return f.report, nil
}

func TestAdminHandler(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stale := search.NewMemoryStaleSet()
	require.NoError(t, stale.Mark(ctx, id.NewRecordID(), errors.New("redis down")))
	require.NoError(t, stale.Mark(ctx, id.NewRecordID(), errors.New("redis down")))

	reindexer := &fakeReindexer{report: service.RebuildReport{Rebuilt: 2}}
	router := chi.NewRouter()
	NewAdmin(reindexer, stale, 10, logger).Register(router)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/admin/index/stale"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"stale":2}`, rr.Body.String())

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/index/rebuild-stale"))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp RebuildResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, RebuildResponse{Rebuilt: 2, Remaining: 0}, resp)

	reindexer.err = errors.New("stale set: connection reset")
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/index/rebuild-stale"))
	env := testutil.AssertErrorKind(t, rr, http.StatusServiceUnavailable, "store_unavailable")
	assert.NotContains(t, env.Message, "connection reset")
}
