package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crvs/internal/identity"
	"crvs/internal/platform/config"
	id "crvs/pkg/domain"
)

// TestServerWiring drives the in-memory build through the full middleware
// chain: request id, auth, request time, metrics and the record routes.
func TestServerWiring(t *testing.T) {
	cfg := config.Server{
		ActionTimeout: 2 * time.Second,
		Log:           config.LogConfig{Level: "error", Format: "text"},
		Auth:          config.AuthConfig{JWTSigningKey: "wiring-test", Issuer: "crvs-auth", Audience: "crvs-workflow"},
		Index:         config.IndexConfig{FailureThreshold: 3, SuccessThreshold: 1},
		Admin:         config.AdminConfig{Token: "ops-token", StaleBatch: 10},
		RateLimit:     config.RateLimitConfig{Read: 50, Write: 20, Window: time.Minute},
	}
	a, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.close)
	assert.Nil(t, a.relay)
	assert.Equal(t, backends{store: "memory", index: "memory"}, a.backends)

	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	practitioner, err := id.ParsePractitionerID(uuid.NewString())
	require.NoError(t, err)
	token, err := identity.NewJWTResolver(cfg.Auth).Issue(practitioner, "", time.Minute)
	require.NoError(t, err)

	call := func(method, path, body string, headers map[string]string) (int, map[string]any, http.Header) {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var out map[string]any
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		}
		return resp.StatusCode, out, resp.Header
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	code, _, _ := call(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body, hdr := call(http.MethodPost, "/records", `{"eventType":"birth","declaration":{}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["kind"])
	assert.NotEmpty(t, hdr.Get("X-Request-ID"))

	code, body, hdr = call(http.MethodPost, "/records",
		`{"eventType":"birth","declaration":{"placeOfBirth":"Livingstone"},"participants":[{"role":"child","givenName":"Mwila"}]}`, bearer)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "20", hdr.Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", hdr.Get("X-RateLimit-Remaining"))
	recordPath := "/records/" + body["id"].(string)

	for _, step := range []struct{ path, status string }{
		{"/register", "REGISTERED"},
		{"/certify", "CERTIFIED"},
	} {
		code, body, _ = call(http.MethodPost, recordPath+step.path, `{}`, bearer)
		require.Equal(t, http.StatusOK, code, step.path)
		assert.Equal(t, step.status, body["status"])
	}

	code, body, _ = call(http.MethodPost, recordPath+"/request-correction",
		`{"reason":"misspelt name","requestedChanges":{"child.givenName":"Mwila K."}}`, bearer)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CORRECTION_REQUESTED", body["status"])

	code, _, _ = call(http.MethodPost, recordPath+"/request-correction",
		`{"reason":"again","requestedChanges":{"child.givenName":"M"}}`, bearer)
	assert.Equal(t, http.StatusConflict, code)

	code, body, _ = call(http.MethodPost, recordPath+"/reject-correction", `{"reason":"no evidence"}`, bearer)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CERTIFIED", body["status"])

	code, body, _ = call(http.MethodGet, recordPath+"/audit", "", bearer)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 5)

	code, _, _ = call(http.MethodGet, "/admin/index/stale", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body, _ = call(http.MethodGet, "/admin/index/stale", "", map[string]string{"X-Admin-Token": "ops-token"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["stale"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	metricsBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metricsBody), "crvs_http_requests_total")
	assert.Contains(t, string(metricsBody), "crvs_index_stale_records")
	assert.Contains(t, string(metricsBody), "crvs_ratelimit_decisions_total")
}

func TestServerBufferedAudit(t *testing.T) {
	cfg := config.Server{
		ActionTimeout: 2 * time.Second,
		Auth:          config.AuthConfig{JWTSigningKey: "wiring-test", Issuer: "crvs-auth", Audience: "crvs-workflow"},
		Index:         config.IndexConfig{FailureThreshold: 3, SuccessThreshold: 1},
		Admin:         config.AdminConfig{StaleBatch: 10},
		Audit:         config.AuditConfig{BufferSize: 8},
		RateLimit:     config.RateLimitConfig{Disabled: true, Window: time.Minute},
	}
	a, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.close)

	practitioner, err := id.ParsePractitionerID(uuid.NewString())
	require.NoError(t, err)
	token, err := identity.NewJWTResolver(cfg.Auth).Issue(practitioner, "", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{"eventType":"death","declaration":{}}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/records/"+created.ID+"/audit", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		a.router.ServeHTTP(rr, req)
		var trail struct {
			Events []struct {
				Verified *bool `json:"verified"`
			} `json:"events"`
		}
		if rr.Code != http.StatusOK || json.Unmarshal(rr.Body.Bytes(), &trail) != nil {
			return false
		}
		return len(trail.Events) == 1 && trail.Events[0].Verified != nil && *trail.Events[0].Verified
	}, 2*time.Second, 10*time.Millisecond)
}
