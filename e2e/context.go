package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestContext carries one scenario's HTTP client state against a running server.
type TestContext struct {
	BaseURL    string
	AdminToken string
	client     *http.Client

	signingKey string
	issuer     string
	audience   string
	token      string

	recordID     string
	lastStatus   int
	lastBody     []byte
	lastHeaders  http.Header
	lastResponse map[string]any
}

// NewTestContext reads the target server from CRVS_E2E_* variables. The
// signing settings must match the server's JWT_* configuration.
func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(env("CRVS_E2E_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: os.Getenv("CRVS_E2E_ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 10 * time.Second},
		signingKey: env("CRVS_E2E_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		issuer:     env("CRVS_E2E_JWT_ISSUER", "crvs-auth"),
		audience:   env("CRVS_E2E_JWT_AUDIENCE", "crvs-workflow"),
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.token = ""
	tc.recordID = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
	tc.lastResponse = nil
}

// SignIn mints a bearer credential for a fresh practitioner.
func (tc *TestContext) SignIn() error {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		Issuer:    tc.issuer,
		Audience:  jwt.ClaimStrings{tc.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tc.signingKey))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	tc.token = signed
	return nil
}

func (tc *TestContext) SignOut() { tc.token = "" }

func (tc *TestContext) RecordID() string { return tc.recordID }

func (tc *TestContext) SetRecordID(id string) { tc.recordID = id }

// RecordPath returns the current record's URL path with suffix appended.
func (tc *TestContext) RecordPath(suffix string) string {
	return "/records/" + tc.recordID + suffix
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.token != "" {
		req.Header.Set("Authorization", "Bearer "+tc.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastResponse = nil
	if len(tc.lastBody) > 0 && tc.lastBody[0] == '{' {
		if err := json.Unmarshal(tc.lastBody, &tc.lastResponse); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.lastHeaders == nil {
		return ""
	}
	return tc.lastHeaders.Get(name)
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.lastResponse == nil {
		return nil, fmt.Errorf("last response was not a JSON object: %s", tc.lastBody)
	}
	v, ok := tc.lastResponse[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
