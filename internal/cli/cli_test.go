package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"crvs/internal/identity"
	"crvs/internal/platform/config"
	"crvs/internal/search"
	"crvs/internal/workflow/models"
	"crvs/internal/workflow/service"
	wfstore "crvs/internal/workflow/store"
	id "crvs/pkg/domain"
	"crvs/pkg/platform/audit/publisher"
	auditmemory "crvs/pkg/platform/audit/store/memory"
	"crvs/pkg/platform/circuit"
	"crvs/pkg/requestcontext"
)

var testConfig = config.Server{
	Auth:  config.AuthConfig{JWTSigningKey: "cli-test-key", Issuer: "crvs-auth", Audience: "crvs-workflow"},
	Index: config.IndexConfig{FailureThreshold: 3, SuccessThreshold: 1},
}

type memoryEnv struct {
	records *service.Service
	index   *search.MemoryIndex
	stale   *search.MemoryStaleSet
}

func newMemoryEnv() *memoryEnv {
	e := &memoryEnv{index: search.NewMemoryIndex(), stale: search.NewMemoryStaleSet()}
	e.records = service.New(wfstore.NewInMemoryStore(),
		publisher.NewPublisher(auditmemory.NewInMemoryStore()),
		search.NewGuardedIndexer(e.index, e.stale, circuit.New("search-index")),
	)
	return e
}

func (e *memoryEnv) Env() Env {
	return Env{
		Config: func() (config.Server, error) { return testConfig, nil },
		Open: func(context.Context, config.Server) (*Backends, error) {
			return &Backends{Records: e.records, Stale: e.stale, Store: "memory", Index: "memory"}, nil
		},
	}
}

func (e *memoryEnv) declare(t *testing.T) *models.Record {
	t.Helper()
	actor, err := id.ParsePractitionerID(uuid.NewString())
	require.NoError(t, err)
	ctx := requestcontext.WithPractitionerID(context.Background(), actor)
	rec, err := e.records.Declare(ctx, service.DeclareInput{
		EventType:    id.EventTypeBirth,
		Declaration:  models.Declaration{Content: json.RawMessage(`{"placeOfBirth":"Ndola"}`)},
		Participants: []models.Participant{{Role: models.RoleChild, GivenName: "Chipo", FamilyName: "Banda"}},
	})
	require.NoError(t, err)
	return rec
}

func run(env Env, args ...string) (string, error) {
	cmd := NewRootCommandWith(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"migrate", "reindex", "show", "token"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(newMemoryEnv().Env(), "show", uuid.NewString(), "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestShow(t *testing.T) {
	env := newMemoryEnv()
	rec := env.declare(t)

	t.Run("text", func(t *testing.T) {
		out, err := run(env.Env(), "show", rec.ID.String())
		require.NoError(t, err)
		assert.Contains(t, out, "status   DECLARED  version 1")
		assert.Contains(t, out, "Chipo Banda")
	})

	t.Run("json with audit", func(t *testing.T) {
		out, err := run(env.Env(), "show", rec.ID.String(), "--audit", "--format", "json")
		require.NoError(t, err)
		var resp struct {
			Status string `json:"status"`
			Data   struct {
				Status string            `json:"status"`
				Audit  []json.RawMessage `json:"audit"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "DECLARED", resp.Data.Status)
		assert.Len(t, resp.Data.Audit, 1)
	})

	t.Run("yaml keeps json field names", func(t *testing.T) {
		out, err := run(env.Env(), "show", rec.ID.String(), "--format", "yaml")
		require.NoError(t, err)
		var resp struct {
			Status string `yaml:"status"`
			Data   struct {
				Status            string `yaml:"status"`
				PendingCorrection bool   `yaml:"pendingCorrection"`
			} `yaml:"data"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "DECLARED", resp.Data.Status)
		assert.False(t, resp.Data.PendingCorrection)
	})

	t.Run("unknown record exits 1", func(t *testing.T) {
		_, err := run(env.Env(), "show", uuid.NewString())
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})

	t.Run("malformed id exits 2", func(t *testing.T) {
		_, err := run(env.Env(), "show", "not-a-uuid")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestReindex(t *testing.T) {
	env := newMemoryEnv()
	first := env.declare(t)
	env.declare(t)
	ctx := context.Background()

	t.Run("stale only", func(t *testing.T) {
		require.NoError(t, env.stale.Mark(ctx, first.ID, errors.New("redis timeout")))
		require.NoError(t, env.stale.Mark(ctx, id.NewRecordID(), errors.New("redis timeout")))

		out, err := run(env.Env(), "reindex", "--stale")
		require.NoError(t, err)
		assert.Contains(t, out, "stale reindex: rebuilt=1 missing=1 failed=0 stale_remaining=0")
	})

	t.Run("full walk", func(t *testing.T) {
		out, err := run(env.Env(), "reindex", "--batch", "1", "--format", "json")
		require.NoError(t, err)
		var resp struct {
			Data ReindexResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "full", resp.Data.Mode)
		assert.Equal(t, 2, resp.Data.Rebuilt)
	})

	t.Run("batch must be positive", func(t *testing.T) {
		_, err := run(env.Env(), "reindex", "--batch", "0")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestToken(t *testing.T) {
	practitioner := uuid.NewString()
	out, err := run(newMemoryEnv().Env(), "token", "--practitioner", practitioner, "--office", "kitwe")
	require.NoError(t, err)

	got, err := identity.NewJWTResolver(testConfig.Auth).Resolve(context.Background(), string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, practitioner, got.String())

	_, err = run(newMemoryEnv().Env(), "token", "--practitioner", "registrar")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate(t *testing.T) {
	out, err := run(newMemoryEnv().Env(), "migrate", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE")

	_, err = run(newMemoryEnv().Env(), "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorContains(t, err, "DATABASE_URL")
}
