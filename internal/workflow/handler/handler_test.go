package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"crvs/internal/workflow/handler/mocks"
	"crvs/internal/workflow/models"
	"crvs/internal/workflow/service"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
	"crvs/pkg/platform/audit"
	"crvs/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type RecordHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	actor   string
	rec     *models.Record
}

func TestRecordHandlerSuite(t *testing.T) {
	suite.Run(t, new(RecordHandlerSuite))
}

func (s *RecordHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)

	s.actor = uuid.NewString()
	actor, _ := id.ParsePractitionerID(s.actor)
	rec, err := models.NewDeclaredRecord(id.NewRecordID(), id.EventTypeBirth,
		models.Declaration{Content: json.RawMessage(`{"placeOfBirth":"Kitwe"}`)},
		[]models.Participant{{Role: models.RoleChild, GivenName: "Natasha"}},
		actor, "", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.rec = rec
}

func (s *RecordHandlerSuite) do(req *http.Request) (int, map[string]any) {
	rr := testutil.DoRequest(s.router, testutil.WithPractitioner(req, s.actor))
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func (s *RecordHandlerSuite) path(suffix string) string {
	return "/records/" + s.rec.ID.String() + suffix
}

func (s *RecordHandlerSuite) TestDeclare() {
	s.Run("valid declaration returns 201 with the bundle", func() {
		s.service.EXPECT().Declare(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, in service.DeclareInput) (*models.Record, error) {
				s.Equal(id.EventTypeBirth, in.EventType)
				s.Require().Len(in.Participants, 1)
				s.Equal("Natasha", in.Participants[0].GivenName)
				return s.rec, nil
			})

		code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/records", map[string]any{
			"eventType":    "birth",
			"declaration":  map[string]any{"placeOfBirth": "Kitwe"},
			"participants": []map[string]any{{"role": "child", "givenName": "  Natasha "}},
		}))
		s.Equal(http.StatusCreated, code)
		s.Equal("DECLARED", body["status"])
		s.Equal(float64(1), body["version"])
		s.Equal(s.rec.ID.String(), body["id"])
	})

	s.Run("unknown event type is rejected before the service", func() {
		code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/records", map[string]any{
			"eventType":   "marriage",
			"declaration": map[string]any{},
		}))
		s.Equal(http.StatusBadRequest, code)
		s.Equal("validation_error", body["kind"])
	})

	s.Run("declaration must be an object", func() {
		code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/records", map[string]any{
			"eventType":   "death",
			"declaration": []int{1},
		}))
		s.Equal(http.StatusBadRequest, code)
	})

	s.Run("unknown participant role", func() {
		code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/records", map[string]any{
			"eventType":    "birth",
			"declaration":  map[string]any{},
			"participants": []map[string]any{{"role": "uncle"}},
		}))
		s.Equal(http.StatusBadRequest, code)
	})
}

func (s *RecordHandlerSuite) TestRequestCorrection() {
	s.Run("dispatches with reason and requested changes", func() {
		s.service.EXPECT().Execute(gomock.Any(), models.ActionRequestCorrection, s.rec.ID, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ models.Action, _ id.RecordID, in models.TransitionInput) (*models.Record, error) {
				s.Equal("misspelt", in.Reason)
				s.JSONEq(`{"child.givenName":"Natasha M."}`, string(in.RequestedChanges))
				return s.rec, nil
			})
		code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason":           " misspelt ",
			"requestedChanges": map[string]any{"child.givenName": "Natasha M."},
		}))
		s.Equal(http.StatusOK, code)
	})

	s.Run("missing requested changes is a 400", func() {
		code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason": "misspelt",
		}))
		s.Equal(http.StatusBadRequest, code)
		s.Equal("validation_error", body["kind"])
	})

	s.Run("empty change set is a 400", func() {
		code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason":           "misspelt",
			"requestedChanges": map[string]any{},
		}))
		s.Equal(http.StatusBadRequest, code)
	})

	s.Run("pending correction maps to 409", func() {
		s.service.EXPECT().Execute(gomock.Any(), models.ActionRequestCorrection, s.rec.ID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "a correction request is already pending"))
		code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason":           "again",
			"requestedChanges": map[string]any{"child.givenName": "N"},
		}))
		s.Equal(http.StatusConflict, code)
		s.Equal("conflict", body["kind"])
		s.Equal("a correction request is already pending", body["message"])
	})

	s.Run("record outside the allowed states maps to 404", func() {
		s.service.EXPECT().Execute(gomock.Any(), models.ActionRequestCorrection, s.rec.ID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "not found for this state set"))
		code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason":           "x",
			"requestedChanges": map[string]any{"a": 1},
		}))
		s.Equal(http.StatusNotFound, code)
	})

	s.Run("store outage maps to 503 without leaking details", func() {
		s.service.EXPECT().Execute(gomock.Any(), models.ActionRequestCorrection, s.rec.ID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeStoreUnavailable, "dial tcp 10.0.0.7:5432: connection refused"))
		code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/request-correction"), map[string]any{
			"reason":           "x",
			"requestedChanges": map[string]any{"a": 1},
		}))
		s.Equal(http.StatusServiceUnavailable, code)
		s.NotContains(body["message"], "10.0.0.7")
	})
}

func (s *RecordHandlerSuite) TestPlainActions() {
	for _, a := range plainActions {
		if a.reasonRequired {
			continue
		}
		s.service.EXPECT().Execute(gomock.Any(), a.action, s.rec.ID, models.TransitionInput{}).Return(s.rec, nil)
		code, _ := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.path("/"+a.path)))
		s.Equal(http.StatusOK, code, a.path)
	}
}

func (s *RecordHandlerSuite) TestRejectRequiresReason() {
	code, _ := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/reject"), map[string]any{"reason": "  "}))
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/reject-correction"), map[string]any{}))
	s.Equal(http.StatusBadRequest, code)

	s.service.EXPECT().Execute(gomock.Any(), models.ActionReject, s.rec.ID, models.TransitionInput{Reason: "duplicate"}).Return(s.rec, nil)
	code, _ = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/reject"), map[string]any{"reason": "duplicate"}))
	s.Equal(http.StatusOK, code)
}

func (s *RecordHandlerSuite) TestGetAndAudit() {
	s.service.EXPECT().Get(gomock.Any(), s.rec.ID).Return(s.rec, nil)
	code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.path("")))
	s.Equal(http.StatusOK, code)
	s.Equal(false, body["pendingCorrection"])

	s.service.EXPECT().AuditTrail(gomock.Any(), s.rec.ID).Return([]audit.Event{{Type: audit.EventRecordDeclared, Seq: 1}}, nil)
	code, body = s.do(testutil.NewRequest(s.T(), http.MethodGet, s.path("/audit")))
	s.Equal(http.StatusOK, code)
	s.Len(body["events"], 1)

	code, body = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/records/not-a-uuid"))
	s.Equal(http.StatusBadRequest, code)
	s.Equal("invalid_input", body["kind"])
}

func (s *RecordHandlerSuite) TestUnknownFieldsAreRejected() {
	code, _ := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, s.path("/certify"), `{"reason":"ok","status":"ISSUED"}`))
	s.Equal(http.StatusBadRequest, code)
}
