package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/identity/service"
	recoverydomain "orphan-recovery/internal/recovery/domain"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*service.LoginOutcome, error) {
	args := m.Called(ctx, email, password)
	out, _ := args.Get(0).(*service.LoginOutcome)
	return out, args.Error(1)
}

func (m *mockAuthService) ProbeRegistration(ctx context.Context, email string) (*service.ProbeResult, error) {
	args := m.Called(ctx, email)
	out, _ := args.Get(0).(*service.ProbeResult)
	return out, args.Error(1)
}

func (m *mockAuthService) StartFresh(ctx context.Context, email, correlationID string) (*recoverydomain.RequestResult, error) {
	args := m.Called(ctx, email, correlationID)
	out, _ := args.Get(0).(*recoverydomain.RequestResult)
	return out, args.Error(1)
}

func serve(svc AuthService, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	NewAuthHandler(svc, nil).Register(e.Group("/v1"))
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLogin_States(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 15, 0, 0, time.UTC)
	tests := []struct {
		name      string
		outcome   *service.LoginOutcome
		wantCode  int
		wantField string
		wantValue interface{}
	}{
		{
			name: "proceed",
			outcome: &service.LoginOutcome{State: service.StateProceed, Session: &domain.Session{
				Identity: &domain.Identity{ID: "id-1"}, Token: "tok-1",
			}},
			wantCode: http.StatusOK, wantField: "session_token", wantValue: "tok-1",
		},
		{
			name: "recovery redirect",
			outcome: &service.LoginOutcome{
				State: service.StateRecoveryRedirect, Email: "orphan@example.com",
				CorrelationID: "corr-r", RecoveryTicket: "ticket", TicketExpiresAt: exp,
			},
			wantCode: http.StatusOK, wantField: "correlation_id", wantValue: "corr-r",
		},
		{"auth failed", &service.LoginOutcome{State: service.StateAuthFailed}, http.StatusUnauthorized, "code", "AUTH_FAILED"},
		{"email unverified", &service.LoginOutcome{State: service.StateEmailUnverified}, http.StatusForbidden, "code", "EMAIL_UNVERIFIED"},
		{"blocked", &service.LoginOutcome{State: service.StateBlocked}, http.StatusServiceUnavailable, "code", "UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockAuthService)
			svc.On("Login", mock.Anything, "user@example.com", "pw").Return(tt.outcome, nil)

			rec := serve(svc, "/v1/auth/login", `{"email":"user@example.com","password":"pw"}`)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantValue, decode(t, rec)[tt.wantField])
		})
	}
}

func TestLogin_RedirectCarriesTicket(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(&service.LoginOutcome{
		State: service.StateRecoveryRedirect, Email: "orphan@example.com", CorrelationID: "c", RecoveryTicket: "t",
		TicketExpiresAt: time.Now().Add(time.Minute),
	}, nil)

	body := decode(t, serve(svc, "/v1/auth/login", `{"email":"orphan@example.com","password":"pw"}`))

	assert.Equal(t, "recovery_redirect", body["state"])
	assert.Equal(t, "orphan@example.com", body["email"])
	assert.Equal(t, "t", body["recovery_ticket"])
	assert.NotEmpty(t, body["ticket_expires_at"])
	assert.Nil(t, body["session_token"])
}

func TestLogin_ProviderUnavailable(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("sign in: %w", domain.ErrProviderUnavailable))

	rec := serve(svc, "/v1/auth/login", `{"email":"user@example.com","password":"pw"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLogin_Validation(t *testing.T) {
	svc := new(mockAuthService)

	rec := serve(svc, "/v1/auth/login", `{"email":"user@example.com"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestProbe(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("ProbeRegistration", mock.Anything, "orphan@example.com").Return(&service.ProbeResult{
		Status:        service.ProbeOrphaned,
		CorrelationID: "corr-p",
		Options:       []string{service.OptionCompleteRegistration, service.OptionStartFresh},
	}, nil)

	rec := serve(svc, "/v1/registration/probe", `{"email":"orphan@example.com"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "orphaned", body["status"])
	assert.Equal(t, []interface{}{"complete_registration", "start_fresh"}, body["options"])
}

func TestProbe_Unavailable(t *testing.T) {
	svc := new(mockAuthService)
	svc.On("ProbeRegistration", mock.Anything, mock.Anything).Return(nil, service.ErrClassificationUnavailable)

	rec := serve(svc, "/v1/registration/probe", `{"email":"slow@example.com"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartFresh(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := new(mockAuthService)
		svc.On("StartFresh", mock.Anything, "orphan@example.com", "").
			Return(&recoverydomain.RequestResult{Accepted: true, CorrelationID: "corr-s"}, nil)

		rec := serve(svc, "/v1/registration/start-fresh", `{"email":"orphan@example.com"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "corr-s", decode(t, rec)["correlation_id"])
	})

	t.Run("not found looks accepted", func(t *testing.T) {
		svc := new(mockAuthService)
		svc.On("StartFresh", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, recoverydomain.NewError(recoverydomain.KindNotFound, "corr-n", nil))

		rec := serve(svc, "/v1/registration/start-fresh", `{"email":"ghost@example.com"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "corr-n", decode(t, rec)["correlation_id"])
	})

	t.Run("lock conflict", func(t *testing.T) {
		svc := new(mockAuthService)
		svc.On("StartFresh", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, recoverydomain.NewError(recoverydomain.KindLockConflict, "corr-l", nil))

		rec := serve(svc, "/v1/registration/start-fresh", `{"email":"orphan@example.com"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "LOCK_CONFLICT", decode(t, rec)["code"])
	})
}

func TestMapAuthError(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, mapAuthError(domain.ErrProviderUnavailable).Code)
	assert.Equal(t, http.StatusServiceUnavailable, mapAuthError(service.ErrClassificationUnavailable).Code)
	assert.Equal(t, http.StatusInternalServerError, mapAuthError(errors.New("boom")).Code)
}
