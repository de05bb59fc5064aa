package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"subscription-api/internal/apperr"
	"subscription-api/internal/middleware"
	"subscription-api/internal/models"
	"subscription-api/internal/response"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriptions struct {
	email      string
	verify     *services.SubscriptionStatus
	register   services.RegisterRequest
	status     bool
	record     *models.SubscriptionRecord
	err        error
	registered bool
}

func (f *fakeSubscriptions) Verify(ctx context.Context, email string) (*services.SubscriptionStatus, error) {
	f.email = email
	return f.verify, f.err
}

func (f *fakeSubscriptions) Register(ctx context.Context, email string, req services.RegisterRequest) (bool, error) {
	f.email = email
	f.register = req
	if f.err != nil {
		return false, f.err
	}
	f.registered = true
	return true, nil
}

func (f *fakeSubscriptions) Status(ctx context.Context, email string) (bool, error) {
	f.email = email
	return f.status, f.err
}

func (f *fakeSubscriptions) Record(ctx context.Context, email string) (*models.SubscriptionRecord, error) {
	f.email = email
	return f.record, f.err
}

type fakeNotifications struct {
	payload string
	err     error
}

func (f *fakeNotifications) Handle(ctx context.Context, signedPayload string) (*services.NotificationResult, error) {
	f.payload = signedPayload
	if f.err != nil {
		return nil, f.err
	}
	return &services.NotificationResult{
		NotificationType: services.TypeDidRenew,
		NotificationUUID: "uuid-1",
		Outcome:          services.OutcomeProcessed,
	}, nil
}

type fakeHistory struct {
	limit int
	err   error
}

func (f *fakeHistory) History(ctx context.Context, email string, limit int) ([]models.NotificationEvent, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.NotificationEvent{{NotificationUUID: "uuid-1", NotificationType: services.TypeDidRenew}}, nil
}

// fakeAuth stands in for middleware.Auth
func fakeAuth(c *gin.Context) {
	c.Set(middleware.UserEmailKey, "reader@omninews.kr")
	c.Next()
}

func newRouter(subs *fakeSubscriptions, notes *fakeNotifications) *gin.Engine {
	return newRouterWithHistory(subs, notes, &fakeHistory{})
}

func newRouterWithHistory(subs *fakeSubscriptions, notes *fakeNotifications, history *fakeHistory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, NewHandler(subs, notes, history, "OmniNews"), fakeAuth)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func TestVerifySubscription(t *testing.T) {
	subs := &fakeSubscriptions{verify: &services.SubscriptionStatus{
		IsActive:    true,
		ProductID:   "kr.omninews.premium.monthly",
		ExpiresDate: "2030-03-17T17:46:40+09:00",
	}}
	code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodGet, "/subscription/verify", "")

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "reader@omninews.kr", subs.email)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["is_active"])
	assert.Equal(t, "2030-03-17T17:46:40+09:00", data["expires_date"])
}

func TestVerifySubscription_ErrorStatuses(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
		leaks  bool
	}{
		{apperr.NotFound, http.StatusNotFound, true},
		{apperr.Expired, http.StatusGone, true},
		{apperr.InvalidValue, http.StatusBadRequest, true},
		{apperr.Request, http.StatusInternalServerError, false},
		{apperr.Database, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			subs := &fakeSubscriptions{err: apperr.New(tc.kind, "detail for %s", tc.kind)}
			code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodGet, "/subscription/verify", "")

			assert.Equal(t, tc.status, code)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.leaks, strings.Contains(resp.Message, "detail for"))
			assert.Equal(t, tc.kind.String(), resp.Data.(map[string]interface{})["error"])
		})
	}
}

func TestRegisterSubscription(t *testing.T) {
	subs := &fakeSubscriptions{}
	code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodPost, "/subscription/register",
		`{"transaction_id":"2000000123456789","platform":"ios","is_test":true}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data)
	assert.True(t, subs.registered)
	assert.Equal(t, "2000000123456789", subs.register.TransactionID)
	require.NotNil(t, subs.register.IsTest)
	assert.True(t, *subs.register.IsTest)
}

func TestRegisterSubscription_BadBody(t *testing.T) {
	subs := &fakeSubscriptions{}
	code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodPost, "/subscription/register", `{"transaction_id":`)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.False(t, subs.registered)
}

func TestGetSubscriptionStatus(t *testing.T) {
	subs := &fakeSubscriptions{status: true}
	code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodGet, "/subscription/status", "")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"status": true}, resp.Data)
}

func TestGetSubscription(t *testing.T) {
	subs := &fakeSubscriptions{record: &models.SubscriptionRecord{TransactionID: "2000000123456789", Status: true}}
	code, resp := do(t, newRouter(subs, &fakeNotifications{}), http.MethodGet, "/subscription", "")

	assert.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "2000000123456789", data["transaction_id"])
	assert.Equal(t, true, data["status"])
}

func TestAppStoreNotification(t *testing.T) {
	notes := &fakeNotifications{}
	code, resp := do(t, newRouter(&fakeSubscriptions{}, notes), http.MethodPost, "/apple/notification/v2", `{"signedPayload":"a.b.c"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "a.b.c", notes.payload)
	assert.Equal(t, services.OutcomeProcessed, resp.Data.(map[string]interface{})["outcome"])
}

func TestAppStoreNotification_Rejects(t *testing.T) {
	cases := map[string]struct {
		body string
		err  error
	}{
		"invalid json":      {body: `not json`},
		"missing payload":   {body: `{}`},
		"undecodable token": {body: `{"signedPayload":"garbage"}`, err: apperr.New(apperr.Decode, "invalid JWS format")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			notes := &fakeNotifications{err: tc.err}
			code, resp := do(t, newRouter(&fakeSubscriptions{}, notes), http.MethodPost, "/apple/notification/v2", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, resp.Success)
		})
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, NewHandler(&fakeSubscriptions{}, &fakeNotifications{}, &fakeHistory{}, "OmniNews"), fakeAuth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"OmniNews"}`, w.Body.String())
}

func TestGetSubscriptionHistory(t *testing.T) {
	history := &fakeHistory{}
	r := newRouterWithHistory(&fakeSubscriptions{}, &fakeNotifications{}, history)

	code, resp := do(t, r, http.MethodGet, "/subscription/history", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, history.limit)
	events := resp.Data.([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "uuid-1", events[0].(map[string]interface{})["notification_uuid"])

	code, _ = do(t, r, http.MethodGet, "/subscription/history?limit=5", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, history.limit)

	for _, limit := range []string{"abc", "0", "-3"} {
		code, resp = do(t, r, http.MethodGet, "/subscription/history?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, code, limit)
		assert.False(t, resp.Success)
	}
}
