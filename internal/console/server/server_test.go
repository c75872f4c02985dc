package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/console/handler"
	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

type staticSource struct{}

func (staticSource) FetchPatches(ctx context.Context) ([]domain.RawPatchRecord, error) {
	return []domain.RawPatchRecord{
		{Client: "Acme Pty Ltd", Device: "A1", Status: domain.PatchInstalled},
		{Client: "Acme", Device: "A2", Status: domain.PatchPending},
		{Client: "Beta", Device: "B1", Status: domain.PatchInstalled},
	}, nil
}

func (staticSource) FetchBackups(ctx context.Context) ([]domain.RawBackupRecord, error) {
	return []domain.RawBackupRecord{{PartnerName: "Beta", DeviceName: "B1", TotalStatus: "Success"}}, nil
}

func (staticSource) FetchSecurity(ctx context.Context) ([]domain.RawSecurityRecord, error) {
	return nil, nil
}

func (staticSource) FetchTickets(ctx context.Context) ([]domain.RawTicketRecord, error) {
	return []domain.RawTicketRecord{{Customer: "Beta", Subject: "mail", Priority: "Critical", Status: "In Progress"}}, nil
}

func (staticSource) FetchNetwork(ctx context.Context) ([]domain.RawNetworkDeviceRecord, error) {
	return nil, nil
}

func (staticSource) FetchChecks(ctx context.Context) ([]domain.RawCheckRecord, error) {
	return nil, nil
}

type users map[string]*domain.User

func (u users) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return u[username], nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.AccessEvent
}

func (a *recordingAuditor) Log(e audit.AccessEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

type publisher struct{ receivers int64 }

func (p publisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(p.receivers)
	return cmd
}

type history struct{}

func (history) ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	return []*domain.SyncRun{{ID: "r1", Trigger: "schedule", Status: domain.SyncSuccess, StartedAt: time.Now()}}, nil
}

type env struct {
	srv     *ConsoleServer
	key     *rsa.PrivateKey
	auditor *recordingAuditor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	beta := "beta"
	accounts := users{
		"admin": {ID: "u-admin", Username: "admin", PasswordHash: string(hash), Role: domain.RoleAdmin},
		"beta":  {ID: "u-beta", Username: "beta", PasswordHash: string(hash), Role: domain.RoleCustomer, CustomerID: &beta},
	}

	validator := auth.NewBaseValidator(&key.PublicKey)
	metrics := engine.NewMetrics(nil)
	auditor := &recordingAuditor{}

	dash := service.NewDashboardService(staticSource{}, nil, metrics, logger)
	authSvc := service.NewAuthService(accounts, key, time.Hour, logger)
	shareSvc := service.NewShareService(dash, key, validator, "https://console.test", infra.ShareConfig{DefaultDays: 7, MaxDays: 365})
	syncSvc := service.NewSyncService(history{}, publisher{receivers: 1}, logger)

	srv := NewConsoleServer(logger, validator,
		handler.NewAuthHandler(authSvc, auditor),
		handler.NewDashboardHandler(dash, shareSvc, auditor, logger),
		handler.NewShareHandler(shareSvc, auditor, logger),
		handler.NewSyncHandler(syncSvc, auditor, logger),
	)
	return &env{srv: srv, key: key, auditor: auditor}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(t *testing.T, user string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/token", "", domain.LoginRequest{Username: user, Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) domain.DashboardSnapshot {
	t.Helper()
	var snap domain.DashboardSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestPublicRoutes(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/dashboard/customers", "", nil).Code)

	rec := e.do(t, http.MethodPost, "/auth/token", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, e.auditor.events)
	assert.Equal(t, audit.ActionLoginFailed, e.auditor.events[0].Action)
	assert.Equal(t, "admin", e.auditor.events[0].Actor)
}

func TestAdminSeesAllCustomers(t *testing.T) {
	e := newEnv(t)
	token := e.login(t, "admin")

	rec := e.do(t, http.MethodGet, "/api/v1/dashboard/customers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(engine.TraceHeader))

	snap := decodeSnapshot(t, rec)
	require.Len(t, snap.Customers, 2)
	assert.Equal(t, "acme", snap.Customers[0].CanonicalKey)
	assert.Equal(t, domain.PercentOf(50), snap.Customers[0].PatchCompliancePct)
	assert.Equal(t, 2, snap.Summary.Customers)
	assert.Nil(t, snap.Customers[0].Operations)
	require.NotNil(t, snap.Customers[1].Operations)
	assert.Equal(t, 1, snap.Customers[1].Operations.UrgentTickets)
	assert.Equal(t, 1, snap.Summary.TotalOpenTickets)

	// N/A на проводе, а не 0
	assert.Contains(t, rec.Body.String(), `"backup_health":"N/A"`)

	rec = e.do(t, http.MethodGet, "/api/v1/dashboard/customers/Acme%20Pty%20Ltd", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one domain.CustomerHealthRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "acme", one.CanonicalKey)

	rec = e.do(t, http.MethodGet, "/api/v1/dashboard/customers/gamma", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerIsScoped(t *testing.T) {
	e := newEnv(t)
	token := e.login(t, "beta")

	snap := decodeSnapshot(t, e.do(t, http.MethodGet, "/api/v1/dashboard/customers", token, nil))
	require.Len(t, snap.Customers, 1)
	assert.Equal(t, "beta", snap.Customers[0].CanonicalKey)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/dashboard/customers/acme", token, nil).Code)

	// Админские маршруты закрыты
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/v1/sync", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/v1/share-links", token,
		map[string]any{"customer_id": "beta"}).Code)
}

func TestShareLinkFlow(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "admin")

	rec := e.do(t, http.MethodPost, "/api/v1/share-links", admin, map[string]any{"customer_id": "Acme Pty Ltd"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var link domain.ShareLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, 7, link.ExpiresInDays)
	assert.True(t, strings.HasPrefix(link.URL, "https://console.test/s/"))

	// По ссылке без логина
	rec = e.do(t, http.MethodGet, "/s/"+link.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeSnapshot(t, rec)
	require.Len(t, snap.Customers, 1)
	assert.Equal(t, "acme", snap.Customers[0].CanonicalKey)

	// Через query-параметр на API
	rec = e.do(t, http.MethodGet, "/api/v1/dashboard/customers?share_token="+link.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeSnapshot(t, rec).Customers, 1)

	// Share-токен не даёт прав администратора
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs", nil)
	req.Header.Set(auth.ShareTokenHeader, link.Token)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/s/garbage", "", nil).Code)

	rec = e.do(t, http.MethodPost, "/api/v1/share-links", admin, map[string]any{"customer_id": "acme", "expires_in_days": 400})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/share-links", admin, map[string]any{"customer_id": "gamma"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRoutes(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "admin")

	rec := e.do(t, http.MethodPost, "/api/v1/sync", admin, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/sync/runs?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []domain.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, domain.SyncSuccess, runs[0].Status)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/sync/runs?limit=zero", admin, nil).Code)

	var actions []audit.Action
	for _, ev := range e.auditor.events {
		actions = append(actions, ev.Action)
	}
	assert.Contains(t, actions, audit.ActionSyncRequested)
}
