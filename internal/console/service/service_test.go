package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

type fakeSource struct {
	calls       atomic.Int32
	patches     []domain.RawPatchRecord
	backups     []domain.RawBackupRecord
	security    []domain.RawSecurityRecord
	tickets     []domain.RawTicketRecord
	network     []domain.RawNetworkDeviceRecord
	checks      []domain.RawCheckRecord
	backupErr   error
	securityErr error
	networkErr  error

	// Если задан, FetchPatches сообщает в started и ждёт release или отмены ctx
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) FetchPatches(ctx context.Context) ([]domain.RawPatchRecord, error) {
	f.calls.Add(1)
	if f.release != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.patches, nil
}

func (f *fakeSource) FetchBackups(ctx context.Context) ([]domain.RawBackupRecord, error) {
	return f.backups, f.backupErr
}

func (f *fakeSource) FetchSecurity(ctx context.Context) ([]domain.RawSecurityRecord, error) {
	return f.security, f.securityErr
}

func (f *fakeSource) FetchTickets(ctx context.Context) ([]domain.RawTicketRecord, error) {
	return f.tickets, nil
}

func (f *fakeSource) FetchNetwork(ctx context.Context) ([]domain.RawNetworkDeviceRecord, error) {
	return f.network, f.networkErr
}

func (f *fakeSource) FetchChecks(ctx context.Context) ([]domain.RawCheckRecord, error) {
	return f.checks, nil
}

type memCache struct {
	mu   sync.Mutex
	snap *domain.DashboardSnapshot
	sets int
}

func (m *memCache) Get(ctx context.Context) (*domain.DashboardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memCache) Set(ctx context.Context, snap *domain.DashboardSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.sets++
	return nil
}

func (m *memCache) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

func sampleSource() *fakeSource {
	return &fakeSource{
		patches: []domain.RawPatchRecord{
			{Client: "Acme Pty Ltd", Device: "A1", Status: domain.PatchInstalled},
			{Client: "ACME", Device: "A2", Status: domain.PatchPending},
			{Client: "Beta & Sons", Device: "B1", Status: domain.PatchInstalled},
		},
		backups: []domain.RawBackupRecord{
			{PartnerName: "Acme Limited", DeviceName: "A1", TotalStatus: "Success"},
		},
		security: []domain.RawSecurityRecord{
			{Site: "Beta and Sons", DeviceID: "B1", AntivirusInstalled: true},
		},
	}
}

func TestDashboardSnapshotAllAndScoped(t *testing.T) {
	src := sampleSource()
	svc := NewDashboardService(src, nil, engine.NewMetrics(nil), zaptest.NewLogger(t))
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx, Scope{})
	require.NoError(t, err)
	require.Len(t, snap.Customers, 2)
	assert.Equal(t, "acme", snap.Customers[0].CanonicalKey)
	assert.Equal(t, "Acme Pty Ltd", snap.Customers[0].DisplayName)
	assert.Equal(t, "betaandsons", snap.Customers[1].CanonicalKey)
	assert.Equal(t, 2, snap.Summary.Customers)
	assert.Empty(t, snap.Degraded)

	for _, id := range []string{"acme", "Acme Pty Ltd", "ACME LIMITED"} {
		recs, err := svc.Customers(ctx, Scope{CustomerID: id})
		require.NoError(t, err, id)
		require.Len(t, recs, 1, id)
		assert.Equal(t, "acme", recs[0].CanonicalKey)
	}

	rec, err := svc.Customer(ctx, Scope{}, "Beta and Sons")
	require.NoError(t, err)
	assert.Equal(t, "betaandsons", rec.CanonicalKey)

	// Клиент вне своей области неотличим от отсутствующего
	_, err = svc.Customer(ctx, Scope{CustomerID: "acme"}, "betaandsons")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	_, err = svc.Customer(ctx, Scope{}, "nobody")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestDashboardDegradedSource(t *testing.T) {
	src := sampleSource()
	src.backupErr = errors.New("timeout")
	cache := &memCache{}
	metrics := engine.NewMetrics(nil)
	svc := NewDashboardService(src, cache, metrics, zaptest.NewLogger(t))

	snap, err := svc.Snapshot(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{domain.SourceBackup}, snap.Degraded)
	require.Len(t, snap.Customers, 2)
	assert.False(t, snap.Customers[0].BackupHealthPct.Valid)
	assert.Equal(t, domain.BackupNA, snap.Customers[0].BackupStatusLabel)

	assert.Zero(t, cache.sets, "degraded snapshot is not cached")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchErrors.WithLabelValues("backup", "dashboard")))
}

func TestDashboardAllSourcesDown(t *testing.T) {
	src := &fakeSource{backupErr: errors.New("x"), securityErr: errors.New("y")}
	svc := NewDashboardService(src, nil, engine.NewMetrics(nil), zaptest.NewLogger(t))

	snap, err := svc.Snapshot(context.Background(), Scope{})
	require.NoError(t, err)
	assert.NotNil(t, snap.Customers)
	assert.Empty(t, snap.Customers)
	assert.Len(t, snap.Degraded, 2)
}

func TestDashboardCacheAndInvalidate(t *testing.T) {
	src := sampleSource()
	cache := &memCache{}
	metrics := engine.NewMetrics(nil)
	svc := NewDashboardService(src, cache, metrics, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, Scope{})
	require.NoError(t, err)
	_, err = svc.Snapshot(ctx, Scope{CustomerID: "acme"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("hit")))

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.Snapshot(ctx, Scope{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Equal(t, 2, cache.sets)
}

func TestDashboardInvalidateDuringBuild(t *testing.T) {
	src := sampleSource()
	src.started = make(chan struct{}, 1)
	src.release = make(chan struct{})
	cache := &memCache{}
	svc := NewDashboardService(src, cache, engine.NewMetrics(nil), zaptest.NewLogger(t))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Snapshot(ctx, Scope{})
		done <- err
	}()

	<-src.started
	// Синхронизатор записал новый снимок, пока старый пересчёт ещё идёт
	require.NoError(t, svc.Invalidate(ctx))
	close(src.release)
	require.NoError(t, <-done)

	cache.mu.Lock()
	assert.Zero(t, cache.sets, "build started before invalidate must not be cached")
	assert.Nil(t, cache.snap)
	cache.mu.Unlock()

	_, err := svc.Snapshot(ctx, Scope{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Equal(t, 1, cache.sets)
}

func TestDashboardBuildTimeout(t *testing.T) {
	src := sampleSource()
	src.started = make(chan struct{}, 1)
	src.release = make(chan struct{}) // не закрывается: источник висит
	cache := &memCache{}
	svc := NewDashboardService(src, cache, engine.NewMetrics(nil), zaptest.NewLogger(t)).
		WithBuildTimeout(50 * time.Millisecond)

	start := time.Now()
	snap, err := svc.Snapshot(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []domain.Source{domain.SourcePatch}, snap.Degraded)
	assert.Zero(t, cache.sets)
}

func TestDashboardOperationalSources(t *testing.T) {
	src := sampleSource()
	src.tickets = []domain.RawTicketRecord{
		{Customer: "Acme Pty Ltd", Subject: "VPN down", Priority: "High", Status: "Open"},
		{Customer: "ACME", Subject: "printer", Priority: "Low", Status: "Resolved"},
		{Customer: "Gamma", Subject: "hello", Priority: "Low", Status: "Open"},
	}
	src.checks = []domain.RawCheckRecord{{Client: "Beta & Sons", Device: "B1", Check: "Disk C:"}}
	svc := NewDashboardService(src, nil, engine.NewMetrics(nil), zaptest.NewLogger(t))

	snap, err := svc.Snapshot(context.Background(), Scope{})
	require.NoError(t, err)
	require.Len(t, snap.Customers, 2, "operational-only customers are not added")

	acme := snap.Customers[0]
	require.NotNil(t, acme.Operations)
	assert.Equal(t, 1, acme.Operations.OpenTickets)
	assert.Equal(t, 1, acme.Operations.UrgentTickets)
	assert.Equal(t, 1, snap.Customers[1].Operations.FailingChecks)
	assert.Equal(t, 1, snap.Summary.TotalOpenTickets)
	assert.Equal(t, 1, snap.Summary.TotalFailingChecks)

	// Отказ операционного источника помечается, но оценку не трогает
	src.networkErr = errors.New("nsight down")
	svc = NewDashboardService(src, nil, engine.NewMetrics(nil), zaptest.NewLogger(t))
	degraded, err := svc.Snapshot(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{domain.SourceNetwork}, degraded.Degraded)
	assert.Equal(t, snap.Customers[0].OverallHealthScore, degraded.Customers[0].OverallHealthScore)
}

func TestScopeRecords(t *testing.T) {
	records := []domain.CustomerHealthRecord{
		{CanonicalKey: "acme", DisplayName: "Acme Pty Ltd"},
		{CanonicalKey: "beta", DisplayName: "Beta"},
	}
	assert.Len(t, ScopeRecords(records, "acme"), 1)
	assert.Len(t, ScopeRecords(records, " Acme Pty Ltd "), 1)
	assert.Len(t, ScopeRecords(records, "acme group"), 1)
	assert.Empty(t, ScopeRecords(records, ""))
	assert.Empty(t, ScopeRecords(records, "gamma"))
	assert.Empty(t, ScopeRecords(records, "ltd"), "legal word alone is no key")
}

type fakeUsers map[string]*domain.User

func (f fakeUsers) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if username == "broken" {
		return nil, errors.New("db down")
	}
	return f[username], nil
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestAuthServiceGenerateToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	acme := "acme"
	users := fakeUsers{
		"admin":  {ID: "u-admin", Username: "admin", PasswordHash: string(hash), Role: domain.RoleAdmin},
		"acme":   {ID: "u-acme", Username: "acme", PasswordHash: string(hash), Role: domain.RoleCustomer, CustomerID: &acme},
		"orphan": {ID: "u-orphan", Username: "orphan", PasswordHash: string(hash), Role: domain.RoleCustomer},
	}

	key := newKey(t)
	svc := NewAuthService(users, key, time.Hour, zaptest.NewLogger(t))
	validator := auth.NewBaseValidator(&key.PublicKey)
	ctx := context.Background()

	resp, err := svc.GenerateToken(ctx, "acme", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.EqualValues(t, 3600, resp.ExpiresIn)

	claims, err := validator.VerifyToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, claims.Role)
	assert.Equal(t, "acme", claims.CustomerID)

	resp, err = svc.GenerateToken(ctx, "admin", "s3cret")
	require.NoError(t, err)
	claims, err = validator.VerifyToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
	assert.Empty(t, claims.CustomerID)

	for _, tc := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"ghost", "s3cret"},
		{"orphan", "s3cret"},
		{"broken", "s3cret"},
	} {
		_, err := svc.GenerateToken(ctx, tc.user, tc.pass)
		assert.ErrorIs(t, err, ErrInvalidCredentials, tc.user)
	}
}

type fakeLookup struct {
	records []domain.CustomerHealthRecord
}

func (f fakeLookup) Customer(ctx context.Context, scope Scope, id string) (*domain.CustomerHealthRecord, error) {
	m := ScopeRecords(f.records, id)
	if len(m) == 0 {
		return nil, ErrCustomerNotFound
	}
	return &m[0], nil
}

func TestShareServiceCreateLink(t *testing.T) {
	key := newKey(t)
	validator := auth.NewBaseValidator(&key.PublicKey)
	lookup := fakeLookup{records: []domain.CustomerHealthRecord{{CanonicalKey: "acme", DisplayName: "Acme Pty Ltd"}}}
	svc := NewShareService(lookup, key, validator, "https://console.example.com/", infra.ShareConfig{DefaultDays: 7, MaxDays: 365})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, "Acme Pty Ltd", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, link.ExpiresInDays)
	assert.Equal(t, "acme", link.CustomerID)
	assert.Equal(t, fixed.Add(7*24*time.Hour), link.ExpiresAt)
	assert.True(t, strings.HasPrefix(link.URL, "https://console.example.com/s/"))

	link, err = svc.CreateLink(ctx, "acme", 365)
	require.NoError(t, err)
	claims, err := svc.Verify(link.Token)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.CustomerID)

	for _, days := range []int{-1, 366} {
		_, err = svc.CreateLink(ctx, "acme", days)
		assert.ErrorIs(t, err, ErrInvalidExpiry, days)
	}

	_, err = svc.CreateLink(ctx, "  ", 7)
	assert.ErrorIs(t, err, ErrInvalidCustomer)

	_, err = svc.CreateLink(ctx, "gamma", 7)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

type fakePublisher struct {
	channel   string
	message   interface{}
	receivers int64
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel, f.message = channel, message
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(f.receivers)
	}
	return cmd
}

type fakeHistory struct{ runs []*domain.SyncRun }

func (f fakeHistory) ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	return f.runs, nil
}

func TestSyncServiceRequest(t *testing.T) {
	ctx := context.Background()

	pub := &fakePublisher{receivers: 1}
	svc := NewSyncService(fakeHistory{}, pub, zaptest.NewLogger(t))
	require.NoError(t, svc.Request(ctx, "u-admin"))
	assert.Equal(t, infra.RedisChanSyncRequest, pub.channel)
	assert.Equal(t, "u-admin", pub.message)

	pub.receivers = 0
	assert.ErrorIs(t, svc.Request(ctx, "u-admin"), ErrSyncUnavailable)

	pub.err = errors.New("connection refused")
	assert.ErrorIs(t, svc.Request(ctx, "u-admin"), ErrSyncUnavailable)

	runs, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

type memUsers struct {
	created []*domain.User
	err     error
}

func (m *memUsers) CreateUser(ctx context.Context, u *domain.User) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, u)
	return nil
}

func TestUserServiceCreate(t *testing.T) {
	repo := &memUsers{}
	svc := NewUserService(repo, bcrypt.MinCost, zaptest.NewLogger(t))
	ctx := context.Background()

	u, err := svc.Create(ctx, NewUser{
		Username: " acme-viewer ", Email: "it@acme.example", Password: "long-enough",
		Role: domain.RoleCustomer, CustomerID: "Acme Pty Ltd",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-viewer", u.Username)
	require.NotNil(t, u.CustomerID)
	assert.Equal(t, "acme", *u.CustomerID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("long-enough")))
	require.Len(t, repo.created, 1)

	admin, err := svc.Create(ctx, NewUser{Username: "root", Email: "r@msp", Password: "long-enough", Role: domain.RoleAdmin, CustomerID: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, admin.CustomerID)

	bad := []NewUser{
		{Email: "x@y", Password: "long-enough", Role: domain.RoleAdmin},
		{Username: "a", Password: "long-enough", Role: domain.RoleAdmin},
		{Username: "a", Email: "x@y", Password: "short", Role: domain.RoleAdmin},
		{Username: "a", Email: "x@y", Password: "long-enough", Role: domain.RoleCustomer, CustomerID: "Pty Ltd"},
		{Username: "a", Email: "x@y", Password: "long-enough", Role: "owner"},
	}
	for _, in := range bad {
		_, err := svc.Create(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidUser, "%+v", in)
	}

	repo.err = errors.New("duplicate")
	_, err = svc.Create(ctx, NewUser{Username: "b", Email: "b@msp", Password: "long-enough", Role: domain.RoleAdmin})
	assert.EqualError(t, err, "duplicate")
}
