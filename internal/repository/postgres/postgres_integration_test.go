package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
)

// Требует живой PostgreSQL: TEST_DATABASE_URL=postgres://... go test ./internal/repository/postgres
func TestSnapshotAndSyncRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := NewPool(ctx, infra.DatabaseConfig{URL: dsn, MaxConns: 4})
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range []string{"001_init.sql", "002_operations.sql"} {
		schema, err := os.ReadFile("../../../migrations/" + file)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(schema))
		require.NoError(t, err, file)
	}

	snaps := NewSnapshotRepo(pool)
	require.NoError(t, snaps.ReplaceSnapshot(ctx, domain.Snapshot{
		Patches:  []domain.RawPatchRecord{{Client: "Acme", Device: "D1", Status: domain.PatchRebootRequired}},
		Backups:  []domain.RawBackupRecord{{PartnerName: "Acme", DeviceName: "B1", TotalStatus: "Success"}},
		Security: []domain.RawSecurityRecord{},
		Tickets:  []domain.RawTicketRecord{{Customer: "Acme", Subject: "VPN", Priority: "High", Status: "Open"}},
		Network:  []domain.RawNetworkDeviceRecord{{Customer: "Acme", Name: "fw-01", Type: "firewall", Status: "Offline"}},
		Checks:   []domain.RawCheckRecord{{Client: "Acme", Device: "D1", Check: "Disk C:"}},
	}))

	// nil источник не трогает таблицу
	require.NoError(t, snaps.ReplaceSnapshot(ctx, domain.Snapshot{
		Security: []domain.RawSecurityRecord{{Site: "Acme", DeviceID: "S1", EDRInstalled: true, ThreatCount: 1}},
	}))

	patches, err := snaps.FetchPatches(ctx)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, domain.PatchRebootRequired, patches[0].Status)

	backups, err := snaps.FetchBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	security, err := snaps.FetchSecurity(ctx)
	require.NoError(t, err)
	require.Len(t, security, 1)
	assert.True(t, security[0].EDRInstalled)

	tickets, err := snaps.FetchTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.True(t, tickets[0].IsUrgent())

	network, err := snaps.FetchNetwork(ctx)
	require.NoError(t, err)
	require.Len(t, network, 1)
	assert.True(t, network[0].IsOffline())

	checks, err := snaps.FetchChecks(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "Disk C:", checks[0].Check)

	runs := NewSyncRepo(pool)
	run, err := runs.StartRun(ctx, "test")
	require.NoError(t, err)
	run.Status = domain.SyncSuccess
	run.PatchRows = 1
	run.OpsRows = 3
	require.NoError(t, runs.FinishRun(ctx, run))

	last, err := runs.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, domain.SyncSuccess, last.Status)
	assert.Equal(t, 3, last.OpsRows)
	assert.NotNil(t, last.FinishedAt)

	users := NewUserRepo(pool)
	u, err := users.GetUserByUsername(ctx, "nobody-"+run.ID)
	require.NoError(t, err)
	assert.Nil(t, u)

	key := "acme"
	created := &domain.User{
		ID: uuid.NewString(), Email: run.ID + "@acme.test", Username: "viewer-" + run.ID,
		PasswordHash: "x", Role: domain.RoleCustomer, CustomerID: &key,
	}
	require.NoError(t, users.CreateUser(ctx, created))
	assert.False(t, created.CreatedAt.IsZero())
	assert.ErrorIs(t, users.CreateUser(ctx, created), ErrUserExists)

	got, err := users.GetUserByUsername(ctx, created.Username)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, "acme", *got.CustomerID)
}
