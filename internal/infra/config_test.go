package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/msp")
	t.Setenv("DASHBOARD_CACHE_TTL", "90s")
	t.Setenv("UPSTREAM_VIEWS_PATCH", "patch_v2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost/msp", cfg.Database.URL)
	assert.Equal(t, 90*time.Second, cfg.Dashboard.CacheTTL)
	assert.Equal(t, "patch_v2", cfg.Upstream.Views.Patch)
	assert.Equal(t, "backups_overview", cfg.Upstream.Views.Backup)
	assert.Equal(t, "tickets_overview", cfg.Upstream.Views.Tickets)
	assert.Equal(t, 30*time.Second, cfg.Upstream.MaxRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Dashboard.BuildTimeout)
	assert.Equal(t, 7, cfg.Share.DefaultDays)
	assert.Equal(t, 365, cfg.Share.MaxDays)
	assert.Equal(t, DashboardSourcePostgres, cfg.Dashboard.Source)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database:  DatabaseConfig{URL: "postgres://x"},
			Share:     ShareConfig{DefaultDays: 7, MaxDays: 365},
			Dashboard: DashboardConfig{Source: DashboardSourcePostgres, CacheTTL: time.Minute},
			Sync:      SyncConfig{Interval: time.Minute},
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.Dashboard.Source = DashboardSourceREST
	assert.ErrorContains(t, c.Validate(), "upstream.base_url")

	c = base()
	c.Dashboard.Source = "ftp"
	assert.ErrorContains(t, c.Validate(), "dashboard.source")

	c = base()
	c.Dashboard.BuildTimeout = -time.Second
	c.Upstream.MaxRetryDelay = -time.Second
	err := c.Validate()
	assert.ErrorContains(t, err, "dashboard.build_timeout")
	assert.ErrorContains(t, err, "upstream.max_retry_delay")

	c = base()
	c.Share.DefaultDays = 400
	assert.ErrorContains(t, c.Validate(), "share.default_days")

	c = base()
	c.Sync.Interval = 0
	c.Database.URL = ""
	err = c.Validate()
	assert.ErrorContains(t, err, "sync.interval")
	assert.ErrorContains(t, err, "database.url")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Format: "xml"})
	assert.Error(t, err)
}
