package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/repository/postgres"
	"github.com/xela07ax/msp-compliance-console/internal/syncer"
	"github.com/xela07ax/msp-compliance-console/internal/upstream"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upstream synchronisation",
}

var syncOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync in the foreground and print the result",
	Args:  cobra.NoArgs,
	RunE:  runSyncOnce,
}

func init() {
	syncCmd.AddCommand(syncOnceCmd)
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}

	ctx := cmd.Context()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	metrics := engine.NewMetrics(nil)
	sources, err := upstream.NewSources(cfg.Upstream, metrics, logger)
	if err != nil {
		return err
	}
	s := syncer.New(sources, postgres.NewSnapshotRepo(pool), postgres.NewSyncRepo(pool),
		syncer.NewRedisCoordinator(rdb, cfg.Sync.LockTTL), metrics, logger)

	who := os.Getenv("USER")
	if who == "" {
		who = "cli"
	}
	run, err := s.Run(ctx, "cli:"+who)
	if run != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (patch=%d backup=%d security=%d ops=%d quarantined=%d)\n",
			run.ID, run.Status, run.PatchRows, run.BackupRows, run.SecurityRows, run.OpsRows, run.Quarantined)
	}
	return err
}
