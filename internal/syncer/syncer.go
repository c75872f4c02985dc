// Package syncer периодически переносит строки вышестоящих систем в снимок Postgres.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/ingest"
)

const TriggerSchedule = "schedule"

var (
	ErrAlreadyRunning = errors.New("sync already running")
	ErrAllSourcesDown = errors.New("all sources unavailable")
)

// Fetcher: источники с отчётом о карантине (upstream.Sources).
type Fetcher interface {
	FetchPatchesReport(ctx context.Context) ([]domain.RawPatchRecord, ingest.Report, error)
	FetchBackupsReport(ctx context.Context) ([]domain.RawBackupRecord, ingest.Report, error)
	FetchSecurityReport(ctx context.Context) ([]domain.RawSecurityRecord, ingest.Report, error)
	FetchTicketsReport(ctx context.Context) ([]domain.RawTicketRecord, ingest.Report, error)
	FetchNetworkReport(ctx context.Context) ([]domain.RawNetworkDeviceRecord, ingest.Report, error)
	FetchChecksReport(ctx context.Context) ([]domain.RawCheckRecord, ingest.Report, error)
}

type SnapshotStore interface {
	ReplaceSnapshot(ctx context.Context, s domain.Snapshot) error
}

type RunStore interface {
	StartRun(ctx context.Context, trigger string) (*domain.SyncRun, error)
	FinishRun(ctx context.Context, run *domain.SyncRun) error
}

// Coordinator: межпроцессная блокировка и сигнал консолям.
type Coordinator interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	PublishRefresh(ctx context.Context, runID string) error
}

type Syncer struct {
	fetcher  Fetcher
	snapshot SnapshotStore
	runs     RunStore
	coord    Coordinator
	metrics  *engine.Metrics
	logger   *zap.Logger

	mu      sync.Mutex // Один прогон за раз внутри процесса
	healthy atomic.Bool
}

func New(fetcher Fetcher, snapshot SnapshotStore, runs RunStore, coord Coordinator, metrics *engine.Metrics, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher:  fetcher,
		snapshot: snapshot,
		runs:     runs,
		coord:    coord,
		metrics:  metrics,
		logger:   logger.Named("syncer"),
	}
}

// Healthy: был ли хотя бы один прогон, сохранивший данные.
func (s *Syncer) Healthy() bool { return s.healthy.Load() }

// Run выполняет один прогон. Пересекающийся вызов получает ErrAlreadyRunning.
func (s *Syncer) Run(ctx context.Context, trigger string) (*domain.SyncRun, error) {
	if !s.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.mu.Unlock()

	ok, err := s.coord.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := s.coord.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("sync lock release failed", zap.Error(err))
		}
	}()

	run, err := s.runs.StartRun(ctx, trigger)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	log := s.logger.With(zap.String("run_id", run.ID), zap.String("trigger", trigger))
	log.Info("sync started")

	snap, failures := s.fetchAll(ctx, run)

	switch {
	case coreDown(failures):
		run.Status = domain.SyncFailed
		err = ErrAllSourcesDown
	default:
		if err = s.snapshot.ReplaceSnapshot(ctx, snap); err != nil {
			run.Status = domain.SyncFailed
		} else if len(failures) > 0 {
			run.Status = domain.SyncPartial
		} else {
			run.Status = domain.SyncSuccess
		}
	}

	var msgs []string
	for src, ferr := range failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", src, ferr))
	}
	if err != nil {
		msgs = append(msgs, err.Error())
	}
	if len(msgs) > 0 {
		joined := strings.Join(msgs, "; ")
		run.Error = &joined
	}

	// Итог пишем даже при отменённом ctx
	if ferr := s.runs.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		log.Error("failed to record sync run", zap.Error(ferr))
	}

	s.metrics.SyncRuns.WithLabelValues(string(run.Status)).Inc()
	s.metrics.SyncDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("sync failed", zap.Error(err))
		return run, err
	}

	s.healthy.Store(true)
	if perr := s.coord.PublishRefresh(ctx, run.ID); perr != nil {
		log.Warn("refresh signal not published", zap.Error(perr))
	}
	log.Info("sync finished",
		zap.String("status", string(run.Status)),
		zap.Int("patch_rows", run.PatchRows),
		zap.Int("backup_rows", run.BackupRows),
		zap.Int("security_rows", run.SecurityRows),
		zap.Int("ops_rows", run.OpsRows),
		zap.Int("quarantined", run.Quarantined),
		zap.Duration("elapsed", time.Since(start)))
	return run, nil
}

// fetchAll тянет источники параллельно. Неудачный источник остаётся nil в снимке.
func (s *Syncer) fetchAll(ctx context.Context, run *domain.SyncRun) (domain.Snapshot, map[domain.Source]error) {
	var (
		snap    domain.Snapshot
		reports [6]ingest.Report
		errs    [6]error
	)
	order := [6]domain.Source{
		domain.SourcePatch, domain.SourceBackup, domain.SourceSecurity,
		domain.SourceTickets, domain.SourceNetwork, domain.SourceChecks,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.Patches, reports[0], errs[0] = s.fetcher.FetchPatchesReport(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Backups, reports[1], errs[1] = s.fetcher.FetchBackupsReport(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Security, reports[2], errs[2] = s.fetcher.FetchSecurityReport(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Tickets, reports[3], errs[3] = s.fetcher.FetchTicketsReport(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Network, reports[4], errs[4] = s.fetcher.FetchNetworkReport(gctx)
		return nil
	})
	g.Go(func() error {
		snap.Checks, reports[5], errs[5] = s.fetcher.FetchChecksReport(gctx)
		return nil
	})
	_ = g.Wait()

	failures := map[domain.Source]error{}
	for i, src := range order {
		if errs[i] != nil {
			failures[src] = errs[i]
			continue
		}
		run.Quarantined += len(reports[i].Quarantined)
	}

	snap.Patches = settle(snap.Patches, errs[0])
	snap.Backups = settle(snap.Backups, errs[1])
	snap.Security = settle(snap.Security, errs[2])
	snap.Tickets = settle(snap.Tickets, errs[3])
	snap.Network = settle(snap.Network, errs[4])
	snap.Checks = settle(snap.Checks, errs[5])

	run.PatchRows = len(snap.Patches)
	run.BackupRows = len(snap.Backups)
	run.SecurityRows = len(snap.Security)
	run.OpsRows = len(snap.Tickets) + len(snap.Network) + len(snap.Checks)
	return snap, failures
}

// settle: nil для упавшего источника (таблица не трогается), иначе непустой слайс.
func settle[T any](recs []T, err error) []T {
	if err != nil {
		return nil
	}
	if recs == nil {
		return []T{}
	}
	return recs
}

// coreDown: недоступны все источники здоровья. Операционные на это не влияют.
func coreDown(failures map[domain.Source]error) bool {
	for _, src := range domain.Sources {
		if _, ok := failures[src]; !ok {
			return false
		}
	}
	return true
}

// Loop запускает прогон сразу, затем по таймеру и по запросам из requests.
// Запросы, пришедшие во время прогона, схлопываются ListenRequests в один
// следующий прогон; Loop сам ничего не копит.
func (s *Syncer) Loop(ctx context.Context, interval time.Duration, requests <-chan string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runLogged(ctx, TriggerSchedule)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx, TriggerSchedule)
		case by, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			s.runLogged(ctx, "manual:"+by)
		}
	}
}

func (s *Syncer) runLogged(ctx context.Context, trigger string) {
	if _, err := s.Run(ctx, trigger); errors.Is(err, ErrAlreadyRunning) {
		s.logger.Info("sync skipped: another run in progress", zap.String("trigger", trigger))
	}
}
