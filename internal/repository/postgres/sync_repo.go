package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

var ErrRunNotFound = errors.New("sync run not found")

const syncRunColumns = `id, trigger, status, patch_rows, backup_rows, security_rows, ops_rows, quarantined_rows, error, started_at, finished_at`

type SyncRepo struct {
	pool *pgxpool.Pool
}

func NewSyncRepo(pool *pgxpool.Pool) *SyncRepo {
	return &SyncRepo{pool: pool}
}

// StartRun фиксирует начало прогона со статусом RUNNING.
func (r *SyncRepo) StartRun(ctx context.Context, trigger string) (*domain.SyncRun, error) {
	run := &domain.SyncRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    domain.SyncRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, trigger, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Trigger, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: start sync run: %w", err)
	}
	return run, nil
}

// FinishRun записывает итог прогона.
func (r *SyncRepo) FinishRun(ctx context.Context, run *domain.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, patch_rows = $3, backup_rows = $4, security_rows = $5,
		    ops_rows = $6, quarantined_rows = $7, error = $8, finished_at = $9
		WHERE id = $1`,
		run.ID, run.Status, run.PatchRows, run.BackupRows, run.SecurityRows,
		run.OpsRows, run.Quarantined, run.Error, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: finish sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// LastRun возвращает последний прогон или nil, если прогонов ещё не было.
func (r *SyncRepo) LastRun(ctx context.Context) (*domain.SyncRun, error) {
	runs, err := r.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func (r *SyncRepo) ListRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sync runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.SyncRun, error) {
		run := &domain.SyncRun{}
		err := row.Scan(&run.ID, &run.Trigger, &run.Status, &run.PatchRows, &run.BackupRows,
			&run.SecurityRows, &run.OpsRows, &run.Quarantined, &run.Error, &run.StartedAt, &run.FinishedAt)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sync runs: %w", err)
	}
	return runs, nil
}
