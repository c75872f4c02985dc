package postgres

/*
Снимок сырых строк источников. Синхронизатор пишет его целиком,
консоль читает и считает здоровье клиентов на лету.
*/

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
)

const (
	tablePatches  = "patch_overview"
	tableBackups  = "backups_overview"
	tableSecurity = "security_agents"
	tableTickets  = "helpdesk_tickets"
	tableNetwork  = "network_devices"
	tableChecks   = "failing_checks"
)

type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

func (r *SnapshotRepo) FetchPatches(ctx context.Context) ([]domain.RawPatchRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT client, device, status FROM patch_overview`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query patches: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawPatchRecord, error) {
		var rec domain.RawPatchRecord
		var status string
		if err := row.Scan(&rec.Client, &rec.Device, &status); err != nil {
			return rec, err
		}
		rec.Status = domain.ParsePatchStatus(status)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan patches: %w", err)
	}
	return recs, nil
}

func (r *SnapshotRepo) FetchBackups(ctx context.Context) ([]domain.RawBackupRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT partner_name, device_name, total_status, errors FROM backups_overview`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query backups: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawBackupRecord, error) {
		var rec domain.RawBackupRecord
		err := row.Scan(&rec.PartnerName, &rec.DeviceName, &rec.TotalStatus, &rec.Errors)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan backups: %w", err)
	}
	return recs, nil
}

func (r *SnapshotRepo) FetchSecurity(ctx context.Context) ([]domain.RawSecurityRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT site, device_id, antivirus_installed, edr_installed, incident_status, threat_count
		FROM security_agents`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query security: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawSecurityRecord, error) {
		var rec domain.RawSecurityRecord
		err := row.Scan(&rec.Site, &rec.DeviceID, &rec.AntivirusInstalled, &rec.EDRInstalled,
			&rec.IncidentStatus, &rec.ThreatCount)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan security: %w", err)
	}
	return recs, nil
}

func (r *SnapshotRepo) FetchTickets(ctx context.Context) ([]domain.RawTicketRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT customer, branch, subject, priority, status FROM helpdesk_tickets`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query tickets: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawTicketRecord, error) {
		var rec domain.RawTicketRecord
		err := row.Scan(&rec.Customer, &rec.Branch, &rec.Subject, &rec.Priority, &rec.Status)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tickets: %w", err)
	}
	return recs, nil
}

func (r *SnapshotRepo) FetchNetwork(ctx context.Context) ([]domain.RawNetworkDeviceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT customer, name, type, status FROM network_devices`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query network devices: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawNetworkDeviceRecord, error) {
		var rec domain.RawNetworkDeviceRecord
		err := row.Scan(&rec.Customer, &rec.Name, &rec.Type, &rec.Status)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan network devices: %w", err)
	}
	return recs, nil
}

func (r *SnapshotRepo) FetchChecks(ctx context.Context) ([]domain.RawCheckRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT client, device, check_name FROM failing_checks`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query failing checks: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawCheckRecord, error) {
		var rec domain.RawCheckRecord
		err := row.Scan(&rec.Client, &rec.Device, &rec.Check)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan failing checks: %w", err)
	}
	return recs, nil
}

// ReplaceSnapshot атомарно заменяет содержимое таблиц источников.
// Источник с nil-слайсом не трогается: последний удачный снимок остаётся.
func (r *SnapshotRepo) ReplaceSnapshot(ctx context.Context, s domain.Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op после Commit

	if s.Patches != nil {
		err := replaceTable(ctx, tx, tablePatches, []string{"client", "device", "status"},
			pgx.CopyFromSlice(len(s.Patches), func(i int) ([]any, error) {
				p := s.Patches[i]
				return []any{p.Client, p.Device, string(p.Status)}, nil
			}))
		if err != nil {
			return err
		}
	}

	if s.Backups != nil {
		err := replaceTable(ctx, tx, tableBackups, []string{"partner_name", "device_name", "total_status", "errors"},
			pgx.CopyFromSlice(len(s.Backups), func(i int) ([]any, error) {
				b := s.Backups[i]
				return []any{b.PartnerName, b.DeviceName, b.TotalStatus, b.Errors}, nil
			}))
		if err != nil {
			return err
		}
	}

	if s.Security != nil {
		err := replaceTable(ctx, tx, tableSecurity,
			[]string{"site", "device_id", "antivirus_installed", "edr_installed", "incident_status", "threat_count"},
			pgx.CopyFromSlice(len(s.Security), func(i int) ([]any, error) {
				x := s.Security[i]
				return []any{x.Site, x.DeviceID, x.AntivirusInstalled, x.EDRInstalled, x.IncidentStatus, x.ThreatCount}, nil
			}))
		if err != nil {
			return err
		}
	}

	if s.Tickets != nil {
		err := replaceTable(ctx, tx, tableTickets, []string{"customer", "branch", "subject", "priority", "status"},
			pgx.CopyFromSlice(len(s.Tickets), func(i int) ([]any, error) {
				t := s.Tickets[i]
				return []any{t.Customer, t.Branch, t.Subject, t.Priority, t.Status}, nil
			}))
		if err != nil {
			return err
		}
	}

	if s.Network != nil {
		err := replaceTable(ctx, tx, tableNetwork, []string{"customer", "name", "type", "status"},
			pgx.CopyFromSlice(len(s.Network), func(i int) ([]any, error) {
				d := s.Network[i]
				return []any{d.Customer, d.Name, d.Type, d.Status}, nil
			}))
		if err != nil {
			return err
		}
	}

	if s.Checks != nil {
		err := replaceTable(ctx, tx, tableChecks, []string{"client", "device", "check_name"},
			pgx.CopyFromSlice(len(s.Checks), func(i int) ([]any, error) {
				c := s.Checks[i]
				return []any{c.Client, c.Device, c.Check}, nil
			}))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot: %w", err)
	}
	return nil
}

func replaceTable(ctx context.Context, tx pgx.Tx, table string, columns []string, src pgx.CopyFromSource) error {
	if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", table, err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, src); err != nil {
		return fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return nil
}
