package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Количество колонок в таблице access_log
const accessLogFields = 9

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AccessEvent) error {
	if len(events) == 0 {
		return nil
	}

	query, vals, err := buildAccessLogInsert(events)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write access log: %w", err)
	}
	return nil
}

// buildAccessLogInsert строит один INSERT ... VALUES (...),(...) на всю пачку.
func buildAccessLogInsert(events []audit.AccessEvent) (string, []any, error) {
	var sb strings.Builder
	vals := make([]any, 0, len(events)*accessLogFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for j := 1; j <= accessLogFields; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*accessLogFields+j)
		}
		sb.WriteString(")")

		var details []byte
		if len(e.Details) > 0 {
			var err error
			if details, err = json.Marshal(e.Details); err != nil {
				return "", nil, fmt.Errorf("postgres: marshal audit details: %w", err)
			}
		}

		vals = append(vals,
			e.ID, e.TraceID, e.Actor, e.Role, string(e.Action),
			e.CustomerID, e.RemoteAddr, details, e.Timestamp,
		)
	}

	query := "INSERT INTO access_log (id, trace_id, actor, role, action, customer_id, remote_addr, details, timestamp) VALUES " + sb.String()
	return query, vals, nil
}
