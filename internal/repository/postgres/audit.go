package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	query := `
        INSERT INTO audit_events (
            id, actor_id, actor_role, target_id, event_type, detail, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			event.ID,
			event.ActorID,
			event.ActorRole,
			event.TargetID,
			event.EventType,
			event.Detail,
			event.CreatedAt,
		)
		return err
	})
}

func buildAuditWhere(filters *model.AuditFilters) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}

	if filters.TargetID != nil {
		args = append(args, *filters.TargetID)
		where += fmt.Sprintf(" AND target_id = $%d", len(args))
	}
	if filters.ActorID != nil {
		args = append(args, *filters.ActorID)
		where += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if filters.ActorRole != "" {
		args = append(args, filters.ActorRole)
		where += fmt.Sprintf(" AND actor_role = $%d", len(args))
	}
	if filters.EventType != "" {
		args = append(args, filters.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filters.Start != nil {
		args = append(args, *filters.Start)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filters.End != nil {
		args = append(args, *filters.End)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	return where, args
}

func (r *auditRepository) ListWithPagination(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	where, args := buildAuditWhere(filters)

	countQuery := "SELECT COUNT(*) FROM audit_events " + where
	var total int64
	if err := r.GetDB().GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	args = append(args, filters.PageSize, filters.Offset())
	query := "SELECT * FROM audit_events " + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var events []*model.AuditEvent
	if err := r.GetDB().SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit events: %w", err)
	}

	return events, total, nil
}

func (r *auditRepository) Stats(ctx context.Context, filters *model.AuditFilters) (*model.AuditStats, error) {
	where, args := buildAuditWhere(filters)

	stats := &model.AuditStats{
		ByType: make(map[model.AuditEventType]int64),
		ByRole: make(map[model.Role]int64),
		ByHour: make(map[int]int64),
	}

	countQuery := "SELECT COUNT(*) FROM audit_events " + where
	if err := r.GetDB().GetContext(ctx, &stats.Total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	typeQuery := "SELECT event_type, COUNT(*) FROM audit_events " + where + " GROUP BY event_type"
	rows, err := r.GetDB().QueryContext(ctx, typeQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get type counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType model.AuditEventType
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.ByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleQuery := "SELECT actor_role, COUNT(*) FROM audit_events " + where + " GROUP BY actor_role"
	rows, err = r.GetDB().QueryContext(ctx, roleQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role model.Role
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return nil, err
		}
		stats.ByRole[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hourQuery := "SELECT EXTRACT(HOUR FROM created_at)::int, COUNT(*) FROM audit_events " + where + " GROUP BY 1"
	rows, err = r.GetDB().QueryContext(ctx, hourQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		stats.ByHour[hour] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM audit_events WHERE created_at < $1`

	result, err := r.GetDB().ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}
