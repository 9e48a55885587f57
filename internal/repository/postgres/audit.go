package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, e *model.AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			utc_timestamp, level, action, status,
			auth_platform, auth_ipv4, auth_email, auth_org, auth_id, auth_role,
			target_id, target_role, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	if e.UTCTimestamp.IsZero() {
		e.UTCTimestamp = time.Now().UTC()
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		e.UTCTimestamp, e.Level, e.Action, e.Status,
		e.Platform, e.IPv4, e.Email, e.Org, e.Actor.ID, e.Role,
		e.TargetID, e.TargetRole, e.Message,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", mapError(err))
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("auth_id = $%d", f.ActorID)
	}
	if f.ActorOrg != 0 {
		add("auth_org = $%d", f.ActorOrg)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.From != nil {
		add("utc_timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("utc_timestamp < $%d", *f.To)
	}

	query := `
		SELECT id, utc_timestamp, level, action, status,
			auth_platform, auth_ipv4, auth_email, auth_org, auth_id, auth_role,
			target_id, target_role, message
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	page := f.Pagination.Normalize()
	args = append(args, page.PageSize, page.Offset())
	query += fmt.Sprintf(" ORDER BY utc_timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var entries []*model.AuditEntry
	if err := r.selectAll(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapError(err))
	}
	return entries, nil
}
