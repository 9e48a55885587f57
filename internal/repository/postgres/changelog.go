package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
)

type changeLogRepository struct {
	BaseRepository
}

func NewChangeLogRepository(base BaseRepository) repository.ChangeLogRepository {
	return &changeLogRepository{base}
}

// Append takes a transaction-scoped advisory lock on the external id so
// concurrent profile edits get contiguous versions.
func (r *changeLogRepository) Append(ctx context.Context, e *model.ChangeLogEntry) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.ExternalID); err != nil {
			return fmt.Errorf("failed to lock change log: %w", mapError(err))
		}

		var current int
		if err := r.get(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM change_log WHERE external_id = $1`, e.ExternalID); err != nil {
			return fmt.Errorf("failed to read change log version: %w", mapError(err))
		}

		e.Version = current + 1
		if e.UTCTimestamp.IsZero() {
			e.UTCTimestamp = time.Now().UTC()
		}
		query := `
			INSERT INTO change_log (
				utc_timestamp, auth_platform, auth_ipv4, auth_email, auth_org, auth_id, auth_role,
				target_id, target_role, external_id, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`
		err := r.conn(ctx).QueryRowxContext(ctx, query,
			e.UTCTimestamp, e.Platform, e.IPv4, e.Email, e.Org, e.Actor.ID, e.Role,
			e.TargetID, e.TargetRole, e.ExternalID, e.Version,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to append change log: %w", mapError(err))
		}
		return nil
	})
}

func (r *changeLogRepository) List(ctx context.Context, externalID string) ([]*model.ChangeLogEntry, error) {
	query := `
		SELECT id, utc_timestamp, auth_platform, auth_ipv4, auth_email, auth_org, auth_id, auth_role,
			target_id, target_role, external_id, version
		FROM change_log
		WHERE external_id = $1
		ORDER BY version
	`
	var entries []*model.ChangeLogEntry
	if err := r.selectAll(ctx, &entries, query, externalID); err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", mapError(err))
	}
	return entries, nil
}
