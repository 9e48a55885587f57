package postgres

import (
	"context"
	"fmt"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type callRepository struct {
	BaseRepository
}

func NewCallRepository(base BaseRepository) repository.CallRepository {
	return &callRepository{base}
}

const callCols = `id, meeting_id, patient_internal_id, provider_internal_id, org_id,
	start_timestamp, end_timestamp, duration, status, type, notes`

func (r *callRepository) Create(ctx context.Context, c *model.CallRecord) error {
	query := `
		INSERT INTO call_logs (
			meeting_id, patient_internal_id, provider_internal_id, org_id,
			start_timestamp, end_timestamp, duration, status, type, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		c.MeetingID, c.PatientInternalID, c.ProviderInternalID, c.OrgID,
		c.StartTimestamp, c.EndTimestamp, c.Duration, c.Status, c.Type, c.Notes,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create call record: %w", mapError(err))
	}
	return nil
}

func (r *callRepository) Get(ctx context.Context, id int64) (*model.CallRecord, error) {
	var c model.CallRecord
	if err := r.get(ctx, &c, `SELECT `+callCols+` FROM call_logs WHERE id = $1`, id); err != nil {
		return nil, notFound("call record", err)
	}
	return &c, nil
}

func (r *callRepository) Update(ctx context.Context, c *model.CallRecord) error {
	query := `
		UPDATE call_logs
		SET end_timestamp = $1, duration = $2, status = $3, notes = $4
		WHERE id = $5
	`
	n, err := r.exec(ctx, query, c.EndTimestamp, c.Duration, c.Status, c.Notes, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", mapError(err))
	}
	if n == 0 {
		return errors.NotFound("call record", nil)
	}
	return nil
}

func (r *callRepository) ListByPatient(ctx context.Context, patientInternalID int64) ([]*model.CallRecord, error) {
	query := `
		SELECT ` + callCols + `
		FROM call_logs
		WHERE patient_internal_id = $1 AND status <> 'DELETED'
		ORDER BY start_timestamp DESC
	`
	var calls []*model.CallRecord
	if err := r.selectAll(ctx, &calls, query, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", mapError(err))
	}
	return calls, nil
}
