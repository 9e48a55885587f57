package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

const (
	uniqueActiveIMEI    = "device_pairing_active_imei_idx"
	uniqueActivePatient = "device_pairing_active_patient_idx"
)

type deviceRepository struct {
	BaseRepository
}

func NewDeviceRepository(base BaseRepository) repository.DeviceRepository {
	return &deviceRepository{base}
}

const pairingCols = `id, patient_internal_id, imei, start_date, end_date, active`

func (r *deviceRepository) LockActive(ctx context.Context, imei string, patientInternalID int64) ([]*model.Pairing, error) {
	query := `
		SELECT ` + pairingCols + `
		FROM device_pairing
		WHERE active = 'Y' AND (imei = $1 OR patient_internal_id = $2)
		FOR UPDATE
	`
	var rows []*model.Pairing
	if err := r.selectAll(ctx, &rows, query, imei, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to lock active pairings: %w", mapError(err))
	}
	return rows, nil
}

func (r *deviceRepository) Create(ctx context.Context, p *model.Pairing) error {
	query := `
		INSERT INTO device_pairing (patient_internal_id, imei, start_date, end_date, active)
		VALUES ($1, $2, $3, NULL, 'Y')
		RETURNING id
	`
	p.Active = true
	p.EndDate = nil

	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query, p.PatientInternalID, p.IMEI, p.StartDate).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err, uniqueActiveIMEI) || isUniqueViolation(err, uniqueActivePatient) {
			return errors.Conflict(errors.ReasonAlreadyPaired, "device or patient already paired", err)
		}
		return fmt.Errorf("failed to create pairing: %w", mapError(err))
	}
	return nil
}

// CloseActive ends the patient's active pairing. It returns nil when there
// is none.
func (r *deviceRepository) CloseActive(ctx context.Context, patientInternalID int64, end time.Time) (*model.Pairing, error) {
	query := `
		UPDATE device_pairing
		SET active = 'N', end_date = $1
		WHERE patient_internal_id = $2 AND active = 'Y'
		RETURNING ` + pairingCols
	var p model.Pairing
	if err := r.get(ctx, &p, query, end, patientInternalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to close pairing: %w", mapError(err))
	}
	return &p, nil
}

func (r *deviceRepository) ActiveByIMEI(ctx context.Context, imei string) (*model.Pairing, error) {
	var p model.Pairing
	query := `SELECT ` + pairingCols + ` FROM device_pairing WHERE imei = $1 AND active = 'Y'`
	if err := r.get(ctx, &p, query, imei); err != nil {
		return nil, notFound("pairing", err)
	}
	return &p, nil
}

func (r *deviceRepository) History(ctx context.Context, patientInternalID int64) ([]*model.Pairing, error) {
	var rows []*model.Pairing
	query := `SELECT ` + pairingCols + ` FROM device_pairing WHERE patient_internal_id = $1 ORDER BY start_date DESC, id DESC`
	if err := r.selectAll(ctx, &rows, query, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to list pairings: %w", mapError(err))
	}
	return rows, nil
}

// CarersToNotify lists alert-receiving carers of the patient paired with imei
// that still share an organization with the patient.
func (r *deviceRepository) CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error) {
	query := `
		SELECT v.internal_id, v.external_id, n.user_type
		FROM device_pairing d
		JOIN patients p ON p.internal_id = d.patient_internal_id
		JOIN network n ON n._patient_id = p.id AND n.alert_receiver = 1 AND n.user_type = 'provider'
		JOIN providers v ON v.internal_id = n.user_internal_id AND v.activated = 1
		WHERE d.imei = $1 AND d.active = 'Y'
		AND EXISTS (
			SELECT 1 FROM patient_org po
			JOIN provider_org vo ON vo.org_id = po.org_id
			WHERE po.patient_internal_id = p.internal_id AND vo.provider_internal_id = v.internal_id
		)
		UNION
		SELECT c.internal_id, c.external_id, n.user_type
		FROM device_pairing d
		JOIN patients p ON p.internal_id = d.patient_internal_id
		JOIN network n ON n._patient_id = p.id AND n.alert_receiver = 1 AND n.user_type = 'caregiver'
		JOIN caregivers c ON c.internal_id = n.user_internal_id AND c.activated = 1
		WHERE d.imei = $1 AND d.active = 'Y'
		AND EXISTS (
			SELECT 1 FROM patient_org po
			JOIN caregiver_org co ON co.org_id = po.org_id
			WHERE po.patient_internal_id = p.internal_id AND co.caregiver_internal_id = c.internal_id
		)
		ORDER BY 1
	`
	var targets []*model.NotifyTarget
	if err := r.selectAll(ctx, &targets, query, imei); err != nil {
		return nil, fmt.Errorf("failed to list carers to notify: %w", mapError(err))
	}
	return targets, nil
}
