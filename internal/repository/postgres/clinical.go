package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
)

type clinicalRepository struct {
	BaseRepository
}

func NewClinicalRepository(base BaseRepository) repository.ClinicalRepository {
	return &clinicalRepository{base}
}

func (r *clinicalRepository) LabData(ctx context.Context, patientInternalID int64) ([]*model.LabResult, error) {
	query := `
		SELECT id, patient_internal_id, test_name, value, unit, collected_at
		FROM lab_data
		WHERE patient_internal_id = $1
		ORDER BY collected_at DESC
	`
	var rows []*model.LabResult
	if err := r.selectAll(ctx, &rows, query, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to list lab data: %w", mapError(err))
	}
	return rows, nil
}

func (r *clinicalRepository) Symptoms(ctx context.Context, patientInternalID int64) ([]*model.SymptomSurvey, error) {
	query := `
		SELECT id, patient_internal_id, survey, answers, severity, reported_at
		FROM symptoms
		WHERE patient_internal_id = $1
		ORDER BY reported_at DESC
	`
	var rows []*model.SymptomSurvey
	if err := r.selectAll(ctx, &rows, query, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to list symptoms: %w", mapError(err))
	}
	return rows, nil
}

func (r *clinicalRepository) AddDiagnoses(ctx context.Context, diagnoses []*model.Diagnosis) error {
	query := `
		INSERT INTO diagnosis (patient_internal_id, icd10_code, description, provider_internal_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_internal_id, icd10_code) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`
	return r.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, d := range diagnoses {
			d.CreatedAt = now
			err := r.conn(ctx).QueryRowxContext(ctx, query,
				d.PatientInternalID, d.ICD10Code, d.Description, d.ProviderInternalID, d.CreatedAt,
			).Scan(&d.ID)
			if err != nil {
				return fmt.Errorf("failed to add diagnosis: %w", mapError(err))
			}
		}
		return nil
	})
}

func (r *clinicalRepository) Diagnoses(ctx context.Context, patientInternalID int64) ([]*model.Diagnosis, error) {
	query := `
		SELECT id, patient_internal_id, icd10_code, description, provider_internal_id, created_at
		FROM diagnosis
		WHERE patient_internal_id = $1
		ORDER BY created_at DESC
	`
	var rows []*model.Diagnosis
	if err := r.selectAll(ctx, &rows, query, patientInternalID); err != nil {
		return nil, fmt.Errorf("failed to list diagnoses: %w", mapError(err))
	}
	return rows, nil
}

// BillingLog lists approved charges of an organization.
func (r *clinicalRepository) BillingLog(ctx context.Context, f model.BillingFilter) ([]*model.BillingEntry, error) {
	where := []string{"status = 'APPROVED'", "org_id = $1"}
	args := []interface{}{f.OrgID}
	if f.PatientIDs != nil {
		args = append(args, pq.Array(f.PatientIDs))
		where = append(where, fmt.Sprintf("patient_internal_id = ANY($%d)", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("service_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("service_date < $%d", len(args)))
	}
	query := `
		SELECT id, patient_internal_id, provider_internal_id, org_id, cpt_code, units, status, service_date
		FROM billing
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY service_date DESC, id DESC
	`
	var rows []*model.BillingEntry
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list billing log: %w", mapError(err))
	}
	return rows, nil
}
