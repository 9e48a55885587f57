package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

const userCols = `internal_id, external_id, username, activated, created_at`

func (r *userRepository) NextInternalID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.get(ctx, &id, `SELECT nextval('user_internal_id_seq')`); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (r *userRepository) GetUser(ctx context.Context, kind model.UserKind, internalID int64) (*model.UserRecord, error) {
	table, err := kindTable(kind)
	if err != nil {
		return nil, errors.BadRequest("invalid user kind", err)
	}
	var u model.UserRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE internal_id = $1`, userCols, table)
	if err := r.get(ctx, &u.User, query, internalID); err != nil {
		return nil, notFound(kind.String(), err)
	}
	u.Kind = kind
	return &u, nil
}

func (r *userRepository) GetUserByExternalID(ctx context.Context, kind model.UserKind, externalID string) (*model.UserRecord, error) {
	table, err := kindTable(kind)
	if err != nil {
		return nil, errors.BadRequest("invalid user kind", err)
	}
	var u model.UserRecord
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = $1`, userCols, table)
	if err := r.get(ctx, &u.User, query, externalID); err != nil {
		return nil, notFound(kind.String(), err)
	}
	u.Kind = kind
	return &u, nil
}

func (r *userRepository) GetProvider(ctx context.Context, internalID int64) (*model.Provider, error) {
	query := `
		SELECT ` + userCols + `, role, specialty, degree, grp,
			remote_monitoring, billing_permission, alert_receiver
		FROM providers
		WHERE internal_id = $1
	`
	var p model.Provider
	if err := r.get(ctx, &p, query, internalID); err != nil {
		return nil, notFound("provider", err)
	}
	return &p, nil
}

func (r *userRepository) GetCaregiver(ctx context.Context, internalID int64) (*model.Caregiver, error) {
	query := `SELECT ` + userCols + `, remote_monitoring FROM caregivers WHERE internal_id = $1`
	var c model.Caregiver
	if err := r.get(ctx, &c, query, internalID); err != nil {
		return nil, notFound("caregiver", err)
	}
	return &c, nil
}

const patientCols = `id, ` + userCols + `, remote_monitoring, hash_dob, hash_ssn, hash_fname, hash_lname`

func (r *userRepository) GetPatient(ctx context.Context, internalID int64) (*model.Patient, error) {
	query := `SELECT ` + patientCols + ` FROM patients WHERE internal_id = $1`
	var p model.Patient
	if err := r.get(ctx, &p, query, internalID); err != nil {
		return nil, notFound("patient", err)
	}
	return &p, nil
}

func (r *userRepository) CreateProvider(ctx context.Context, p *model.Provider) error {
	query := `
		INSERT INTO providers (
			internal_id, external_id, username, activated, role, specialty,
			degree, grp, remote_monitoring, billing_permission, alert_receiver, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	p.CreatedAt = time.Now().UTC()
	_, err := r.exec(ctx, query,
		p.InternalID, p.ExternalID, p.Username, p.Activated, p.Role, p.Specialty,
		p.Degree, p.Group, p.RemoteMonitoring, p.BillingPermission, p.AlertReceiver, p.CreatedAt,
	)
	return duplicateUser(err)
}

func (r *userRepository) CreateCaregiver(ctx context.Context, c *model.Caregiver) error {
	query := `
		INSERT INTO caregivers (internal_id, external_id, username, activated, remote_monitoring, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	c.CreatedAt = time.Now().UTC()
	_, err := r.exec(ctx, query, c.InternalID, c.ExternalID, c.Username, c.Activated, c.RemoteMonitoring, c.CreatedAt)
	return duplicateUser(err)
}

func (r *userRepository) CreatePatient(ctx context.Context, p *model.Patient) error {
	query := `
		INSERT INTO patients (
			internal_id, external_id, username, activated, remote_monitoring,
			hash_dob, hash_ssn, hash_fname, hash_lname, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	p.CreatedAt = time.Now().UTC()
	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		p.InternalID, p.ExternalID, p.Username, p.Activated, p.RemoteMonitoring,
		p.HashDOB, p.HashSSN, p.HashFName, p.HashLName, p.CreatedAt,
	).Scan(&p.ID)
	return duplicateUser(err)
}

func (r *userRepository) CreateCustomerAdmin(ctx context.Context, a *model.CustomerAdmin) error {
	query := `
		INSERT INTO customer_admins (internal_id, external_id, username, activated, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	a.CreatedAt = time.Now().UTC()
	_, err := r.exec(ctx, query, a.InternalID, a.ExternalID, a.Username, a.Activated, a.CreatedAt)
	return duplicateUser(err)
}

func (r *userRepository) FindPatientByIdentity(ctx context.Context, orgID int64, hashDOB, hashFName, hashLName string) (*model.Patient, error) {
	query := `
		SELECT p.id, p.internal_id, p.external_id, p.username, p.activated, p.created_at,
			p.remote_monitoring, p.hash_dob, p.hash_ssn, p.hash_fname, p.hash_lname
		FROM patients p
		JOIN patient_org po ON po.patient_internal_id = p.internal_id
		WHERE po.org_id = $1 AND p.hash_dob = $2 AND p.hash_fname = $3 AND p.hash_lname = $4
		LIMIT 1
	`
	var p model.Patient
	if err := r.get(ctx, &p, query, orgID, hashDOB, hashFName, hashLName); err != nil {
		return nil, notFound("patient", err)
	}
	return &p, nil
}

func (r *userRepository) UpdatePatientIdentity(ctx context.Context, p *model.Patient) error {
	query := `
		UPDATE patients
		SET hash_dob = $1, hash_ssn = $2, hash_fname = $3, hash_lname = $4
		WHERE internal_id = $5
	`
	n, err := r.exec(ctx, query, p.HashDOB, p.HashSSN, p.HashFName, p.HashLName, p.InternalID)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return errors.NotFound("patient", nil)
	}
	return nil
}

func (r *userRepository) SetActivated(ctx context.Context, kind model.UserKind, internalID int64, activated bool) error {
	table, err := kindTable(kind)
	if err != nil {
		return errors.BadRequest("invalid user kind", err)
	}
	n, err := r.exec(ctx, fmt.Sprintf(`UPDATE %s SET activated = $1 WHERE internal_id = $2`, table),
		model.Bit(activated), internalID)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return errors.NotFound(kind.String(), nil)
	}
	return nil
}

func (r *userRepository) SetProviderAlertReceiver(ctx context.Context, internalID int64, status bool) error {
	n, err := r.exec(ctx, `UPDATE providers SET alert_receiver = $1 WHERE internal_id = $2`,
		model.Bit(status), internalID)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return errors.NotFound("provider", nil)
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, kind model.UserKind, internalID int64) error {
	table, err := kindTable(kind)
	if err != nil {
		return errors.BadRequest("invalid user kind", err)
	}
	n, err := r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE internal_id = $1`, table), internalID)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return errors.NotFound(kind.String(), nil)
	}
	return nil
}

func duplicateUser(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err, "") {
		return errors.Conflict(errors.ReasonDuplicateUser, "user already exists", err)
	}
	return mapError(err)
}
