package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(base BaseRepository) repository.OrganizationRepository {
	return &organizationRepository{base}
}

const orgCols = `id, name, address, phone_1, phone_1_country_code, phone_2, phone_2_country_code, email, created_at, updated_at`

func (r *organizationRepository) Create(ctx context.Context, org *model.Organization) error {
	query := `
		INSERT INTO organizations (
			name, address, phone_1, phone_1_country_code,
			phone_2, phone_2_country_code, email, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	org.CreatedAt = time.Now().UTC()
	org.UpdatedAt = org.CreatedAt

	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		org.Name, org.Address, org.Phone1, org.Phone1CountryCode,
		org.Phone2, org.Phone2CountryCode, org.Email, org.CreatedAt, org.UpdatedAt,
	).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", mapError(err))
	}
	return nil
}

func (r *organizationRepository) Get(ctx context.Context, id int64) (*model.Organization, error) {
	var org model.Organization
	if err := r.get(ctx, &org, `SELECT `+orgCols+` FROM organizations WHERE id = $1`, id); err != nil {
		return nil, notFound("organization", err)
	}
	return &org, nil
}

func (r *organizationRepository) Update(ctx context.Context, org *model.Organization) error {
	query := `
		UPDATE organizations
		SET name = $1, address = $2, phone_1 = $3, phone_1_country_code = $4,
			phone_2 = $5, phone_2_country_code = $6, email = $7, updated_at = $8
		WHERE id = $9
	`
	org.UpdatedAt = time.Now().UTC()

	n, err := r.exec(ctx, query,
		org.Name, org.Address, org.Phone1, org.Phone1CountryCode,
		org.Phone2, org.Phone2CountryCode, org.Email, org.UpdatedAt, org.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", mapError(err))
	}
	if n == 0 {
		return errors.NotFound("organization", nil)
	}
	return nil
}

func (r *organizationRepository) Delete(ctx context.Context, id int64) error {
	n, err := r.exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", mapError(err))
	}
	if n == 0 {
		return errors.NotFound("organization", nil)
	}
	return nil
}

func (r *organizationRepository) List(ctx context.Context) ([]*model.Organization, error) {
	var orgs []*model.Organization
	if err := r.selectAll(ctx, &orgs, `SELECT `+orgCols+` FROM organizations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", mapError(err))
	}
	return orgs, nil
}

func (r *organizationRepository) CountMembers(ctx context.Context, orgID int64) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM provider_org WHERE org_id = $1) +
			(SELECT COUNT(*) FROM caregiver_org WHERE org_id = $1) +
			(SELECT COUNT(*) FROM patient_org WHERE org_id = $1) +
			(SELECT COUNT(*) FROM customer_admin_org WHERE org_id = $1)
	`
	var n int
	if err := r.get(ctx, &n, query, orgID); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (r *organizationRepository) AddMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error {
	table, col, err := membershipTable(kind)
	if err != nil {
		return errors.BadRequest("invalid user kind", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, org_id) VALUES ($1, $2) ON CONFLICT (%s, org_id) DO NOTHING`, table, col, col)
	if _, err := r.exec(ctx, query, internalID, orgID); err != nil {
		// customer_admin_org is also unique on the admin; a second org is a conflict.
		if isUniqueViolation(err, "") {
			return errors.Conflict(errors.ReasonDuplicateUser, "customer admin already belongs to an organization", err)
		}
		return mapError(err)
	}
	return nil
}

func (r *organizationRepository) RemoveMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error {
	table, col, err := membershipTable(kind)
	if err != nil {
		return errors.BadRequest("invalid user kind", err)
	}
	n, err := r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND org_id = $2`, table, col), internalID, orgID)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return errors.NotFound("membership", nil)
	}
	return nil
}

func (r *organizationRepository) RemoveAllMemberships(ctx context.Context, kind model.UserKind, internalID int64) error {
	table, col, err := membershipTable(kind)
	if err != nil {
		return errors.BadRequest("invalid user kind", err)
	}
	_, err = r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, col), internalID)
	return mapError(err)
}

func (r *organizationRepository) OrgsOf(ctx context.Context, kind model.UserKind, internalID int64) ([]int64, error) {
	table, col, err := membershipTable(kind)
	if err != nil {
		return nil, nil
	}
	var ids []int64
	query := fmt.Sprintf(`SELECT org_id FROM %s WHERE %s = $1 ORDER BY org_id`, table, col)
	if err := r.selectAll(ctx, &ids, query, internalID); err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (r *organizationRepository) IsMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) (bool, error) {
	table, col, err := membershipTable(kind)
	if err != nil {
		return false, nil
	}
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND org_id = $2)`, table, col)
	if err := r.get(ctx, &ok, query, internalID, orgID); err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

func (r *organizationRepository) MembersAmong(ctx context.Context, kind model.UserKind, orgID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	table, col, err := membershipTable(kind)
	if err != nil {
		return nil, errors.BadRequest("invalid user kind", err)
	}
	var members []int64
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE org_id = $1 AND %s = ANY($2) ORDER BY 1`, col, table, col)
	if err := r.selectAll(ctx, &members, query, orgID, pq.Array(ids)); err != nil {
		return nil, mapError(err)
	}
	return members, nil
}
