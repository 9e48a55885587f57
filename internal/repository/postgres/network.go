package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type networkRepository struct {
	BaseRepository
}

func NewNetworkRepository(base BaseRepository) repository.NetworkRepository {
	return &networkRepository{base}
}

const edgeSelect = `
	SELECT n.id, n._patient_id, p.internal_id AS patient_internal_id,
		n.user_internal_id, n.user_type, n.alert_receiver
	FROM network n
	JOIN patients p ON p.id = n._patient_id
`

// EdgesOfPatient lists the patient's edges to carers sharing orgID with the
// patient. orgID 0 lists every edge.
func (r *networkRepository) EdgesOfPatient(ctx context.Context, patientInternalID, orgID int64) ([]*model.Edge, error) {
	query := edgeSelect + `
		WHERE p.internal_id = $1
		AND ($2::bigint = 0 OR (
			EXISTS (SELECT 1 FROM patient_org po WHERE po.patient_internal_id = p.internal_id AND po.org_id = $2)
			AND (
				EXISTS (SELECT 1 FROM provider_org vo
					WHERE n.user_type = 'provider' AND vo.provider_internal_id = n.user_internal_id AND vo.org_id = $2)
				OR EXISTS (SELECT 1 FROM caregiver_org co
					WHERE n.user_type = 'caregiver' AND co.caregiver_internal_id = n.user_internal_id AND co.org_id = $2)
			)
		))
		ORDER BY n.user_internal_id
	`
	var edges []*model.Edge
	if err := r.selectAll(ctx, &edges, query, patientInternalID, orgID); err != nil {
		return nil, fmt.Errorf("failed to list patient edges: %w", mapError(err))
	}
	return edges, nil
}

func (r *networkRepository) EdgesOfCarer(ctx context.Context, carerInternalID int64) ([]*model.Edge, error) {
	query := edgeSelect + ` WHERE n.user_internal_id = $1 ORDER BY p.internal_id`
	var edges []*model.Edge
	if err := r.selectAll(ctx, &edges, query, carerInternalID); err != nil {
		return nil, fmt.Errorf("failed to list carer edges: %w", mapError(err))
	}
	return edges, nil
}

func (r *networkRepository) EdgesOfCarerInOrg(ctx context.Context, carerInternalID, orgID int64) ([]*model.Edge, error) {
	query := edgeSelect + `
		WHERE n.user_internal_id = $1
		AND EXISTS (SELECT 1 FROM patient_org po WHERE po.patient_internal_id = p.internal_id AND po.org_id = $2)
		ORDER BY p.internal_id
		FOR UPDATE OF n
	`
	var edges []*model.Edge
	if err := r.selectAll(ctx, &edges, query, carerInternalID, orgID); err != nil {
		return nil, fmt.Errorf("failed to lock carer edges: %w", mapError(err))
	}
	return edges, nil
}

func (r *networkRepository) HasEdge(ctx context.Context, patientInternalID, carerInternalID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM network n
			JOIN patients p ON p.id = n._patient_id
			WHERE p.internal_id = $1 AND n.user_internal_id = $2
		)
	`
	var ok bool
	if err := r.get(ctx, &ok, query, patientInternalID, carerInternalID); err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

func (r *networkRepository) CoPatients(ctx context.Context, a, b int64) ([]int64, error) {
	query := `
		SELECT p.internal_id
		FROM network na
		JOIN network nb ON nb._patient_id = na._patient_id
		JOIN patients p ON p.id = na._patient_id
		WHERE na.user_internal_id = $1 AND nb.user_internal_id = $2
		ORDER BY p.internal_id
	`
	var ids []int64
	if err := r.selectAll(ctx, &ids, query, a, b); err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

// InsertEdges adds edges with alert_receiver=0. Edges that already exist are
// left as they are.
func (r *networkRepository) InsertEdges(ctx context.Context, carerInternalID int64, carerKind model.UserKind, patientInternalIDs []int64) (int64, error) {
	if len(patientInternalIDs) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO network (_patient_id, user_internal_id, user_type, alert_receiver)
		SELECT p.id, $1, $2, 0
		FROM patients p
		WHERE p.internal_id = ANY($3)
		ON CONFLICT (_patient_id, user_internal_id) DO NOTHING
	`
	n, err := r.exec(ctx, query, carerInternalID, carerKind, pq.Array(patientInternalIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to insert edges: %w", mapError(err))
	}
	return n, nil
}

func (r *networkRepository) DeleteEdges(ctx context.Context, carerInternalID int64, patientInternalIDs []int64) (int64, error) {
	if len(patientInternalIDs) == 0 {
		return 0, nil
	}
	query := `
		DELETE FROM network n
		USING patients p
		WHERE p.id = n._patient_id
		AND n.user_internal_id = $1
		AND p.internal_id = ANY($2)
	`
	n, err := r.exec(ctx, query, carerInternalID, pq.Array(patientInternalIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete edges: %w", mapError(err))
	}
	return n, nil
}

func (r *networkRepository) DeleteEdgesOfUser(ctx context.Context, kind model.UserKind, internalID int64) (int64, error) {
	var query string
	switch {
	case kind == model.KindPatient:
		query = `DELETE FROM network WHERE _patient_id = (SELECT id FROM patients WHERE internal_id = $1)`
	case kind.IsCarer():
		query = `DELETE FROM network WHERE user_internal_id = $1`
	default:
		return 0, nil
	}
	n, err := r.exec(ctx, query, internalID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user edges: %w", mapError(err))
	}
	return n, nil
}

// DeleteOrphanedEdges removes the user's edges whose two ends no longer
// share an organization.
func (r *networkRepository) DeleteOrphanedEdges(ctx context.Context, kind model.UserKind, internalID int64) (int64, error) {
	var query string
	switch {
	case kind == model.KindPatient:
		query = `
			DELETE FROM network n
			USING patients p
			WHERE p.id = n._patient_id
			AND p.internal_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM patient_org po
				WHERE po.patient_internal_id = p.internal_id
				AND (
					EXISTS (SELECT 1 FROM provider_org vo
						WHERE n.user_type = 'provider' AND vo.provider_internal_id = n.user_internal_id AND vo.org_id = po.org_id)
					OR EXISTS (SELECT 1 FROM caregiver_org co
						WHERE n.user_type = 'caregiver' AND co.caregiver_internal_id = n.user_internal_id AND co.org_id = po.org_id)
				)
			)
		`
	case kind.IsCarer():
		table, col, err := membershipTable(kind)
		if err != nil {
			return 0, errors.BadRequest("invalid user kind", err)
		}
		query = fmt.Sprintf(`
			DELETE FROM network n
			USING patients p
			WHERE p.id = n._patient_id
			AND n.user_internal_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM patient_org po
				JOIN %s co ON co.org_id = po.org_id
				WHERE po.patient_internal_id = p.internal_id AND co.%s = $1
			)
		`, table, col)
	default:
		return 0, nil
	}
	n, err := r.exec(ctx, query, internalID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned edges: %w", mapError(err))
	}
	return n, nil
}

func (r *networkRepository) SetCarerAlertReceiver(ctx context.Context, carerInternalID int64, status bool) (int64, error) {
	n, err := r.exec(ctx, `UPDATE network SET alert_receiver = $1 WHERE user_internal_id = $2`,
		model.Bit(status), carerInternalID)
	if err != nil {
		return 0, fmt.Errorf("failed to update alert receiver: %w", mapError(err))
	}
	return n, nil
}

func (r *networkRepository) SetEdgeAlertReceiver(ctx context.Context, patientInternalID, carerInternalID int64, status bool) error {
	query := `
		UPDATE network n
		SET alert_receiver = $1
		FROM patients p
		WHERE p.id = n._patient_id AND p.internal_id = $2 AND n.user_internal_id = $3
	`
	n, err := r.exec(ctx, query, model.Bit(status), patientInternalID, carerInternalID)
	if err != nil {
		return fmt.Errorf("failed to update edge alert receiver: %w", mapError(err))
	}
	if n == 0 {
		return errors.NotFound("network edge", nil)
	}
	return nil
}
