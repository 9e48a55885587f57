package network

import (
	"context"
	"fmt"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
)

type NetworkServicer interface {
	EdgesOfPatient(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Edge, error)
	EdgesOfCarer(ctx context.Context, caller *model.Caller, kind model.UserKind, carerID int64) ([]*model.Edge, error)
	CoPatients(ctx context.Context, caller *model.Caller, a, b int64) ([]int64, error)
	ReplaceCarerNetwork(ctx context.Context, caller *model.Caller, kind model.UserKind, carerID, orgID int64, desired []int64) (*model.NetworkDiff, error)
	AddEdge(ctx context.Context, caller *model.Caller, req model.EdgeRequest) error
	RemoveEdge(ctx context.Context, caller *model.Caller, req model.EdgeRequest) error
	SetProviderAlertReceiver(ctx context.Context, caller *model.Caller, providerID int64, status bool) error
	SetEdgeAlertReceiver(ctx context.Context, caller *model.Caller, req model.EdgeAlertReceiverRequest) error
}

type Service struct {
	tx      repository.Transactor
	users   repository.UserRepository
	orgs    repository.OrganizationRepository
	network repository.NetworkRepository
	policy  access.Policy
	auditor *audit.Service
	events  event.Emitter
	logger  *logger.Logger
}

func NewService(
	tx repository.Transactor,
	users repository.UserRepository,
	orgs repository.OrganizationRepository,
	network repository.NetworkRepository,
	policy access.Policy,
	auditor *audit.Service,
	events event.Emitter,
	logger *logger.Logger,
) *Service {
	return &Service{
		tx:      tx,
		users:   users,
		orgs:    orgs,
		network: network,
		policy:  policy,
		auditor: auditor,
		events:  events,
		logger:  logger,
	}
}

// EdgesOfPatient lists the patient's edges to carers of the caller's org.
// Super-admins act in no org and see every edge.
func (s *Service) EdgesOfPatient(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Edge, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	edges, err := s.network.EdgesOfPatient(ctx, patientID, caller.OrgID)
	if err != nil {
		return nil, err
	}
	return nonNil(edges), nil
}

// EdgesOfCarer lists a carer's edges. Outside super-admin, only edges to
// patients of the caller's org are returned.
func (s *Service) EdgesOfCarer(ctx context.Context, caller *model.Caller, kind model.UserKind, carerID int64) ([]*model.Edge, error) {
	if err := s.policy.RequireManageCarer(ctx, caller, kind, carerID, caller.OrgID); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, kind, carerID); err != nil {
		return nil, err
	}

	edges, err := s.network.EdgesOfCarer(ctx, carerID)
	if err != nil {
		return nil, err
	}
	if caller.IsSuperAdmin() {
		return nonNil(edges), nil
	}
	return s.inOrg(ctx, edges, caller.OrgID)
}

func (s *Service) inOrg(ctx context.Context, edges []*model.Edge, orgID int64) ([]*model.Edge, error) {
	ids := make([]int64, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.PatientInternalID)
	}
	members, err := s.orgs.MembersAmong(ctx, model.KindPatient, orgID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to filter patients by org: %w", err)
	}
	keep := make(map[int64]bool, len(members))
	for _, id := range members {
		keep[id] = true
	}
	out := make([]*model.Edge, 0, len(members))
	for _, e := range edges {
		if keep[e.PatientInternalID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// CoPatients lists the patients both carers are linked to. A carer may only
// ask about itself; results are limited to the caller's org.
func (s *Service) CoPatients(ctx context.Context, caller *model.Caller, a, b int64) ([]int64, error) {
	switch {
	case caller.IsSuperAdmin(), caller.Kind == model.KindCustomerAdmin:
	case caller.Kind.IsCarer() && (caller.InternalID == a || caller.InternalID == b):
	default:
		return nil, errors.Forbidden(errors.ReasonNotSelf, "")
	}

	ids, err := s.network.CoPatients(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if caller.IsSuperAdmin() || len(ids) == 0 {
		return nonNilIDs(ids), nil
	}
	members, err := s.orgs.MembersAmong(ctx, model.KindPatient, caller.OrgID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to filter patients by org: %w", err)
	}
	return nonNilIDs(members), nil
}

// ReplaceCarerNetwork makes the carer's edges to patients of orgID exactly
// desired. Edges to patients outside orgID are left alone. A desired patient
// outside orgID fails the whole call.
func (s *Service) ReplaceCarerNetwork(ctx context.Context, caller *model.Caller, kind model.UserKind, carerID, orgID int64, desired []int64) (diff *model.NetworkDiff, err error) {
	if orgID == 0 {
		orgID = caller.OrgID
	}
	target := model.UserTarget(kind, carerID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionNetworkReplace, target, err) }()

	if orgID == 0 {
		return nil, errors.BadRequest("org_id is required", nil)
	}
	if err := s.policy.RequireManageCarer(ctx, caller, kind, carerID, orgID); err != nil {
		return nil, err
	}
	desired = model.Dedup(desired)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetUser(ctx, kind, carerID); err != nil {
			return err
		}
		if len(desired) > 0 {
			if err := s.checkSameOrg(ctx, kind, carerID, orgID, desired); err != nil {
				return err
			}
		}

		current, err := s.network.EdgesOfCarerInOrg(ctx, carerID, orgID)
		if err != nil {
			return err
		}
		before := make([]int64, 0, len(current))
		for _, e := range current {
			before = append(before, e.PatientInternalID)
		}
		before = model.Dedup(before)

		toDelete, toInsert := model.DiffPatients(before, desired)
		if _, err := s.network.DeleteEdges(ctx, carerID, toDelete); err != nil {
			return fmt.Errorf("failed to delete edges: %w", err)
		}
		if _, err := s.network.InsertEdges(ctx, carerID, kind, toInsert); err != nil {
			return fmt.Errorf("failed to insert edges: %w", err)
		}

		diff = &model.NetworkDiff{
			CarerInternalID: carerID,
			OrgID:           orgID,
			Before:          before,
			After:           desired,
			Inserted:        nonNilIDs(toInsert),
			Deleted:         nonNilIDs(toDelete),
		}
		msg := fmt.Sprintf("org_id=%d before=%v after=%v", orgID, before, desired)
		if err := s.auditor.Record(ctx, caller, model.AuditActionNetworkReplace, target, msg); err != nil {
			return err
		}
		if !diff.Changed() {
			return nil
		}
		return s.events.Emit(ctx, model.EventNetworkChanged, diff)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("carer network replaced",
		"carer_id", carerID, "org_id", orgID,
		"inserted", len(diff.Inserted), "deleted", len(diff.Deleted))
	return diff, nil
}

func (s *Service) checkSameOrg(ctx context.Context, kind model.UserKind, carerID, orgID int64, patients []int64) error {
	member, err := s.orgs.IsMember(ctx, kind, carerID, orgID)
	if err != nil {
		return fmt.Errorf("failed to check carer membership: %w", err)
	}
	if !member {
		return errors.Forbidden(errors.ReasonCrossOrgDenied, fmt.Sprintf("carer %d is not a member of organization %d", carerID, orgID))
	}
	members, err := s.orgs.MembersAmong(ctx, model.KindPatient, orgID, patients)
	if err != nil {
		return fmt.Errorf("failed to check patient membership: %w", err)
	}
	if len(members) != len(patients) {
		_, foreign := model.DiffPatients(members, patients)
		return errors.Forbidden(errors.ReasonCrossOrgDenied, fmt.Sprintf("patients %v are not members of organization %d", foreign, orgID))
	}
	return nil
}

// AddEdge links a patient and a carer of the caller's org. Adding an edge
// that already exists succeeds without change.
func (s *Service) AddEdge(ctx context.Context, caller *model.Caller, req model.EdgeRequest) (err error) {
	target := model.UserTarget(req.CarerKind, req.CarerID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionEdgeAdd, target, err) }()

	if err := s.policy.RequireManageCarer(ctx, caller, req.CarerKind, req.CarerID, caller.OrgID); err != nil {
		return err
	}

	var inserted int64
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		patient, err := s.users.GetPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if !patient.Activated {
			return errors.NotFound("patient", nil)
		}
		if _, err := s.users.GetUser(ctx, req.CarerKind, req.CarerID); err != nil {
			return err
		}

		shared, err := s.shareOrg(ctx, caller, req)
		if err != nil {
			return err
		}
		if !shared {
			return errors.Forbidden(errors.ReasonCrossOrgDenied, "patient and carer share no organization")
		}

		if inserted, err = s.network.InsertEdges(ctx, req.CarerID, req.CarerKind, []int64{req.PatientID}); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionEdgeAdd, target, fmt.Sprintf("patient=%d", req.PatientID)); err != nil {
			return err
		}
		if inserted == 0 {
			return nil
		}
		return s.events.Emit(ctx, model.EventNetworkChanged, &model.NetworkDiff{
			CarerInternalID: req.CarerID,
			OrgID:           caller.OrgID,
			Inserted:        []int64{req.PatientID},
			Deleted:         []int64{},
		})
	})
	return err
}

// shareOrg reports whether the patient and carer share an org. Outside
// super-admin that org must be the caller's.
func (s *Service) shareOrg(ctx context.Context, caller *model.Caller, req model.EdgeRequest) (bool, error) {
	if !caller.IsSuperAdmin() {
		for _, m := range []model.Membership{
			{Kind: model.KindPatient, InternalID: req.PatientID},
			{Kind: req.CarerKind, InternalID: req.CarerID},
		} {
			ok, err := s.orgs.IsMember(ctx, m.Kind, m.InternalID, caller.OrgID)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	patientOrgs, err := s.orgs.OrgsOf(ctx, model.KindPatient, req.PatientID)
	if err != nil {
		return false, err
	}
	carerOrgs, err := s.orgs.OrgsOf(ctx, req.CarerKind, req.CarerID)
	if err != nil {
		return false, err
	}
	for _, p := range patientOrgs {
		for _, c := range carerOrgs {
			if p == c {
				return true, nil
			}
		}
	}
	return false, nil
}

// requirePatientInOrg rejects edge mutations on patients outside the
// caller's org. Super admins are not bound to an org.
func (s *Service) requirePatientInOrg(ctx context.Context, caller *model.Caller, patientID int64) error {
	if caller.IsSuperAdmin() {
		return nil
	}
	member, err := s.orgs.IsMember(ctx, model.KindPatient, patientID, caller.OrgID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return errors.Forbidden(errors.ReasonForeignOrg, "")
	}
	return nil
}

func (s *Service) RemoveEdge(ctx context.Context, caller *model.Caller, req model.EdgeRequest) (err error) {
	target := model.UserTarget(req.CarerKind, req.CarerID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionEdgeRemove, target, err) }()

	if err := s.policy.RequireManageCarer(ctx, caller, req.CarerKind, req.CarerID, caller.OrgID); err != nil {
		return err
	}
	if err := s.requirePatientInOrg(ctx, caller, req.PatientID); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.network.DeleteEdges(ctx, req.CarerID, []int64{req.PatientID})
		if err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
		if n == 0 {
			return errors.NotFound("network edge", nil)
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionEdgeRemove, target, fmt.Sprintf("patient=%d", req.PatientID)); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventNetworkChanged, &model.NetworkDiff{
			CarerInternalID: req.CarerID,
			OrgID:           caller.OrgID,
			Inserted:        []int64{},
			Deleted:         []int64{req.PatientID},
		})
	})
}

// SetProviderAlertReceiver writes the provider's flag and every edge of the
// provider in one transaction, so readers never see them disagree.
func (s *Service) SetProviderAlertReceiver(ctx context.Context, caller *model.Caller, providerID int64, status bool) (err error) {
	target := model.UserTarget(model.KindProvider, providerID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionAlertReceiver, target, err) }()

	if err := s.policy.RequireManageCarer(ctx, caller, model.KindProvider, providerID, caller.OrgID); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetProvider(ctx, providerID); err != nil {
			return err
		}
		if err := s.users.SetProviderAlertReceiver(ctx, providerID, status); err != nil {
			return fmt.Errorf("failed to update provider: %w", err)
		}
		n, err := s.network.SetCarerAlertReceiver(ctx, providerID, status)
		if err != nil {
			return fmt.Errorf("failed to update provider edges: %w", err)
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionAlertReceiver, target, fmt.Sprintf("status=%t edges=%d", status, n)); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventAlertReceiver, &model.AlertReceiverChange{
			CarerInternalID: providerID,
			Status:          status,
			EdgesUpdated:    n,
		})
	})
}

func (s *Service) SetEdgeAlertReceiver(ctx context.Context, caller *model.Caller, req model.EdgeAlertReceiverRequest) (err error) {
	target := model.UserTarget(req.CarerKind, req.CarerID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionAlertReceiver, target, err) }()

	if req.Status == nil {
		return errors.BadRequest("alert_receiver_status is required", nil)
	}
	status := *req.Status == 1
	if err := s.policy.RequireManageCarer(ctx, caller, req.CarerKind, req.CarerID, caller.OrgID); err != nil {
		return err
	}
	if err := s.requirePatientInOrg(ctx, caller, req.PatientID); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.network.SetEdgeAlertReceiver(ctx, req.PatientID, req.CarerID, status); err != nil {
			return err
		}
		msg := fmt.Sprintf("patient=%d status=%t", req.PatientID, status)
		if err := s.auditor.Record(ctx, caller, model.AuditActionAlertReceiver, target, msg); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventAlertReceiver, &model.AlertReceiverChange{
			CarerInternalID:   req.CarerID,
			PatientInternalID: req.PatientID,
			Status:            status,
			EdgesUpdated:      1,
		})
	})
}

func nonNil(edges []*model.Edge) []*model.Edge {
	if edges == nil {
		return []*model.Edge{}
	}
	return edges
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
