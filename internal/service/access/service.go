package access

import (
	"context"
	"fmt"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

// Policy is the access predicate consulted by every service touching
// patient data.
type Policy interface {
	MayAccessPatient(ctx context.Context, caller *model.Caller, patientID int64, action model.Action) (model.Decision, error)
	MayManageCarer(ctx context.Context, caller *model.Caller, carerKind model.UserKind, carerID, orgID int64) (model.Decision, error)
	Require(ctx context.Context, caller *model.Caller, patientID int64, action model.Action) error
	RequireManageCarer(ctx context.Context, caller *model.Caller, carerKind model.UserKind, carerID, orgID int64) error
}

// Service evaluates access against the relational store on every call;
// nothing is cached since edges and memberships change concurrently.
type Service struct {
	users   repository.UserRepository
	orgs    repository.OrganizationRepository
	network repository.NetworkRepository
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewService(users repository.UserRepository, orgs repository.OrganizationRepository, network repository.NetworkRepository, m *metrics.Metrics, logger *logger.Logger) *Service {
	return &Service{
		users:   users,
		orgs:    orgs,
		network: network,
		metrics: m,
		logger:  logger,
	}
}

// MayAccessPatient decides whether caller may perform action on the patient.
// The first matching rule wins. A missing or deactivated patient is NotFound
// rather than a denial.
func (s *Service) MayAccessPatient(ctx context.Context, caller *model.Caller, patientID int64, action model.Action) (model.Decision, error) {
	if caller == nil {
		return model.Decision{}, errors.Unauthorized(nil)
	}

	patient, err := s.users.GetPatient(ctx, patientID)
	if err != nil {
		return model.Decision{}, err
	}
	if !patient.Activated {
		return model.Decision{}, errors.NotFound("patient", nil)
	}

	switch {
	case caller.Kind == model.KindSuperAdmin:
		if action == model.ActionPairDevice {
			return model.Deny(errors.ReasonMissingPermission), nil
		}
		return model.Allow(), nil

	case caller.Kind == model.KindCustomerAdmin:
		member, err := s.orgs.IsMember(ctx, model.KindPatient, patientID, caller.OrgID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("failed to check patient membership: %w", err)
		}
		if !member {
			return model.Deny(errors.ReasonForeignOrg), nil
		}
		return model.Allow(), nil

	case caller.Kind == model.KindPatient:
		if caller.InternalID != patientID {
			return model.Deny(errors.ReasonNotSelf), nil
		}
		return model.Allow(), nil

	case caller.Kind.IsCarer():
		return s.carerDecision(ctx, caller, patient, action)
	}

	return model.Deny(errors.ReasonNoRelationship), nil
}

func (s *Service) carerDecision(ctx context.Context, caller *model.Caller, patient *model.Patient, action model.Action) (model.Decision, error) {
	carerMember, err := s.orgs.IsMember(ctx, caller.Kind, caller.InternalID, caller.OrgID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("failed to check carer membership: %w", err)
	}
	patientMember, err := s.orgs.IsMember(ctx, model.KindPatient, patient.InternalID, caller.OrgID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("failed to check patient membership: %w", err)
	}
	if !carerMember || !patientMember {
		return model.Deny(errors.ReasonForeignOrg), nil
	}

	hasEdge, err := s.network.HasEdge(ctx, patient.InternalID, caller.InternalID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("failed to check network edge: %w", err)
	}
	if !hasEdge {
		return model.Deny(errors.ReasonNoRelationship), nil
	}

	switch action {
	case model.ActionViewBilling:
		if caller.Kind != model.KindProvider {
			return model.Deny(errors.ReasonMissingPermission), nil
		}
		provider, err := s.users.GetProvider(ctx, caller.InternalID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("failed to load provider: %w", err)
		}
		if !provider.BillingPermission {
			return model.Deny(errors.ReasonMissingPermission), nil
		}

	case model.ActionPairDevice:
		rm, err := s.carerRemoteMonitoring(ctx, caller)
		if err != nil {
			return model.Decision{}, err
		}
		if !rm || !bool(patient.RemoteMonitoring) {
			return model.Deny(errors.ReasonMissingPermission), nil
		}
	}
	return model.Allow(), nil
}

func (s *Service) carerRemoteMonitoring(ctx context.Context, caller *model.Caller) (bool, error) {
	if caller.Kind == model.KindProvider {
		p, err := s.users.GetProvider(ctx, caller.InternalID)
		if err != nil {
			return false, fmt.Errorf("failed to load provider: %w", err)
		}
		return bool(p.RemoteMonitoring), nil
	}
	c, err := s.users.GetCaregiver(ctx, caller.InternalID)
	if err != nil {
		return false, fmt.Errorf("failed to load caregiver: %w", err)
	}
	return bool(c.RemoteMonitoring), nil
}

// MayManageCarer decides whether caller may read or rewrite the network of
// a carer within orgID.
func (s *Service) MayManageCarer(ctx context.Context, caller *model.Caller, carerKind model.UserKind, carerID, orgID int64) (model.Decision, error) {
	if caller == nil {
		return model.Decision{}, errors.Unauthorized(nil)
	}
	if !carerKind.IsCarer() {
		return model.Decision{}, errors.BadRequest("user type must be provider or caregiver", nil)
	}

	switch {
	case caller.IsSuperAdmin():
		return model.Allow(), nil

	case caller.Kind == model.KindCustomerAdmin:
		if caller.OrgID != orgID {
			return model.Deny(errors.ReasonForeignOrg), nil
		}
		member, err := s.orgs.IsMember(ctx, carerKind, carerID, orgID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("failed to check carer membership: %w", err)
		}
		if !member {
			return model.Deny(errors.ReasonForeignOrg), nil
		}
		return model.Allow(), nil

	case caller.Kind == carerKind && caller.InternalID == carerID:
		if caller.OrgID != orgID {
			return model.Deny(errors.ReasonForeignOrg), nil
		}
		return model.Allow(), nil
	}
	return model.Deny(errors.ReasonNotSelf), nil
}

// Require is MayAccessPatient with a denial turned into Forbidden.
func (s *Service) Require(ctx context.Context, caller *model.Caller, patientID int64, action model.Action) error {
	decision, err := s.MayAccessPatient(ctx, caller, patientID, action)
	if err != nil {
		return err
	}
	s.observe(caller, string(action), patientID, decision)
	return decision.Err()
}

func (s *Service) RequireManageCarer(ctx context.Context, caller *model.Caller, carerKind model.UserKind, carerID, orgID int64) error {
	decision, err := s.MayManageCarer(ctx, caller, carerKind, carerID, orgID)
	if err != nil {
		return err
	}
	s.observe(caller, "manage_carer", carerID, decision)
	return decision.Err()
}

func (s *Service) observe(caller *model.Caller, action string, targetID int64, d model.Decision) {
	outcome := "allow"
	if !d.Allow {
		outcome = "deny"
		s.logger.Info("access denied",
			"caller_kind", caller.Kind.String(),
			"caller_id", caller.InternalID,
			"target_id", targetID,
			"action", action,
			"reason", string(d.Reason),
		)
	}
	if s.metrics != nil {
		s.metrics.AccessDecisions.WithLabelValues(action, outcome, string(d.Reason)).Inc()
	}
}
