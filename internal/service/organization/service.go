package organization

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/phone"
)

type OrganizationServicer interface {
	Create(ctx context.Context, caller *model.Caller, org *model.Organization) error
	Update(ctx context.Context, caller *model.Caller, org *model.Organization) error
	Get(ctx context.Context, caller *model.Caller, id int64) (*model.Organization, error)
	List(ctx context.Context, caller *model.Caller) ([]*model.Organization, error)
	Delete(ctx context.Context, caller *model.Caller, id int64) error
	AddMember(ctx context.Context, caller *model.Caller, m model.Membership) error
	RemoveMember(ctx context.Context, caller *model.Caller, m model.Membership) error
	OrgsOf(ctx context.Context, kind model.UserKind, internalID int64) ([]int64, error)
}

type Service struct {
	tx      repository.Transactor
	orgs    repository.OrganizationRepository
	network repository.NetworkRepository
	auditor *audit.Service
	events  event.Emitter
	logger  *logger.Logger
}

func NewService(tx repository.Transactor, orgs repository.OrganizationRepository, network repository.NetworkRepository, auditor *audit.Service, events event.Emitter, logger *logger.Logger) *Service {
	return &Service{
		tx:      tx,
		orgs:    orgs,
		network: network,
		auditor: auditor,
		events:  events,
		logger:  logger,
	}
}

func orgTarget(id int64) model.Target {
	return model.Target{ID: fmt.Sprint(id), Role: "organization"}
}

func requireSuperAdmin(caller *model.Caller) error {
	if !caller.IsSuperAdmin() {
		return errors.Forbidden(errors.ReasonMissingPermission, "only super admins can manage organizations")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, caller *model.Caller, org *model.Organization) (err error) {
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionOrgCreate, orgTarget(org.ID), err) }()

	if err := requireSuperAdmin(caller); err != nil {
		return err
	}
	if err := normalize(org); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.Create(ctx, org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		return s.auditor.Record(ctx, caller, model.AuditActionOrgCreate, orgTarget(org.ID), org.Name)
	})
}

func (s *Service) Update(ctx context.Context, caller *model.Caller, org *model.Organization) (err error) {
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionOrgUpdate, orgTarget(org.ID), err) }()

	if err := requireSuperAdmin(caller); err != nil {
		return err
	}
	if err := normalize(org); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.Update(ctx, org); err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		return s.auditor.Record(ctx, caller, model.AuditActionOrgUpdate, orgTarget(org.ID), org.Name)
	})
}

// Get is open to super-admins and to members acting in that org.
func (s *Service) Get(ctx context.Context, caller *model.Caller, id int64) (*model.Organization, error) {
	if !caller.IsSuperAdmin() && caller.OrgID != id {
		return nil, errors.Forbidden(errors.ReasonForeignOrg, "")
	}
	return s.orgs.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, caller *model.Caller) ([]*model.Organization, error) {
	if caller.IsSuperAdmin() {
		orgs, err := s.orgs.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list organizations: %w", err)
		}
		return orgs, nil
	}
	org, err := s.orgs.Get(ctx, caller.OrgID)
	if err != nil {
		return nil, err
	}
	return []*model.Organization{org}, nil
}

// Delete refuses while any user of any kind is still a member.
func (s *Service) Delete(ctx context.Context, caller *model.Caller, id int64) (err error) {
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionOrgDelete, orgTarget(id), err) }()

	if err := requireSuperAdmin(caller); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.orgs.CountMembers(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if n > 0 {
			return errors.Conflict(errors.ReasonHasMembers, fmt.Sprintf("organization still has %d members", n), nil)
		}
		if err := s.orgs.Delete(ctx, id); err != nil {
			return err
		}
		return s.auditor.Record(ctx, caller, model.AuditActionOrgDelete, orgTarget(id), "")
	})
}

// AddMember is super-admin only: letting an org admin pull a user of another
// org into its own would hand it that user's clinical data.
func (s *Service) AddMember(ctx context.Context, caller *model.Caller, m model.Membership) (err error) {
	target := model.UserTarget(m.Kind, m.InternalID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionMemberAdd, target, err) }()

	if err := requireSuperAdmin(caller); err != nil {
		return err
	}
	if err := validKind(m.Kind); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.AddMember(ctx, m.Kind, m.InternalID, m.OrgID); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionMemberAdd, target, fmt.Sprintf("org_id=%d", m.OrgID)); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventMembershipChanged, model.MembershipEvent{Membership: m, Added: true})
	})
}

// RemoveMember drops one membership. A user keeps at least one org, and
// edges whose ends no longer share any org go with the membership.
func (s *Service) RemoveMember(ctx context.Context, caller *model.Caller, m model.Membership) (err error) {
	target := model.UserTarget(m.Kind, m.InternalID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionMemberRemove, target, err) }()

	if err := validKind(m.Kind); err != nil {
		return err
	}
	switch {
	case caller.IsSuperAdmin():
	case caller.Kind == model.KindCustomerAdmin && m.Kind != model.KindCustomerAdmin:
		if caller.OrgID != m.OrgID {
			return errors.Forbidden(errors.ReasonForeignOrg, "")
		}
	default:
		return errors.Forbidden(errors.ReasonMissingPermission, "")
	}

	var removed int64
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		orgs, err := s.orgs.OrgsOf(ctx, m.Kind, m.InternalID)
		if err != nil {
			return fmt.Errorf("failed to load organizations: %w", err)
		}
		member := false
		for _, id := range orgs {
			member = member || id == m.OrgID
		}
		if !member {
			return errors.NotFound("membership", nil)
		}
		if len(orgs) == 1 {
			return errors.Conflict(errors.ReasonLastOrganization, "cannot remove the last organization of a user", nil)
		}

		if err := s.orgs.RemoveMember(ctx, m.Kind, m.InternalID, m.OrgID); err != nil {
			return err
		}
		if m.Kind == model.KindPatient || m.Kind.IsCarer() {
			if removed, err = s.network.DeleteOrphanedEdges(ctx, m.Kind, m.InternalID); err != nil {
				return fmt.Errorf("failed to delete orphaned edges: %w", err)
			}
		}
		msg := fmt.Sprintf("org_id=%d edges_removed=%d", m.OrgID, removed)
		if err := s.auditor.Record(ctx, caller, model.AuditActionMemberRemove, target, msg); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventMembershipChanged, model.MembershipEvent{Membership: m, EdgesRemoved: removed})
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		s.logger.Info("orphaned edges removed", "kind", m.Kind.String(), "internal_id", m.InternalID, "org_id", m.OrgID, "count", removed)
	}
	return nil
}

func (s *Service) OrgsOf(ctx context.Context, kind model.UserKind, internalID int64) ([]int64, error) {
	return s.orgs.OrgsOf(ctx, kind, internalID)
}

func validKind(kind model.UserKind) error {
	switch kind {
	case model.KindPatient, model.KindProvider, model.KindCaregiver, model.KindCustomerAdmin:
		return nil
	}
	return errors.BadRequest(fmt.Sprintf("users of kind %s have no organization", kind), nil)
}

func normalize(org *model.Organization) error {
	org.Name = strings.TrimSpace(org.Name)
	if org.Name == "" {
		return errors.BadRequest("organization name is required", nil)
	}
	org.Email = strings.ToLower(strings.TrimSpace(org.Email))
	org.Phone1 = phone.Normalize("", org.Phone1)
	org.Phone2 = phone.Normalize("", org.Phone2)
	return nil
}
