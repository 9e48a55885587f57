package identity

import (
	"context"
	"fmt"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/security"
)

type IdentityServicer interface {
	Resolve(ctx context.Context, auth model.AuthContext) (*model.Caller, error)
	PHI(ctx context.Context, externalID string) (*model.PHI, error)
	PHIMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error)
	DisplayNames(ctx context.Context, externalIDs []string) map[string]string
	Provision(ctx context.Context, caller *model.Caller, req *model.NewUserRequest) (*model.UserRecord, error)
	UpdateProfile(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64, update *model.PHI) (*model.PHI, error)
	History(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) ([]*model.HistoryEntry, error)
	Archive(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) error
	Restore(ctx context.Context, caller *model.Caller, kind model.UserKind, id, orgID int64) error
	Purge(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) error
}

type Service struct {
	tx      repository.Transactor
	users   repository.UserRepository
	orgs    repository.OrganizationRepository
	network repository.NetworkRepository
	devices repository.DeviceRepository
	phi     repository.PHIStore
	auditor *audit.Service
	events  event.Emitter
	hasher  security.IdentityHasher
	logger  *logger.Logger
}

type Deps struct {
	Tx      repository.Transactor
	Users   repository.UserRepository
	Orgs    repository.OrganizationRepository
	Network repository.NetworkRepository
	Devices repository.DeviceRepository
	PHI     repository.PHIStore
	Auditor *audit.Service
	Events  event.Emitter
	Hasher  security.IdentityHasher
	Logger  *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		tx:      d.Tx,
		users:   d.Users,
		orgs:    d.Orgs,
		network: d.Network,
		devices: d.Devices,
		phi:     d.PHI,
		auditor: d.Auditor,
		events:  d.Events,
		hasher:  d.Hasher,
		logger:  d.Logger,
	}
}

// Resolve turns the claims of a verified token into a caller. The declared
// role only picks the relation to look in; the row must exist, be activated
// and, for everyone but super-admins, belong to the declared org. With no
// declared org a user of exactly one org acts in that org.
func (s *Service) Resolve(ctx context.Context, auth model.AuthContext) (*model.Caller, error) {
	kind, err := model.ParseUserKind(auth.Role)
	if err != nil {
		return nil, errors.Unauthorized(err)
	}
	if auth.ExternalID == "" {
		return nil, errors.Unauthorized(fmt.Errorf("missing subject"))
	}

	rec, err := s.users.GetUserByExternalID(ctx, kind, auth.ExternalID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrNotFound {
			return nil, errors.Unauthorized(err)
		}
		return nil, err
	}
	if !rec.Activated {
		return nil, errors.Unauthorized(fmt.Errorf("user %s is deactivated", auth.ExternalID))
	}

	caller := &model.Caller{
		Kind:       kind,
		InternalID: rec.InternalID,
		ExternalID: rec.ExternalID,
		OrgID:      auth.OrgID,
		Platform:   auth.Platform,
		IPv4:       auth.IPv4,
		Email:      auth.Email,
	}
	if kind == model.KindSuperAdmin {
		return caller, nil
	}

	orgs, err := s.orgs.OrgsOf(ctx, kind, rec.InternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	if caller.OrgID == 0 && len(orgs) == 1 {
		caller.OrgID = orgs[0]
	}
	for _, org := range orgs {
		if org == caller.OrgID {
			return caller, nil
		}
	}
	return nil, errors.Unauthorized(fmt.Errorf("user %s is not a member of organization %d", auth.ExternalID, auth.OrgID))
}

func (s *Service) PHI(ctx context.Context, externalID string) (*model.PHI, error) {
	return s.phi.Get(ctx, externalID)
}

// PHIMany omits ids with no record; callers must tolerate gaps.
func (s *Service) PHIMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error) {
	return s.phi.GetMany(ctx, externalIDs)
}

// DisplayNames decorates lists with names. A KV failure yields an empty map
// so the primary data can still be returned.
func (s *Service) DisplayNames(ctx context.Context, externalIDs []string) map[string]string {
	names := make(map[string]string, len(externalIDs))
	if len(externalIDs) == 0 {
		return names
	}
	records, err := s.phi.GetMany(ctx, externalIDs)
	if err != nil {
		s.logger.Warn("display name hydration failed", "error", err.Error(), "count", len(externalIDs))
		return names
	}
	for id, phi := range records {
		names[id] = phi.DisplayName()
	}
	return names
}

// canAdminister reports whether caller may manage the account of a user of
// kind within the user's org. Self access is checked by the callers that
// allow it.
func (s *Service) canAdminister(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) (model.Decision, error) {
	switch {
	case caller.IsSuperAdmin():
		return model.Allow(), nil
	case caller.Kind == model.KindCustomerAdmin:
		if kind == model.KindSuperAdmin || kind == model.KindCustomerAdmin && id != caller.InternalID {
			return model.Deny(errors.ReasonMissingPermission), nil
		}
		member, err := s.orgs.IsMember(ctx, kind, id, caller.OrgID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return model.Deny(errors.ReasonForeignOrg), nil
		}
		return model.Allow(), nil
	}
	return model.Deny(errors.ReasonMissingPermission), nil
}

func (s *Service) loadUser(ctx context.Context, kind model.UserKind, id int64) (*model.UserRecord, error) {
	if kind == model.KindUnknown {
		return nil, errors.BadRequest("invalid user kind", nil)
	}
	return s.users.GetUser(ctx, kind, id)
}
