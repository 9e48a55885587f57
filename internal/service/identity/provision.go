package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/phone"
)

// Provision creates an account of any kind but super-admin in req.OrgID.
// The relational rows, the membership and the PHI record are written in one
// transaction; a failed PHI write rolls the rows back.
func (s *Service) Provision(ctx context.Context, caller *model.Caller, req *model.NewUserRequest) (rec *model.UserRecord, err error) {
	target := model.Target{ID: req.ExternalID, Role: req.Kind.String()}
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionUserProvision, target, err) }()

	if err := s.checkProvision(caller, req); err != nil {
		return nil, err
	}
	if _, err := s.orgs.Get(ctx, req.OrgID); err != nil {
		return nil, err
	}

	phi := req.PHI
	phi.ExternalID = req.ExternalID
	normalizePHI(&phi)

	user := model.User{
		ExternalID: req.ExternalID,
		Username:   strings.TrimSpace(req.Username),
		Activated:  true,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		id, err := s.users.NextInternalID(ctx)
		if err != nil {
			return fmt.Errorf("failed to allocate internal id: %w", err)
		}
		user.InternalID = id

		if err := s.createKindRow(ctx, req, user, &phi); err != nil {
			return err
		}
		if err := s.orgs.AddMember(ctx, req.Kind, id, req.OrgID); err != nil {
			return fmt.Errorf("failed to add membership: %w", err)
		}

		target = model.UserTarget(req.Kind, id)
		if err := s.auditor.Record(ctx, caller, model.AuditActionUserProvision, target, ""); err != nil {
			return err
		}
		if err := s.phi.Put(ctx, &phi); err != nil {
			return fmt.Errorf("failed to store phi: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user provisioned", "kind", req.Kind.String(), "internal_id", user.InternalID, "org_id", req.OrgID)
	return &model.UserRecord{User: user, Kind: req.Kind}, nil
}

func (s *Service) checkProvision(caller *model.Caller, req *model.NewUserRequest) error {
	switch req.Kind {
	case model.KindPatient, model.KindProvider, model.KindCaregiver, model.KindCustomerAdmin:
	default:
		return errors.BadRequest(fmt.Sprintf("cannot provision user of kind %s", req.Kind), nil)
	}
	if req.OrgID <= 0 {
		return errors.BadRequest("org_id is required", nil)
	}
	if req.Kind == model.KindProvider && !req.Role.Valid() {
		return errors.BadRequest(fmt.Sprintf("invalid provider role %q", req.Role), nil)
	}

	switch {
	case caller.IsSuperAdmin():
		return nil
	case caller.Kind == model.KindCustomerAdmin:
		if req.Kind == model.KindCustomerAdmin {
			return errors.Forbidden(errors.ReasonMissingPermission, "customer admins are provisioned by super admins")
		}
		if req.OrgID != caller.OrgID {
			return errors.Forbidden(errors.ReasonForeignOrg, "")
		}
		return nil
	}
	return errors.Forbidden(errors.ReasonMissingPermission, "")
}

func (s *Service) createKindRow(ctx context.Context, req *model.NewUserRequest, user model.User, phi *model.PHI) error {
	switch req.Kind {
	case model.KindProvider:
		return s.users.CreateProvider(ctx, &model.Provider{
			User:              user,
			Role:              req.Role,
			Specialty:         req.Specialty,
			Degree:            req.Degree,
			Group:             req.Group,
			RemoteMonitoring:  model.Flag(req.RemoteMonitoring),
			BillingPermission: model.Flag(req.BillingPermission),
		})
	case model.KindCaregiver:
		return s.users.CreateCaregiver(ctx, &model.Caregiver{
			User:             user,
			RemoteMonitoring: model.Flag(req.RemoteMonitoring),
		})
	case model.KindCustomerAdmin:
		return s.users.CreateCustomerAdmin(ctx, &model.CustomerAdmin{User: user})
	}

	p := &model.Patient{User: user, RemoteMonitoring: model.Flag(req.RemoteMonitoring)}
	s.hashIdentity(p, phi)
	if p.HashDOB != "" && p.HashFName != "" && p.HashLName != "" {
		_, err := s.users.FindPatientByIdentity(ctx, req.OrgID, p.HashDOB, p.HashFName, p.HashLName)
		switch {
		case err == nil:
			return errors.Conflict(errors.ReasonDuplicateUser, "patient already exists in organization", nil)
		case errors.CodeOf(err) != errors.ErrNotFound:
			return fmt.Errorf("failed to check duplicate patient: %w", err)
		}
	}
	return s.users.CreatePatient(ctx, p)
}

func (s *Service) hashIdentity(p *model.Patient, phi *model.PHI) {
	p.HashDOB = s.hasher.Hash(phi.DOB)
	p.HashSSN = s.hasher.Hash(phi.SSN)
	p.HashFName = s.hasher.Hash(phi.FirstName)
	p.HashLName = s.hasher.Hash(phi.LastName)
}

func normalizePHI(phi *model.PHI) {
	phi.FirstName = strings.TrimSpace(phi.FirstName)
	phi.LastName = strings.TrimSpace(phi.LastName)
	phi.Email = strings.ToLower(strings.TrimSpace(phi.Email))
	if phi.Cell != "" {
		phi.Cell = phone.Normalize("", phi.Cell)
	}
	phi.CellCountryCode = phone.Normalize(phi.CellCountryCode, "")
}
