package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

// UpdateProfile merges the non-empty fields of update into the user's PHI,
// appends a change-log version with its snapshot and, for patients,
// refreshes the identity hashes.
func (s *Service) UpdateProfile(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64, update *model.PHI) (phi *model.PHI, err error) {
	target := model.UserTarget(kind, id)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionUserUpdate, target, err) }()

	rec, err := s.loadUser(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !(caller.Kind == kind && caller.InternalID == id) {
		decision, err := s.canAdminister(ctx, caller, kind, id)
		if err != nil {
			return nil, err
		}
		if err := decision.Err(); err != nil {
			return nil, err
		}
	}

	current, err := s.phi.Get(ctx, rec.ExternalID)
	switch {
	case err == nil:
	case errors.CodeOf(err) == errors.ErrNotFound:
		current = &model.PHI{ExternalID: rec.ExternalID}
	default:
		return nil, err
	}

	merged := mergePHI(*current, update)
	merged.ExternalID = rec.ExternalID
	normalizePHI(&merged)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if kind == model.KindPatient {
			p := &model.Patient{User: rec.User}
			s.hashIdentity(p, &merged)
			if err := s.users.UpdatePatientIdentity(ctx, p); err != nil {
				return fmt.Errorf("failed to update identity hashes: %w", err)
			}
		}
		version, err := s.auditor.RecordChange(ctx, caller, target, &merged)
		if err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionUserUpdate, target, model.SnapshotKey(version)); err != nil {
			return err
		}
		if err := s.phi.Put(ctx, &merged); err != nil {
			return fmt.Errorf("failed to store phi: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

func mergePHI(cur model.PHI, update *model.PHI) model.PHI {
	if update == nil {
		return cur
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cur.FirstName, update.FirstName)
	set(&cur.LastName, update.LastName)
	set(&cur.Email, update.Email)
	set(&cur.Cell, update.Cell)
	set(&cur.CellCountryCode, update.CellCountryCode)
	set(&cur.DOB, update.DOB)
	set(&cur.SSN, update.SSN)
	return cur
}

// History returns the profile versions of a user with the editor's name.
func (s *Service) History(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) ([]*model.HistoryEntry, error) {
	rec, err := s.loadUser(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !(caller.Kind == kind && caller.InternalID == id) {
		decision, err := s.canAdminister(ctx, caller, kind, id)
		if err != nil {
			return nil, err
		}
		if err := decision.Err(); err != nil {
			return nil, err
		}
	}
	return s.auditor.History(ctx, rec.ExternalID, s)
}

// Archive deactivates an active user and drops every edge incident on it.
// Memberships are kept so Restore can tell which orgs the user belongs to.
// Edges are not brought back by Restore.
func (s *Service) Archive(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) (err error) {
	target := model.UserTarget(kind, id)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionUserArchive, target, err) }()

	if kind == model.KindSuperAdmin {
		return errors.BadRequest("super admins cannot be archived", nil)
	}
	decision, err := s.canAdminister(ctx, caller, kind, id)
	if err != nil {
		return err
	}
	if err := decision.Err(); err != nil {
		return err
	}

	var removed int64
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.loadUser(ctx, kind, id)
		if err != nil {
			return err
		}
		if !rec.Activated {
			return errors.Conflict(errors.ReasonInvalidTransition, "user is already archived", nil)
		}

		if kind == model.KindPatient || kind.IsCarer() {
			if removed, err = s.network.DeleteEdgesOfUser(ctx, kind, id); err != nil {
				return fmt.Errorf("failed to delete edges: %w", err)
			}
		}
		if err := s.users.SetActivated(ctx, kind, id, false); err != nil {
			return fmt.Errorf("failed to deactivate user: %w", err)
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionUserArchive, target, fmt.Sprintf("edges_removed=%d", removed)); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventUserArchived, model.UserEvent{
			Kind: kind, InternalID: id, ExternalID: rec.ExternalID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("user archived", "kind", kind.String(), "internal_id", id, "edges_removed", removed)
	return nil
}

// Restore reactivates an archived user into orgID. A customer admin can only
// restore users that belong to its own org; a super admin may place the
// user in any org.
func (s *Service) Restore(ctx context.Context, caller *model.Caller, kind model.UserKind, id, orgID int64) (err error) {
	target := model.UserTarget(kind, id)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionUserRestore, target, err) }()

	if kind == model.KindSuperAdmin || kind == model.KindUnknown {
		return errors.BadRequest("invalid user kind", nil)
	}
	switch {
	case caller.IsSuperAdmin():
	case caller.Kind == model.KindCustomerAdmin && kind != model.KindCustomerAdmin:
		if caller.OrgID != orgID {
			return errors.Forbidden(errors.ReasonForeignOrg, "")
		}
		decision, err := s.canAdminister(ctx, caller, kind, id)
		if err != nil {
			return err
		}
		if err := decision.Err(); err != nil {
			return err
		}
	default:
		return errors.Forbidden(errors.ReasonMissingPermission, "")
	}
	if _, err := s.orgs.Get(ctx, orgID); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.loadUser(ctx, kind, id)
		if err != nil {
			return err
		}
		if rec.Activated {
			return errors.Conflict(errors.ReasonInvalidTransition, "user is not archived", nil)
		}
		if err := s.users.SetActivated(ctx, kind, id, true); err != nil {
			return fmt.Errorf("failed to activate user: %w", err)
		}
		member, err := s.orgs.IsMember(ctx, kind, id, orgID)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			if err := s.orgs.AddMember(ctx, kind, id, orgID); err != nil {
				return fmt.Errorf("failed to add membership: %w", err)
			}
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionUserRestore, target, fmt.Sprintf("org_id=%d", orgID)); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventUserRestored, model.UserEvent{
			Kind: kind, InternalID: id, ExternalID: rec.ExternalID, OrgID: orgID,
		})
	})
}

// Purge deletes an archived user. An active pairing of a purged patient is
// closed, never deleted. The PHI record is removed once the rows are gone.
func (s *Service) Purge(ctx context.Context, caller *model.Caller, kind model.UserKind, id int64) (err error) {
	target := model.UserTarget(kind, id)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionUserPurge, target, err) }()

	if !caller.IsSuperAdmin() {
		return errors.Forbidden(errors.ReasonMissingPermission, "only super admins can purge users")
	}

	var externalID string
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.loadUser(ctx, kind, id)
		if err != nil {
			return err
		}
		if rec.Activated {
			return errors.Conflict(errors.ReasonInvalidTransition, "user must be archived before purge", nil)
		}
		externalID = rec.ExternalID

		if kind == model.KindPatient {
			if _, err := s.devices.CloseActive(ctx, id, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to close pairing: %w", err)
			}
		}
		if kind == model.KindPatient || kind.IsCarer() {
			if _, err := s.network.DeleteEdgesOfUser(ctx, kind, id); err != nil {
				return fmt.Errorf("failed to delete edges: %w", err)
			}
		}
		if err := s.orgs.RemoveAllMemberships(ctx, kind, id); err != nil {
			return fmt.Errorf("failed to remove memberships: %w", err)
		}
		if err := s.users.Delete(ctx, kind, id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionUserPurge, target, ""); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventUserPurged, model.UserEvent{
			Kind: kind, InternalID: id, ExternalID: externalID,
		})
	})
	if err != nil {
		return err
	}

	if err := s.phi.Delete(ctx, externalID); err != nil {
		s.logger.Error(err, "failed to delete phi of purged user", "kind", kind.String(), "internal_id", id)
	}
	return nil
}
