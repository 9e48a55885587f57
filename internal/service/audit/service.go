package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
)

// NameResolver hydrates actor names for history views.
type NameResolver interface {
	DisplayNames(ctx context.Context, externalIDs []string) map[string]string
}

type Service struct {
	repo      repository.AuditRepository
	changeLog repository.ChangeLogRepository
	phi       repository.PHIStore
	logger    *logger.Logger
}

func NewService(repo repository.AuditRepository, changeLog repository.ChangeLogRepository, phi repository.PHIStore, logger *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		changeLog: changeLog,
		phi:       phi,
		logger:    logger,
	}
}

// Record appends a SUCCESS row. Called with a transactional ctx the row
// commits or rolls back with the mutation it describes.
func (s *Service) Record(ctx context.Context, caller *model.Caller, action string, target model.Target, message string) error {
	return s.write(ctx, caller, action, model.AuditLevelInfo, model.AuditStatusSuccess, target, message)
}

// Failure appends a DENIED row for Forbidden errors and a FAILURE row for
// anything else. It is meant to run after the transaction has been rolled
// back, so it never returns an error; a failed write is logged.
func (s *Service) Failure(ctx context.Context, caller *model.Caller, action string, target model.Target, cause error) {
	if cause == nil {
		return
	}
	status, level := model.AuditStatusFailure, model.AuditLevelError
	switch errors.CodeOf(cause) {
	case errors.ErrForbidden:
		status, level = model.AuditStatusDenied, model.AuditLevelWarning
	case errors.ErrBadRequest, errors.ErrNotFound, errors.ErrConflict:
		level = model.AuditLevelWarning
	}

	message := cause.Error()
	if reason := errors.ReasonOf(cause); reason != "" {
		message = string(reason)
	}
	if err := s.write(ctx, caller, action, level, status, target, message); err != nil {
		s.logger.Error(err, "failed to write audit entry",
			"action", action,
			"target_id", target.ID,
			"status", string(status),
		)
	}
}

func (s *Service) write(ctx context.Context, caller *model.Caller, action string, level model.AuditLevel, status model.AuditStatus, target model.Target, message string) error {
	entry := &model.AuditEntry{
		UTCTimestamp: time.Now().UTC(),
		Level:        level,
		Action:       action,
		Status:       status,
		Actor:        model.ActorOf(caller),
		TargetID:     target.ID,
		TargetRole:   target.Role,
		Message:      message,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// RecordChange appends a change-log row for the user's profile and stores the
// snapshot of phi under the version it was assigned.
func (s *Service) RecordChange(ctx context.Context, caller *model.Caller, target model.Target, phi *model.PHI) (int, error) {
	entry := &model.ChangeLogEntry{
		UTCTimestamp: time.Now().UTC(),
		Actor:        model.ActorOf(caller),
		TargetID:     target.ID,
		TargetRole:   target.Role,
		ExternalID:   phi.ExternalID,
	}
	if err := s.changeLog.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to append change log: %w", err)
	}

	snap := &model.PHISnapshot{
		ExternalID: phi.ExternalID,
		Version:    model.SnapshotKey(entry.Version),
		PHI:        *phi,
		CreatedAt:  entry.UTCTimestamp,
	}
	if err := s.phi.PutSnapshot(ctx, snap); err != nil {
		return 0, fmt.Errorf("failed to store snapshot: %w", err)
	}
	return entry.Version, nil
}

// ListFor scopes filter to what caller may see: everything for a
// super-admin, the actions of its own org's users for a customer-admin.
func (s *Service) ListFor(ctx context.Context, caller *model.Caller, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	switch caller.Kind {
	case model.KindSuperAdmin:
	case model.KindCustomerAdmin:
		if filter.ActorOrg != 0 && filter.ActorOrg != caller.OrgID {
			return nil, errors.Forbidden(errors.ReasonForeignOrg, "")
		}
		filter.ActorOrg = caller.OrgID
	default:
		return nil, errors.Forbidden(errors.ReasonMissingPermission, "")
	}
	return s.List(ctx, filter)
}

func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	filter.Pagination = filter.Pagination.Normalize()
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// History joins the change log of externalID with its snapshots and the
// actors' names. A version whose snapshot is missing is returned without one.
func (s *Service) History(ctx context.Context, externalID string, names NameResolver) ([]*model.HistoryEntry, error) {
	rows, err := s.changeLog.List(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	if len(rows) == 0 {
		return []*model.HistoryEntry{}, nil
	}

	snaps, err := s.phi.Snapshots(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	byVersion := make(map[string]*model.PHISnapshot, len(snaps))
	for _, snap := range snaps {
		byVersion[snap.Version] = snap
	}

	actors := make([]string, 0, len(rows))
	for _, row := range rows {
		actors = append(actors, row.Actor.ID)
	}
	var actorNames map[string]string
	if names != nil {
		actorNames = names.DisplayNames(ctx, actors)
	}

	history := make([]*model.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		h := &model.HistoryEntry{
			Version:      row.Version,
			UTCTimestamp: row.UTCTimestamp,
			ActorID:      row.Actor.ID,
			ActorRole:    row.Role,
			ActorName:    actorNames[row.Actor.ID],
		}
		if snap, ok := byVersion[model.SnapshotKey(row.Version)]; ok {
			phi := snap.PHI
			h.Snapshot = &phi
		}
		history = append(history, h)
	}
	return history, nil
}
