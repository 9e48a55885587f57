package call

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type CallServicer interface {
	Start(ctx context.Context, caller *model.Caller, patientID int64, req model.StartCallRequest) (*model.CallRecord, error)
	Update(ctx context.Context, caller *model.Caller, callID int64, req model.UpdateCallRequest) (*model.CallRecord, error)
	List(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.CallRecord, error)
}

type Service struct {
	tx      repository.Transactor
	repo    repository.CallRepository
	policy  access.Policy
	auditor *audit.Service
	now     func() time.Time
}

func NewService(tx repository.Transactor, repo repository.CallRepository, policy access.Policy, auditor *audit.Service) *Service {
	return &Service{
		tx:      tx,
		repo:    repo,
		policy:  policy,
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func callTarget(id int64) model.Target {
	return model.Target{ID: fmt.Sprint(id), Role: "call"}
}

// Start opens a NOT_STARTED call record between the calling provider and
// the patient.
func (s *Service) Start(ctx context.Context, caller *model.Caller, patientID int64, req model.StartCallRequest) (rec *model.CallRecord, err error) {
	defer func() {
		s.auditor.Failure(ctx, caller, model.AuditActionCallStart, model.UserTarget(model.KindPatient, patientID), err)
	}()

	if caller.Kind != model.KindProvider {
		return nil, errors.Forbidden(errors.ReasonMissingPermission, "only providers can log calls")
	}
	if err := s.policy.Require(ctx, caller, patientID, model.ActionWriteClinical); err != nil {
		return nil, err
	}

	rec = &model.CallRecord{
		MeetingID:          req.MeetingID,
		PatientInternalID:  patientID,
		ProviderInternalID: caller.InternalID,
		OrgID:              caller.OrgID,
		StartTimestamp:     s.now(),
		Status:             model.CallNotStarted,
		Type:               req.Type,
		Notes:              req.Notes,
	}
	if req.Start != nil {
		rec.StartTimestamp = req.Start.UTC()
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("failed to create call record: %w", err)
		}
		return s.auditor.Record(ctx, caller, model.AuditActionCallStart, callTarget(rec.ID), string(rec.Type))
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update moves a call forward. A completed call always carries an end
// timestamp and a duration; a DELETED call keeps its last timestamps.
func (s *Service) Update(ctx context.Context, caller *model.Caller, callID int64, req model.UpdateCallRequest) (rec *model.CallRecord, err error) {
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionCallUpdate, callTarget(callID), err) }()

	rec, err = s.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Require(ctx, caller, rec.PatientInternalID, model.ActionWriteClinical); err != nil {
		return nil, err
	}
	if !rec.Status.CanTransition(req.Status) {
		return nil, errors.Conflict(errors.ReasonInvalidTransition, fmt.Sprintf("call cannot move from %s to %s", rec.Status, req.Status), nil)
	}

	switch req.Status {
	case model.CallCompleted:
		end := s.now()
		if req.End != nil {
			end = req.End.UTC()
		}
		if end.Before(rec.StartTimestamp) {
			return nil, errors.BadRequest("end_timestamp is before the call start", nil)
		}
		rec.SetEnd(&end)
	case model.CallDraft:
		if req.End != nil {
			end := req.End.UTC()
			rec.SetEnd(&end)
		}
	}
	rec.Status = req.Status
	if req.Notes != nil {
		rec.Notes = *req.Notes
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to update call record: %w", err)
		}
		return s.auditor.Record(ctx, caller, model.AuditActionCallUpdate, callTarget(callID), string(req.Status))
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.CallRecord, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	calls, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	if calls == nil {
		calls = []*model.CallRecord{}
	}
	return calls, nil
}
