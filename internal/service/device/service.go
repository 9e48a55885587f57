package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
	"github.com/jwalitptl/caregem-api/pkg/validator"
)

const maxPairAttempts = 3

type DeviceServicer interface {
	Pair(ctx context.Context, caller *model.Caller, patientID int64, req model.PairRequest) (*model.Pairing, error)
	Unpair(ctx context.Context, caller *model.Caller, patientID int64, req model.UnpairRequest) error
	PairedUser(ctx context.Context, caller *model.Caller, imei string) (*model.UserRecord, error)
	History(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Pairing, error)
	Lookup(ctx context.Context, imei string) (*model.Pairing, error)
	CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error)
}

type Service struct {
	tx        repository.Transactor
	devices   repository.DeviceRepository
	users     repository.UserRepository
	orgs      repository.OrganizationRepository
	policy    access.Policy
	auditor   *audit.Service
	events    event.Emitter
	validator validator.Validator
	metrics   *metrics.Metrics
	logger    *logger.Logger
	backoff   time.Duration
}

type Deps struct {
	Tx      repository.Transactor
	Devices repository.DeviceRepository
	Users   repository.UserRepository
	Orgs    repository.OrganizationRepository
	Policy  access.Policy
	Auditor *audit.Service
	Events  event.Emitter
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		tx:        d.Tx,
		devices:   d.Devices,
		users:     d.Users,
		orgs:      d.Orgs,
		policy:    d.Policy,
		auditor:   d.Auditor,
		events:    d.Events,
		validator: validator.New(),
		metrics:   d.Metrics,
		logger:    d.Logger,
		backoff:   20 * time.Millisecond,
	}
}

// Pair opens a pairing between the patient and imei. The check for an
// existing active pairing and the insert run in one serializable
// transaction holding row locks on both candidates; aborted transactions are
// retried so a racing loser sees AlreadyPaired instead of a transient error.
func (s *Service) Pair(ctx context.Context, caller *model.Caller, patientID int64, req model.PairRequest) (pairing *model.Pairing, err error) {
	target := model.UserTarget(model.KindPatient, patientID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionDevicePair, target, err) }()

	if err := s.validator.ValidateField("imei", req.IMEI, "required", "imei"); err != nil {
		return nil, errors.BadRequest(err.Error(), nil)
	}
	if err := s.policy.Require(ctx, caller, patientID, model.ActionPairDevice); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}

	for attempt := 1; ; attempt++ {
		pairing, err = s.pairOnce(ctx, caller, patientID, req.IMEI, start)
		if err == nil || !errors.Is(err, repository.ErrSerializationFailure) || attempt == maxPairAttempts {
			break
		}
		s.logger.Warn("pairing transaction aborted, retrying", "attempt", attempt, "patient_id", patientID)
		select {
		case <-ctx.Done():
			return nil, errors.Transient("pairing cancelled", ctx.Err())
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	if err != nil {
		if errors.ReasonOf(err) == errors.ReasonAlreadyPaired && s.metrics != nil {
			s.metrics.PairingConflicts.Inc()
		}
		return nil, err
	}

	s.logger.Info("device paired", "patient_id", patientID, "pairing_id", pairing.ID)
	return pairing, nil
}

func (s *Service) pairOnce(ctx context.Context, caller *model.Caller, patientID int64, imei string, start time.Time) (*model.Pairing, error) {
	var p *model.Pairing
	err := s.tx.WithSerializableTx(ctx, func(ctx context.Context) error {
		active, err := s.devices.LockActive(ctx, imei, patientID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return errors.Conflict(errors.ReasonAlreadyPaired, alreadyPairedMessage(active, imei), nil)
		}

		p = &model.Pairing{PatientInternalID: patientID, IMEI: imei, StartDate: start}
		if err := s.devices.Create(ctx, p); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionDevicePair, model.UserTarget(model.KindPatient, patientID), "imei="+imei); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventDevicePaired, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func alreadyPairedMessage(active []*model.Pairing, imei string) string {
	for _, p := range active {
		if p.IMEI == imei {
			return "device is already paired"
		}
	}
	return "patient already has a paired device"
}

// Unpair closes the patient's active pairing. Without one it succeeds and
// changes nothing.
func (s *Service) Unpair(ctx context.Context, caller *model.Caller, patientID int64, req model.UnpairRequest) (err error) {
	target := model.UserTarget(model.KindPatient, patientID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionDeviceUnpair, target, err) }()

	if err := s.policy.Require(ctx, caller, patientID, model.ActionPairDevice); err != nil {
		return err
	}
	end := time.Now().UTC()
	if req.EndDate != nil {
		end = req.EndDate.UTC()
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		active, err := s.devices.LockActive(ctx, "", patientID)
		if err != nil {
			return err
		}
		var current *model.Pairing
		for _, p := range active {
			if p.PatientInternalID == patientID {
				current = p
			}
		}
		if current == nil {
			return s.auditor.Record(ctx, caller, model.AuditActionDeviceUnpair, target, "no active pairing")
		}
		if end.Before(current.StartDate) {
			return errors.BadRequest("end_date is before the pairing start", nil)
		}

		closed, err := s.devices.CloseActive(ctx, patientID, end)
		if err != nil {
			return err
		}
		if closed == nil {
			return nil
		}
		if err := s.auditor.Record(ctx, caller, model.AuditActionDeviceUnpair, target, "imei="+closed.IMEI); err != nil {
			return err
		}
		return s.events.Emit(ctx, model.EventDeviceUnpaired, closed)
	})
}

// PairedUser resolves the patient an imei is paired with. It is open to
// super-admins and to the customer-admin of one of the patient's orgs.
func (s *Service) PairedUser(ctx context.Context, caller *model.Caller, imei string) (*model.UserRecord, error) {
	if caller.Kind != model.KindSuperAdmin && caller.Kind != model.KindCustomerAdmin {
		return nil, errors.Forbidden(errors.ReasonMissingPermission, "")
	}
	p, err := s.devices.ActiveByIMEI(ctx, imei)
	if err != nil {
		return nil, err
	}
	if caller.Kind == model.KindCustomerAdmin {
		member, err := s.orgs.IsMember(ctx, model.KindPatient, p.PatientInternalID, caller.OrgID)
		if err != nil {
			return nil, fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return nil, errors.Forbidden(errors.ReasonForeignOrg, "")
		}
	}
	return s.users.GetUser(ctx, model.KindPatient, p.PatientInternalID)
}

func (s *Service) History(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Pairing, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	rows, err := s.devices.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*model.Pairing{}
	}
	return rows, nil
}

// Lookup returns the active pairing of imei for internal consumers.
func (s *Service) Lookup(ctx context.Context, imei string) (*model.Pairing, error) {
	return s.devices.ActiveByIMEI(ctx, imei)
}

// CarersToNotify lists the alert receivers of the patient paired with imei
// that still share an org with the patient.
func (s *Service) CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error) {
	targets, err := s.devices.CarersToNotify(ctx, imei)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert receivers: %w", err)
	}
	return targets, nil
}
