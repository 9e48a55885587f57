package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/validator"
)

type ClinicalServicer interface {
	LabData(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.LabResult, error)
	Symptoms(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.SymptomSurvey, error)
	Diagnoses(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Diagnosis, error)
	AddDiagnosis(ctx context.Context, caller *model.Caller, patientID int64, req model.DiagnosisRequest) ([]*model.Diagnosis, error)
	BillingLog(ctx context.Context, caller *model.Caller, orgID int64, from, to *time.Time) ([]*model.BillingEntry, error)
}

type Service struct {
	tx        repository.Transactor
	repo      repository.ClinicalRepository
	users     repository.UserRepository
	orgs      repository.OrganizationRepository
	network   repository.NetworkRepository
	policy    access.Policy
	auditor   *audit.Service
	validator validator.Validator
	logger    *logger.Logger
}

func NewService(tx repository.Transactor, repo repository.ClinicalRepository, users repository.UserRepository, orgs repository.OrganizationRepository, network repository.NetworkRepository, policy access.Policy, auditor *audit.Service, logger *logger.Logger) *Service {
	return &Service{
		tx:        tx,
		repo:      repo,
		users:     users,
		orgs:      orgs,
		network:   network,
		policy:    policy,
		auditor:   auditor,
		validator: validator.New(),
		logger:    logger,
	}
}

func (s *Service) LabData(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.LabResult, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	rows, err := s.repo.LabData(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to read lab data: %w", err)
	}
	if rows == nil {
		rows = []*model.LabResult{}
	}
	return rows, nil
}

func (s *Service) Symptoms(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.SymptomSurvey, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	rows, err := s.repo.Symptoms(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to read symptoms: %w", err)
	}
	if rows == nil {
		rows = []*model.SymptomSurvey{}
	}
	return rows, nil
}

func (s *Service) Diagnoses(ctx context.Context, caller *model.Caller, patientID int64) ([]*model.Diagnosis, error) {
	if err := s.policy.Require(ctx, caller, patientID, model.ActionReadClinical); err != nil {
		return nil, err
	}
	rows, err := s.repo.Diagnoses(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to read diagnoses: %w", err)
	}
	if rows == nil {
		rows = []*model.Diagnosis{}
	}
	return rows, nil
}

// AddDiagnosis attaches ICD10 codes to the patient. Re-adding a code
// replaces its description.
func (s *Service) AddDiagnosis(ctx context.Context, caller *model.Caller, patientID int64, req model.DiagnosisRequest) (out []*model.Diagnosis, err error) {
	target := model.UserTarget(model.KindPatient, patientID)
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionDiagnosisAdd, target, err) }()

	if len(req.Codes) == 0 {
		return nil, errors.BadRequest("at least one diagnosis code is required", nil)
	}
	codes := make([]string, 0, len(req.Codes))
	for _, c := range req.Codes {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if err := s.validator.ValidateField("code", code, "required", "icd10"); err != nil {
			return nil, errors.BadRequest(err.Error(), nil)
		}
		codes = append(codes, code)
	}
	if err := s.policy.Require(ctx, caller, patientID, model.ActionWriteClinical); err != nil {
		return nil, err
	}

	var providerID int64
	if caller.Kind == model.KindProvider {
		providerID = caller.InternalID
	}
	out = make([]*model.Diagnosis, 0, len(codes))
	for i, code := range codes {
		out = append(out, &model.Diagnosis{
			PatientInternalID:  patientID,
			ICD10Code:          code,
			Description:        req.Codes[i].Description,
			ProviderInternalID: providerID,
		})
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.AddDiagnoses(ctx, out); err != nil {
			return fmt.Errorf("failed to add diagnoses: %w", err)
		}
		return s.auditor.Record(ctx, caller, model.AuditActionDiagnosisAdd, target, strings.Join(codes, ","))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BillingLog lists approved charges of orgID. Providers with billing
// permission see only the patients on their own network.
func (s *Service) BillingLog(ctx context.Context, caller *model.Caller, orgID int64, from, to *time.Time) ([]*model.BillingEntry, error) {
	if orgID == 0 {
		orgID = caller.OrgID
	}
	if orgID == 0 {
		return nil, errors.BadRequest("org_id is required", nil)
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, errors.BadRequest("billing range ends before it starts", nil)
	}

	filter := model.BillingFilter{OrgID: orgID, From: from, To: to}
	switch caller.Kind {
	case model.KindSuperAdmin:
	case model.KindCustomerAdmin:
		if caller.OrgID != orgID {
			return nil, s.deny(caller, orgID, errors.ReasonForeignOrg)
		}
	case model.KindProvider:
		ids, err := s.billablePatients(ctx, caller, orgID)
		if err != nil {
			return nil, err
		}
		filter.PatientIDs = ids
	default:
		return nil, s.deny(caller, orgID, errors.ReasonMissingPermission)
	}

	rows, err := s.repo.BillingLog(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read billing log: %w", err)
	}
	if rows == nil {
		rows = []*model.BillingEntry{}
	}
	return rows, nil
}

func (s *Service) billablePatients(ctx context.Context, caller *model.Caller, orgID int64) ([]int64, error) {
	if caller.OrgID != orgID {
		return nil, s.deny(caller, orgID, errors.ReasonForeignOrg)
	}
	member, err := s.orgs.IsMember(ctx, model.KindProvider, caller.InternalID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to check provider membership: %w", err)
	}
	if !member {
		return nil, s.deny(caller, orgID, errors.ReasonForeignOrg)
	}
	provider, err := s.users.GetProvider(ctx, caller.InternalID)
	if err != nil {
		return nil, err
	}
	if !provider.BillingPermission {
		return nil, s.deny(caller, orgID, errors.ReasonMissingPermission)
	}

	edges, err := s.network.EdgesOfCarer(ctx, caller.InternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list network: %w", err)
	}
	ids := make([]int64, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.PatientInternalID)
	}
	if len(ids) == 0 {
		return []int64{}, nil
	}
	inOrg, err := s.orgs.MembersAmong(ctx, model.KindPatient, orgID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to filter patients by org: %w", err)
	}
	if inOrg == nil {
		inOrg = []int64{}
	}
	return inOrg, nil
}

func (s *Service) deny(caller *model.Caller, orgID int64, reason errors.Reason) error {
	s.logger.Info("billing access denied",
		"caller_kind", caller.Kind.String(),
		"caller_id", caller.InternalID,
		"org_id", orgID,
		"reason", string(reason),
	)
	return errors.Forbidden(reason, "")
}
