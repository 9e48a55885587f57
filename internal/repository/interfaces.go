package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/caregem-api/internal/model"
)

// ErrSerializationFailure is wrapped into the Transient error returned when
// postgres aborts a serializable transaction. Callers may retry.
var ErrSerializationFailure = errors.New("could not serialize access")

// All repository interfaces in one file
type (
	// Transactor runs fn inside a transaction carried by ctx. Repositories
	// called with that ctx join the transaction.
	Transactor interface {
		WithTx(ctx context.Context, fn func(ctx context.Context) error) error
		WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	UserRepository interface {
		NextInternalID(ctx context.Context) (int64, error)
		GetUser(ctx context.Context, kind model.UserKind, internalID int64) (*model.UserRecord, error)
		GetUserByExternalID(ctx context.Context, kind model.UserKind, externalID string) (*model.UserRecord, error)
		GetProvider(ctx context.Context, internalID int64) (*model.Provider, error)
		GetCaregiver(ctx context.Context, internalID int64) (*model.Caregiver, error)
		GetPatient(ctx context.Context, internalID int64) (*model.Patient, error)
		CreateProvider(ctx context.Context, p *model.Provider) error
		CreateCaregiver(ctx context.Context, c *model.Caregiver) error
		CreatePatient(ctx context.Context, p *model.Patient) error
		CreateCustomerAdmin(ctx context.Context, a *model.CustomerAdmin) error
		FindPatientByIdentity(ctx context.Context, orgID int64, hashDOB, hashFName, hashLName string) (*model.Patient, error)
		UpdatePatientIdentity(ctx context.Context, p *model.Patient) error
		SetActivated(ctx context.Context, kind model.UserKind, internalID int64, activated bool) error
		SetProviderAlertReceiver(ctx context.Context, internalID int64, status bool) error
		Delete(ctx context.Context, kind model.UserKind, internalID int64) error
	}

	OrganizationRepository interface {
		Create(ctx context.Context, org *model.Organization) error
		Get(ctx context.Context, id int64) (*model.Organization, error)
		Update(ctx context.Context, org *model.Organization) error
		Delete(ctx context.Context, id int64) error
		List(ctx context.Context) ([]*model.Organization, error)
		CountMembers(ctx context.Context, orgID int64) (int, error)
		AddMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error
		RemoveMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error
		RemoveAllMemberships(ctx context.Context, kind model.UserKind, internalID int64) error
		OrgsOf(ctx context.Context, kind model.UserKind, internalID int64) ([]int64, error)
		IsMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) (bool, error)
		// MembersAmong returns the subset of ids that belong to orgID.
		MembersAmong(ctx context.Context, kind model.UserKind, orgID int64, ids []int64) ([]int64, error)
	}

	NetworkRepository interface {
		EdgesOfPatient(ctx context.Context, patientInternalID, orgID int64) ([]*model.Edge, error)
		EdgesOfCarer(ctx context.Context, carerInternalID int64) ([]*model.Edge, error)
		// EdgesOfCarerInOrg locks the carer's edges to patients of orgID.
		EdgesOfCarerInOrg(ctx context.Context, carerInternalID, orgID int64) ([]*model.Edge, error)
		HasEdge(ctx context.Context, patientInternalID, carerInternalID int64) (bool, error)
		CoPatients(ctx context.Context, a, b int64) ([]int64, error)
		InsertEdges(ctx context.Context, carerInternalID int64, carerKind model.UserKind, patientInternalIDs []int64) (int64, error)
		DeleteEdges(ctx context.Context, carerInternalID int64, patientInternalIDs []int64) (int64, error)
		DeleteEdgesOfUser(ctx context.Context, kind model.UserKind, internalID int64) (int64, error)
		// DeleteOrphanedEdges removes the user's edges whose ends no longer share an org.
		DeleteOrphanedEdges(ctx context.Context, kind model.UserKind, internalID int64) (int64, error)
		SetCarerAlertReceiver(ctx context.Context, carerInternalID int64, status bool) (int64, error)
		SetEdgeAlertReceiver(ctx context.Context, patientInternalID, carerInternalID int64, status bool) error
	}

	DeviceRepository interface {
		// LockActive locks active pairings of the imei or the patient.
		LockActive(ctx context.Context, imei string, patientInternalID int64) ([]*model.Pairing, error)
		Create(ctx context.Context, p *model.Pairing) error
		CloseActive(ctx context.Context, patientInternalID int64, end time.Time) (*model.Pairing, error)
		ActiveByIMEI(ctx context.Context, imei string) (*model.Pairing, error)
		History(ctx context.Context, patientInternalID int64) ([]*model.Pairing, error)
		CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, entry *model.AuditEntry) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
	}

	ChangeLogRepository interface {
		// Append assigns the next version for the entry's external id.
		Append(ctx context.Context, entry *model.ChangeLogEntry) error
		List(ctx context.Context, externalID string) ([]*model.ChangeLogEntry, error)
	}

	CallRepository interface {
		Create(ctx context.Context, call *model.CallRecord) error
		Get(ctx context.Context, id int64) (*model.CallRecord, error)
		Update(ctx context.Context, call *model.CallRecord) error
		ListByPatient(ctx context.Context, patientInternalID int64) ([]*model.CallRecord, error)
	}

	ChatRepository interface {
		GetChannel(ctx context.Context, id int64) (*model.ChatChannel, error)
		CreateMessage(ctx context.Context, msg *model.ChatMessage) error
		ListMessages(ctx context.Context, channelID int64, page model.Pagination) ([]*model.ChatMessage, error)
	}

	ClinicalRepository interface {
		LabData(ctx context.Context, patientInternalID int64) ([]*model.LabResult, error)
		Symptoms(ctx context.Context, patientInternalID int64) ([]*model.SymptomSurvey, error)
		AddDiagnoses(ctx context.Context, diagnoses []*model.Diagnosis) error
		Diagnoses(ctx context.Context, patientInternalID int64) ([]*model.Diagnosis, error)
		BillingLog(ctx context.Context, filter model.BillingFilter) ([]*model.BillingEntry, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// PHIStore is the KV store holding identifying data and its snapshots.
	PHIStore interface {
		Get(ctx context.Context, externalID string) (*model.PHI, error)
		GetMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error)
		Put(ctx context.Context, phi *model.PHI) error
		Delete(ctx context.Context, externalID string) error
		PutSnapshot(ctx context.Context, snap *model.PHISnapshot) error
		Snapshots(ctx context.Context, externalID string) ([]*model.PHISnapshot, error)
	}
)
