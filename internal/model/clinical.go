package model

import (
	"encoding/json"
	"time"
)

type LabResult struct {
	ID                int64     `json:"id" db:"id"`
	PatientInternalID int64     `json:"patient_internal_id" db:"patient_internal_id"`
	TestName          string    `json:"test_name" db:"test_name"`
	Value             string    `json:"value" db:"value"`
	Unit              string    `json:"unit" db:"unit"`
	CollectedAt       time.Time `json:"collected_at" db:"collected_at"`
}

type SymptomSurvey struct {
	ID                int64           `json:"id" db:"id"`
	PatientInternalID int64           `json:"patient_internal_id" db:"patient_internal_id"`
	Survey            string          `json:"survey" db:"survey"`
	Answers           json.RawMessage `json:"answers" db:"answers"`
	Severity          int             `json:"severity" db:"severity"`
	ReportedAt        time.Time       `json:"reported_at" db:"reported_at"`
}

type Diagnosis struct {
	ID                 int64     `json:"id" db:"id"`
	PatientInternalID  int64     `json:"patient_internal_id" db:"patient_internal_id"`
	ICD10Code          string    `json:"icd10_code" db:"icd10_code"`
	Description        string    `json:"description" db:"description"`
	ProviderInternalID int64     `json:"provider_internal_id" db:"provider_internal_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

type DiagnosisRequest struct {
	Codes []DiagnosisCode `json:"codes" binding:"required,min=1,dive"`
}

type DiagnosisCode struct {
	Code        string `json:"code" binding:"required,icd10"`
	Description string `json:"description"`
}

type BillingStatus string

const (
	BillingApproved BillingStatus = "APPROVED"
	BillingPending  BillingStatus = "PENDING"
)

type BillingEntry struct {
	ID                 int64         `json:"id" db:"id"`
	PatientInternalID  int64         `json:"patient_internal_id" db:"patient_internal_id"`
	ProviderInternalID int64         `json:"provider_internal_id" db:"provider_internal_id"`
	OrgID              int64         `json:"org_id" db:"org_id"`
	CPTCode            string        `json:"cpt_code" db:"cpt_code"`
	Units              int           `json:"units" db:"units"`
	Status             BillingStatus `json:"status" db:"status"`
	ServiceDate        time.Time     `json:"service_date" db:"service_date"`
}

type BillingFilter struct {
	OrgID int64
	// PatientIDs restricts the log to these patients when non-nil.
	PatientIDs []int64
	From       *time.Time
	To         *time.Time
}
