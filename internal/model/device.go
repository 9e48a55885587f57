package model

import "time"

type Pairing struct {
	ID                int64      `json:"id" db:"id"`
	PatientInternalID int64      `json:"patient_internal_id" db:"patient_internal_id"`
	IMEI              string     `json:"imei" db:"imei"`
	StartDate         time.Time  `json:"start_date" db:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty" db:"end_date"`
	Active            Flag       `json:"active" db:"active"`
}

type PairRequest struct {
	IMEI      string     `json:"imei" binding:"required,imei"`
	StartDate *time.Time `json:"start_date"`
}

type UnpairRequest struct {
	EndDate *time.Time `json:"end_date"`
}

// NotifyTarget is a carer subscribed to alerts for a paired patient.
type NotifyTarget struct {
	InternalID int64    `json:"internal_id" db:"internal_id"`
	ExternalID string   `json:"external_id" db:"external_id"`
	Kind       UserKind `json:"kind" db:"user_type"`
}

// Reading is one measurement published by a monitoring device.
type Reading struct {
	IMEI        string    `json:"imei"`
	ReadingType string    `json:"reading_type"`
	Value       float64   `json:"value"`
	ObservedAt  time.Time `json:"observed_at"`
}
