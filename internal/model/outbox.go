package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Domain event types
const (
	EventNetworkChanged    = "network.changed"
	EventMembershipChanged = "membership.changed"
	EventAlertReceiver     = "network.alert_receiver"
	EventDevicePaired      = "device.paired"
	EventDeviceUnpaired    = "device.unpaired"
	EventUserArchived      = "user.archived"
	EventUserRestored      = "user.restored"
	EventUserPurged        = "user.purged"
	EventReadingAlert      = "reading.alert"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
}

// ReadingAlert is the payload of a reading.alert event.
type ReadingAlert struct {
	Reading           Reading  `json:"reading"`
	PatientInternalID int64    `json:"patient_internal_id"`
	Recipients        []string `json:"recipients"`
}

// UserEvent is the payload of the user lifecycle events.
type UserEvent struct {
	Kind       UserKind `json:"kind"`
	InternalID int64    `json:"internal_id"`
	ExternalID string   `json:"external_id"`
	OrgID      int64    `json:"org_id,omitempty"`
}

type MembershipEvent struct {
	Membership
	Added        bool  `json:"added"`
	EdgesRemoved int64 `json:"edges_removed,omitempty"`
}
