package model

import (
	"fmt"
	"time"
)

type AuditLevel string

const (
	AuditLevelInfo    AuditLevel = "INFO"
	AuditLevelWarning AuditLevel = "WARNING"
	AuditLevelError   AuditLevel = "ERROR"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
	AuditStatusDenied  AuditStatus = "DENIED"
)

// Audit actions
const (
	AuditActionAccessDenied    = "access_denied"
	AuditActionOrgCreate       = "org_create"
	AuditActionOrgUpdate       = "org_update"
	AuditActionOrgDelete       = "org_delete"
	AuditActionMemberAdd       = "member_add"
	AuditActionMemberRemove    = "member_remove"
	AuditActionNetworkReplace  = "network_replace"
	AuditActionEdgeAdd         = "edge_add"
	AuditActionEdgeRemove      = "edge_remove"
	AuditActionAlertReceiver   = "alert_receiver"
	AuditActionDevicePair      = "device_pair"
	AuditActionDeviceUnpair    = "device_unpair"
	AuditActionUserProvision   = "user_provision"
	AuditActionUserUpdate      = "user_update"
	AuditActionUserArchive     = "user_archive"
	AuditActionUserRestore     = "user_restore"
	AuditActionUserPurge       = "user_purge"
	AuditActionDiagnosisAdd    = "diagnosis_add"
	AuditActionCallStart       = "call_start"
	AuditActionCallUpdate      = "call_update"
	AuditActionChatMessageSend = "chat_message_send"
)

// Actor carries the auth_* columns shared by audit and change-log rows.
type Actor struct {
	Platform string `json:"auth_platform" db:"auth_platform"`
	IPv4     string `json:"auth_ipv4" db:"auth_ipv4"`
	Email    string `json:"auth_email" db:"auth_email"`
	Org      int64  `json:"auth_org" db:"auth_org"`
	ID       string `json:"auth_id" db:"auth_id"`
	Role     string `json:"auth_role" db:"auth_role"`
}

// ActorOf copies the caller into audit columns.
func ActorOf(c *Caller) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{
		Platform: c.Platform,
		IPv4:     c.IPv4,
		Email:    c.Email,
		Org:      c.OrgID,
		ID:       c.ExternalID,
		Role:     c.Kind.String(),
	}
}

type AuditEntry struct {
	ID           int64       `json:"id" db:"id"`
	UTCTimestamp time.Time   `json:"utc_timestamp" db:"utc_timestamp"`
	Level        AuditLevel  `json:"level" db:"level"`
	Action       string      `json:"action" db:"action"`
	Status       AuditStatus `json:"status" db:"status"`
	Actor
	TargetID   string `json:"target_id" db:"target_id"`
	TargetRole string `json:"target_role" db:"target_role"`
	Message    string `json:"message" db:"message"`
}

// Target identifies the object an audited action was applied to.
type Target struct {
	ID   string
	Role string
}

func UserTarget(kind UserKind, internalID int64) Target {
	return Target{ID: fmt.Sprint(internalID), Role: kind.String()}
}

type AuditFilter struct {
	ActorID  string
	ActorOrg int64
	TargetID string
	Action   string
	From     *time.Time
	To       *time.Time
	Pagination
}

type ChangeLogEntry struct {
	ID           int64     `json:"id" db:"id"`
	UTCTimestamp time.Time `json:"utc_timestamp" db:"utc_timestamp"`
	Actor
	TargetID   string `json:"target_id" db:"target_id"`
	TargetRole string `json:"target_role" db:"target_role"`
	ExternalID string `json:"external_id" db:"external_id"`
	Version    int    `json:"version" db:"version"`
}

// SnapshotKey is the sort key of the PHI snapshot paired with a version.
func SnapshotKey(version int) string {
	return fmt.Sprintf("v%d", version)
}

// HistoryEntry is a change-log row joined with its snapshot and actor name.
type HistoryEntry struct {
	Version      int       `json:"version"`
	UTCTimestamp time.Time `json:"utc_timestamp"`
	ActorID      string    `json:"actor_id"`
	ActorRole    string    `json:"actor_role"`
	ActorName    string    `json:"actor_name"`
	Snapshot     *PHI      `json:"snapshot,omitempty"`
}
