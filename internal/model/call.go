package model

import "time"

type CallStatus string

const (
	CallNotStarted CallStatus = "NOT_STARTED"
	CallDraft      CallStatus = "DRAFT"
	CallCompleted  CallStatus = "COMPLETED"
	CallDeleted    CallStatus = "DELETED"
)

var callRank = map[CallStatus]int{
	CallNotStarted: 0,
	CallDraft:      1,
	CallCompleted:  2,
}

// CanTransition reports whether a record in status s may move to next.
// Statuses only move forward; DRAFT may be saved again and is the only
// status that can be deleted.
func (s CallStatus) CanTransition(next CallStatus) bool {
	if next == CallDeleted {
		return s == CallDraft
	}
	from, ok := callRank[s]
	if !ok {
		return false
	}
	to, ok := callRank[next]
	if !ok {
		return false
	}
	if s == CallDraft && next == CallDraft {
		return true
	}
	return to > from
}

type CallType string

const (
	CallAudio  CallType = "audio"
	CallVideo  CallType = "video"
	CallManual CallType = "manual"
)

type CallRecord struct {
	ID                 int64      `json:"id" db:"id"`
	MeetingID          *string    `json:"meeting_id,omitempty" db:"meeting_id"`
	PatientInternalID  int64      `json:"patient_internal_id" db:"patient_internal_id"`
	ProviderInternalID int64      `json:"provider_internal_id" db:"provider_internal_id"`
	OrgID              int64      `json:"org_id" db:"org_id"`
	StartTimestamp     time.Time  `json:"start_timestamp" db:"start_timestamp"`
	EndTimestamp       *time.Time `json:"end_timestamp,omitempty" db:"end_timestamp"`
	Duration           *int64     `json:"duration,omitempty" db:"duration"`
	Status             CallStatus `json:"status" db:"status"`
	Type               CallType   `json:"type" db:"type"`
	Notes              string     `json:"notes" db:"notes"`
}

// SetEnd records the end of the call and derives its duration in seconds,
// keeping the two fields present together.
func (c *CallRecord) SetEnd(end *time.Time) {
	if end == nil {
		c.EndTimestamp = nil
		c.Duration = nil
		return
	}
	t := *end
	d := int64(t.Sub(c.StartTimestamp).Seconds())
	if d < 0 {
		d = 0
	}
	c.EndTimestamp = &t
	c.Duration = &d
}

type StartCallRequest struct {
	MeetingID *string    `json:"meeting_id"`
	Type      CallType   `json:"type" binding:"required,oneof=audio video manual"`
	Start     *time.Time `json:"start_timestamp"`
	Notes     string     `json:"notes"`
}

type UpdateCallRequest struct {
	Status CallStatus `json:"status" binding:"required,oneof=DRAFT COMPLETED DELETED"`
	End    *time.Time `json:"end_timestamp"`
	Notes  *string    `json:"notes"`
}
