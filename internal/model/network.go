package model

import "sort"

// Edge authorizes a carer to see a patient.
type Edge struct {
	ID                int64    `json:"id" db:"id"`
	PatientID         int64    `json:"-" db:"_patient_id"`
	PatientInternalID int64    `json:"patient_internal_id" db:"patient_internal_id"`
	UserInternalID    int64    `json:"user_internal_id" db:"user_internal_id"`
	UserType          UserKind `json:"user_type" db:"user_type"`
	AlertReceiver     Bit      `json:"alert_receiver" db:"alert_receiver"`
}

// NetworkDiff is the outcome of reconciling a carer's edges within an org.
type NetworkDiff struct {
	CarerInternalID int64   `json:"carer_internal_id"`
	OrgID           int64   `json:"org_id"`
	Before          []int64 `json:"before"`
	After           []int64 `json:"after"`
	Inserted        []int64 `json:"inserted"`
	Deleted         []int64 `json:"deleted"`
}

// Changed reports whether the reconciliation touched any edge.
func (d *NetworkDiff) Changed() bool {
	return len(d.Inserted) > 0 || len(d.Deleted) > 0
}

// NetworkUser is one entry of the desired patient set of a carer.
type NetworkUser struct {
	ID int64 `json:"id" binding:"required"`
}

type ReplaceNetworkRequest struct {
	OrgID int64         `json:"org_id"`
	Users []NetworkUser `json:"users" binding:"dive"`
}

type EdgeRequest struct {
	PatientID int64    `json:"patient_id" binding:"required"`
	CarerID   int64    `json:"carer_id" binding:"required"`
	CarerKind UserKind `json:"user_type" binding:"required"`
}

type AlertReceiverRequest struct {
	Status *int `json:"alert_receiver_status" binding:"required,oneof=0 1"`
}

// DiffPatients computes which patient ids must be deleted and inserted to
// turn current into desired. Duplicates in desired are ignored and both
// results are sorted.
func DiffPatients(current, desired []int64) (toDelete, toInsert []int64) {
	want := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	have := make(map[int64]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
		if _, ok := want[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	for id := range want {
		if _, ok := have[id]; !ok {
			toInsert = append(toInsert, id)
		}
	}
	sortIDs(toDelete)
	sortIDs(toInsert)
	return toDelete, toInsert
}

// Dedup returns the distinct ids in ascending order.
func Dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

type EdgeAlertReceiverRequest struct {
	PatientID int64    `json:"patient_id" binding:"required"`
	CarerID   int64    `json:"carer_id" binding:"required"`
	CarerKind UserKind `json:"user_type" binding:"required"`
	Status    *int     `json:"alert_receiver_status" binding:"required,oneof=0 1"`
}

// AlertReceiverChange is the payload of alert-receiver toggles. A zero
// PatientInternalID means every edge of the carer.
type AlertReceiverChange struct {
	CarerInternalID   int64 `json:"carer_internal_id"`
	PatientInternalID int64 `json:"patient_internal_id,omitempty"`
	Status            bool  `json:"status"`
	EdgesUpdated      int64 `json:"edges_updated"`
}
