package model

import "time"

type ChatChannel struct {
	ID                int64     `json:"id" db:"id"`
	PatientInternalID int64     `json:"patient_internal_id" db:"patient_internal_id"`
	OrgID             int64     `json:"org_id" db:"org_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// ChatMessage is stored with Content encrypted and returned decrypted.
type ChatMessage struct {
	ID               int64     `json:"id" db:"id"`
	ChannelID        int64     `json:"channel_id" db:"channel_id"`
	SenderInternalID int64     `json:"sender_internal_id" db:"sender_internal_id"`
	SenderRole       string    `json:"sender_role" db:"sender_role"`
	SenderName       string    `json:"sender_name,omitempty" db:"-"`
	Content          string    `json:"content" db:"content"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required,max=4096"`
}
