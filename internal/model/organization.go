package model

import "time"

type Organization struct {
	ID                int64     `json:"id" db:"id"`
	Name              string    `json:"name" db:"name" binding:"required,max=255"`
	Address           string    `json:"address" db:"address"`
	Phone1            string    `json:"phone_1" db:"phone_1"`
	Phone1CountryCode string    `json:"phone_1_country_code" db:"phone_1_country_code" binding:"omitempty,dial_code"`
	Phone2            string    `json:"phone_2" db:"phone_2"`
	Phone2CountryCode string    `json:"phone_2_country_code" db:"phone_2_country_code" binding:"omitempty,dial_code"`
	Email             string    `json:"email" db:"email" binding:"omitempty,email"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Membership places a user of a given kind in an organization.
type Membership struct {
	Kind       UserKind `json:"kind" binding:"required"`
	InternalID int64    `json:"internal_id" binding:"required"`
	OrgID      int64    `json:"org_id"`
}
