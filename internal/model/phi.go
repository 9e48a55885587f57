package model

import "time"

// PHI is the identifying record kept in the KV store, never in the relational one.
type PHI struct {
	ExternalID      string `json:"external_id" dynamodbav:"external_id"`
	FirstName       string `json:"first_name,omitempty" dynamodbav:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty" dynamodbav:"last_name,omitempty"`
	Email           string `json:"email,omitempty" dynamodbav:"email,omitempty" binding:"omitempty,email"`
	Cell            string `json:"cell,omitempty" dynamodbav:"cell,omitempty"`
	CellCountryCode string `json:"cell_country_code,omitempty" dynamodbav:"cell_country_code,omitempty" binding:"omitempty,dial_code"`
	DOB             string `json:"dob,omitempty" dynamodbav:"dob,omitempty"`
	SSN             string `json:"ssn,omitempty" dynamodbav:"ssn,omitempty"`
}

// DisplayName joins first and last name, tolerating either being empty.
func (p *PHI) DisplayName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PHISnapshot is a versioned copy of a PHI record taken on a profile change.
type PHISnapshot struct {
	ExternalID string    `json:"external_id" dynamodbav:"external_id"`
	Version    string    `json:"version" dynamodbav:"version"`
	PHI        PHI       `json:"phi" dynamodbav:"phi"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at"`
}
