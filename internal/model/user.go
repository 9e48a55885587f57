package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// UserKind is the closed set of account kinds.
type UserKind int

const (
	KindUnknown UserKind = iota
	KindPatient
	KindProvider
	KindCaregiver
	KindCustomerAdmin
	KindSuperAdmin
)

var kindNames = map[UserKind]string{
	KindPatient:       "patient",
	KindProvider:      "provider",
	KindCaregiver:     "caregiver",
	KindCustomerAdmin: "customer_admin",
	KindSuperAdmin:    "super_admin",
}

// ParseUserKind maps the role strings used by tokens and URLs onto a kind.
func ParseUserKind(s string) (UserKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case "patient":
		return KindPatient, nil
	case "provider":
		return KindProvider, nil
	case "caregiver":
		return KindCaregiver, nil
	case "customer_admin", "customeradmin":
		return KindCustomerAdmin, nil
	case "super_admin", "superadmin", "admin":
		return KindSuperAdmin, nil
	}
	return KindUnknown, fmt.Errorf("unknown user kind %q", s)
}

func (k UserKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsCarer reports whether the kind can sit on the carer side of a network edge.
func (k UserKind) IsCarer() bool {
	return k == KindProvider || k == KindCaregiver
}

func (k UserKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *UserKind) UnmarshalText(text []byte) error {
	parsed, err := ParseUserKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k *UserKind) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return k.UnmarshalText([]byte(v))
	case []byte:
		return k.UnmarshalText(v)
	}
	return fmt.Errorf("model: cannot scan %T into UserKind", src)
}

func (k UserKind) Value() (driver.Value, error) {
	return k.String(), nil
}

// ProviderRole is the clinical role of a provider.
type ProviderRole string

const (
	RolePhysician   ProviderRole = "physician"
	RoleCaseManager ProviderRole = "case_manager"
	RoleNurse       ProviderRole = "nurse"
)

func (r ProviderRole) Valid() bool {
	switch r {
	case RolePhysician, RoleCaseManager, RoleNurse:
		return true
	}
	return false
}

// User holds the columns shared by every kind relation.
type User struct {
	InternalID int64     `json:"internal_id" db:"internal_id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Username   string    `json:"username" db:"username"`
	Activated  Bit       `json:"activated" db:"activated"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UserRecord is a user of any kind.
type UserRecord struct {
	User
	Kind UserKind `json:"kind" db:"-"`
}

type Provider struct {
	User
	Role              ProviderRole `json:"role" db:"role"`
	Specialty         string       `json:"specialty" db:"specialty"`
	Degree            string       `json:"degree" db:"degree"`
	Group             string       `json:"group" db:"grp"`
	RemoteMonitoring  Flag         `json:"remote_monitoring" db:"remote_monitoring"`
	BillingPermission Flag         `json:"billing_permission" db:"billing_permission"`
	AlertReceiver     Bit          `json:"alert_receiver" db:"alert_receiver"`
}

type Caregiver struct {
	User
	RemoteMonitoring Flag `json:"remote_monitoring" db:"remote_monitoring"`
}

// Patient carries both the relational id used by network edges and the
// shared internal id used everywhere else.
type Patient struct {
	ID int64 `json:"-" db:"id"`
	User
	RemoteMonitoring Flag   `json:"remote_monitoring" db:"remote_monitoring"`
	HashDOB          string `json:"-" db:"hash_dob"`
	HashSSN          string `json:"-" db:"hash_ssn"`
	HashFName        string `json:"-" db:"hash_fname"`
	HashLName        string `json:"-" db:"hash_lname"`
}

type CustomerAdmin struct {
	User
}

// NewUserRequest is the payload for provisioning an account of any kind.
type NewUserRequest struct {
	Kind     UserKind `json:"kind" binding:"required"`
	OrgID    int64    `json:"org_id"`
	Username string   `json:"username" binding:"required,min=3,max=64"`
	// ExternalID is issued by the identity provider.
	ExternalID string `json:"external_id" binding:"required"`
	PHI        PHI    `json:"phi"`

	Role              ProviderRole `json:"role,omitempty"`
	Specialty         string       `json:"specialty,omitempty"`
	Degree            string       `json:"degree,omitempty"`
	Group             string       `json:"group,omitempty"`
	RemoteMonitoring  bool         `json:"remote_monitoring,omitempty"`
	BillingPermission bool         `json:"billing_permission,omitempty"`
}

// AuthContext is what the token carries about the caller, before it is
// checked against the directory.
type AuthContext struct {
	ExternalID string `json:"external_id"`
	Role       string `json:"role"`
	OrgID      int64  `json:"org_id"`
	Platform   string `json:"platform"`
	IPv4       string `json:"ipv4"`
	Email      string `json:"email"`
}

// Caller is a resolved, verified principal.
type Caller struct {
	Kind       UserKind
	InternalID int64
	ExternalID string
	OrgID      int64
	Platform   string
	IPv4       string
	Email      string
}

func (c *Caller) IsSuperAdmin() bool {
	return c != nil && c.Kind == KindSuperAdmin
}

// SystemCaller is used by background workers acting on behalf of the platform.
var SystemCaller = &Caller{Kind: KindSuperAdmin, ExternalID: "system", Platform: "worker"}

// RestoreRequest names the org a restored user rejoins. Zero means the
// caller's org.
type RestoreRequest struct {
	OrgID int64 `json:"org_id"`
}
