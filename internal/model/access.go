package model

import "github.com/jwalitptl/caregem-api/pkg/errors"

// Action is what a caller wants to do with a patient's data.
type Action string

const (
	ActionReadClinical  Action = "read_clinical"
	ActionWriteClinical Action = "write_clinical"
	ActionPairDevice    Action = "pair_device"
	ActionViewBilling   Action = "view_billing"
)

// Decision is the outcome of an access predicate.
type Decision struct {
	Allow  bool
	Reason errors.Reason
}

func Allow() Decision {
	return Decision{Allow: true}
}

func Deny(reason errors.Reason) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into a Forbidden error, nil when allowed.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return errors.Forbidden(d.Reason, "")
}
