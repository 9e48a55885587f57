package postgres

import (
	"fmt"

	"github.com/jwalitptl/caregem-api/internal/model"
)

// kindTable names the relation holding users of a kind.
func kindTable(kind model.UserKind) (string, error) {
	switch kind {
	case model.KindPatient:
		return "patients", nil
	case model.KindProvider:
		return "providers", nil
	case model.KindCaregiver:
		return "caregivers", nil
	case model.KindCustomerAdmin:
		return "customer_admins", nil
	case model.KindSuperAdmin:
		return "super_admins", nil
	}
	return "", fmt.Errorf("no relation for user kind %d", kind)
}

// membershipTable names the (user, org) relation of a kind and its user column.
func membershipTable(kind model.UserKind) (table, column string, err error) {
	switch kind {
	case model.KindPatient:
		return "patient_org", "patient_internal_id", nil
	case model.KindProvider:
		return "provider_org", "provider_internal_id", nil
	case model.KindCaregiver:
		return "caregiver_org", "caregiver_internal_id", nil
	case model.KindCustomerAdmin:
		return "customer_admin_org", "customer_admin_internal_id", nil
	}
	return "", "", fmt.Errorf("user kind %s has no organization membership", kind)
}
