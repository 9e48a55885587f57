package memory

import (
	"context"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type userRepository struct{ s *Store }

func (d *state) user(kind model.UserKind, id int64) (model.User, bool) {
	switch kind {
	case model.KindPatient:
		p, ok := d.patients[id]
		return p.User, ok
	case model.KindProvider:
		p, ok := d.providers[id]
		return p.User, ok
	case model.KindCaregiver:
		c, ok := d.caregivers[id]
		return c.User, ok
	case model.KindCustomerAdmin:
		a, ok := d.admins[id]
		return a.User, ok
	case model.KindSuperAdmin:
		u, ok := d.supers[id]
		return u, ok
	}
	return model.User{}, false
}

func (d *state) externalTaken(externalID string) bool {
	for _, kind := range []model.UserKind{model.KindPatient, model.KindProvider, model.KindCaregiver, model.KindCustomerAdmin, model.KindSuperAdmin} {
		if _, ok := d.byExternalID(kind, externalID); ok {
			return true
		}
	}
	return false
}

func (d *state) byExternalID(kind model.UserKind, externalID string) (model.User, bool) {
	var users []model.User
	switch kind {
	case model.KindPatient:
		for _, p := range d.patients {
			users = append(users, p.User)
		}
	case model.KindProvider:
		for _, p := range d.providers {
			users = append(users, p.User)
		}
	case model.KindCaregiver:
		for _, c := range d.caregivers {
			users = append(users, c.User)
		}
	case model.KindCustomerAdmin:
		for _, a := range d.admins {
			users = append(users, a.User)
		}
	case model.KindSuperAdmin:
		for _, u := range d.supers {
			users = append(users, u)
		}
	}
	for _, u := range users {
		if u.ExternalID == externalID {
			return u, true
		}
	}
	return model.User{}, false
}

func (r *userRepository) NextInternalID(ctx context.Context) (int64, error) {
	var id int64
	err := r.s.do("NextInternalID", func(d *state) error {
		d.seq++
		id = d.seq
		return nil
	})
	return id, err
}

func (r *userRepository) GetUser(ctx context.Context, kind model.UserKind, internalID int64) (*model.UserRecord, error) {
	var rec *model.UserRecord
	err := r.s.do("GetUser", func(d *state) error {
		u, ok := d.user(kind, internalID)
		if !ok {
			return errors.NotFound(kind.String(), nil)
		}
		rec = &model.UserRecord{User: u, Kind: kind}
		return nil
	})
	return rec, err
}

func (r *userRepository) GetUserByExternalID(ctx context.Context, kind model.UserKind, externalID string) (*model.UserRecord, error) {
	var rec *model.UserRecord
	err := r.s.do("GetUserByExternalID", func(d *state) error {
		u, ok := d.byExternalID(kind, externalID)
		if !ok {
			return errors.NotFound(kind.String(), nil)
		}
		rec = &model.UserRecord{User: u, Kind: kind}
		return nil
	})
	return rec, err
}

func (r *userRepository) GetProvider(ctx context.Context, internalID int64) (*model.Provider, error) {
	var out *model.Provider
	err := r.s.do("GetProvider", func(d *state) error {
		p, ok := d.providers[internalID]
		if !ok {
			return errors.NotFound("provider", nil)
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *userRepository) GetCaregiver(ctx context.Context, internalID int64) (*model.Caregiver, error) {
	var out *model.Caregiver
	err := r.s.do("GetCaregiver", func(d *state) error {
		c, ok := d.caregivers[internalID]
		if !ok {
			return errors.NotFound("caregiver", nil)
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *userRepository) GetPatient(ctx context.Context, internalID int64) (*model.Patient, error) {
	var out *model.Patient
	err := r.s.do("GetPatient", func(d *state) error {
		p, ok := d.patients[internalID]
		if !ok {
			return errors.NotFound("patient", nil)
		}
		out = &p
		return nil
	})
	return out, err
}

func duplicate() error {
	return errors.Conflict(errors.ReasonDuplicateUser, "user already exists", nil)
}

func (r *userRepository) CreateProvider(ctx context.Context, p *model.Provider) error {
	return r.s.do("CreateProvider", func(d *state) error {
		if _, ok := d.providers[p.InternalID]; ok || d.externalTaken(p.ExternalID) {
			return duplicate()
		}
		p.CreatedAt = now()
		d.providers[p.InternalID] = *p
		return nil
	})
}

func (r *userRepository) CreateCaregiver(ctx context.Context, c *model.Caregiver) error {
	return r.s.do("CreateCaregiver", func(d *state) error {
		if _, ok := d.caregivers[c.InternalID]; ok || d.externalTaken(c.ExternalID) {
			return duplicate()
		}
		c.CreatedAt = now()
		d.caregivers[c.InternalID] = *c
		return nil
	})
}

func (r *userRepository) CreatePatient(ctx context.Context, p *model.Patient) error {
	return r.s.do("CreatePatient", func(d *state) error {
		if _, ok := d.patients[p.InternalID]; ok || d.externalTaken(p.ExternalID) {
			return duplicate()
		}
		d.patientSeq++
		p.ID = d.patientSeq
		p.CreatedAt = now()
		d.patients[p.InternalID] = *p
		return nil
	})
}

func (r *userRepository) CreateCustomerAdmin(ctx context.Context, a *model.CustomerAdmin) error {
	return r.s.do("CreateCustomerAdmin", func(d *state) error {
		if _, ok := d.admins[a.InternalID]; ok || d.externalTaken(a.ExternalID) {
			return duplicate()
		}
		a.CreatedAt = now()
		d.admins[a.InternalID] = *a
		return nil
	})
}

func (r *userRepository) FindPatientByIdentity(ctx context.Context, orgID int64, hashDOB, hashFName, hashLName string) (*model.Patient, error) {
	var out *model.Patient
	err := r.s.do("FindPatientByIdentity", func(d *state) error {
		for _, p := range d.patients {
			if d.isMember(model.KindPatient, p.InternalID, orgID) &&
				p.HashDOB == hashDOB && p.HashFName == hashFName && p.HashLName == hashLName {
				found := p
				out = &found
				return nil
			}
		}
		return errors.NotFound("patient", nil)
	})
	return out, err
}

func (r *userRepository) UpdatePatientIdentity(ctx context.Context, p *model.Patient) error {
	return r.s.do("UpdatePatientIdentity", func(d *state) error {
		cur, ok := d.patients[p.InternalID]
		if !ok {
			return errors.NotFound("patient", nil)
		}
		cur.HashDOB, cur.HashSSN, cur.HashFName, cur.HashLName = p.HashDOB, p.HashSSN, p.HashFName, p.HashLName
		d.patients[p.InternalID] = cur
		return nil
	})
}

func (r *userRepository) SetActivated(ctx context.Context, kind model.UserKind, internalID int64, activated bool) error {
	return r.s.do("SetActivated", func(d *state) error {
		bit := model.Bit(activated)
		switch kind {
		case model.KindPatient:
			if u, ok := d.patients[internalID]; ok {
				u.Activated = bit
				d.patients[internalID] = u
				return nil
			}
		case model.KindProvider:
			if u, ok := d.providers[internalID]; ok {
				u.Activated = bit
				d.providers[internalID] = u
				return nil
			}
		case model.KindCaregiver:
			if u, ok := d.caregivers[internalID]; ok {
				u.Activated = bit
				d.caregivers[internalID] = u
				return nil
			}
		case model.KindCustomerAdmin:
			if u, ok := d.admins[internalID]; ok {
				u.Activated = bit
				d.admins[internalID] = u
				return nil
			}
		case model.KindSuperAdmin:
			if u, ok := d.supers[internalID]; ok {
				u.Activated = bit
				d.supers[internalID] = u
				return nil
			}
		}
		return errors.NotFound(kind.String(), nil)
	})
}

func (r *userRepository) SetProviderAlertReceiver(ctx context.Context, internalID int64, status bool) error {
	return r.s.do("SetProviderAlertReceiver", func(d *state) error {
		p, ok := d.providers[internalID]
		if !ok {
			return errors.NotFound("provider", nil)
		}
		p.AlertReceiver = model.Bit(status)
		d.providers[internalID] = p
		return nil
	})
}

func (r *userRepository) Delete(ctx context.Context, kind model.UserKind, internalID int64) error {
	return r.s.do("Delete", func(d *state) error {
		if _, ok := d.user(kind, internalID); !ok {
			return errors.NotFound(kind.String(), nil)
		}
		switch kind {
		case model.KindPatient:
			delete(d.patients, internalID)
		case model.KindProvider:
			delete(d.providers, internalID)
		case model.KindCaregiver:
			delete(d.caregivers, internalID)
		case model.KindCustomerAdmin:
			delete(d.admins, internalID)
		case model.KindSuperAdmin:
			delete(d.supers, internalID)
		}
		delete(d.members[kind], internalID)
		return nil
	})
}
