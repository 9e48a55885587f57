package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type deviceRepository struct{ s *Store }

func (r *deviceRepository) LockActive(ctx context.Context, imei string, patientInternalID int64) ([]*model.Pairing, error) {
	var out []*model.Pairing
	err := r.s.do("LockActive", func(d *state) error {
		for _, p := range d.pairings {
			if p.Active && (p.IMEI == imei || p.PatientInternalID == patientInternalID) {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	return out, err
}

func (r *deviceRepository) Create(ctx context.Context, p *model.Pairing) error {
	return r.s.do("CreatePairing", func(d *state) error {
		for _, cur := range d.pairings {
			if cur.Active && (cur.IMEI == p.IMEI || cur.PatientInternalID == p.PatientInternalID) {
				return errors.Conflict(errors.ReasonAlreadyPaired, "device or patient already paired", nil)
			}
		}
		d.rowSeq++
		p.ID = d.rowSeq
		p.Active = true
		p.EndDate = nil
		d.pairings[p.ID] = *p
		return nil
	})
}

func (r *deviceRepository) CloseActive(ctx context.Context, patientInternalID int64, end time.Time) (*model.Pairing, error) {
	var out *model.Pairing
	err := r.s.do("CloseActive", func(d *state) error {
		for id, p := range d.pairings {
			if p.Active && p.PatientInternalID == patientInternalID {
				e := end
				p.Active = false
				p.EndDate = &e
				d.pairings[id] = p
				out = &p
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *deviceRepository) ActiveByIMEI(ctx context.Context, imei string) (*model.Pairing, error) {
	var out *model.Pairing
	err := r.s.do("ActiveByIMEI", func(d *state) error {
		for _, p := range d.pairings {
			if p.Active && p.IMEI == imei {
				p := p
				out = &p
				return nil
			}
		}
		return errors.NotFound("pairing", nil)
	})
	return out, err
}

func (r *deviceRepository) History(ctx context.Context, patientInternalID int64) ([]*model.Pairing, error) {
	var out []*model.Pairing
	err := r.s.do("PairingHistory", func(d *state) error {
		for _, p := range d.pairings {
			if p.PatientInternalID == patientInternalID {
				p := p
				out = append(out, &p)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		return nil
	})
	return out, err
}

func (r *deviceRepository) CarersToNotify(ctx context.Context, imei string) ([]*model.NotifyTarget, error) {
	var out []*model.NotifyTarget
	err := r.s.do("CarersToNotify", func(d *state) error {
		var patientID int64
		found := false
		for _, p := range d.pairings {
			if p.Active && p.IMEI == imei {
				patientID, found = p.PatientInternalID, true
				break
			}
		}
		if !found {
			return nil
		}
		for _, e := range d.edges {
			if e.PatientInternalID != patientID || !e.AlertReceiver {
				continue
			}
			u, ok := d.user(e.UserType, e.UserInternalID)
			if !ok || !bool(u.Activated) {
				continue
			}
			if !d.sharesOrg(model.KindPatient, patientID, e.UserType, e.UserInternalID) {
				continue
			}
			out = append(out, &model.NotifyTarget{InternalID: u.InternalID, ExternalID: u.ExternalID, Kind: e.UserType})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].InternalID < out[j].InternalID })
		return nil
	})
	return out, err
}
