package memory

import (
	"context"
	"sort"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type networkRepository struct{ s *Store }

func (d *state) edgeList(match func(e model.Edge) bool) []*model.Edge {
	var out []*model.Edge
	for _, e := range d.edges {
		if match(e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientInternalID != out[j].PatientInternalID {
			return out[i].PatientInternalID < out[j].PatientInternalID
		}
		return out[i].UserInternalID < out[j].UserInternalID
	})
	return out
}

func (d *state) findEdge(patientInternalID, carerInternalID int64) (int64, bool) {
	for id, e := range d.edges {
		if e.PatientInternalID == patientInternalID && e.UserInternalID == carerInternalID {
			return id, true
		}
	}
	return 0, false
}

func (r *networkRepository) EdgesOfPatient(ctx context.Context, patientInternalID, orgID int64) ([]*model.Edge, error) {
	var out []*model.Edge
	err := r.s.do("EdgesOfPatient", func(d *state) error {
		out = d.edgeList(func(e model.Edge) bool {
			if e.PatientInternalID != patientInternalID {
				return false
			}
			if orgID == 0 {
				return true
			}
			return d.isMember(model.KindPatient, patientInternalID, orgID) && d.isMember(e.UserType, e.UserInternalID, orgID)
		})
		return nil
	})
	return out, err
}

func (r *networkRepository) EdgesOfCarer(ctx context.Context, carerInternalID int64) ([]*model.Edge, error) {
	var out []*model.Edge
	err := r.s.do("EdgesOfCarer", func(d *state) error {
		out = d.edgeList(func(e model.Edge) bool { return e.UserInternalID == carerInternalID })
		return nil
	})
	return out, err
}

func (r *networkRepository) EdgesOfCarerInOrg(ctx context.Context, carerInternalID, orgID int64) ([]*model.Edge, error) {
	var out []*model.Edge
	err := r.s.do("EdgesOfCarerInOrg", func(d *state) error {
		out = d.edgeList(func(e model.Edge) bool {
			return e.UserInternalID == carerInternalID && d.isMember(model.KindPatient, e.PatientInternalID, orgID)
		})
		return nil
	})
	return out, err
}

func (r *networkRepository) HasEdge(ctx context.Context, patientInternalID, carerInternalID int64) (bool, error) {
	var ok bool
	err := r.s.do("HasEdge", func(d *state) error {
		_, ok = d.findEdge(patientInternalID, carerInternalID)
		return nil
	})
	return ok, err
}

func (r *networkRepository) CoPatients(ctx context.Context, a, b int64) ([]int64, error) {
	var out []int64
	err := r.s.do("CoPatients", func(d *state) error {
		seen := map[int64]bool{}
		for _, e := range d.edges {
			if e.UserInternalID == a {
				seen[e.PatientInternalID] = true
			}
		}
		for _, e := range d.edges {
			if e.UserInternalID == b && seen[e.PatientInternalID] {
				out = append(out, e.PatientInternalID)
			}
		}
		out = model.Dedup(out)
		return nil
	})
	return out, err
}

func (r *networkRepository) InsertEdges(ctx context.Context, carerInternalID int64, carerKind model.UserKind, patientInternalIDs []int64) (int64, error) {
	var n int64
	err := r.s.do("InsertEdges", func(d *state) error {
		if !carerKind.IsCarer() {
			return errors.BadRequest("invalid user type", nil)
		}
		for _, pid := range model.Dedup(patientInternalIDs) {
			p, ok := d.patients[pid]
			if !ok {
				return errors.BadRequest("patient does not exist", nil)
			}
			if _, exists := d.findEdge(pid, carerInternalID); exists {
				continue
			}
			d.edgeSeq++
			d.edges[d.edgeSeq] = model.Edge{
				ID:                d.edgeSeq,
				PatientID:         p.ID,
				PatientInternalID: pid,
				UserInternalID:    carerInternalID,
				UserType:          carerKind,
			}
			n++
		}
		return nil
	})
	return n, err
}

func (r *networkRepository) DeleteEdges(ctx context.Context, carerInternalID int64, patientInternalIDs []int64) (int64, error) {
	var n int64
	err := r.s.do("DeleteEdges", func(d *state) error {
		for _, pid := range patientInternalIDs {
			if id, ok := d.findEdge(pid, carerInternalID); ok {
				delete(d.edges, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *networkRepository) DeleteEdgesOfUser(ctx context.Context, kind model.UserKind, internalID int64) (int64, error) {
	var n int64
	err := r.s.do("DeleteEdgesOfUser", func(d *state) error {
		for id, e := range d.edges {
			if (kind == model.KindPatient && e.PatientInternalID == internalID) ||
				(kind.IsCarer() && e.UserInternalID == internalID) {
				delete(d.edges, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *networkRepository) DeleteOrphanedEdges(ctx context.Context, kind model.UserKind, internalID int64) (int64, error) {
	var n int64
	err := r.s.do("DeleteOrphanedEdges", func(d *state) error {
		for id, e := range d.edges {
			mine := (kind == model.KindPatient && e.PatientInternalID == internalID) ||
				(kind.IsCarer() && e.UserInternalID == internalID)
			if mine && !d.sharesOrg(model.KindPatient, e.PatientInternalID, e.UserType, e.UserInternalID) {
				delete(d.edges, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *networkRepository) SetCarerAlertReceiver(ctx context.Context, carerInternalID int64, status bool) (int64, error) {
	var n int64
	err := r.s.do("SetCarerAlertReceiver", func(d *state) error {
		for id, e := range d.edges {
			if e.UserInternalID == carerInternalID {
				e.AlertReceiver = model.Bit(status)
				d.edges[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *networkRepository) SetEdgeAlertReceiver(ctx context.Context, patientInternalID, carerInternalID int64, status bool) error {
	return r.s.do("SetEdgeAlertReceiver", func(d *state) error {
		id, ok := d.findEdge(patientInternalID, carerInternalID)
		if !ok {
			return errors.NotFound("network edge", nil)
		}
		e := d.edges[id]
		e.AlertReceiver = model.Bit(status)
		d.edges[id] = e
		return nil
	})
}
