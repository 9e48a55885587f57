package memory

import (
	"context"
	"sort"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

type organizationRepository struct{ s *Store }

func (r *organizationRepository) Create(ctx context.Context, org *model.Organization) error {
	return r.s.do("CreateOrganization", func(d *state) error {
		d.orgSeq++
		org.ID = d.orgSeq
		org.CreatedAt = now()
		org.UpdatedAt = org.CreatedAt
		d.orgs[org.ID] = *org
		return nil
	})
}

func (r *organizationRepository) Get(ctx context.Context, id int64) (*model.Organization, error) {
	var out *model.Organization
	err := r.s.do("GetOrganization", func(d *state) error {
		org, ok := d.orgs[id]
		if !ok {
			return errors.NotFound("organization", nil)
		}
		out = &org
		return nil
	})
	return out, err
}

func (r *organizationRepository) Update(ctx context.Context, org *model.Organization) error {
	return r.s.do("UpdateOrganization", func(d *state) error {
		cur, ok := d.orgs[org.ID]
		if !ok {
			return errors.NotFound("organization", nil)
		}
		org.CreatedAt = cur.CreatedAt
		org.UpdatedAt = now()
		d.orgs[org.ID] = *org
		return nil
	})
}

func (r *organizationRepository) Delete(ctx context.Context, id int64) error {
	return r.s.do("DeleteOrganization", func(d *state) error {
		if _, ok := d.orgs[id]; !ok {
			return errors.NotFound("organization", nil)
		}
		delete(d.orgs, id)
		return nil
	})
}

func (r *organizationRepository) List(ctx context.Context) ([]*model.Organization, error) {
	var out []*model.Organization
	err := r.s.do("ListOrganizations", func(d *state) error {
		for _, org := range d.orgs {
			org := org
			out = append(out, &org)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r *organizationRepository) CountMembers(ctx context.Context, orgID int64) (int, error) {
	var n int
	err := r.s.do("CountMembers", func(d *state) error {
		for _, users := range d.members {
			for _, orgs := range users {
				if orgs[orgID] {
					n++
				}
			}
		}
		return nil
	})
	return n, err
}

func (r *organizationRepository) AddMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error {
	return r.s.do("AddMember", func(d *state) error {
		if kind == model.KindSuperAdmin || kind == model.KindUnknown {
			return errors.BadRequest("invalid user kind", nil)
		}
		if _, ok := d.orgs[orgID]; !ok {
			return errors.BadRequest("organization does not exist", nil)
		}
		if _, ok := d.user(kind, internalID); !ok {
			return errors.BadRequest("user does not exist", nil)
		}
		if d.members[kind] == nil {
			d.members[kind] = map[int64]map[int64]bool{}
		}
		orgs := d.members[kind][internalID]
		if orgs == nil {
			orgs = map[int64]bool{}
			d.members[kind][internalID] = orgs
		}
		if orgs[orgID] {
			return nil
		}
		if kind == model.KindCustomerAdmin && len(orgs) > 0 {
			return errors.Conflict(errors.ReasonDuplicateUser, "customer admin already belongs to an organization", nil)
		}
		orgs[orgID] = true
		return nil
	})
}

func (r *organizationRepository) RemoveMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) error {
	return r.s.do("RemoveMember", func(d *state) error {
		if !d.isMember(kind, internalID, orgID) {
			return errors.NotFound("membership", nil)
		}
		delete(d.members[kind][internalID], orgID)
		return nil
	})
}

func (r *organizationRepository) RemoveAllMemberships(ctx context.Context, kind model.UserKind, internalID int64) error {
	return r.s.do("RemoveAllMemberships", func(d *state) error {
		delete(d.members[kind], internalID)
		return nil
	})
}

func (r *organizationRepository) OrgsOf(ctx context.Context, kind model.UserKind, internalID int64) ([]int64, error) {
	var out []int64
	err := r.s.do("OrgsOf", func(d *state) error {
		out = d.orgsOf(kind, internalID)
		return nil
	})
	return out, err
}

func (r *organizationRepository) IsMember(ctx context.Context, kind model.UserKind, internalID, orgID int64) (bool, error) {
	var ok bool
	err := r.s.do("IsMember", func(d *state) error {
		ok = d.isMember(kind, internalID, orgID)
		return nil
	})
	return ok, err
}

func (r *organizationRepository) MembersAmong(ctx context.Context, kind model.UserKind, orgID int64, ids []int64) ([]int64, error) {
	var out []int64
	err := r.s.do("MembersAmong", func(d *state) error {
		for _, id := range model.Dedup(ids) {
			if d.isMember(kind, id, orgID) {
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}
