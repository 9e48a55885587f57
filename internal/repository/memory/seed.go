package memory

import (
	"fmt"
	"sort"

	"github.com/jwalitptl/caregem-api/internal/model"
)

// Seed helpers write straight into the state, bypassing repository checks.

func (s *Store) SeedOrg(id int64, name string) model.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	org := model.Organization{ID: id, Name: name, CreatedAt: now(), UpdatedAt: now()}
	s.data.orgs[id] = org
	if id > s.data.orgSeq {
		s.data.orgSeq = id
	}
	return org
}

func (s *Store) SeedMember(kind model.UserKind, id, orgID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedMember(kind, id, orgID)
}

func (s *Store) seedMember(kind model.UserKind, id, orgID int64) {
	d := s.data
	if _, ok := d.orgs[orgID]; !ok {
		d.orgs[orgID] = model.Organization{ID: orgID, Name: fmt.Sprintf("org-%d", orgID)}
		if orgID > d.orgSeq {
			d.orgSeq = orgID
		}
	}
	if d.members[kind] == nil {
		d.members[kind] = map[int64]map[int64]bool{}
	}
	if d.members[kind][id] == nil {
		d.members[kind][id] = map[int64]bool{}
	}
	d.members[kind][id][orgID] = true
}

func seedUser(kind model.UserKind, id int64) model.User {
	return model.User{
		InternalID: id,
		ExternalID: fmt.Sprintf("%s-%d", kind, id),
		Username:   fmt.Sprintf("%s%d", kind, id),
		Activated:  true,
		CreatedAt:  now(),
	}
}

func (s *Store) SeedPatient(id int64, orgs ...int64) model.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.patientSeq++
	p := model.Patient{ID: s.data.patientSeq, User: seedUser(model.KindPatient, id)}
	s.data.patients[id] = p
	for _, org := range orgs {
		s.seedMember(model.KindPatient, id, org)
	}
	return p
}

func (s *Store) SeedProvider(id int64, orgs ...int64) model.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Provider{User: seedUser(model.KindProvider, id), Role: model.RolePhysician}
	s.data.providers[id] = p
	for _, org := range orgs {
		s.seedMember(model.KindProvider, id, org)
	}
	return p
}

func (s *Store) SeedCaregiver(id int64, orgs ...int64) model.Caregiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := model.Caregiver{User: seedUser(model.KindCaregiver, id)}
	s.data.caregivers[id] = c
	for _, org := range orgs {
		s.seedMember(model.KindCaregiver, id, org)
	}
	return c
}

func (s *Store) SeedCustomerAdmin(id, orgID int64) model.CustomerAdmin {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := model.CustomerAdmin{User: seedUser(model.KindCustomerAdmin, id)}
	s.data.admins[id] = a
	s.seedMember(model.KindCustomerAdmin, id, orgID)
	return a
}

func (s *Store) SeedSuperAdmin(id int64) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := seedUser(model.KindSuperAdmin, id)
	s.data.supers[id] = u
	return u
}

func (s *Store) ModifyPatient(id int64, fn func(p *model.Patient)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.data.patients[id]
	fn(&p)
	s.data.patients[id] = p
}

func (s *Store) ModifyProvider(id int64, fn func(p *model.Provider)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.data.providers[id]
	fn(&p)
	s.data.providers[id] = p
}

func (s *Store) ModifyCaregiver(id int64, fn func(c *model.Caregiver)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.data.caregivers[id]
	fn(&c)
	s.data.caregivers[id] = c
}

func (s *Store) SeedEdge(patientID, carerID int64, kind model.UserKind, alertReceiver bool) model.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.edgeSeq++
	e := model.Edge{
		ID:                s.data.edgeSeq,
		PatientID:         s.data.patients[patientID].ID,
		PatientInternalID: patientID,
		UserInternalID:    carerID,
		UserType:          kind,
		AlertReceiver:     model.Bit(alertReceiver),
	}
	s.data.edges[e.ID] = e
	return e
}

func (s *Store) SeedPairing(p model.Pairing) model.Pairing {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rowSeq++
	p.ID = s.data.rowSeq
	s.data.pairings[p.ID] = p
	return p
}

func (s *Store) SeedLab(l model.LabResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rowSeq++
	l.ID = s.data.rowSeq
	s.data.labs = append(s.data.labs, l)
}

func (s *Store) SeedSymptom(sv model.SymptomSurvey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rowSeq++
	sv.ID = s.data.rowSeq
	s.data.symptoms = append(s.data.symptoms, sv)
}

func (s *Store) SeedBilling(b model.BillingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rowSeq++
	b.ID = s.data.rowSeq
	s.data.billing = append(s.data.billing, b)
}

func (s *Store) SeedChannel(ch model.ChatChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.channels[ch.ID] = ch
}

func (s *Store) SeedCall(c model.CallRecord) model.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rowSeq++
	c.ID = s.data.rowSeq
	s.data.calls[c.ID] = c
	return c
}

// Edges returns a copy of every edge ordered by patient then carer.
func (s *Store) Edges() []model.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Edge
	for _, e := range s.data.edgeList(func(model.Edge) bool { return true }) {
		out = append(out, *e)
	}
	return out
}

func (s *Store) Pairings() []model.Pairing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Pairing
	for _, p := range s.data.pairings {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AuditEntries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.data.audit...)
}

func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.data.outbox...)
}

func (s *Store) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.data.messages...)
}

func (s *Store) OrgsOf(kind model.UserKind, id int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.orgsOf(kind, id)
}

func (s *Store) User(kind model.UserKind, id int64) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.user(kind, id)
}

func (s *Store) Provider(id int64) model.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.providers[id]
}
