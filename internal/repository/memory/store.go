// Package memory implements the repository interfaces over in-process maps.
// It backs service and handler tests; transactions are serialized and roll
// back by restoring a copy of the state taken when they began.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
)

type txKey struct{}

type membershipSet map[model.UserKind]map[int64]map[int64]bool

type state struct {
	seq        int64
	patientSeq int64
	orgSeq     int64
	edgeSeq    int64
	rowSeq     int64

	providers  map[int64]model.Provider
	caregivers map[int64]model.Caregiver
	patients   map[int64]model.Patient
	admins     map[int64]model.CustomerAdmin
	supers     map[int64]model.User

	orgs    map[int64]model.Organization
	members membershipSet

	edges    map[int64]model.Edge
	pairings map[int64]model.Pairing

	audit     []model.AuditEntry
	changeLog []model.ChangeLogEntry
	outbox    []model.OutboxEvent

	calls     map[int64]model.CallRecord
	channels  map[int64]model.ChatChannel
	messages  []model.ChatMessage
	labs      []model.LabResult
	symptoms  []model.SymptomSurvey
	diagnoses []model.Diagnosis
	billing   []model.BillingEntry
}

func newState() *state {
	return &state{
		seq:        100,
		providers:  map[int64]model.Provider{},
		caregivers: map[int64]model.Caregiver{},
		patients:   map[int64]model.Patient{},
		admins:     map[int64]model.CustomerAdmin{},
		supers:     map[int64]model.User{},
		orgs:       map[int64]model.Organization{},
		members:    membershipSet{},
		edges:      map[int64]model.Edge{},
		pairings:   map[int64]model.Pairing{},
		calls:      map[int64]model.CallRecord{},
		channels:   map[int64]model.ChatChannel{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	c := *s
	c.providers = cloneMap(s.providers)
	c.caregivers = cloneMap(s.caregivers)
	c.patients = cloneMap(s.patients)
	c.admins = cloneMap(s.admins)
	c.supers = cloneMap(s.supers)
	c.orgs = cloneMap(s.orgs)
	c.members = membershipSet{}
	for kind, users := range s.members {
		c.members[kind] = map[int64]map[int64]bool{}
		for id, orgs := range users {
			c.members[kind][id] = cloneMap(orgs)
		}
	}
	c.edges = cloneMap(s.edges)
	c.pairings = cloneMap(s.pairings)
	c.audit = append([]model.AuditEntry(nil), s.audit...)
	c.changeLog = append([]model.ChangeLogEntry(nil), s.changeLog...)
	c.outbox = append([]model.OutboxEvent(nil), s.outbox...)
	c.calls = cloneMap(s.calls)
	c.channels = cloneMap(s.channels)
	c.messages = append([]model.ChatMessage(nil), s.messages...)
	c.labs = append([]model.LabResult(nil), s.labs...)
	c.symptoms = append([]model.SymptomSurvey(nil), s.symptoms...)
	c.diagnoses = append([]model.Diagnosis(nil), s.diagnoses...)
	c.billing = append([]model.BillingEntry(nil), s.billing...)
	return &c
}

// Store holds the relational state shared by every repository it hands out.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state

	faultMu sync.Mutex
	faults  map[string]error

	// TxCount counts top-level transactions that ran to completion.
	TxCount int
}

func NewStore() *Store {
	return &Store{data: newState(), faults: map[string]error{}}
}

// FailOn makes the named repository method return err until cleared with a
// nil err.
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[op]
}

func (s *Store) do(op string, fn func(d *state) error) error {
	if err := s.fault(op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
		return err
	}
	s.TxCount++
	return nil
}

// WithSerializableTx is WithTx; memory transactions are already serialized.
func (s *Store) WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.WithTx(ctx, fn)
}

// Repositories bundles every repository backed by one store.
type Repositories struct {
	Tx        repository.Transactor
	Users     repository.UserRepository
	Orgs      repository.OrganizationRepository
	Network   repository.NetworkRepository
	Devices   repository.DeviceRepository
	Audit     repository.AuditRepository
	ChangeLog repository.ChangeLogRepository
	Calls     repository.CallRepository
	Chat      repository.ChatRepository
	Clinical  repository.ClinicalRepository
	Outbox    repository.OutboxRepository
}

func (s *Store) Repositories() Repositories {
	return Repositories{
		Tx:        s,
		Users:     &userRepository{s},
		Orgs:      &organizationRepository{s},
		Network:   &networkRepository{s},
		Devices:   &deviceRepository{s},
		Audit:     &auditRepository{s},
		ChangeLog: &changeLogRepository{s},
		Calls:     &callRepository{s},
		Chat:      &chatRepository{s},
		Clinical:  &clinicalRepository{s},
		Outbox:    &outboxRepository{s},
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func (d *state) isMember(kind model.UserKind, id, orgID int64) bool {
	return d.members[kind][id][orgID]
}

func (d *state) orgsOf(kind model.UserKind, id int64) []int64 {
	var out []int64
	for org := range d.members[kind][id] {
		out = append(out, org)
	}
	return model.Dedup(out)
}

func (d *state) sharesOrg(aKind model.UserKind, a int64, bKind model.UserKind, b int64) bool {
	for org := range d.members[aKind][a] {
		if d.members[bKind][b][org] {
			return true
		}
	}
	return false
}
