package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/errors"
)

// PHIStore is a KV store for PHI records. Like the real one it is not part
// of relational transactions.
type PHIStore struct {
	mu        sync.Mutex
	items     map[string]model.PHI
	snapshots map[string]map[string]model.PHISnapshot
	// Err, when set, is returned by every call.
	Err error
}

func NewPHIStore() *PHIStore {
	return &PHIStore{
		items:     map[string]model.PHI{},
		snapshots: map[string]map[string]model.PHISnapshot{},
	}
}

func (s *PHIStore) Get(ctx context.Context, externalID string) (*model.PHI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.items[externalID]
	if !ok {
		return nil, errors.NotFound("phi", nil)
	}
	return &p, nil
}

func (s *PHIStore) GetMany(ctx context.Context, externalIDs []string) (map[string]*model.PHI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]*model.PHI, len(externalIDs))
	for _, id := range externalIDs {
		if p, ok := s.items[id]; ok {
			p := p
			out[id] = &p
		}
	}
	return out, nil
}

func (s *PHIStore) Put(ctx context.Context, phi *model.PHI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.items[phi.ExternalID] = *phi
	return nil
}

func (s *PHIStore) Delete(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.items, externalID)
	return nil
}

func (s *PHIStore) PutSnapshot(ctx context.Context, snap *model.PHISnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	versions := s.snapshots[snap.ExternalID]
	if versions == nil {
		versions = map[string]model.PHISnapshot{}
		s.snapshots[snap.ExternalID] = versions
	}
	if _, ok := versions[snap.Version]; ok {
		return errors.Conflict("", "snapshot version already stored", nil)
	}
	versions[snap.Version] = *snap
	return nil
}

func (s *PHIStore) Snapshots(ctx context.Context, externalID string) ([]*model.PHISnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*model.PHISnapshot
	for _, snap := range s.snapshots[externalID] {
		snap := snap
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
