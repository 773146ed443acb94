package memory

import (
	"context"
	"sync"

	"guardian/internal/backend"
	"guardian/pkg/domain"
	"guardian/pkg/platform/sentinel"

	"github.com/ethereum/go-ethereum/common"
)

// InMemoryStore is a thread-safe backend.Store for tests and local runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]backend.Credential
	profiles    map[domain.UserID]backend.Profile
}

func New() *InMemoryStore {
	return &InMemoryStore{
		credentials: map[string]backend.Credential{},
		profiles:    map[domain.UserID]backend.Profile{},
	}
}

func (s *InMemoryStore) CreateCredential(_ context.Context, c *backend.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[c.Email]; exists {
		return sentinel.ErrConflict
	}
	s.credentials[c.Email] = *c
	return nil
}

func (s *InMemoryStore) FindCredential(_ context.Context, email string) (*backend.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (s *InMemoryStore) FindProfile(_ context.Context, id domain.UserID) (*backend.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) FindProfileByAddress(_ context.Context, addr common.Address) (*backend.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Address != nil && *p.Address == addr {
			return clone(p), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) SaveProfile(_ context.Context, p *backend.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Address != nil {
		for id, other := range s.profiles {
			if id != p.UserID && other.Address != nil && *other.Address == *p.Address {
				return sentinel.ErrConflict
			}
		}
	}
	s.profiles[p.UserID] = *clone(*p)
	return nil
}

func (s *InMemoryStore) CreateProfileIfFirst(_ context.Context, p *backend.Profile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.profiles) > 0 {
		return false, nil
	}
	s.profiles[p.UserID] = *clone(*p)
	return true, nil
}

func (s *InMemoryStore) CountProfiles(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles), nil
}

func clone(p backend.Profile) *backend.Profile {
	if p.Address != nil {
		addr := *p.Address
		p.Address = &addr
	}
	return &p
}
