package presence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

// MemoryStore is a process-local Store for single-node deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]*userLock
	data  map[string][]connection.Descriptor
}

// userLock serializes updates for one user. It is dropped from the store
// once no update holds or waits on it.
type userLock struct {
	sync.Mutex
	refs int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*userLock),
		data:  make(map[string][]connection.Descriptor),
	}
}

func (s *MemoryStore) lockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &userLock{}
		s.locks[userID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.mu.Lock()
		defer s.mu.Unlock()
		if lock.refs--; lock.refs == 0 {
			delete(s.locks, userID)
		}
	}
}

func (s *MemoryStore) Load(ctx context.Context, userID string) ([]connection.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return connection.CloneAll(s.data[userID]), nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, mutate Mutator) ([]connection.Descriptor, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	unlock := s.lockUser(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	current := connection.CloneAll(s.data[userID])
	s.mu.Unlock()

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(next) == 0 {
		delete(s.data, userID)
		return nil, nil
	}
	s.data[userID] = connection.CloneAll(next)
	return connection.CloneAll(next), nil
}

func (s *MemoryStore) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.data))
	for userID := range s.data {
		users = append(users, userID)
	}
	slices.Sort(users)
	return users, nil
}

// Renew is a no-op; memory entries do not expire.
func (s *MemoryStore) Renew(ctx context.Context, _ []string) error {
	return ctx.Err()
}
