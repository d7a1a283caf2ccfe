package testutil

import (
	"context"
	"sync"

	"github.com/kangjhooe/xclass-sub019/internal/domain/roster"
)

var _ roster.StudentCountProvider = (*InMemoryRosterStore)(nil)

// InMemoryRosterStore is a controllable StudentCountProvider. Tests move the
// roster by setting counts per tenant.
type InMemoryRosterStore struct {
	mu     sync.RWMutex
	counts map[string]int
	errs   map[string]error
}

// NewInMemoryRosterStore creates a new in-memory roster store
func NewInMemoryRosterStore() *InMemoryRosterStore {
	return &InMemoryRosterStore{
		counts: make(map[string]int),
		errs:   make(map[string]error),
	}
}

// SetStudentCount sets the active student count for a tenant
func (s *InMemoryRosterStore) SetStudentCount(tenantID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[tenantID] = count
}

// FailTenant makes CurrentStudentCount fail for the given tenant
func (s *InMemoryRosterStore) FailTenant(tenantID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[tenantID] = err
}

func (s *InMemoryRosterStore) CurrentStudentCount(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.errs[tenantID]; err != nil {
		return 0, err
	}
	return s.counts[tenantID], nil
}

// Clear removes all counts and injected failures
func (s *InMemoryRosterStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	s.errs = make(map[string]error)
}
