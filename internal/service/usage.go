package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	studentCountCacheTTL     = time.Minute
	studentCountCacheCleanup = 5 * time.Minute
)

// UsageService exposes the tenant's active-student count to billing
// decisions and dashboards. The count is a derived read of the roster; the
// enrollment write path lives outside this core.
type UsageService interface {
	// CurrentStudentCount reads the committed count. Billing decisions must
	// call this inside the transaction that mutates billing state.
	CurrentStudentCount(ctx context.Context, tenantID string) (int, error)

	// CachedStudentCount serves dashboard reads from a short-lived advisory
	// cache. It must never be trusted inside a billing transaction.
	CachedStudentCount(ctx context.Context, tenantID string) (int, error)

	// InvalidateTenant drops the cached count after a roster change
	// notification
	InvalidateTenant(tenantID string)
}

type usageService struct {
	ServiceParams
	cache *gocache.Cache
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{
		ServiceParams: params,
		cache:         gocache.New(studentCountCacheTTL, studentCountCacheCleanup),
	}
}

func (s *usageService) CurrentStudentCount(ctx context.Context, tenantID string) (int, error) {
	return s.RosterRepo.CurrentStudentCount(ctx, tenantID)
}

func (s *usageService) CachedStudentCount(ctx context.Context, tenantID string) (int, error) {
	if cached, found := s.cache.Get(tenantID); found {
		if count, ok := cached.(int); ok {
			return count, nil
		}
	}

	count, err := s.RosterRepo.CurrentStudentCount(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	s.cache.Set(tenantID, count, gocache.DefaultExpiration)
	return count, nil
}

func (s *usageService) InvalidateTenant(tenantID string) {
	s.cache.Delete(tenantID)
}
