package testutil

import (
	"context"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// InMemoryPlanStore implements plan.Repository
type InMemoryPlanStore struct {
	*InMemoryStore[*plan.Plan]
}

// NewInMemoryPlanStore creates a new in-memory plan store
func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		InMemoryStore: NewInMemoryStore[*plan.Plan](),
	}
}

func planFilterFn(ctx context.Context, p *plan.Plan, filter interface{}) bool {
	if p == nil {
		return false
	}

	f, ok := filter.(*types.QueryFilter)
	if !ok || f == nil {
		return p.Status != types.StatusDeleted
	}

	return string(p.Status) == f.GetStatus()
}

func planSortFn(i, j *plan.Plan) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}
	return s.InMemoryStore.Create(ctx, p.ID, p)
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || p.Status == types.StatusDeleted {
		return nil, ierr.NewError("plan not found").
			WithHintf("Plan %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

func (s *InMemoryPlanStore) GetByLookupKey(ctx context.Context, lookupKey string) (*plan.Plan, error) {
	plans, err := s.InMemoryStore.List(ctx, nil, planFilterFn, planSortFn)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.LookupKey == lookupKey {
			return p, nil
		}
	}
	return nil, ierr.NewError("plan not found").
		WithHintf("Plan with lookup key %s was not found", lookupKey).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPlanStore) List(ctx context.Context, filter *types.QueryFilter) ([]*plan.Plan, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	return s.InMemoryStore.List(ctx, filter, planFilterFn, planSortFn)
}

func (s *InMemoryPlanStore) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	return s.InMemoryStore.Count(ctx, filter, planFilterFn)
}

func (s *InMemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}
	p.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, p.ID, p)
}

func (s *InMemoryPlanStore) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Status = types.StatusDeleted
	p.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, id, p)
}
