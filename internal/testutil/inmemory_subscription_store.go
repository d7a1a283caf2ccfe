package testutil

import (
	"context"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository with the same
// optimistic locking contract as the postgres repository: reads return
// copies, Update succeeds only when the caller's version matches the stored
// one.
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	if sub.TrialStart != nil {
		ts := *sub.TrialStart
		cp.TrialStart = &ts
	}
	if sub.TrialEnd != nil {
		te := *sub.TrialEnd
		cp.TrialEnd = &te
	}
	return &cp
}

func subscriptionFilterFn(ctx context.Context, sub *subscription.Subscription, filter interface{}) bool {
	if sub == nil || sub.Status == types.StatusDeleted {
		return false
	}

	f, ok := filter.(*types.SubscriptionFilter)
	if !ok || f == nil {
		return true
	}

	if f.PlanID != "" && sub.PlanID != f.PlanID {
		return false
	}

	if len(f.SubscriptionStatus) > 0 {
		match := false
		for _, status := range f.SubscriptionStatus {
			if sub.SubscriptionStatus == status {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.IDGreaterThan != "" && sub.ID <= f.IDGreaterThan {
		return false
	}

	if f.BillingDueBefore != nil {
		due := *f.BillingDueBefore
		billingDue := !sub.NextBillingDate.After(due)
		trialDue := sub.IsTrial && sub.TrialEnd != nil && !sub.TrialEnd.After(due)
		if !billingDue && !trialDue {
			return false
		}
	}

	return true
}

func subscriptionSortFn(i, j *subscription.Subscription) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

// subscriptionIDSortFn orders by id ascending, matching the keyset paging
// order of the postgres store
func subscriptionIDSortFn(i, j *subscription.Subscription) bool {
	if i == nil || j == nil {
		return false
	}
	return i.ID < j.ID
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}
	return s.InMemoryStore.Create(ctx, sub.ID, copySubscription(sub))
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || sub.Status == types.StatusDeleted {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Subscription %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) GetByTenant(ctx context.Context) (*subscription.Subscription, error) {
	tenantID := types.GetTenantID(ctx)

	subs, err := s.InMemoryStore.List(ctx, nil, subscriptionFilterFn, subscriptionSortFn)
	if err != nil {
		return nil, err
	}

	for _, sub := range subs {
		if sub.TenantID == tenantID {
			return copySubscription(sub), nil
		}
	}

	return nil, ierr.NewError("subscription not found").
		WithHintf("Tenant %s has no subscription", tenantID).
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) GetByTenantForUpdate(ctx context.Context) (*subscription.Subscription, error) {
	// no row locks in memory; version checks on Update keep writers honest
	return s.GetByTenant(ctx)
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	stored, err := s.InMemoryStore.Get(ctx, sub.ID)
	if err != nil || stored.Status == types.StatusDeleted {
		return ierr.NewError("subscription not found").
			WithHintf("Subscription %s was not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}

	if stored.Version != sub.Version {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("Subscription was modified by another operation, retry from a fresh read").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.UpdatedAt = time.Now().UTC()
	cp := copySubscription(sub)
	cp.Version = sub.Version + 1
	if err := s.InMemoryStore.Update(ctx, sub.ID, cp); err != nil {
		return err
	}

	sub.Version++
	return nil
}

func (s *InMemorySubscriptionStore) ListAllTenant(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, subscriptionIDSortFn)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(subs))
	for i, sub := range subs {
		result[i] = copySubscription(sub)
	}
	return result, nil
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	return s.InMemoryStore.Count(ctx, filter, subscriptionFilterFn)
}
