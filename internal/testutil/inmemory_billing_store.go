package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// InMemoryBillingStore implements billing.Repository with the same
// non-overlap guarantee as the postgres repository
type InMemoryBillingStore struct {
	*InMemoryStore[*billing.BillingHistory]

	mu       sync.Mutex
	sequence int64

	// CreateErr, when set, makes the next Create fail. Used to verify that
	// baseline updates never commit without their ledger row.
	CreateErr error
}

// NewInMemoryBillingStore creates a new in-memory billing store
func NewInMemoryBillingStore() *InMemoryBillingStore {
	return &InMemoryBillingStore{
		InMemoryStore: NewInMemoryStore[*billing.BillingHistory](),
	}
}

func billingFilterFn(ctx context.Context, record *billing.BillingHistory, filter interface{}) bool {
	if record == nil {
		return false
	}

	if tenantID := types.GetTenantID(ctx); tenantID != "" && record.TenantID != tenantID {
		return false
	}

	f, ok := filter.(*types.BillingHistoryFilter)
	if !ok || f == nil {
		return true
	}

	if f.SubscriptionID != "" && record.SubscriptionID != f.SubscriptionID {
		return false
	}

	if len(f.BillingTypes) > 0 {
		match := false
		for _, billingType := range f.BillingTypes {
			if record.BillingType == billingType {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.IsPaid != nil && record.IsPaid != *f.IsPaid {
		return false
	}

	if f.TimeRangeFilter != nil {
		if f.StartTime != nil && record.BillingDate.Before(*f.StartTime) {
			return false
		}
		if f.EndTime != nil && record.BillingDate.After(*f.EndTime) {
			return false
		}
	}

	return true
}

func billingSortFn(i, j *billing.BillingHistory) bool {
	if i == nil || j == nil {
		return false
	}
	return i.BillingDate.After(j.BillingDate)
}

func (s *InMemoryBillingStore) Create(ctx context.Context, record *billing.BillingHistory) error {
	if record == nil {
		return ierr.NewError("billing record cannot be nil").
			Mark(ierr.ErrValidation)
	}

	if s.CreateErr != nil {
		err := s.CreateErr
		s.CreateErr = nil
		return err
	}

	existing, err := s.InMemoryStore.List(ctx, nil, nil, nil)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.SubscriptionID != record.SubscriptionID {
			continue
		}
		if other.Overlaps(record.PeriodStart, record.PeriodEnd) {
			return ierr.NewError("billing period already billed").
				WithHint("An overlapping billing period already exists for this subscription").
				WithReportableDetails(map[string]any{
					"subscription_id": record.SubscriptionID,
					"period_start":    record.PeriodStart,
					"period_end":      record.PeriodEnd,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	return s.InMemoryStore.Create(ctx, record.ID, record)
}

func (s *InMemoryBillingStore) Get(ctx context.Context, id string) (*billing.BillingHistory, error) {
	record, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("billing history record not found").
			WithHintf("Billing record %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return record, nil
}

func (s *InMemoryBillingStore) GetLatestBySubscription(ctx context.Context, subscriptionID string) (*billing.BillingHistory, error) {
	records, err := s.InMemoryStore.List(ctx, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	var latest *billing.BillingHistory
	for _, record := range records {
		if record.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || record.PeriodStart.After(latest.PeriodStart) {
			latest = record
		}
	}

	if latest == nil {
		return nil, ierr.NewError("no billing history for subscription").
			WithHintf("Subscription %s has no billing history", subscriptionID).
			Mark(ierr.ErrNotFound)
	}
	return latest, nil
}

func (s *InMemoryBillingStore) List(ctx context.Context, filter *types.BillingHistoryFilter) ([]*billing.BillingHistory, error) {
	if filter == nil {
		filter = types.NewBillingHistoryFilter()
	}
	return s.InMemoryStore.List(ctx, filter, billingFilterFn, billingSortFn)
}

func (s *InMemoryBillingStore) Count(ctx context.Context, filter *types.BillingHistoryFilter) (int, error) {
	if filter == nil {
		filter = types.NewBillingHistoryFilter()
	}
	return s.InMemoryStore.Count(ctx, filter, billingFilterFn)
}

func (s *InMemoryBillingStore) MarkPaid(ctx context.Context, id string) (*billing.BillingHistory, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !record.IsPaid {
		now := time.Now().UTC()
		record.IsPaid = true
		record.PaidAt = &now
		record.UpdatedAt = now
		if err := s.InMemoryStore.Update(ctx, id, record); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func (s *InMemoryBillingStore) NextInvoiceNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence, nil
}
