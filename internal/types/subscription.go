package types

import (
	"time"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle status of a tenant subscription.
// A subscription starts as trialing (optional), becomes active exactly once
// at trial-end processing and stays active through renewal cycles until it
// is cancelled, which is terminal.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusExpired,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingCycle is the cadence of full renewal billing. Only annual cycles
// are supported for now.
type BillingCycle string

const (
	BillingCycleAnnual BillingCycle = "annual"
)

func (c BillingCycle) String() string {
	return string(c)
}

func (c BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleAnnual,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Invalid billing cycle").
			WithReportableDetails(map[string]any{
				"billing_cycle":  c,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NextPeriod returns the period start advanced by one billing cycle
func (c BillingCycle) NextPeriod(from time.Time) time.Time {
	switch c {
	case BillingCycleAnnual:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}

// SubscriptionFilter filters subscription queries
type SubscriptionFilter struct {
	*QueryFilter
	*TimeRangeFilter
	PlanID             string               `json:"plan_id,omitempty" form:"plan_id"`
	SubscriptionStatus []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	// BillingDueBefore selects subscriptions whose next billing date or
	// effective trial end falls on or before the given instant
	BillingDueBefore *time.Time `json:"billing_due_before,omitempty" form:"billing_due_before"`
	// IDGreaterThan is a keyset cursor: only rows with a larger id are
	// returned. IDs are ULIDs, so the id order is the creation order and
	// page boundaries stay stable while rows are being updated.
	IDGreaterThan string `json:"id_greater_than,omitempty" form:"id_greater_than"`
}

func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *SubscriptionFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	if f.TimeRangeFilter != nil {
		if err := f.TimeRangeFilter.Validate(); err != nil {
			return err
		}
	}
	for _, status := range f.SubscriptionStatus {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *SubscriptionFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

func (f *SubscriptionFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

func (f *SubscriptionFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().IsUnlimited()
	}
	return f.QueryFilter.IsUnlimited()
}
