package types

import (
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/samber/lo"
)

// GlobalInvoiceSequenceID identifies the single row backing the global
// invoice number sequence
const GlobalInvoiceSequenceID = "global"

// BillingType categorizes why a billing history record was created
type BillingType string

const (
	// BillingTypeInitial is the one-time activation invoice emitted when a
	// trial converts to a paid subscription
	BillingTypeInitial BillingType = "initial"
	// BillingTypeThresholdMet is a supplemental invoice emitted when unbilled
	// student growth crosses the plan threshold mid-cycle
	BillingTypeThresholdMet BillingType = "threshold_met"
	// BillingTypeRenewal is the periodic full-count invoice emitted at the end
	// of every billing cycle
	BillingTypeRenewal BillingType = "renewal"
)

func (t BillingType) String() string {
	return string(t)
}

func (t BillingType) Validate() error {
	allowed := []BillingType{
		BillingTypeInitial,
		BillingTypeThresholdMet,
		BillingTypeRenewal,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid billing type").
			WithHint("Invalid billing type").
			WithReportableDetails(map[string]any{
				"billing_type":   t,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingHistoryFilter filters billing history queries
type BillingHistoryFilter struct {
	*QueryFilter
	*TimeRangeFilter
	SubscriptionID string        `json:"subscription_id,omitempty" form:"subscription_id"`
	BillingTypes   []BillingType `json:"billing_types,omitempty" form:"billing_types"`
	IsPaid         *bool         `json:"is_paid,omitempty" form:"is_paid"`
}

func NewBillingHistoryFilter() *BillingHistoryFilter {
	return &BillingHistoryFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *BillingHistoryFilter) Validate() error {
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
	for _, billingType := range f.BillingTypes {
		if err := billingType.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *BillingHistoryFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

func (f *BillingHistoryFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

func (f *BillingHistoryFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().IsUnlimited()
	}
	return f.QueryFilter.IsUnlimited()
}
