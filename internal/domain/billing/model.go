package billing

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// BillingHistory is one immutable row of the tenant billing ledger. Rows are
// append-only; the only permitted mutation is the one-way unpaid to paid
// transition.
type BillingHistory struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	// InvoiceNumber is globally unique and strictly increasing
	InvoiceNumber string `db:"invoice_number" json:"invoice_number"`

	BillingDate time.Time `db:"billing_date" json:"billing_date"`

	// PeriodStart and PeriodEnd bound the half-open interval this row
	// settles. Rows of one subscription tile the timeline: each period
	// starts where the previous one ended.
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`

	// StudentCount is the count billed against: the full roster count for
	// initial and renewal rows, the pending increase for threshold rows
	StudentCount int `db:"student_count" json:"student_count"`

	// PreviousStudentCount is the baseline before this event
	PreviousStudentCount int `db:"previous_student_count" json:"previous_student_count"`

	BillingAmount         decimal.Decimal `db:"billing_amount" json:"billing_amount"`
	PreviousBillingAmount decimal.Decimal `db:"previous_billing_amount" json:"previous_billing_amount"`

	BillingType types.BillingType `db:"billing_type" json:"billing_type"`

	// ThresholdTriggered is true only for threshold_met rows
	ThresholdTriggered bool `db:"threshold_triggered" json:"threshold_triggered"`

	IsPaid bool       `db:"is_paid" json:"is_paid"`
	PaidAt *time.Time `db:"paid_at" json:"paid_at"`

	types.BaseModel
}

func (b *BillingHistory) Validate() error {
	if err := b.BillingType.Validate(); err != nil {
		return err
	}

	if b.SubscriptionID == "" {
		return ierr.NewError("subscription id is required").
			WithHint("Billing history requires a subscription").
			Mark(ierr.ErrValidation)
	}

	if b.PeriodEnd.Before(b.PeriodStart) {
		return ierr.NewError("period end must not be before period start").
			WithHint("Billing period end must not be before period start").
			WithReportableDetails(map[string]any{
				"period_start": b.PeriodStart,
				"period_end":   b.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	if b.StudentCount < 0 {
		return ierr.NewError("student count must be non-negative").
			WithHint("Student count must be non-negative").
			Mark(ierr.ErrValidation)
	}

	if b.BillingAmount.IsNegative() {
		return ierr.NewError("billing amount must be non-negative").
			WithHint("Billing amount must be non-negative").
			Mark(ierr.ErrValidation)
	}

	if b.ThresholdTriggered && b.BillingType != types.BillingTypeThresholdMet {
		return ierr.NewError("threshold flag is only valid on threshold rows").
			WithHint("Threshold triggered flag is only valid on threshold billing records").
			Mark(ierr.ErrValidation)
	}

	return nil
}

// Overlaps reports whether the half-open period of this row intersects
// [start, end). Touching endpoints do not overlap, so tiled periods pass.
func (b *BillingHistory) Overlaps(start, end time.Time) bool {
	return start.Before(b.PeriodEnd) && end.After(b.PeriodStart)
}
