package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Subscription is the single live billing agreement of a tenant (school).
// It owns the billed baseline student count and the renewal schedule; all
// billing decisions are guarded transitions on this model.
type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// PlanID is the identifier for the plan in our system
	PlanID string `db:"plan_id" json:"plan_id"`

	// SubscriptionStatus is the lifecycle status of the subscription
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// IsTrial is true while the subscription has an unconverted trial
	IsTrial bool `db:"is_trial" json:"is_trial"`

	// TrialStart and TrialEnd are both nil iff the tenant never had a trial
	TrialStart *time.Time `db:"trial_start" json:"trial_start"`
	TrialEnd   *time.Time `db:"trial_end" json:"trial_end"`

	// StartDate is the start of the current billing cycle
	StartDate time.Time `db:"start_date" json:"start_date"`

	// EndDate is the end of the current billing cycle
	EndDate time.Time `db:"end_date" json:"end_date"`

	// BillingCycle is the cadence of full renewals, annual only for now
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`

	// NextBillingDate is when the renewal sweep should bill this tenant next
	NextBillingDate time.Time `db:"next_billing_date" json:"next_billing_date"`

	// StudentCountAtBaseline is the student count used to compute the last
	// committed invoice. It only moves forward, and only together with a
	// committed billing history row.
	StudentCountAtBaseline int `db:"student_count_at_baseline" json:"student_count_at_baseline"`

	// CurrentBillingAmount is a snapshot of what was last invoiced
	CurrentBillingAmount decimal.Decimal `db:"current_billing_amount" json:"current_billing_amount"`

	// NextBillingAmount is what a renewal would charge if it happened now
	NextBillingAmount decimal.Decimal `db:"next_billing_amount" json:"next_billing_amount"`

	// IsPaid is the payment status of the most recent billing event
	IsPaid bool `db:"is_paid" json:"is_paid"`

	// LastInvoicedAt is the period end of the latest ledger row; billing
	// periods for one subscription tile the timeline starting here
	LastInvoicedAt time.Time `db:"last_invoiced_at" json:"last_invoiced_at"`

	// Version is used for optimistic locking
	Version int `db:"version" json:"version"`

	types.BaseModel
}

// PendingIncrease is the unbilled student growth since the baseline,
// clamped to zero on withdrawals
func (s *Subscription) PendingIncrease(currentStudentCount int) int {
	increase := currentStudentCount - s.StudentCountAtBaseline
	if increase < 0 {
		return 0
	}
	return increase
}

// RemainingToThreshold is how many more students would trip an immediate
// supplemental invoice
func (s *Subscription) RemainingToThreshold(threshold, currentStudentCount int) int {
	remaining := threshold - s.PendingIncrease(currentStudentCount)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ThresholdMet reports whether the pending increase has reached the plan
// threshold
func (s *Subscription) ThresholdMet(threshold, currentStudentCount int) bool {
	return s.PendingIncrease(currentStudentCount) >= threshold
}

// EffectiveTrialEnd is the trial end extended by the configured grace period.
// Returns the zero time when the subscription never had a trial.
func (s *Subscription) EffectiveTrialEnd(graceDays int) time.Time {
	if s.TrialEnd == nil {
		return time.Time{}
	}
	return s.TrialEnd.AddDate(0, 0, graceDays)
}

// InTrialPeriod reports whether now falls inside the unconverted trial
// window, grace included
func (s *Subscription) InTrialPeriod(now time.Time, graceDays int) bool {
	if !s.IsTrial {
		return false
	}
	return now.Before(s.EffectiveTrialEnd(graceDays))
}

// TrialDue reports whether the trial has lapsed and the subscription should
// be converted to active
func (s *Subscription) TrialDue(now time.Time, graceDays int) bool {
	if !s.IsTrial || s.TrialEnd == nil {
		return false
	}
	return !now.Before(s.EffectiveTrialEnd(graceDays))
}

// ActivateFromTrial converts a trialing subscription to active. It is only
// valid exactly once, driven by trial-end processing.
func (s *Subscription) ActivateFromTrial() error {
	if !s.IsTrial || s.SubscriptionStatus != types.SubscriptionStatusTrialing {
		return ierr.NewError("subscription is not in trial").
			WithHint("Only trialing subscriptions can be activated from trial").
			WithReportableDetails(map[string]any{
				"subscription_id": s.ID,
				"status":          s.SubscriptionStatus,
				"is_trial":        s.IsTrial,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	s.IsTrial = false
	s.SubscriptionStatus = types.SubscriptionStatusActive
	return nil
}

// Expire terminates the subscription. Expired is terminal; expiring an
// already expired subscription is a no-op.
func (s *Subscription) Expire() {
	s.SubscriptionStatus = types.SubscriptionStatusExpired
}

// IsExpired reports whether the subscription is terminally cancelled
func (s *Subscription) IsExpired() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusExpired
}

// AdvanceCycle moves the billing cycle forward after a committed renewal
func (s *Subscription) AdvanceCycle() {
	s.StartDate = s.EndDate
	s.EndDate = s.BillingCycle.NextPeriod(s.EndDate)
	s.NextBillingDate = s.EndDate
}

func (s *Subscription) Validate() error {
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if err := s.BillingCycle.Validate(); err != nil {
		return err
	}

	if (s.TrialStart == nil) != (s.TrialEnd == nil) {
		return ierr.NewError("trial dates must both be set or both be empty").
			WithHint("Trial start and trial end must be set together").
			Mark(ierr.ErrValidation)
	}

	if s.TrialStart != nil && s.TrialEnd.Before(*s.TrialStart) {
		return ierr.NewError("trial end must be after trial start").
			WithHint("Trial end must be after trial start").
			Mark(ierr.ErrValidation)
	}

	if s.IsTrial && s.TrialEnd == nil {
		return ierr.NewError("trialing subscription requires trial dates").
			WithHint("Trialing subscriptions must carry trial dates").
			Mark(ierr.ErrValidation)
	}

	if s.EndDate.Before(s.StartDate) {
		return ierr.NewError("end date must be after start date").
			WithHint("Subscription end date must be after start date").
			Mark(ierr.ErrValidation)
	}

	if s.StudentCountAtBaseline < 0 {
		return ierr.NewError("baseline student count must be non-negative").
			WithHint("Baseline student count must be non-negative").
			Mark(ierr.ErrValidation)
	}

	return nil
}
