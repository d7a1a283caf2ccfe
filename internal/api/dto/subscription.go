package dto

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type CreateSubscriptionRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
	// TrialDays, when positive, starts the subscription in trial for that
	// many days; zero means the subscription starts active with no trial
	TrialDays int        `json:"trial_days"`
	StartDate *time.Time `json:"start_date,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if r.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("Plan is required to create a subscription").
			Mark(ierr.ErrValidation)
	}
	if r.TrialDays < 0 {
		return ierr.NewError("trial_days must be non-negative").
			WithHint("Trial days must be non-negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type SubscriptionResponse struct {
	*subscription.Subscription
}

// SubscriptionSummaryResponse is the read model exposed to the presentation
// layer for a tenant's billing dashboard
type SubscriptionSummaryResponse struct {
	Plan                  *PlanResponse            `json:"plan"`
	SubscriptionID        string                   `json:"subscription_id"`
	Status                types.SubscriptionStatus `json:"status"`
	IsTrial               bool                     `json:"is_trial"`
	CurrentStudentCount   int                      `json:"current_student_count"`
	StudentCountAtBilling int                      `json:"student_count_at_billing"`
	CurrentBillingAmount  decimal.Decimal          `json:"current_billing_amount"`
	NextBillingAmount     decimal.Decimal          `json:"next_billing_amount"`
	PendingIncrease       int                      `json:"pending_increase"`
	Threshold             int                      `json:"threshold"`
	ThresholdMet          bool                     `json:"threshold_met"`
	RemainingToThreshold  int                      `json:"remaining_to_threshold"`
	NextBillingDate       time.Time                `json:"next_billing_date"`
	IsPaid                bool                     `json:"is_paid"`
}

// ThresholdEvaluationResponse reports the outcome of one threshold
// evaluation pass
type ThresholdEvaluationResponse struct {
	SubscriptionID  string                  `json:"subscription_id"`
	Evaluated       bool                    `json:"evaluated"`
	ThresholdMet    bool                    `json:"threshold_met"`
	PendingIncrease int                     `json:"pending_increase"`
	BillingRecord   *BillingHistoryResponse `json:"billing_record,omitempty"`
}

// RenewalSweepResponse aggregates the outcome of one renewal sweep run
type RenewalSweepResponse struct {
	Items        []*RenewalSweepResponseItem `json:"items"`
	TotalSuccess int                         `json:"total_success"`
	TotalFailed  int                         `json:"total_failed"`
	StartAt      time.Time                   `json:"start_at"`
}

type RenewalSweepResponseItem struct {
	SubscriptionID string `json:"subscription_id"`
	TenantID       string `json:"tenant_id"`
	Success        bool   `json:"success"`
	Skipped        bool   `json:"skipped"`
	Error          string `json:"error,omitempty"`
}
