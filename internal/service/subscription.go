package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// SubscriptionService manages the tenant subscription lifecycle: onboarding,
// threshold evaluation on roster growth, trial conversion and cancellation.
// Every write path serializes on the subscription row lock and commits the
// baseline advance together with its billing ledger row.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)

	// GetSubscriptionSummary assembles the tenant billing dashboard read
	// model: live student count, pending increase and threshold progress.
	// It never mutates billing state.
	GetSubscriptionSummary(ctx context.Context) (*dto.SubscriptionSummaryResponse, error)

	// EvaluateThreshold re-reads the tenant roster and, when the unbilled
	// increase has reached the plan threshold, emits a supplemental invoice
	// and advances the billed baseline in one transaction. Concurrent
	// evaluations collapse into a single billing event.
	EvaluateThreshold(ctx context.Context) (*dto.ThresholdEvaluationResponse, error)

	// ProcessTrialEnd converts a lapsed trial to active and emits the
	// initial invoice for non-free plans. Safe to call repeatedly; only the
	// first call bills.
	ProcessTrialEnd(ctx context.Context, now time.Time) (*dto.SubscriptionResponse, error)

	// CancelSubscription expires the tenant subscription. Expired is
	// terminal and excluded from all future billing.
	CancelSubscription(ctx context.Context) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
	billingService BillingService
	usageService   UsageService
}

func NewSubscriptionService(params ServiceParams, usageService UsageService) SubscriptionService {
	return &subscriptionService{
		ServiceParams:  params,
		billingService: NewBillingService(params),
		usageService:   usageService,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID := types.GetTenantID(ctx)
	if tenantID == "" {
		return nil, ierr.NewError("tenant id is required").
			WithHint("Tenant context is required to create a subscription").
			Mark(ierr.ErrValidation)
	}

	planEntity, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	// one live subscription per tenant
	existing, err := s.SubRepo.GetByTenant(ctx)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && !existing.IsExpired() {
		return nil, ierr.NewError("tenant already has a live subscription").
			WithHint("A school can only hold one live subscription").
			WithReportableDetails(map[string]any{
				"tenant_id":       tenantID,
				"subscription_id": existing.ID,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	startDate := now
	if req.StartDate != nil {
		startDate = req.StartDate.UTC()
	}

	count, err := s.RosterRepo.CurrentStudentCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sub := &subscription.Subscription{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:                 planEntity.ID,
		SubscriptionStatus:     types.SubscriptionStatusActive,
		IsTrial:                false,
		StartDate:              startDate,
		EndDate:                types.BillingCycleAnnual.NextPeriod(startDate),
		BillingCycle:           types.BillingCycleAnnual,
		StudentCountAtBaseline: count,
		CurrentBillingAmount:   decimal.Zero,
		NextBillingAmount:      planEntity.PricePerStudent.Mul(decimal.NewFromInt(int64(count))),
		IsPaid:                 true,
		LastInvoicedAt:         startDate,
		Version:                1,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	sub.NextBillingDate = sub.EndDate

	if planEntity.IsFree {
		sub.NextBillingAmount = decimal.Zero
	}

	if req.TrialDays > 0 {
		trialStart := startDate
		trialEnd := startDate.AddDate(0, 0, req.TrialDays)
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
		sub.IsTrial = true
		sub.TrialStart = &trialStart
		sub.TrialEnd = &trialEnd
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.SubRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("created subscription",
		"subscription_id", sub.ID,
		"tenant_id", tenantID,
		"plan_id", planEntity.ID,
		"status", sub.SubscriptionStatus,
		"student_count", count,
	)

	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) GetSubscriptionSummary(ctx context.Context) (*dto.SubscriptionSummaryResponse, error) {
	sub, err := s.SubRepo.GetByTenant(ctx)
	if err != nil {
		return nil, err
	}

	planEntity, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	// advisory read; billing paths re-read the committed count under lock
	count, err := s.usageService.CachedStudentCount(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}

	return &dto.SubscriptionSummaryResponse{
		Plan:                  &dto.PlanResponse{Plan: planEntity},
		SubscriptionID:        sub.ID,
		Status:                sub.SubscriptionStatus,
		IsTrial:               sub.IsTrial,
		CurrentStudentCount:   count,
		StudentCountAtBilling: sub.StudentCountAtBaseline,
		CurrentBillingAmount:  sub.CurrentBillingAmount,
		NextBillingAmount:     planEntity.PricePerStudent.Mul(decimal.NewFromInt(int64(count))),
		PendingIncrease:       sub.PendingIncrease(count),
		Threshold:             planEntity.StudentCountThreshold,
		ThresholdMet:          sub.ThresholdMet(planEntity.StudentCountThreshold, count),
		RemainingToThreshold:  sub.RemainingToThreshold(planEntity.StudentCountThreshold, count),
		NextBillingDate:       sub.NextBillingDate,
		IsPaid:                sub.IsPaid,
	}, nil
}

func (s *subscriptionService) EvaluateThreshold(ctx context.Context) (*dto.ThresholdEvaluationResponse, error) {
	var result *dto.ThresholdEvaluationResponse
	var emitted *billing.BillingHistory

	// concurrent roster changes race on the subscription version; retry the
	// whole transaction so each attempt sees a fresh baseline
	operation := func() error {
		emitted = nil
		res, rec, err := s.evaluateThresholdOnce(ctx)
		if err != nil {
			if ierr.IsVersionConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		emitted = rec
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Config.Billing.MaxRetries))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	// evaluation runs on roster-change notifications, so any cached count
	// for this tenant is stale now
	s.usageService.InvalidateTenant(types.GetTenantID(ctx))

	if emitted != nil {
		s.billingService.PublishInvoiceCreated(ctx, emitted)
	}

	return result, nil
}

// evaluateThresholdOnce runs a single locked evaluation pass. The returned
// billing record, if any, is already committed and awaits webhook publication.
func (s *subscriptionService) evaluateThresholdOnce(ctx context.Context) (*dto.ThresholdEvaluationResponse, *billing.BillingHistory, error) {
	var response *dto.ThresholdEvaluationResponse
	var emitted *billing.BillingHistory

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetByTenantForUpdate(ctx)
		if err != nil {
			return err
		}

		response = &dto.ThresholdEvaluationResponse{SubscriptionID: sub.ID}

		if sub.IsExpired() {
			return nil
		}

		now := time.Now().UTC()
		if sub.IsTrial {
			// roster changes are never billed until the trial-end
			// transition converts the subscription; that transition emits
			// the first invoice
			return nil
		}

		planEntity, err := s.PlanRepo.Get(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		count, err := s.RosterRepo.CurrentStudentCount(ctx, sub.TenantID)
		if err != nil {
			return err
		}

		pending := sub.PendingIncrease(count)
		response.Evaluated = true
		response.PendingIncrease = pending

		if planEntity.IsFree {
			if !sub.NextBillingAmount.IsZero() {
				sub.NextBillingAmount = decimal.Zero
				return s.SubRepo.Update(ctx, sub)
			}
			return nil
		}

		nextAmount := planEntity.PricePerStudent.Mul(decimal.NewFromInt(int64(count)))

		if !sub.ThresholdMet(planEntity.StudentCountThreshold, count) {
			// below threshold: refresh the renewal preview only, the
			// baseline stays where the last committed invoice left it
			if !sub.NextBillingAmount.Equal(nextAmount) {
				sub.NextBillingAmount = nextAmount
				return s.SubRepo.Update(ctx, sub)
			}
			return nil
		}

		record, err := s.billingService.Emit(ctx, EmitBillingEventRequest{
			Subscription: sub,
			Plan:         planEntity,
			BillingType:  types.BillingTypeThresholdMet,
			StudentCount: pending,
			PeriodStart:  sub.LastInvoicedAt,
			PeriodEnd:    now,
			BillingDate:  now,
		})
		if err != nil {
			if ierr.IsAlreadyExists(err) {
				// a concurrent evaluation already billed this growth
				response.ThresholdMet = true
				return nil
			}
			return err
		}

		sub.StudentCountAtBaseline = count
		sub.CurrentBillingAmount = record.BillingAmount
		sub.NextBillingAmount = nextAmount
		sub.IsPaid = false
		sub.LastInvoicedAt = now
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return err
		}

		response.ThresholdMet = true
		response.BillingRecord = &dto.BillingHistoryResponse{BillingHistory: record}
		emitted = record
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return response, emitted, nil
}

func (s *subscriptionService) ProcessTrialEnd(ctx context.Context, now time.Time) (*dto.SubscriptionResponse, error) {
	var sub *subscription.Subscription
	var emitted *billing.BillingHistory

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.SubRepo.GetByTenantForUpdate(ctx)
		if err != nil {
			return err
		}

		if !sub.TrialDue(now, s.Config.Billing.TrialGraceDays) {
			// already converted or still in trial; nothing to do
			return nil
		}

		if err := sub.ActivateFromTrial(); err != nil {
			return err
		}

		planEntity, err := s.PlanRepo.Get(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		count, err := s.RosterRepo.CurrentStudentCount(ctx, sub.TenantID)
		if err != nil {
			return err
		}

		// the paid cycle starts at trial end, not at signup
		sub.StartDate = now
		sub.EndDate = sub.BillingCycle.NextPeriod(now)
		sub.NextBillingDate = sub.EndDate

		if planEntity.IsFree || count == 0 {
			// free plans never bill; an empty roster converts without an
			// invoice and the first renewal or threshold event bills later
			sub.StudentCountAtBaseline = count
			sub.NextBillingAmount = decimal.Zero
			sub.LastInvoicedAt = now
			return s.SubRepo.Update(ctx, sub)
		}

		record, err := s.billingService.Emit(ctx, EmitBillingEventRequest{
			Subscription: sub,
			Plan:         planEntity,
			BillingType:  types.BillingTypeInitial,
			StudentCount: count,
			PeriodStart:  sub.LastInvoicedAt,
			PeriodEnd:    now,
			BillingDate:  now,
		})
		if err != nil {
			return err
		}

		sub.StudentCountAtBaseline = count
		sub.CurrentBillingAmount = record.BillingAmount
		sub.NextBillingAmount = record.BillingAmount
		sub.IsPaid = false
		sub.LastInvoicedAt = now
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return err
		}

		emitted = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if emitted != nil {
		s.billingService.PublishInvoiceCreated(ctx, emitted)
		s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionActivated, sub)
	}

	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context) (*dto.SubscriptionResponse, error) {
	var sub *subscription.Subscription

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.SubRepo.GetByTenantForUpdate(ctx)
		if err != nil {
			return err
		}

		if sub.IsExpired() {
			return nil
		}

		sub.Expire()
		return s.SubRepo.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("cancelled subscription",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
	)
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionExpired, sub)

	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) publishSubscriptionEvent(ctx context.Context, eventName string, sub *subscription.Subscription) {
	if s.WebhookPublisher == nil || sub == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"subscription_id": sub.ID,
		"plan_id":         sub.PlanID,
		"status":          sub.SubscriptionStatus,
	})
	if err != nil {
		s.Logger.Errorw("failed to marshal webhook payload",
			"error", err,
			"subscription_id", sub.ID,
		)
		return
	}

	event := &types.WebhookEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventName: eventName,
		TenantID:  sub.TenantID,
		UserID:    types.GetUserID(ctx),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	if err := s.WebhookPublisher.PublishWebhook(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish webhook event",
			"error", err,
			"event_name", eventName,
			"subscription_id", sub.ID,
		)
	}
}
