package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// RenewalService runs the periodic sweep over all tenants: it converts
// lapsed trials and bills due renewals. Each subscription is processed in
// its own transaction so one tenant's failure never blocks the rest.
type RenewalService interface {
	// ProcessDueSubscriptions pages through every subscription whose trial
	// end or next billing date has passed and processes each one. Running
	// the sweep twice for the same instant bills nothing twice.
	ProcessDueSubscriptions(ctx context.Context, now time.Time) (*dto.RenewalSweepResponse, error)
}

type renewalService struct {
	ServiceParams
	billingService      BillingService
	subscriptionService SubscriptionService
}

func NewRenewalService(params ServiceParams, subscriptionService SubscriptionService) RenewalService {
	return &renewalService{
		ServiceParams:       params,
		billingService:      NewBillingService(params),
		subscriptionService: subscriptionService,
	}
}

func (s *renewalService) ProcessDueSubscriptions(ctx context.Context, now time.Time) (*dto.RenewalSweepResponse, error) {
	response := &dto.RenewalSweepResponse{
		Items:   make([]*dto.RenewalSweepResponseItem, 0),
		StartAt: now,
	}

	filter := types.NewSubscriptionFilter()
	filter.QueryFilter.Limit = lo.ToPtr(s.Config.Billing.SweepBatchSize)
	filter.SubscriptionStatus = []types.SubscriptionStatus{
		types.SubscriptionStatusTrialing,
		types.SubscriptionStatusActive,
	}
	filter.BillingDueBefore = &now

	// snapshot the due set before processing, paging by id cursor:
	// processing moves billing dates forward, and a concurrent sweep doing
	// the same must not shift our page boundaries
	var due []*subscription.Subscription
	for {
		page, err := s.SubRepo.ListAllTenant(ctx, filter)
		if err != nil {
			return nil, err
		}
		due = append(due, page...)
		if len(page) < s.Config.Billing.SweepBatchSize {
			break
		}
		filter.IDGreaterThan = page[len(page)-1].ID
	}

	for _, sub := range due {
		item := s.processOne(ctx, sub, now)
		response.Items = append(response.Items, item)
		if item.Success {
			response.TotalSuccess++
		} else if !item.Skipped {
			response.TotalFailed++
		}
	}

	s.Logger.Infow("renewal sweep completed",
		"processed", len(response.Items),
		"success", response.TotalSuccess,
		"failed", response.TotalFailed,
	)

	return response, nil
}

func (s *renewalService) processOne(ctx context.Context, sub *subscription.Subscription, now time.Time) *dto.RenewalSweepResponseItem {
	item := &dto.RenewalSweepResponseItem{
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
	}

	tenantCtx := types.SetTenantID(ctx, sub.TenantID)

	var skipped bool
	operation := func() error {
		var err error
		if sub.IsTrial {
			skipped, err = s.convertTrial(tenantCtx, now)
		} else {
			skipped, err = s.processOneLocked(tenantCtx, now)
		}
		if err != nil {
			if ierr.IsVersionConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Config.Billing.MaxRetries))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		s.Logger.Errorw("failed to process due subscription",
			"error", err,
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
		)
		item.Error = err.Error()
		return item
	}

	item.Success = !skipped
	item.Skipped = skipped
	return item
}

// processOneLocked re-reads the subscription under lock and dispatches on
// what is actually due now. The re-read makes concurrent sweep runs and the
// threshold path agree on a single outcome per period.
func (s *renewalService) processOneLocked(ctx context.Context, now time.Time) (skipped bool, err error) {
	var emitted *billing.BillingHistory

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetByTenantForUpdate(ctx)
		if err != nil {
			return err
		}

		if sub.IsExpired() {
			skipped = true
			return nil
		}

		if sub.IsTrial || now.Before(sub.NextBillingDate) {
			// another run already handled this subscription
			skipped = true
			return nil
		}

		return s.renew(ctx, sub, now, &emitted)
	})
	if err != nil {
		return false, err
	}

	if emitted != nil {
		s.billingService.PublishInvoiceCreated(ctx, emitted)
	}
	return skipped, nil
}

// convertTrial delegates to the subscription service, which owns the
// trial-end transition and is the only producer of initial invoices.
func (s *renewalService) convertTrial(ctx context.Context, now time.Time) (skipped bool, err error) {
	resp, err := s.subscriptionService.ProcessTrialEnd(ctx, now)
	if err != nil {
		return false, err
	}
	// still trialing means the grace window has not lapsed yet
	return resp.IsTrial, nil
}

// renew bills the full current roster for the next cycle. Any carry-over
// growth below the threshold is absorbed here because the full count already
// includes it.
func (s *renewalService) renew(ctx context.Context, sub *subscription.Subscription, now time.Time, emitted **billing.BillingHistory) error {
	planEntity, err := s.PlanRepo.Get(ctx, sub.PlanID)
	if err != nil {
		return err
	}

	count, err := s.RosterRepo.CurrentStudentCount(ctx, sub.TenantID)
	if err != nil {
		return err
	}

	if planEntity.IsFree || count == 0 {
		// free plans never bill; an empty roster has nothing to bill and
		// must not wedge the sweep on this tenant
		sub.StudentCountAtBaseline = count
		sub.NextBillingAmount = decimal.Zero
		sub.LastInvoicedAt = now
		sub.AdvanceCycle()
		return s.SubRepo.Update(ctx, sub)
	}

	record, err := s.billingService.Emit(ctx, EmitBillingEventRequest{
		Subscription: sub,
		Plan:         planEntity,
		BillingType:  types.BillingTypeRenewal,
		StudentCount: count,
		PeriodStart:  sub.LastInvoicedAt,
		PeriodEnd:    now,
		BillingDate:  now,
	})
	if err != nil {
		if ierr.IsAlreadyExists(err) {
			// the period was already billed; treat the sweep as done
			return nil
		}
		return err
	}

	sub.StudentCountAtBaseline = count
	sub.CurrentBillingAmount = record.BillingAmount
	sub.NextBillingAmount = record.BillingAmount
	sub.IsPaid = false
	sub.LastInvoicedAt = now
	sub.AdvanceCycle()
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	*emitted = record
	return nil
}
