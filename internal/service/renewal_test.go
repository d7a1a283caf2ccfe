package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/testutil"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type RenewalServiceSuite struct {
	testutil.BaseServiceTestSuite
	service             RenewalService
	subscriptionService SubscriptionService
	planRepo            *testutil.InMemoryPlanStore
	subRepo             *testutil.InMemorySubscriptionStore
	billingRepo         *testutil.InMemoryBillingStore
	rosterRepo          *testutil.InMemoryRosterStore
	testData            struct {
		plan     *plan.Plan
		freePlan *plan.Plan
	}
}

func TestRenewalService(t *testing.T) {
	suite.Run(t, new(RenewalServiceSuite))
}

func (s *RenewalServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	s.planRepo = s.GetStores().PlanRepo.(*testutil.InMemoryPlanStore)
	s.subRepo = s.GetStores().SubRepo.(*testutil.InMemorySubscriptionStore)
	s.billingRepo = s.GetStores().BillingRepo.(*testutil.InMemoryBillingStore)
	s.rosterRepo = s.GetStores().RosterRepo.(*testutil.InMemoryRosterStore)

	params := ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		PlanRepo:         s.planRepo,
		SubRepo:          s.subRepo,
		BillingRepo:      s.billingRepo,
		RosterRepo:       s.rosterRepo,
		WebhookPublisher: s.GetWebhookPublisher(),
	}
	s.subscriptionService = NewSubscriptionService(params, NewUsageService(params))
	s.service = NewRenewalService(params, s.subscriptionService)

	s.testData.plan = &plan.Plan{
		ID:                    "plan_standard",
		Name:                  "Standard",
		Currency:              "idr",
		PricePerStudent:       decimal.NewFromInt(50000),
		StudentCountThreshold: 10,
		BaseModel:             types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.planRepo.Create(s.GetContext(), s.testData.plan))

	s.testData.freePlan = &plan.Plan{
		ID:                    "plan_free",
		Name:                  "Free",
		Currency:              "idr",
		PricePerStudent:       decimal.Zero,
		IsFree:                true,
		StudentCountThreshold: 10,
		BaseModel:             types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.planRepo.Create(s.GetContext(), s.testData.freePlan))
}

// tenantContext returns a context scoped to the given tenant
func (s *RenewalServiceSuite) tenantContext(tenantID string) context.Context {
	return types.SetTenantID(s.GetContext(), tenantID)
}

func (s *RenewalServiceSuite) createSubscription(ctx context.Context, planID string, studentCount, trialDays int) {
	tenantID := types.GetTenantID(ctx)
	s.rosterRepo.SetStudentCount(tenantID, studentCount)

	_, err := s.subscriptionService.CreateSubscription(ctx, dto.CreateSubscriptionRequest{
		PlanID:    planID,
		TrialDays: trialDays,
	})
	s.NoError(err)
}

// lapseTrial rewinds the trial window so the subscription is due for
// trial-end processing
func (s *RenewalServiceSuite) lapseTrial(ctx context.Context) {
	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)

	trialStart := time.Now().UTC().AddDate(0, 0, -31)
	trialEnd := time.Now().UTC().AddDate(0, 0, -1)
	sub.TrialStart = &trialStart
	sub.TrialEnd = &trialEnd
	s.NoError(s.subRepo.Update(ctx, sub))
}

// makeRenewalDue rewinds the billing cycle so the subscription is due for
// renewal
func (s *RenewalServiceSuite) makeRenewalDue(ctx context.Context) {
	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)

	sub.StartDate = time.Now().UTC().AddDate(-1, 0, -1)
	sub.EndDate = time.Now().UTC().AddDate(0, 0, -1)
	sub.NextBillingDate = sub.EndDate
	sub.LastInvoicedAt = sub.StartDate
	s.NoError(s.subRepo.Update(ctx, sub))
}

func (s *RenewalServiceSuite) TestTrialEndEmitsInitialInvoice() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 50, 30)
	s.lapseTrial(ctx)

	now := time.Now().UTC()
	resp, err := s.service.ProcessDueSubscriptions(ctx, now)
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)
	s.Equal(0, resp.TotalFailed)

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.False(sub.IsTrial)
	s.Equal(50, sub.StudentCountAtBaseline)
	s.False(sub.IsPaid)
	s.WithinDuration(now.AddDate(1, 0, 0), sub.NextBillingDate, time.Minute)

	records, err := s.billingRepo.List(ctx, nil)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal(types.BillingTypeInitial, records[0].BillingType)
	s.Equal(50, records[0].StudentCount)
	s.True(records[0].BillingAmount.Equal(decimal.NewFromInt(2500000)))
}

func (s *RenewalServiceSuite) TestRenewalAbsorbsCarryOver() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 100, 0)
	s.makeRenewalDue(ctx)

	// growth of 5 stayed below the threshold all cycle; the renewal bills
	// the full current count, absorbing the carry-over
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 105)

	resp, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)

	records, err := s.billingRepo.List(ctx, nil)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal(types.BillingTypeRenewal, records[0].BillingType)
	s.Equal(105, records[0].StudentCount)
	s.True(records[0].BillingAmount.Equal(decimal.NewFromInt(5250000)))

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.Equal(105, sub.StudentCountAtBaseline)
	s.False(sub.IsPaid)
}

func (s *RenewalServiceSuite) TestSweepIsIdempotent() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 100, 0)
	s.makeRenewalDue(ctx)

	now := time.Now().UTC()
	first, err := s.service.ProcessDueSubscriptions(ctx, now)
	s.NoError(err)
	s.Equal(1, first.TotalSuccess)

	// a second sweep at the same instant finds nothing due
	second, err := s.service.ProcessDueSubscriptions(ctx, now)
	s.NoError(err)
	s.Equal(0, second.TotalSuccess)
	s.Equal(0, second.TotalFailed)

	count, err := s.billingRepo.Count(ctx, nil)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *RenewalServiceSuite) TestFreePlanRenewsSilently() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.freePlan.ID, 100, 0)
	s.makeRenewalDue(ctx)

	resp, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)

	count, err := s.billingRepo.Count(ctx, nil)
	s.NoError(err)
	s.Equal(0, count)

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.True(sub.NextBillingDate.After(time.Now().UTC()))
	s.True(sub.NextBillingAmount.IsZero())
}

func (s *RenewalServiceSuite) TestFailureIsolationBetweenTenants() {
	ctxA := s.tenantContext("tenant_a")
	ctxB := s.tenantContext("tenant_b")

	s.createSubscription(ctxA, s.testData.plan.ID, 30, 0)
	s.createSubscription(ctxB, s.testData.plan.ID, 60, 0)
	s.makeRenewalDue(ctxA)
	s.makeRenewalDue(ctxB)

	// tenant A's roster read fails; tenant B must still renew
	s.rosterRepo.FailTenant("tenant_a", errors.New("roster unavailable"))

	resp, err := s.service.ProcessDueSubscriptions(s.GetContext(), time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)
	s.Equal(1, resp.TotalFailed)

	records, err := s.billingRepo.List(ctxB, nil)
	s.NoError(err)
	s.Len(records, 1)
	s.Equal("tenant_b", records[0].TenantID)
}

func (s *RenewalServiceSuite) TestZeroRosterRenewalSkipsInvoice() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 100, 0)
	s.makeRenewalDue(ctx)

	// every student withdrew during the cycle; the renewal has nothing to
	// bill but must still advance the cycle
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 0)

	resp, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)
	s.Equal(0, resp.TotalFailed)

	count, err := s.billingRepo.Count(ctx, nil)
	s.NoError(err)
	s.Equal(0, count)

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.True(sub.NextBillingDate.After(time.Now().UTC()))
	s.Equal(0, sub.StudentCountAtBaseline)
	s.True(sub.NextBillingAmount.IsZero())
	s.True(sub.IsPaid)

	// the empty-roster sweep must not wedge: a second run skips cleanly
	again, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(0, again.TotalSuccess)
	s.Equal(0, again.TotalFailed)
}

func (s *RenewalServiceSuite) TestTrialEndWithEmptyRoster() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 10, 30)
	s.lapseTrial(ctx)
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 0)

	resp, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.False(sub.IsTrial)
	s.Equal(0, sub.StudentCountAtBaseline)

	count, err := s.billingRepo.Count(ctx, nil)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *RenewalServiceSuite) TestThresholdCarryAccountingAcrossCycle() {
	ctx := s.GetContext()
	s.createSubscription(ctx, s.testData.plan.ID, 100, 0)
	s.makeRenewalDue(ctx)

	// two threshold crossings plus sub-threshold growth within one cycle
	evaluate := func(count int) {
		s.rosterRepo.SetStudentCount(types.DefaultTenantID, count)
		_, err := s.subscriptionService.EvaluateThreshold(ctx)
		s.NoError(err)
	}
	evaluate(111)
	evaluate(125)
	evaluate(130)

	resp, err := s.service.ProcessDueSubscriptions(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, resp.TotalSuccess)

	records, err := s.billingRepo.List(ctx, nil)
	s.NoError(err)
	s.Len(records, 3)

	thresholdSum := 0
	var renewalCount int
	for _, record := range records {
		// every row bills its own count exactly, no rounding drift
		want := s.testData.plan.PricePerStudent.Mul(decimal.NewFromInt(int64(record.StudentCount)))
		s.True(record.BillingAmount.Equal(want), "row %s amount %s != %s", record.InvoiceNumber, record.BillingAmount, want)

		switch record.BillingType {
		case types.BillingTypeThresholdMet:
			thresholdSum += record.StudentCount
		case types.BillingTypeRenewal:
			renewalCount = record.StudentCount
		}
	}

	// growth of 30 splits into billed deltas of 11 and 14 plus a carry of
	// 5 absorbed by the renewal at the full count; nothing is billed twice
	s.Equal(25, thresholdSum)
	s.Equal(130, renewalCount)

	sub, err := s.subRepo.GetByTenant(ctx)
	s.NoError(err)
	s.Equal(130, sub.StudentCountAtBaseline)
	s.Equal(0, sub.PendingIncrease(130))
}

func (s *RenewalServiceSuite) TestExactPricingAcrossManyTenants() {
	tenants := make(map[string]int)
	for i := 0; i < 25; i++ {
		tenantID := fmt.Sprintf("tenant_%02d", i)
		count := 3 + 7*i
		tenants[tenantID] = count

		ctx := s.tenantContext(tenantID)
		s.createSubscription(ctx, s.testData.plan.ID, count, 0)
		s.makeRenewalDue(ctx)
	}

	resp, err := s.service.ProcessDueSubscriptions(s.GetContext(), time.Now().UTC())
	s.NoError(err)
	s.Equal(25, resp.TotalSuccess)
	s.Equal(0, resp.TotalFailed)

	total := decimal.Zero
	for tenantID, count := range tenants {
		records, err := s.billingRepo.List(s.tenantContext(tenantID), nil)
		s.NoError(err)
		s.Len(records, 1)
		s.Equal(count, records[0].StudentCount)

		want := decimal.NewFromInt(50000).Mul(decimal.NewFromInt(int64(count)))
		s.True(records[0].BillingAmount.Equal(want), "tenant %s billed %s, want %s", tenantID, records[0].BillingAmount, want)
		total = total.Add(records[0].BillingAmount)
	}

	// integer minor units: the grand total is exactly the sum of counts
	wantTotal := 0
	for _, count := range tenants {
		wantTotal += count * 50000
	}
	s.True(total.Equal(decimal.NewFromInt(int64(wantTotal))))
}

func (s *RenewalServiceSuite) TestSweepPagesWithIDCursor() {
	cfg := s.GetConfig()
	originalBatch := cfg.Billing.SweepBatchSize
	cfg.Billing.SweepBatchSize = 2
	defer func() { cfg.Billing.SweepBatchSize = originalBatch }()

	for i := 0; i < 5; i++ {
		ctx := s.tenantContext(fmt.Sprintf("tenant_%02d", i))
		s.createSubscription(ctx, s.testData.plan.ID, 10+i, 0)
		s.makeRenewalDue(ctx)
	}

	resp, err := s.service.ProcessDueSubscriptions(s.GetContext(), time.Now().UTC())
	s.NoError(err)
	s.Equal(5, resp.TotalSuccess)
	s.Equal(0, resp.TotalFailed)

	for i := 0; i < 5; i++ {
		records, err := s.billingRepo.List(s.tenantContext(fmt.Sprintf("tenant_%02d", i)), nil)
		s.NoError(err)
		s.Len(records, 1)
		s.Equal(types.BillingTypeRenewal, records[0].BillingType)
	}
}
