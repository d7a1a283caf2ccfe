package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/testutil"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service     SubscriptionService
	planRepo    *testutil.InMemoryPlanStore
	subRepo     *testutil.InMemorySubscriptionStore
	billingRepo *testutil.InMemoryBillingStore
	rosterRepo  *testutil.InMemoryRosterStore
	testData    struct {
		plan     *plan.Plan
		freePlan *plan.Plan
	}
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	s.planRepo = s.GetStores().PlanRepo.(*testutil.InMemoryPlanStore)
	s.subRepo = s.GetStores().SubRepo.(*testutil.InMemorySubscriptionStore)
	s.billingRepo = s.GetStores().BillingRepo.(*testutil.InMemoryBillingStore)
	s.rosterRepo = s.GetStores().RosterRepo.(*testutil.InMemoryRosterStore)

	params := s.serviceParams()
	s.service = NewSubscriptionService(params, NewUsageService(params))
	s.setupTestData()
}

func (s *SubscriptionServiceSuite) serviceParams() ServiceParams {
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		PlanRepo:         s.planRepo,
		SubRepo:          s.subRepo,
		BillingRepo:      s.billingRepo,
		RosterRepo:       s.rosterRepo,
		WebhookPublisher: s.GetWebhookPublisher(),
	}
}

func (s *SubscriptionServiceSuite) setupTestData() {
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

func (s *SubscriptionServiceSuite) createActiveSubscription(planID string, studentCount int) *dto.SubscriptionResponse {
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, studentCount)

	resp, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		PlanID: planID,
	})
	s.NoError(err)
	s.NotNil(resp)
	return resp
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	s.Run("active subscription without trial", func() {
		resp := s.createActiveSubscription(s.testData.plan.ID, 100)

		s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
		s.False(resp.IsTrial)
		s.Equal(100, resp.StudentCountAtBaseline)
		s.True(resp.NextBillingAmount.Equal(decimal.NewFromInt(5000000)))

		// onboarding never bills; the initial invoice comes from trial-end
		// processing or the first renewal
		count, err := s.billingRepo.Count(s.GetContext(), nil)
		s.NoError(err)
		s.Equal(0, count)
	})

	s.Run("trialing subscription", func() {
		s.subRepo.Clear()
		s.rosterRepo.SetStudentCount(types.DefaultTenantID, 40)

		resp, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			PlanID:    s.testData.plan.ID,
			TrialDays: 30,
		})
		s.NoError(err)
		s.Equal(types.SubscriptionStatusTrialing, resp.SubscriptionStatus)
		s.True(resp.IsTrial)
		s.NotNil(resp.TrialStart)
		s.NotNil(resp.TrialEnd)
		s.WithinDuration(resp.TrialStart.AddDate(0, 0, 30), *resp.TrialEnd, time.Second)
	})

	s.Run("second live subscription is rejected", func() {
		s.subRepo.Clear()
		s.createActiveSubscription(s.testData.plan.ID, 10)

		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			PlanID: s.testData.plan.ID,
		})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})

	s.Run("unknown plan", func() {
		s.subRepo.Clear()
		_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
			PlanID: "plan_missing",
		})
		s.Error(err)
		s.True(ierr.IsNotFound(err))
	})
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdBelowThreshold() {
	s.createActiveSubscription(s.testData.plan.ID, 100)

	// growth of 5 stays below the threshold of 10
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 105)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.True(resp.Evaluated)
	s.False(resp.ThresholdMet)
	s.Equal(5, resp.PendingIncrease)
	s.Nil(resp.BillingRecord)

	// baseline holds, only the renewal preview moves
	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.Equal(100, sub.StudentCountAtBaseline)
	s.True(sub.NextBillingAmount.Equal(decimal.NewFromInt(5250000)))

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdMet() {
	s.createActiveSubscription(s.testData.plan.ID, 100)

	// growth of 11 crosses the threshold of 10
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 111)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.True(resp.ThresholdMet)
	s.Equal(11, resp.PendingIncrease)
	s.NotNil(resp.BillingRecord)

	// only the delta is billed, at the exact per-student price
	record := resp.BillingRecord.BillingHistory
	s.Equal(types.BillingTypeThresholdMet, record.BillingType)
	s.True(record.ThresholdTriggered)
	s.Equal(11, record.StudentCount)
	s.Equal(100, record.PreviousStudentCount)
	s.True(record.BillingAmount.Equal(decimal.NewFromInt(550000)))

	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.Equal(111, sub.StudentCountAtBaseline)
	s.False(sub.IsPaid)
	s.True(sub.CurrentBillingAmount.Equal(decimal.NewFromInt(550000)))
	s.True(sub.NextBillingAmount.Equal(decimal.NewFromInt(5550000)))
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdIsIdempotent() {
	s.createActiveSubscription(s.testData.plan.ID, 100)
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 111)

	_, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)

	// re-evaluating with no further growth bills nothing new
	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.False(resp.ThresholdMet)
	s.Equal(0, resp.PendingIncrease)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdClampsDecrease() {
	s.createActiveSubscription(s.testData.plan.ID, 100)

	// withdrawals never reduce the billed baseline or trigger credits
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 90)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.False(resp.ThresholdMet)
	s.Equal(0, resp.PendingIncrease)

	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.Equal(100, sub.StudentCountAtBaseline)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdSilentDuringTrial() {
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 100)
	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		PlanID:    s.testData.plan.ID,
		TrialDays: 30,
	})
	s.NoError(err)

	// massive growth during trial is observed but never billed
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 500)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.False(resp.Evaluated)
	s.False(resp.ThresholdMet)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdSilentAfterTrialLapse() {
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 50)
	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		PlanID:    s.testData.plan.ID,
		TrialDays: 30,
	})
	s.NoError(err)
	s.rewindTrial(time.Now().UTC().AddDate(0, 0, -1))

	// trial lapsed but not yet converted; threshold billing must wait for
	// the trial-end transition, which produces the first invoice
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 80)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.False(resp.Evaluated)
	s.False(resp.ThresholdMet)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)

	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, sub.SubscriptionStatus)
	s.Equal(50, sub.StudentCountAtBaseline)
}

func (s *SubscriptionServiceSuite) TestProcessTrialEnd() {
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 50)
	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{
		PlanID:    s.testData.plan.ID,
		TrialDays: 30,
	})
	s.NoError(err)

	now := time.Now().UTC()

	s.Run("mid trial is a no-op", func() {
		resp, err := s.service.ProcessTrialEnd(s.GetContext(), now)
		s.NoError(err)
		s.True(resp.IsTrial)
		s.Equal(types.SubscriptionStatusTrialing, resp.SubscriptionStatus)

		count, err := s.billingRepo.Count(s.GetContext(), nil)
		s.NoError(err)
		s.Equal(0, count)
	})

	s.Run("lapsed trial activates and bills the full count", func() {
		s.rewindTrial(now.AddDate(0, 0, -1))
		s.rosterRepo.SetStudentCount(types.DefaultTenantID, 60)

		resp, err := s.service.ProcessTrialEnd(s.GetContext(), now)
		s.NoError(err)
		s.False(resp.IsTrial)
		s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
		s.Equal(60, resp.StudentCountAtBaseline)
		s.False(resp.IsPaid)
		s.WithinDuration(now.AddDate(1, 0, 0), resp.NextBillingDate, time.Minute)

		records, err := s.billingRepo.List(s.GetContext(), nil)
		s.NoError(err)
		s.Len(records, 1)
		s.Equal(types.BillingTypeInitial, records[0].BillingType)
		s.Equal(60, records[0].StudentCount)
		s.True(records[0].BillingAmount.Equal(decimal.NewFromInt(3000000)))
	})

	s.Run("second conversion bills nothing", func() {
		resp, err := s.service.ProcessTrialEnd(s.GetContext(), now)
		s.NoError(err)
		s.False(resp.IsTrial)

		count, err := s.billingRepo.Count(s.GetContext(), nil)
		s.NoError(err)
		s.Equal(1, count)
	})
}

// rewindTrial moves the stored trial end so trial-dependent paths see it as
// lapsed or not
func (s *SubscriptionServiceSuite) rewindTrial(trialEnd time.Time) {
	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)

	trialStart := trialEnd.AddDate(0, 0, -30)
	sub.TrialStart = &trialStart
	sub.TrialEnd = &trialEnd
	s.NoError(s.subRepo.Update(s.GetContext(), sub))
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdFreePlan() {
	s.createActiveSubscription(s.testData.freePlan.ID, 100)
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 500)

	resp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.True(resp.Evaluated)
	s.False(resp.ThresholdMet)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *SubscriptionServiceSuite) TestEvaluateThresholdBaselineNeedsLedgerRow() {
	s.createActiveSubscription(s.testData.plan.ID, 100)
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 120)

	// when the ledger append fails the baseline must not advance
	s.billingRepo.CreateErr = errors.New("ledger write failed")

	_, err := s.service.EvaluateThreshold(s.GetContext())
	s.Error(err)

	sub, subErr := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(subErr)
	s.Equal(100, sub.StudentCountAtBaseline)
}

func (s *SubscriptionServiceSuite) TestGetSubscriptionSummary() {
	s.createActiveSubscription(s.testData.plan.ID, 100)
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 107)

	summary, err := s.service.GetSubscriptionSummary(s.GetContext())
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, summary.Status)
	s.Equal(107, summary.CurrentStudentCount)
	s.Equal(100, summary.StudentCountAtBilling)
	s.Equal(7, summary.PendingIncrease)
	s.Equal(10, summary.Threshold)
	s.False(summary.ThresholdMet)
	s.Equal(3, summary.RemainingToThreshold)
	s.True(summary.NextBillingAmount.Equal(decimal.NewFromInt(5350000)))
}

func (s *SubscriptionServiceSuite) TestCancelSubscription() {
	s.createActiveSubscription(s.testData.plan.ID, 100)

	resp, err := s.service.CancelSubscription(s.GetContext())
	s.NoError(err)
	s.Equal(types.SubscriptionStatusExpired, resp.SubscriptionStatus)

	// cancelling again is a no-op
	resp, err = s.service.CancelSubscription(s.GetContext())
	s.NoError(err)
	s.Equal(types.SubscriptionStatusExpired, resp.SubscriptionStatus)

	// expired subscriptions are excluded from threshold billing
	s.rosterRepo.SetStudentCount(types.DefaultTenantID, 500)
	evalResp, err := s.service.EvaluateThreshold(s.GetContext())
	s.NoError(err)
	s.False(evalResp.Evaluated)

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(0, count)
}
