package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/testutil"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service     BillingService
	subRepo     *testutil.InMemorySubscriptionStore
	billingRepo *testutil.InMemoryBillingStore
	testData    struct {
		plan     *plan.Plan
		freePlan *plan.Plan
		sub      *subscription.Subscription
	}
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	s.subRepo = s.GetStores().SubRepo.(*testutil.InMemorySubscriptionStore)
	s.billingRepo = s.GetStores().BillingRepo.(*testutil.InMemoryBillingStore)

	s.service = NewBillingService(ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		PlanRepo:         s.GetStores().PlanRepo,
		SubRepo:          s.subRepo,
		BillingRepo:      s.billingRepo,
		RosterRepo:       s.GetStores().RosterRepo,
		WebhookPublisher: s.GetWebhookPublisher(),
	})

	s.testData.plan = &plan.Plan{
		ID:                    "plan_standard",
		Name:                  "Standard",
		Currency:              "idr",
		PricePerStudent:       decimal.NewFromInt(50000),
		StudentCountThreshold: 10,
		BaseModel:             types.GetDefaultBaseModel(s.GetContext()),
	}

	s.testData.freePlan = &plan.Plan{
		ID:              "plan_free",
		Name:            "Free",
		Currency:        "idr",
		PricePerStudent: decimal.Zero,
		IsFree:          true,
		BaseModel:       types.GetDefaultBaseModel(s.GetContext()),
	}

	start := time.Now().UTC().AddDate(0, -6, 0)
	s.testData.sub = &subscription.Subscription{
		ID:                     "subs_test",
		PlanID:                 s.testData.plan.ID,
		SubscriptionStatus:     types.SubscriptionStatusActive,
		StartDate:              start,
		EndDate:                start.AddDate(1, 0, 0),
		NextBillingDate:        start.AddDate(1, 0, 0),
		StudentCountAtBaseline: 100,
		CurrentBillingAmount:   decimal.NewFromInt(5000000),
		NextBillingAmount:      decimal.NewFromInt(5000000),
		IsPaid:                 true,
		LastInvoicedAt:         start,
		Version:                1,
		BaseModel:              types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.subRepo.Create(s.GetContext(), s.testData.sub))
}

func (s *BillingServiceSuite) emitRequest(billingType types.BillingType, studentCount int, periodStart, periodEnd time.Time) EmitBillingEventRequest {
	return EmitBillingEventRequest{
		Subscription: s.testData.sub,
		Plan:         s.testData.plan,
		BillingType:  billingType,
		StudentCount: studentCount,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		BillingDate:  periodEnd,
	}
}

func (s *BillingServiceSuite) TestEmitAssignsSequentialInvoiceNumbers() {
	now := time.Now().UTC()
	periodStart := s.testData.sub.LastInvoicedAt

	first, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, periodStart, now))
	s.NoError(err)
	s.Equal("INV-00000001", first.InvoiceNumber)

	second, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeRenewal, 111, now, now.AddDate(0, 1, 0)))
	s.NoError(err)
	s.Equal("INV-00000002", second.InvoiceNumber)
}

func (s *BillingServiceSuite) TestEmitComputesExactAmount() {
	now := time.Now().UTC()

	record, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, s.testData.sub.LastInvoicedAt, now))
	s.NoError(err)

	// 11 students at 50000 minor units each
	s.True(record.BillingAmount.Equal(decimal.NewFromInt(550000)))
	s.Equal(11, record.StudentCount)
	s.Equal(100, record.PreviousStudentCount)
	s.True(record.PreviousBillingAmount.Equal(decimal.NewFromInt(5000000)))
	s.True(record.ThresholdTriggered)
	s.False(record.IsPaid)
	s.Equal(s.testData.sub.TenantID, record.TenantID)
}

func (s *BillingServiceSuite) TestEmitRejectsFreePlan() {
	now := time.Now().UTC()
	req := s.emitRequest(types.BillingTypeRenewal, 100, s.testData.sub.LastInvoicedAt, now)
	req.Plan = s.testData.freePlan

	_, err := s.service.Emit(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *BillingServiceSuite) TestEmitRejectsOverlappingPeriod() {
	now := time.Now().UTC()
	periodStart := s.testData.sub.LastInvoicedAt

	_, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, periodStart, now))
	s.NoError(err)

	// a second row over any intersecting range must be refused
	_, err = s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 5, periodStart.AddDate(0, 1, 0), now.Add(time.Hour)))
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))

	count, err := s.billingRepo.Count(s.GetContext(), nil)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *BillingServiceSuite) TestMarkPaid() {
	now := time.Now().UTC()
	record, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, s.testData.sub.LastInvoicedAt, now))
	s.NoError(err)

	// the unpaid invoice is reflected on the subscription
	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	sub.IsPaid = false
	s.NoError(s.subRepo.Update(s.GetContext(), sub))

	resp, err := s.service.MarkPaid(s.GetContext(), record.ID)
	s.NoError(err)
	s.True(resp.IsPaid)
	s.NotNil(resp.PaidAt)

	sub, err = s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.True(sub.IsPaid)
}

func (s *BillingServiceSuite) TestMarkPaidIsIdempotent() {
	now := time.Now().UTC()
	record, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, s.testData.sub.LastInvoicedAt, now))
	s.NoError(err)

	first, err := s.service.MarkPaid(s.GetContext(), record.ID)
	s.NoError(err)
	s.NotNil(first.PaidAt)

	second, err := s.service.MarkPaid(s.GetContext(), record.ID)
	s.NoError(err)
	s.True(second.IsPaid)
	s.Equal(first.PaidAt.Unix(), second.PaidAt.Unix())
}

func (s *BillingServiceSuite) TestMarkPaidOnlySyncsLatestInvoice() {
	now := time.Now().UTC()
	older, err := s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeThresholdMet, 11, s.testData.sub.LastInvoicedAt, now))
	s.NoError(err)

	_, err = s.service.Emit(s.GetContext(), s.emitRequest(types.BillingTypeRenewal, 111, now, now.AddDate(1, 0, 0)))
	s.NoError(err)

	sub, err := s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	sub.IsPaid = false
	s.NoError(s.subRepo.Update(s.GetContext(), sub))

	// paying an older invoice leaves the subscription flag alone while the
	// newest invoice is still outstanding
	_, err = s.service.MarkPaid(s.GetContext(), older.ID)
	s.NoError(err)

	sub, err = s.subRepo.GetByTenant(s.GetContext())
	s.NoError(err)
	s.False(sub.IsPaid)
}

func (s *BillingServiceSuite) TestMarkPaidUnknownRecord() {
	_, err := s.service.MarkPaid(s.GetContext(), "bill_missing")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *BillingServiceSuite) TestListBillingHistory() {
	now := time.Now().UTC()

	seed := []*billing.BillingHistory{
		{
			ID:             "bill_1",
			SubscriptionID: s.testData.sub.ID,
			InvoiceNumber:  "INV-00000001",
			BillingDate:    now.AddDate(0, -2, 0),
			PeriodStart:    now.AddDate(0, -3, 0),
			PeriodEnd:      now.AddDate(0, -2, 0),
			StudentCount:   100,
			BillingAmount:  decimal.NewFromInt(5000000),
			BillingType:    types.BillingTypeInitial,
			BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
		},
		{
			ID:                 "bill_2",
			SubscriptionID:     s.testData.sub.ID,
			InvoiceNumber:      "INV-00000002",
			BillingDate:        now.AddDate(0, -1, 0),
			PeriodStart:        now.AddDate(0, -2, 0),
			PeriodEnd:          now.AddDate(0, -1, 0),
			StudentCount:       12,
			BillingAmount:      decimal.NewFromInt(600000),
			BillingType:        types.BillingTypeThresholdMet,
			ThresholdTriggered: true,
			BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
		},
		{
			ID:             "bill_3",
			SubscriptionID: s.testData.sub.ID,
			InvoiceNumber:  "INV-00000003",
			BillingDate:    now,
			PeriodStart:    now.AddDate(0, -1, 0),
			PeriodEnd:      now,
			StudentCount:   112,
			BillingAmount:  decimal.NewFromInt(5600000),
			BillingType:    types.BillingTypeRenewal,
			BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
		},
	}
	for _, record := range seed {
		s.NoError(s.billingRepo.Create(s.GetContext(), record))
	}

	s.Run("orders by billing date descending", func() {
		resp, err := s.service.ListBillingHistory(s.GetContext(), nil)
		s.NoError(err)
		s.Len(resp.Items, 3)
		s.Equal("bill_3", resp.Items[0].ID)
		s.Equal("bill_2", resp.Items[1].ID)
		s.Equal("bill_1", resp.Items[2].ID)
		s.Equal(3, resp.Pagination.Total)
	})

	s.Run("filters by billing type", func() {
		filter := types.NewBillingHistoryFilter()
		filter.BillingTypes = []types.BillingType{types.BillingTypeThresholdMet}

		resp, err := s.service.ListBillingHistory(s.GetContext(), filter)
		s.NoError(err)
		s.Len(resp.Items, 1)
		s.Equal("bill_2", resp.Items[0].ID)
	})
}
