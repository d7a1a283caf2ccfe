package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// EmitBillingEventRequest describes one billing ledger append. StudentCount
// is the quantity billed: the full roster count for initial and renewal
// events, the pending increase for threshold events.
type EmitBillingEventRequest struct {
	Subscription *subscription.Subscription
	Plan         *plan.Plan
	BillingType  types.BillingType
	StudentCount int
	PeriodStart  time.Time
	PeriodEnd    time.Time
	BillingDate  time.Time
}

// BillingService owns the append-only billing ledger: it assigns invoice
// numbers, computes amounts and enforces the non-overlap invariant.
type BillingService interface {
	// Emit appends a billing history row. It must run inside the same
	// transaction as the subscription baseline update so both commit or
	// neither does. Returns ErrAlreadyExists when the period was already
	// billed.
	Emit(ctx context.Context, req EmitBillingEventRequest) (*billing.BillingHistory, error)

	// MarkPaid flips a billing record to paid; repeated calls are no-ops
	MarkPaid(ctx context.Context, billingHistoryID string) (*dto.BillingHistoryResponse, error)

	GetBillingHistory(ctx context.Context, id string) (*dto.BillingHistoryResponse, error)

	ListBillingHistory(ctx context.Context, filter *types.BillingHistoryFilter) (*dto.ListBillingHistoryResponse, error)

	// PublishInvoiceCreated notifies the notification subsystem about a
	// committed invoice. Callers publish after their transaction commits.
	PublishInvoiceCreated(ctx context.Context, record *billing.BillingHistory)
}

type billingService struct {
	ServiceParams
}

func NewBillingService(params ServiceParams) BillingService {
	return &billingService{ServiceParams: params}
}

func (s *billingService) Emit(ctx context.Context, req EmitBillingEventRequest) (*billing.BillingHistory, error) {
	if req.Subscription == nil || req.Plan == nil {
		return nil, ierr.NewError("subscription and plan are required").
			WithHint("Billing events require a subscription and its plan").
			Mark(ierr.ErrValidation)
	}
	if err := req.BillingType.Validate(); err != nil {
		return nil, err
	}

	if req.Plan.IsFree {
		return nil, ierr.NewError("free plans never produce billing events").
			WithHint("Free plans are never billed").
			WithReportableDetails(map[string]any{
				"plan_id": req.Plan.ID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	seq, err := s.BillingRepo.NextInvoiceNumber(ctx)
	if err != nil {
		return nil, err
	}

	// exact integer arithmetic: count x price in minor units
	amount := req.Plan.PricePerStudent.Mul(decimal.NewFromInt(int64(req.StudentCount)))

	record := &billing.BillingHistory{
		ID:                    types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_HISTORY),
		SubscriptionID:        req.Subscription.ID,
		InvoiceNumber:         FormatInvoiceNumber(seq),
		BillingDate:           req.BillingDate,
		PeriodStart:           req.PeriodStart,
		PeriodEnd:             req.PeriodEnd,
		StudentCount:          req.StudentCount,
		PreviousStudentCount:  req.Subscription.StudentCountAtBaseline,
		BillingAmount:         amount,
		PreviousBillingAmount: req.Subscription.CurrentBillingAmount,
		BillingType:           req.BillingType,
		ThresholdTriggered:    req.BillingType == types.BillingTypeThresholdMet,
		IsPaid:                false,
		BaseModel:             types.GetDefaultBaseModel(ctx),
	}
	record.TenantID = req.Subscription.TenantID

	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.BillingRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.Logger.Infow("emitted billing event",
		"billing_history_id", record.ID,
		"subscription_id", record.SubscriptionID,
		"tenant_id", record.TenantID,
		"invoice_number", record.InvoiceNumber,
		"billing_type", record.BillingType,
		"student_count", record.StudentCount,
		"billing_amount", record.BillingAmount,
	)

	return record, nil
}

func (s *billingService) MarkPaid(ctx context.Context, billingHistoryID string) (*dto.BillingHistoryResponse, error) {
	if billingHistoryID == "" {
		return nil, ierr.NewError("billing history id is required").
			WithHint("Billing history ID is required").
			Mark(ierr.ErrValidation)
	}

	var record *billing.BillingHistory
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.BillingRepo.MarkPaid(ctx, billingHistoryID)
		if err != nil {
			return err
		}

		// reflect payment on the subscription when this is the latest invoice
		latest, err := s.BillingRepo.GetLatestBySubscription(ctx, record.SubscriptionID)
		if err != nil {
			return err
		}
		if latest.ID != record.ID {
			return nil
		}

		tenantCtx := types.SetTenantID(ctx, record.TenantID)
		sub, err := s.SubRepo.GetByTenantForUpdate(tenantCtx)
		if err != nil {
			return err
		}
		if sub.IsPaid {
			return nil
		}
		sub.IsPaid = true
		return s.SubRepo.Update(tenantCtx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.publishWebhook(ctx, types.WebhookEventInvoicePaymentSet, record)

	return &dto.BillingHistoryResponse{BillingHistory: record}, nil
}

func (s *billingService) GetBillingHistory(ctx context.Context, id string) (*dto.BillingHistoryResponse, error) {
	record, err := s.BillingRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.BillingHistoryResponse{BillingHistory: record}, nil
}

func (s *billingService) ListBillingHistory(ctx context.Context, filter *types.BillingHistoryFilter) (*dto.ListBillingHistoryResponse, error) {
	if filter == nil {
		filter = types.NewBillingHistoryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	records, err := s.BillingRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	count, err := s.BillingRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.BillingHistoryResponse, len(records))
	for i, record := range records {
		items[i] = &dto.BillingHistoryResponse{BillingHistory: record}
	}

	response := types.NewListResponse(items, count, filter.GetLimit(), filter.GetOffset())
	return &response, nil
}

func (s *billingService) PublishInvoiceCreated(ctx context.Context, record *billing.BillingHistory) {
	s.publishWebhook(ctx, types.WebhookEventInvoiceCreated, record)
}

func (s *billingService) publishWebhook(ctx context.Context, eventName string, record *billing.BillingHistory) {
	if s.WebhookPublisher == nil || record == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"billing_history_id": record.ID,
		"subscription_id":    record.SubscriptionID,
		"invoice_number":     record.InvoiceNumber,
		"billing_type":       record.BillingType,
		"billing_amount":     record.BillingAmount,
		"student_count":      record.StudentCount,
		"period_start":       record.PeriodStart,
		"period_end":         record.PeriodEnd,
	})
	if err != nil {
		s.Logger.Errorw("failed to marshal webhook payload",
			"error", err,
			"billing_history_id", record.ID,
		)
		return
	}

	event := &types.WebhookEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventName: eventName,
		TenantID:  record.TenantID,
		UserID:    types.GetUserID(ctx),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	// webhook delivery is best effort; billing state is already committed
	if err := s.WebhookPublisher.PublishWebhook(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish webhook event",
			"error", err,
			"event_name", eventName,
			"billing_history_id", record.ID,
		)
	}
}

// FormatInvoiceNumber renders the global sequence value as a display invoice
// number. Uniqueness and monotonicity come from the sequence itself.
func FormatInvoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%08d", seq)
}
