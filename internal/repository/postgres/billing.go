package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type billingRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewBillingRepository(db *postgres.DB, logger *logger.Logger) billing.Repository {
	return &billingRepository{db: db, logger: logger}
}

// Create appends a ledger row. The overlap check and the insert run in the
// same transaction as the caller's subscription update, so a rejected insert
// rolls the whole billing attempt back.
func (r *billingRepository) Create(ctx context.Context, record *billing.BillingHistory) error {
	q := r.db.GetQuerier(ctx)

	// Overlap check on the half-open period. Touching endpoints are fine:
	// tiled periods share their boundary instant.
	var overlapping int
	err := q.GetContext(ctx, &overlapping, `
		SELECT COUNT(*) FROM billing_history
		WHERE subscription_id = $1
		  AND period_start < $3
		  AND period_end > $2
	`, record.SubscriptionID, record.PeriodStart, record.PeriodEnd)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to check billing period overlap").
			Mark(ierr.ErrDatabase)
	}
	if overlapping > 0 {
		return duplicatePeriod(record)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO billing_history (
			id, subscription_id, invoice_number, billing_date,
			period_start, period_end, student_count, previous_student_count,
			billing_amount, previous_billing_amount, billing_type,
			threshold_triggered, is_paid, paid_at,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`,
		record.ID, record.SubscriptionID, record.InvoiceNumber, record.BillingDate,
		record.PeriodStart, record.PeriodEnd, record.StudentCount, record.PreviousStudentCount,
		record.BillingAmount, record.PreviousBillingAmount, record.BillingType,
		record.ThresholdTriggered, record.IsPaid, record.PaidAt,
		record.TenantID, record.Status, record.CreatedAt, record.UpdatedAt,
		record.CreatedBy, record.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// the (subscription_id, period_start) unique index is the backstop
			// for concurrent writers that both passed the overlap check
			return duplicatePeriod(record)
		}
		return ierr.WithError(err).
			WithHint("Failed to create billing history record").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *billingRepository) Get(ctx context.Context, id string) (*billing.BillingHistory, error) {
	query := `SELECT * FROM billing_history WHERE id = $1 AND tenant_id = $2`

	var record billing.BillingHistory
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &record, query, id, types.GetTenantID(ctx)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("billing history record not found").
				WithHintf("Billing record %s was not found", id).
				WithReportableDetails(map[string]any{"billing_history_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get billing history record").
			Mark(ierr.ErrDatabase)
	}

	return &record, nil
}

func (r *billingRepository) GetLatestBySubscription(ctx context.Context, subscriptionID string) (*billing.BillingHistory, error) {
	query := `
		SELECT * FROM billing_history
		WHERE subscription_id = $1
		ORDER BY period_start DESC
		LIMIT 1
	`

	var record billing.BillingHistory
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &record, query, subscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("no billing history for subscription").
				WithHintf("Subscription %s has no billing history", subscriptionID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get latest billing history record").
			Mark(ierr.ErrDatabase)
	}

	return &record, nil
}

func (r *billingRepository) List(ctx context.Context, filter *types.BillingHistoryFilter) ([]*billing.BillingHistory, error) {
	query, args := buildBillingHistoryQuery(ctx, `SELECT * FROM billing_history`, filter, true)

	var records []*billing.BillingHistory
	q := r.db.GetQuerier(ctx)
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list billing history").
			Mark(ierr.ErrDatabase)
	}

	return records, nil
}

func (r *billingRepository) Count(ctx context.Context, filter *types.BillingHistoryFilter) (int, error) {
	query, args := buildBillingHistoryQuery(ctx, `SELECT COUNT(*) FROM billing_history`, filter, false)

	var count int
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count billing history").
			Mark(ierr.ErrDatabase)
	}

	return count, nil
}

// MarkPaid is a one-way transition; rows already paid are left untouched so
// repeated payment confirmations stay idempotent.
func (r *billingRepository) MarkPaid(ctx context.Context, id string) (*billing.BillingHistory, error) {
	q := r.db.GetQuerier(ctx)

	_, err := q.ExecContext(ctx, `
		UPDATE billing_history
		SET is_paid = TRUE, paid_at = $1, updated_at = $1, updated_by = $2
		WHERE id = $3 AND is_paid = FALSE
	`, time.Now().UTC(), types.GetUserID(ctx), id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to mark billing record paid").
			Mark(ierr.ErrDatabase)
	}

	return r.Get(ctx, id)
}

// NextInvoiceNumber bumps the single-row global sequence with the row locked,
// so concurrent emitters serialize and numbers stay strictly increasing.
func (r *billingRepository) NextInvoiceNumber(ctx context.Context) (int64, error) {
	q := r.db.GetQuerier(ctx)

	var next int64
	err := q.GetContext(ctx, &next, `
		UPDATE invoice_sequences
		SET last_value = last_value + 1, updated_at = $1
		WHERE id = $2
		RETURNING last_value
	`, time.Now().UTC(), types.GlobalInvoiceSequenceID)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to reserve invoice number").
			Mark(ierr.ErrDatabase)
	}

	return next, nil
}

func buildBillingHistoryQuery(ctx context.Context, base string, filter *types.BillingHistoryFilter, paginate bool) (string, []interface{}) {
	if filter == nil {
		filter = types.NewBillingHistoryFilter()
	}

	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, fmt.Sprintf("tenant_id = %s", arg(types.GetTenantID(ctx))))

	if filter.SubscriptionID != "" {
		conds = append(conds, fmt.Sprintf("subscription_id = %s", arg(filter.SubscriptionID)))
	}

	if len(filter.BillingTypes) > 0 {
		placeholders := make([]string, 0, len(filter.BillingTypes))
		for _, billingType := range filter.BillingTypes {
			placeholders = append(placeholders, arg(billingType))
		}
		conds = append(conds, fmt.Sprintf("billing_type IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.IsPaid != nil {
		conds = append(conds, fmt.Sprintf("is_paid = %s", arg(*filter.IsPaid)))
	}

	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil {
			conds = append(conds, fmt.Sprintf("billing_date >= %s", arg(*filter.StartTime)))
		}
		if filter.EndTime != nil {
			conds = append(conds, fmt.Sprintf("billing_date <= %s", arg(*filter.EndTime)))
		}
	}

	query := base + " WHERE " + strings.Join(conds, " AND ")

	if paginate {
		query += " ORDER BY billing_date DESC, invoice_number DESC"
		if !filter.IsUnlimited() {
			query += fmt.Sprintf(" LIMIT %s OFFSET %s", arg(filter.GetLimit()), arg(filter.GetOffset()))
		}
	}

	return query, args
}

func duplicatePeriod(record *billing.BillingHistory) error {
	return ierr.NewError("billing period overlaps an existing record").
		WithHint("This billing period has already been invoiced").
		WithReportableDetails(map[string]any{
			"subscription_id": record.SubscriptionID,
			"period_start":    record.PeriodStart,
			"period_end":      record.PeriodEnd,
			"billing_type":    record.BillingType,
		}).
		Mark(ierr.ErrAlreadyExists)
}
