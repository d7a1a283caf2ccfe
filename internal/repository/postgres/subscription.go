package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/subscription"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, plan_id, subscription_status, is_trial, trial_start, trial_end,
			start_date, end_date, billing_cycle, next_billing_date,
			student_count_at_baseline, current_billing_amount, next_billing_amount,
			is_paid, last_invoiced_at, version,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`

	q := r.db.GetQuerier(ctx)
	_, err := q.ExecContext(ctx, query,
		sub.ID, sub.PlanID, sub.SubscriptionStatus, sub.IsTrial, sub.TrialStart, sub.TrialEnd,
		sub.StartDate, sub.EndDate, sub.BillingCycle, sub.NextBillingDate,
		sub.StudentCountAtBaseline, sub.CurrentBillingAmount, sub.NextBillingAmount,
		sub.IsPaid, sub.LastInvoicedAt, sub.Version,
		sub.TenantID, sub.Status, sub.CreatedAt, sub.UpdatedAt, sub.CreatedBy, sub.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Tenant already has a live subscription").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	query := `SELECT * FROM subscriptions WHERE id = $1 AND tenant_id = $2 AND status != $3`

	var sub subscription.Subscription
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &sub, query, id, types.GetTenantID(ctx), types.StatusDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscriptionNotFound(id)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}

	return &sub, nil
}

func (r *subscriptionRepository) GetByTenant(ctx context.Context) (*subscription.Subscription, error) {
	return r.getByTenant(ctx, false)
}

func (r *subscriptionRepository) GetByTenantForUpdate(ctx context.Context) (*subscription.Subscription, error) {
	return r.getByTenant(ctx, true)
}

func (r *subscriptionRepository) getByTenant(ctx context.Context, forUpdate bool) (*subscription.Subscription, error) {
	tenantID := types.GetTenantID(ctx)
	// a tenant holds at most one non-expired subscription; on re-subscription
	// after expiry the newest row is the live one
	query := `SELECT * FROM subscriptions WHERE tenant_id = $1 AND status != $2 ORDER BY created_at DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sub subscription.Subscription
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &sub, query, tenantID, types.StatusDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("subscription not found").
				WithHintf("Tenant %s has no subscription", tenantID).
				WithReportableDetails(map[string]any{"tenant_id": tenantID}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}

	return &sub, nil
}

// Update persists the subscription guarded by its version. The baseline,
// billing amounts and billing dates only ever change through this method,
// inside the same transaction that appends the matching ledger row.
func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	sub.UpdatedBy = types.GetUserID(ctx)

	query := `
		UPDATE subscriptions SET
			plan_id = $1,
			subscription_status = $2,
			is_trial = $3,
			trial_start = $4,
			trial_end = $5,
			start_date = $6,
			end_date = $7,
			billing_cycle = $8,
			next_billing_date = $9,
			student_count_at_baseline = $10,
			current_billing_amount = $11,
			next_billing_amount = $12,
			is_paid = $13,
			last_invoiced_at = $14,
			version = version + 1,
			updated_at = $15,
			updated_by = $16
		WHERE id = $17 AND version = $18 AND status != $19
	`

	q := r.db.GetQuerier(ctx)
	res, err := q.ExecContext(ctx, query,
		sub.PlanID, sub.SubscriptionStatus, sub.IsTrial, sub.TrialStart, sub.TrialEnd,
		sub.StartDate, sub.EndDate, sub.BillingCycle, sub.NextBillingDate,
		sub.StudentCountAtBaseline, sub.CurrentBillingAmount, sub.NextBillingAmount,
		sub.IsPaid, sub.LastInvoicedAt, sub.UpdatedAt, sub.UpdatedBy,
		sub.ID, sub.Version, types.StatusDeleted,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("Subscription was modified by another operation, retry from a fresh read").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	return nil
}

func (r *subscriptionRepository) ListAllTenant(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	query, args := buildSubscriptionQuery(`SELECT * FROM subscriptions`, filter, true)

	var subs []*subscription.Subscription
	q := r.db.GetQuerier(ctx)
	if err := q.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}

	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	query, args := buildSubscriptionQuery(`SELECT COUNT(*) FROM subscriptions`, filter, false)

	var count int
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}

	return count, nil
}

func buildSubscriptionQuery(base string, filter *types.SubscriptionFilter, paginate bool) (string, []interface{}) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, fmt.Sprintf("status = %s", arg(filter.GetStatus())))

	if filter.PlanID != "" {
		conds = append(conds, fmt.Sprintf("plan_id = %s", arg(filter.PlanID)))
	}

	if len(filter.SubscriptionStatus) > 0 {
		placeholders := make([]string, 0, len(filter.SubscriptionStatus))
		for _, status := range filter.SubscriptionStatus {
			placeholders = append(placeholders, arg(status))
		}
		conds = append(conds, fmt.Sprintf("subscription_status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.BillingDueBefore != nil {
		due := arg(*filter.BillingDueBefore)
		conds = append(conds, fmt.Sprintf(
			"(next_billing_date <= %s OR (is_trial = TRUE AND trial_end <= %s))", due, due))
	}

	if filter.IDGreaterThan != "" {
		conds = append(conds, fmt.Sprintf("id > %s", arg(filter.IDGreaterThan)))
	}

	query := base + " WHERE " + strings.Join(conds, " AND ")

	if paginate {
		// id order is creation order (ULIDs), and keyset cursors depend on it
		query += " ORDER BY id ASC"
		if !filter.IsUnlimited() {
			query += fmt.Sprintf(" LIMIT %s OFFSET %s", arg(filter.GetLimit()), arg(filter.GetOffset()))
		}
	}

	return query, args
}

func subscriptionNotFound(id string) error {
	return ierr.NewError("subscription not found").
		WithHintf("Subscription %s was not found", id).
		WithReportableDetails(map[string]any{"subscription_id": id}).
		Mark(ierr.ErrNotFound)
}
