package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/postgres"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type planRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPlanRepository(db *postgres.DB, logger *logger.Logger) plan.Repository {
	return &planRepository{db: db, logger: logger}
}

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	query := `
		INSERT INTO plans (
			id, name, lookup_key, description, currency, price_per_student,
			is_free, student_count_threshold,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	q := r.db.GetQuerier(ctx)
	_, err := q.ExecContext(ctx, query,
		p.ID, p.Name, p.LookupKey, p.Description, p.Currency, p.PricePerStudent,
		p.IsFree, p.StudentCountThreshold,
		p.TenantID, p.Status, p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.UpdatedBy,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create plan").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	query := `SELECT * FROM plans WHERE id = $1 AND status != $2`

	var p plan.Plan
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &p, query, id, types.StatusDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("plan not found").
				WithHintf("Plan %s was not found", id).
				WithReportableDetails(map[string]any{"plan_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get plan").
			Mark(ierr.ErrDatabase)
	}

	return &p, nil
}

func (r *planRepository) GetByLookupKey(ctx context.Context, lookupKey string) (*plan.Plan, error) {
	query := `SELECT * FROM plans WHERE lookup_key = $1 AND status != $2`

	var p plan.Plan
	q := r.db.GetQuerier(ctx)
	if err := q.GetContext(ctx, &p, query, lookupKey, types.StatusDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("plan not found").
				WithHintf("Plan with lookup key %s was not found", lookupKey).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get plan").
			Mark(ierr.ErrDatabase)
	}

	return &p, nil
}

func (r *planRepository) List(ctx context.Context, filter *types.QueryFilter) ([]*plan.Plan, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}

	query := fmt.Sprintf(
		`SELECT * FROM plans WHERE status = $1 ORDER BY created_at %s`,
		safeOrder(filter.GetOrder()),
	)
	args := []interface{}{filter.GetStatus()}

	if !filter.IsUnlimited() {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	var plans []*plan.Plan
	q := r.db.GetQuerier(ctx)
	if err := q.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list plans").
			Mark(ierr.ErrDatabase)
	}

	return plans, nil
}

func (r *planRepository) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}

	var count int
	q := r.db.GetQuerier(ctx)
	err := q.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM plans WHERE status = $1`, filter.GetStatus())
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count plans").
			Mark(ierr.ErrDatabase)
	}

	return count, nil
}

func (r *planRepository) Update(ctx context.Context, p *plan.Plan) error {
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = types.GetUserID(ctx)

	query := `
		UPDATE plans SET
			name = $1,
			description = $2,
			currency = $3,
			price_per_student = $4,
			is_free = $5,
			student_count_threshold = $6,
			updated_at = $7,
			updated_by = $8
		WHERE id = $9 AND status != $10
	`

	q := r.db.GetQuerier(ctx)
	res, err := q.ExecContext(ctx, query,
		p.Name, p.Description, p.Currency, p.PricePerStudent,
		p.IsFree, p.StudentCountThreshold, p.UpdatedAt, p.UpdatedBy,
		p.ID, types.StatusDeleted,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update plan").
			Mark(ierr.ErrDatabase)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ierr.NewError("plan not found").
			WithHintf("Plan %s was not found", p.ID).
			Mark(ierr.ErrNotFound)
	}

	return nil
}

func (r *planRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE plans SET status = $1, updated_at = $2, updated_by = $3 WHERE id = $4`

	q := r.db.GetQuerier(ctx)
	res, err := q.ExecContext(ctx, query,
		types.StatusDeleted, time.Now().UTC(), types.GetUserID(ctx), id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete plan").
			Mark(ierr.ErrDatabase)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ierr.NewError("plan not found").
			WithHintf("Plan %s was not found", id).
			Mark(ierr.ErrNotFound)
	}

	return nil
}

func safeOrder(order string) string {
	if order == types.OrderAsc {
		return "ASC"
	}
	return "DESC"
}
