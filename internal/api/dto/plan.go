package dto

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kangjhooe/xclass-sub019/internal/domain/plan"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type CreatePlanRequest struct {
	Name        string `json:"name" binding:"required"`
	LookupKey   string `json:"lookup_key"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
	// PricePerStudent is the annual per-student price in currency minor units
	PricePerStudent       int64 `json:"price_per_student"`
	IsFree                bool  `json:"is_free"`
	StudentCountThreshold int   `json:"student_count_threshold" binding:"required,min=1"`
}

func (r *CreatePlanRequest) ToPlan(ctx context.Context) *plan.Plan {
	currency := r.Currency
	if currency == "" {
		currency = "idr"
	}

	return &plan.Plan{
		ID:                    types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:                  r.Name,
		LookupKey:             r.LookupKey,
		Description:           r.Description,
		Currency:              currency,
		PricePerStudent:       decimal.NewFromInt(r.PricePerStudent),
		IsFree:                r.IsFree,
		StudentCountThreshold: r.StudentCountThreshold,
		BaseModel:             types.GetDefaultBaseModel(ctx),
	}
}

type UpdatePlanRequest struct {
	Name                  *string `json:"name,omitempty"`
	Description           *string `json:"description,omitempty"`
	PricePerStudent       *int64  `json:"price_per_student,omitempty"`
	StudentCountThreshold *int    `json:"student_count_threshold,omitempty"`
}

type PlanResponse struct {
	*plan.Plan
}

// ListPlansResponse represents a paginated list of plans
type ListPlansResponse = types.ListResponse[*PlanResponse]
