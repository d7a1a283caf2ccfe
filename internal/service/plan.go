package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// PlanService manages the read-mostly plan catalog
type PlanService interface {
	CreatePlan(ctx context.Context, req dto.CreatePlanRequest) (*dto.PlanResponse, error)
	GetPlan(ctx context.Context, id string) (*dto.PlanResponse, error)
	ListPlans(ctx context.Context, filter *types.QueryFilter) (*dto.ListPlansResponse, error)
	UpdatePlan(ctx context.Context, id string, req dto.UpdatePlanRequest) (*dto.PlanResponse, error)
	DeletePlan(ctx context.Context, id string) error
}

type planService struct {
	ServiceParams
}

func NewPlanService(params ServiceParams) PlanService {
	return &planService{ServiceParams: params}
}

func (s *planService) CreatePlan(ctx context.Context, req dto.CreatePlanRequest) (*dto.PlanResponse, error) {
	p := req.ToPlan(ctx)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.PlanRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.Logger.Infow("created plan",
		"plan_id", p.ID,
		"name", p.Name,
		"price_per_student", p.PricePerStudent,
		"threshold", p.StudentCountThreshold,
	)

	return &dto.PlanResponse{Plan: p}, nil
}

func (s *planService) GetPlan(ctx context.Context, id string) (*dto.PlanResponse, error) {
	if id == "" {
		return nil, ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}

	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return &dto.PlanResponse{Plan: p}, nil
}

func (s *planService) ListPlans(ctx context.Context, filter *types.QueryFilter) (*dto.ListPlansResponse, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	plans, err := s.PlanRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	count, err := s.PlanRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PlanResponse, len(plans))
	for i, p := range plans {
		items[i] = &dto.PlanResponse{Plan: p}
	}

	response := types.NewListResponse(items, count, filter.GetLimit(), filter.GetOffset())
	return &response, nil
}

func (s *planService) UpdatePlan(ctx context.Context, id string, req dto.UpdatePlanRequest) (*dto.PlanResponse, error) {
	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.PricePerStudent != nil {
		p.PricePerStudent = decimal.NewFromInt(*req.PricePerStudent)
	}
	if req.StudentCountThreshold != nil {
		p.StudentCountThreshold = *req.StudentCountThreshold
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.PlanRepo.Update(ctx, p); err != nil {
		return nil, err
	}

	return &dto.PlanResponse{Plan: p}, nil
}

func (s *planService) DeletePlan(ctx context.Context, id string) error {
	if id == "" {
		return ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}
	return s.PlanRepo.Delete(ctx, id)
}
