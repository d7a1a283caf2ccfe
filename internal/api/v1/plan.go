package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/service"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type PlanHandler struct {
	service service.PlanService
	log     *logger.Logger
}

func NewPlanHandler(service service.PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		service: service,
		log:     log,
	}
}

// @Summary Create a new plan
// @Description Create a new plan priced per active student
// @Tags Plans
// @Accept json
// @Produce json
// @Param plan body dto.CreatePlanRequest true "Plan configuration"
// @Success 201 {object} dto.PlanResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 500 {object} middleware.ErrorResponse
// @Router /plans [post]
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req dto.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreatePlan(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get a plan
// @Description Get a plan by ID
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} dto.PlanResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /plans/{id} [get]
func (h *PlanHandler) GetPlan(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("plan ID is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetPlan(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get plans
// @Description Get the plan catalog with optional filtering
// @Tags Plans
// @Produce json
// @Param filter query types.QueryFilter false "Filter"
// @Success 200 {object} dto.ListPlansResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /plans [get]
func (h *PlanHandler) GetPlans(c *gin.Context) {
	var filter types.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListPlans(c.Request.Context(), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Update a plan
// @Description Update a plan's mutable fields
// @Tags Plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param plan body dto.UpdatePlanRequest true "Plan update"
// @Success 200 {object} dto.PlanResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /plans/{id} [put]
func (h *PlanHandler) UpdatePlan(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("plan ID is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.UpdatePlan(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Delete a plan
// @Description Archive a plan so new subscriptions can no longer use it
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} middleware.ErrorResponse
// @Router /plans/{id} [delete]
func (h *PlanHandler) DeletePlan(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("plan ID is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.DeletePlan(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "plan deleted successfully"})
}
