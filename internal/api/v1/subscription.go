package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kangjhooe/xclass-sub019/internal/api/dto"
	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/service"
)

type SubscriptionHandler struct {
	service service.SubscriptionService
	log     *logger.Logger
}

func NewSubscriptionHandler(service service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		log:     log,
	}
}

// @Summary Create a subscription
// @Description Subscribe the calling school to a plan, optionally with a trial
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.CreateSubscriptionRequest true "Subscription configuration"
// @Success 201 {object} dto.SubscriptionResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /subscriptions [post]
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get the subscription summary
// @Description Get the calling school's billing dashboard read model
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionSummaryResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/summary [get]
func (h *SubscriptionHandler) GetSubscriptionSummary(c *gin.Context) {
	resp, err := h.service.GetSubscriptionSummary(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Evaluate the billing threshold
// @Description Re-evaluate unbilled roster growth against the plan threshold.
// @Description Called by the roster subsystem after enrollment changes.
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} dto.ThresholdEvaluationResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/evaluate [post]
func (h *SubscriptionHandler) EvaluateThreshold(c *gin.Context) {
	resp, err := h.service.EvaluateThreshold(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Cancel the subscription
// @Description Expire the calling school's subscription. This is terminal.
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	resp, err := h.service.CancelSubscription(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
