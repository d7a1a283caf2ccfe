package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/service"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type BillingHandler struct {
	service service.BillingService
	log     *logger.Logger
}

func NewBillingHandler(service service.BillingService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		service: service,
		log:     log,
	}
}

// @Summary Get billing history
// @Description Get the calling school's billing ledger, newest first
// @Tags Billing
// @Produce json
// @Param filter query types.BillingHistoryFilter false "Filter"
// @Success 200 {object} dto.ListBillingHistoryResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /billing/history [get]
func (h *BillingHandler) GetBillingHistory(c *gin.Context) {
	var filter types.BillingHistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListBillingHistory(c.Request.Context(), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get a billing record
// @Description Get a single billing ledger row by ID
// @Tags Billing
// @Produce json
// @Param id path string true "Billing history ID"
// @Success 200 {object} dto.BillingHistoryResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /billing/history/{id} [get]
func (h *BillingHandler) GetBillingRecord(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("billing history ID is required").
			WithHint("Billing history ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetBillingHistory(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Mark an invoice as paid
// @Description Record payment for a billing ledger row. Idempotent.
// @Tags Billing
// @Produce json
// @Param id path string true "Billing history ID"
// @Success 200 {object} dto.BillingHistoryResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /billing/history/{id}/pay [post]
func (h *BillingHandler) MarkPaid(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("billing history ID is required").
			WithHint("Billing history ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.MarkPaid(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
