package cron

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kangjhooe/xclass-sub019/internal/logger"
	"github.com/kangjhooe/xclass-sub019/internal/service"
)

// RenewalHandler exposes the renewal sweep to external cron triggers
type RenewalHandler struct {
	renewalService service.RenewalService
	logger         *logger.Logger
}

func NewRenewalHandler(
	renewalService service.RenewalService,
	logger *logger.Logger,
) *RenewalHandler {
	return &RenewalHandler{
		renewalService: renewalService,
		logger:         logger,
	}
}

// ProcessDueSubscriptions runs one renewal sweep: it converts lapsed trials
// and bills due renewals across all tenants
func (h *RenewalHandler) ProcessDueSubscriptions(c *gin.Context) {
	ctx := c.Request.Context()

	response, err := h.renewalService.ProcessDueSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Errorw("failed to process due subscriptions",
			"error", err)

		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}
