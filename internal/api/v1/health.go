package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kangjhooe/xclass-sub019/internal/logger"
)

type HealthHandler struct {
	logger *logger.Logger
}

func NewHealthHandler(
	logger *logger.Logger,
) *HealthHandler {
	return &HealthHandler{
		logger: logger,
	}
}

// @Summary Health check
// @Description Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
