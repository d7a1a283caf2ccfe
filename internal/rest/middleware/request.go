package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// RequestIDMiddleware tags every request with an identifier that flows
// through logs and error reports
func RequestIDMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, types.CtxRequestID, requestID)
	c.Request = c.Request.WithContext(ctx)

	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}
