package middleware

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler middleware handles error responses
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			response := ErrorResponse{
				Success: false,
				Error: ErrorDetail{
					Display: getDisplayMessage(err),
					Details: getSafeDetails(err),
				},
			}

			status := ierr.HTTPStatusFromErr(err)
			c.JSON(status, response)
		}
	}
}

func getDisplayMessage(err error) string {
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		// GetAllHints is post-order traversal; take the first non-empty one
		for _, hint := range hints {
			if hint = strings.TrimSpace(hint); hint != "" {
				return hint
			}
		}
	}

	return "An unexpected error occurred"
}

func getSafeDetails(err error) map[string]any {
	details := make(map[string]any)

	for _, sdp := range errors.GetAllSafeDetails(err) {
		for _, payload := range sdp.SafeDetails {
			if len(payload) > 9 && strings.HasPrefix(payload, "__json__:") {
				var jsonDetails map[string]any
				if err := json.Unmarshal([]byte(payload[9:]), &jsonDetails); err == nil {
					for k, v := range jsonDetails {
						details[k] = v
					}
				}
			}
		}
	}

	return details
}
