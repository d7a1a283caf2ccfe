package dto

import (
	"github.com/kangjhooe/xclass-sub019/internal/domain/billing"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

type BillingHistoryResponse struct {
	*billing.BillingHistory
}

// ListBillingHistoryResponse represents a paginated billing history,
// ordered by billing date descending
type ListBillingHistoryResponse = types.ListResponse[*BillingHistoryResponse]

type MarkPaidRequest struct {
	BillingHistoryID string `json:"billing_history_id" binding:"required"`
}
