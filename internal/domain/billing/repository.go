package billing

import (
	"context"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Repository is the append-only billing ledger. Create enforces the
// non-overlap invariant; MarkPaid is the only permitted mutation.
type Repository interface {
	// Create appends a ledger row. It returns ErrAlreadyExists when an
	// existing row of the same subscription overlaps the new period; this is
	// the idempotency backstop against duplicate sweeps and retried
	// threshold triggers.
	Create(ctx context.Context, record *BillingHistory) error

	Get(ctx context.Context, id string) (*BillingHistory, error)

	// GetLatestBySubscription returns the most recent row by period start
	GetLatestBySubscription(ctx context.Context, subscriptionID string) (*BillingHistory, error)

	List(ctx context.Context, filter *types.BillingHistoryFilter) ([]*BillingHistory, error)

	Count(ctx context.Context, filter *types.BillingHistoryFilter) (int, error)

	// MarkPaid flips is_paid to true and stamps paid_at. Marking an already
	// paid row is a no-op.
	MarkPaid(ctx context.Context, id string) (*BillingHistory, error)

	// NextInvoiceNumber reserves the next value of the global invoice
	// sequence inside the current transaction
	NextInvoiceNumber(ctx context.Context) (int64, error)
}
