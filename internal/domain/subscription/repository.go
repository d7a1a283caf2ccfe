package subscription

import (
	"context"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Repository defines the interface for subscription persistence operations
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error

	Get(ctx context.Context, id string) (*Subscription, error)

	// GetByTenant returns the single live subscription of the current tenant
	GetByTenant(ctx context.Context) (*Subscription, error)

	// GetByTenantForUpdate locks the tenant's subscription row for the
	// duration of the surrounding transaction. Threshold evaluation and
	// renewal processing must serialize on this lock before reading the
	// baseline or billing dates.
	GetByTenantForUpdate(ctx context.Context) (*Subscription, error)

	// Update persists the subscription guarded by its version; it returns
	// ErrVersionConflict when the stored version no longer matches.
	Update(ctx context.Context, sub *Subscription) error

	// ListAllTenant lists subscriptions across tenants, used by the renewal
	// sweep
	ListAllTenant(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)

	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)
}
