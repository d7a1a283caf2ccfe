package plan

import (
	"context"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Repository defines the interface for plan persistence operations
type Repository interface {
	Create(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetByLookupKey(ctx context.Context, lookupKey string) (*Plan, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*Plan, error)
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)
	Update(ctx context.Context, plan *Plan) error
	Delete(ctx context.Context, id string) error
}
