package types

import (
	"time"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/samber/lo"
)

const (
	FILTER_DEFAULT_LIMIT = 50

	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// BaseFilter defines common filtering capabilities
type BaseFilter interface {
	GetLimit() int
	GetOffset() int
	GetStatus() string
	GetSort() string
	GetOrder() string
	Validate() error
	IsUnlimited() bool
}

// QueryFilter represents a generic query filter with optional fields
type QueryFilter struct {
	Limit  *int    `json:"limit,omitempty" form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset *int    `json:"offset,omitempty" form:"offset" validate:"omitempty,min=0"`
	Status *Status `json:"status,omitempty" form:"status"`
	Sort   *string `json:"sort,omitempty" form:"sort"`
	Order  *string `json:"order,omitempty" form:"order" validate:"omitempty,oneof=asc desc"`
}

// NewDefaultQueryFilter defines default values for query filters
func NewDefaultQueryFilter() *QueryFilter {
	return &QueryFilter{
		Limit:  lo.ToPtr(FILTER_DEFAULT_LIMIT),
		Offset: lo.ToPtr(0),
		Status: lo.ToPtr(StatusPublished),
		Sort:   lo.ToPtr("created_at"),
		Order:  lo.ToPtr(OrderDesc),
	}
}

// NewNoLimitQueryFilter returns a filter with no pagination limits
func NewNoLimitQueryFilter() *QueryFilter {
	return &QueryFilter{
		Limit:  nil,
		Offset: lo.ToPtr(0),
		Status: lo.ToPtr(StatusPublished),
		Sort:   lo.ToPtr("created_at"),
		Order:  lo.ToPtr(OrderDesc),
	}
}

// IsUnlimited returns true if this is an unlimited query
func (f QueryFilter) IsUnlimited() bool {
	return f.Limit == nil
}

// GetLimit returns the limit value or default if not set
func (f QueryFilter) GetLimit() int {
	if f.IsUnlimited() {
		return 0
	}
	if f.Limit == nil {
		return FILTER_DEFAULT_LIMIT
	}
	return *f.Limit
}

// GetOffset returns the offset value or default if not set
func (f QueryFilter) GetOffset() int {
	if f.Offset == nil {
		return 0
	}
	return *f.Offset
}

// GetSort returns the sort value or default if not set
func (f QueryFilter) GetSort() string {
	if f.Sort == nil {
		return "created_at"
	}
	return *f.Sort
}

// GetOrder returns the order value or default if not set
func (f QueryFilter) GetOrder() string {
	if f.Order == nil {
		return OrderDesc
	}
	return *f.Order
}

// GetStatus returns the status value or default if not set
func (f QueryFilter) GetStatus() string {
	if f.Status == nil {
		return string(StatusPublished)
	}
	return string(*f.Status)
}

func (f QueryFilter) Validate() error {
	if f.Limit != nil && (*f.Limit < 1 || *f.Limit > 1000) {
		return ierr.NewError("limit must be between 1 and 1000").
			WithHint("Limit must be between 1 and 1000").
			Mark(ierr.ErrValidation)
	}
	if f.Offset != nil && *f.Offset < 0 {
		return ierr.NewError("offset must be non-negative").
			WithHint("Offset must be non-negative").
			Mark(ierr.ErrValidation)
	}
	if f.Order != nil && *f.Order != OrderAsc && *f.Order != OrderDesc {
		return ierr.NewError("order must be asc or desc").
			WithHint("Order must be asc or desc").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TimeRangeFilter filters resources by a time window
type TimeRangeFilter struct {
	StartTime *time.Time `json:"start_time,omitempty" form:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" form:"end_time"`
}

func (f TimeRangeFilter) Validate() error {
	if f.StartTime != nil && f.EndTime != nil && f.EndTime.Before(*f.StartTime) {
		return ierr.NewError("end_time must be after start_time").
			WithHint("End time must be after start time").
			Mark(ierr.ErrValidation)
	}
	return nil
}
