package plan

import (
	"github.com/shopspring/decimal"

	ierr "github.com/kangjhooe/xclass-sub019/internal/errors"
	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Plan is a school subscription plan priced per active student.
type Plan struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	LookupKey   string `db:"lookup_key" json:"lookup_key"`
	Description string `db:"description" json:"description"`

	// Currency is the currency of the plan in lowercase 3 digit ISO codes
	Currency string `db:"currency" json:"currency"`

	// PricePerStudent is the annual price per active student in currency
	// minor units. Stored as an integral decimal so billed amounts stay
	// exactly reproducible.
	PricePerStudent decimal.Decimal `db:"price_per_student" json:"price_per_student"`

	// IsFree marks plans that never produce billing records
	IsFree bool `db:"is_free" json:"is_free"`

	// StudentCountThreshold is the number of additional students beyond the
	// billed baseline that forces an immediate supplemental invoice
	StudentCountThreshold int `db:"student_count_threshold" json:"student_count_threshold"`

	types.BaseModel
}

func (p *Plan) Validate() error {
	if p.Name == "" {
		return ierr.NewError("plan name is required").
			WithHint("Plan name is required").
			Mark(ierr.ErrValidation)
	}

	if p.PricePerStudent.IsNegative() {
		return ierr.NewError("price per student must be non-negative").
			WithHint("Price per student must be non-negative").
			Mark(ierr.ErrValidation)
	}

	if !p.PricePerStudent.IsInteger() {
		return ierr.NewError("price per student must be in integer minor units").
			WithHint("Price per student must be a whole number of currency minor units").
			Mark(ierr.ErrValidation)
	}

	if p.IsFree && !p.PricePerStudent.IsZero() {
		return ierr.NewError("free plan must have zero price per student").
			WithHint("Free plans cannot have a price per student").
			WithReportableDetails(map[string]any{
				"price_per_student": p.PricePerStudent,
			}).
			Mark(ierr.ErrValidation)
	}

	if p.StudentCountThreshold <= 0 {
		return ierr.NewError("student count threshold must be positive").
			WithHint("Student count threshold must be a positive integer").
			WithReportableDetails(map[string]any{
				"student_count_threshold": p.StudentCountThreshold,
			}).
			Mark(ierr.ErrValidation)
	}

	return nil
}
