package sequence

import "time"

// Category scopes a counter to one kind of serial.
type Category string

const (
	CategoryExpenseClaim    Category = "EXPENSE_CLAIM"
	CategoryCashAdvancement Category = "CASH_ADVANCE"
	CategoryFile            Category = "FILE"
	CategoryDraft           Category = "DRAFT"
)

// Counter holds the last issued value for one (category, office) pair.
type Counter struct {
	Category  Category
	OfficeID  int64
	LastValue int64
	UpdatedAt time.Time
}
