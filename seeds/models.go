package seeds

import "time"

// Category classifies a Seeds accrual.
type Category string

const (
	CategoryPurchase    Category = "purchase"
	CategorySale        Category = "sale"
	CategoryReferral    Category = "referral"
	CategoryMilestone   Category = "milestone"
	CategoryRecruitment Category = "recruitment"
)

// Valid reports whether c is one of the five accrual categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPurchase, CategorySale, CategoryReferral, CategoryMilestone, CategoryRecruitment:
		return true
	default:
		return false
	}
}

// Event is one immutable accrual log entry.
type Event struct {
	ID             int64
	Identity       string
	Category       Category
	RawAmount      int64
	MultiplierBps  int64
	AdjustedAmount int64
	RefKind        string
	RefID          string
	CreatedAt      time.Time
}

// Balance is the rolling per-identity aggregate. Total always equals the sum
// of the five category fields; the balances table enforces it with a check
// constraint as well.
type Balance struct {
	Identity     string
	Purchases    int64
	Sales        int64
	Referrals    int64
	Milestones   int64
	Recruitments int64
	Total        int64
	LastUpdated  time.Time
	EventCount   int64
}

// Accrual is the caller-supplied input for one Record operation. RefKind and
// RefID point back at the originating cause (order id, dispute id, milestone
// tag).
type Accrual struct {
	Identity  string
	Category  Category
	RawAmount int64
	RefKind   string
	RefID     string
}
