package strikes

import "time"

// Role names which side of an order the struck party held.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Record is the per-identity strike ledger row. Counts only ever go up; a
// strike is a permanent mark left by a lost dispute.
type Record struct {
	Identity      string
	SellerStrikes int
	BuyerStrikes  int
	LastStrikeAt  time.Time
}
