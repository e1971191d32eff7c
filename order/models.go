package order

import "time"

// Record mirrors the orders read model reported by the marketplace.
// The trust core only ever sees completed orders.
type Record struct {
	ID          string
	BuyerID     string
	SellerID    string
	Amount      int64
	Contestable bool
	CompletedAt time.Time
}
