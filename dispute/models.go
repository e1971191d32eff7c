package dispute

import "time"

// Record mirrors the disputes table: one row per disputed order, kept
// forever. Tallies only grow, resolved flips once, and buyer_won is frozen
// the moment resolved becomes true.
type Record struct {
	ID                int64
	OrderID           string
	BuyerID           string
	SellerID          string
	BuyerReason       string
	BuyerEvidenceRef  string
	SellerResponse    *string
	SellerEvidenceRef *string
	CreatedAt         time.Time
	VotingEndsAt      time.Time
	VotesForBuyer     int
	VotesForSeller    int
	Resolved          bool
	BuyerWon          bool
	Extended          bool
	AdminResolved     bool
	AdminReason       *string
	ResolvedAt        *time.Time
}

// TotalVotes is the quorum input.
func (r Record) TotalVotes() int {
	return r.VotesForBuyer + r.VotesForSeller
}

// Vote is one (dispute, voter) ballot. The pair is unique; a voter gets one
// ballot per dispute, ever.
type Vote struct {
	DisputeID     int64
	VoterID       string
	VotedForBuyer bool
	SeedsAwarded  int64
	CreatedAt     time.Time
}
