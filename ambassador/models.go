package ambassador

import "time"

// Record mirrors the ambassadors table. UplineID is set once at registration
// and never re-parented, so the upline relation stays a forest.
type Record struct {
	ID                   string
	OwnerIdentity        string
	UplineID             *string
	RecruitedSellers     int
	RecruitedAmbassadors int
	TotalEarned          int64
	Active               bool
	Suspended            bool
	CreatedAt            time.Time
}

// Recruitment links a seller to the ambassador who recruited them, at most
// once per seller.
type Recruitment struct {
	SellerID     string
	AmbassadorID string
	CreatedAt    time.Time
}
