package reward

import "time"

// PendingReward is one reward-distribution event awaiting vesting.
// TotalAmount is the amount actually distributed across the chain, which can
// be less than the order amount when depth caps or rounding leave a
// remainder undistributed.
type PendingReward struct {
	ID          string
	OrderID     string
	TotalAmount int64
	ChainDepth  int
	QueuedAt    time.Time
	ClaimableAt time.Time
	Claimed     bool
	ClaimedAt   *time.Time
}

// Allocation is one level's share of a pending reward.
type Allocation struct {
	RewardID     string
	Level        int
	AmbassadorID string
	Amount       int64
}
