package api

import (
	"time"

	"seedmarket/ambassador"
	"seedmarket/dispute"
	"seedmarket/order"
	"seedmarket/reward"
	"seedmarket/seeds"
	"seedmarket/strikes"
)

// View types keep the wire shapes independent of the domain structs, which
// deliberately carry no JSON annotations.

type disputeView struct {
	ID                int64      `json:"id"`
	OrderID           string     `json:"order_id"`
	BuyerID           string     `json:"buyer_id"`
	SellerID          string     `json:"seller_id"`
	BuyerReason       string     `json:"buyer_reason"`
	BuyerEvidenceRef  string     `json:"buyer_evidence_ref,omitempty"`
	SellerResponse    *string    `json:"seller_response,omitempty"`
	SellerEvidenceRef *string    `json:"seller_evidence_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	VotingEndsAt      time.Time  `json:"voting_ends_at"`
	VotesForBuyer     int        `json:"votes_for_buyer"`
	VotesForSeller    int        `json:"votes_for_seller"`
	Resolved          bool       `json:"resolved"`
	BuyerWon          bool       `json:"buyer_won"`
	Extended          bool       `json:"extended"`
	AdminResolved     bool       `json:"admin_resolved"`
	AdminReason       *string    `json:"admin_reason,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func disputeViewOf(rec dispute.Record) disputeView {
	return disputeView{
		ID:                rec.ID,
		OrderID:           rec.OrderID,
		BuyerID:           rec.BuyerID,
		SellerID:          rec.SellerID,
		BuyerReason:       rec.BuyerReason,
		BuyerEvidenceRef:  rec.BuyerEvidenceRef,
		SellerResponse:    rec.SellerResponse,
		SellerEvidenceRef: rec.SellerEvidenceRef,
		CreatedAt:         rec.CreatedAt,
		VotingEndsAt:      rec.VotingEndsAt,
		VotesForBuyer:     rec.VotesForBuyer,
		VotesForSeller:    rec.VotesForSeller,
		Resolved:          rec.Resolved,
		BuyerWon:          rec.BuyerWon,
		Extended:          rec.Extended,
		AdminResolved:     rec.AdminResolved,
		AdminReason:       rec.AdminReason,
		ResolvedAt:        rec.ResolvedAt,
	}
}

type voteView struct {
	DisputeID     int64     `json:"dispute_id"`
	VoterID       string    `json:"voter_id"`
	VotedForBuyer bool      `json:"voted_for_buyer"`
	SeedsAwarded  int64     `json:"seeds_awarded"`
	CreatedAt     time.Time `json:"created_at"`
}

func voteViewOf(v dispute.Vote) voteView {
	return voteView{
		DisputeID:     v.DisputeID,
		VoterID:       v.VoterID,
		VotedForBuyer: v.VotedForBuyer,
		SeedsAwarded:  v.SeedsAwarded,
		CreatedAt:     v.CreatedAt,
	}
}

type ambassadorView struct {
	ID                   string    `json:"id"`
	OwnerIdentity        string    `json:"owner_identity"`
	UplineID             *string   `json:"upline_id,omitempty"`
	RecruitedSellers     int       `json:"recruited_sellers"`
	RecruitedAmbassadors int       `json:"recruited_ambassadors"`
	TotalEarned          int64     `json:"total_earned"`
	Active               bool      `json:"active"`
	Suspended            bool      `json:"suspended"`
	CreatedAt            time.Time `json:"created_at"`
}

func ambassadorViewOf(rec ambassador.Record) ambassadorView {
	return ambassadorView{
		ID:                   rec.ID,
		OwnerIdentity:        rec.OwnerIdentity,
		UplineID:             rec.UplineID,
		RecruitedSellers:     rec.RecruitedSellers,
		RecruitedAmbassadors: rec.RecruitedAmbassadors,
		TotalEarned:          rec.TotalEarned,
		Active:               rec.Active,
		Suspended:            rec.Suspended,
		CreatedAt:            rec.CreatedAt,
	}
}

type rewardView struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"order_id"`
	TotalAmount int64            `json:"total_amount"`
	ChainDepth  int              `json:"chain_depth"`
	QueuedAt    time.Time        `json:"queued_at"`
	ClaimableAt time.Time        `json:"claimable_at"`
	Claimed     bool             `json:"claimed"`
	ClaimedAt   *time.Time       `json:"claimed_at,omitempty"`
	Allocations []allocationView `json:"allocations,omitempty"`
}

type allocationView struct {
	Level        int    `json:"level"`
	AmbassadorID string `json:"ambassador_id"`
	Amount       int64  `json:"amount"`
}

func rewardViewOf(rec reward.PendingReward, allocs []reward.Allocation) rewardView {
	view := rewardView{
		ID:          rec.ID,
		OrderID:     rec.OrderID,
		TotalAmount: rec.TotalAmount,
		ChainDepth:  rec.ChainDepth,
		QueuedAt:    rec.QueuedAt,
		ClaimableAt: rec.ClaimableAt,
		Claimed:     rec.Claimed,
		ClaimedAt:   rec.ClaimedAt,
	}
	for _, a := range allocs {
		view.Allocations = append(view.Allocations, allocationView{
			Level:        a.Level,
			AmbassadorID: a.AmbassadorID,
			Amount:       a.Amount,
		})
	}
	return view
}

type balanceView struct {
	Identity     string    `json:"identity"`
	Purchases    int64     `json:"purchases"`
	Sales        int64     `json:"sales"`
	Referrals    int64     `json:"referrals"`
	Milestones   int64     `json:"milestones"`
	Recruitments int64     `json:"recruitments"`
	Total        int64     `json:"total"`
	LastUpdated  time.Time `json:"last_updated"`
	EventCount   int64     `json:"event_count"`
}

func balanceViewOf(b seeds.Balance) balanceView {
	return balanceView{
		Identity:     b.Identity,
		Purchases:    b.Purchases,
		Sales:        b.Sales,
		Referrals:    b.Referrals,
		Milestones:   b.Milestones,
		Recruitments: b.Recruitments,
		Total:        b.Total,
		LastUpdated:  b.LastUpdated,
		EventCount:   b.EventCount,
	}
}

type seedsEventView struct {
	ID             int64     `json:"id"`
	Identity       string    `json:"identity"`
	Category       string    `json:"category"`
	RawAmount      int64     `json:"raw_amount"`
	MultiplierBps  int64     `json:"multiplier_bps"`
	AdjustedAmount int64     `json:"adjusted_amount"`
	RefKind        string    `json:"ref_kind,omitempty"`
	RefID          string    `json:"ref_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func seedsEventViewOf(e seeds.Event) seedsEventView {
	return seedsEventView{
		ID:             e.ID,
		Identity:       e.Identity,
		Category:       string(e.Category),
		RawAmount:      e.RawAmount,
		MultiplierBps:  e.MultiplierBps,
		AdjustedAmount: e.AdjustedAmount,
		RefKind:        e.RefKind,
		RefID:          e.RefID,
		CreatedAt:      e.CreatedAt,
	}
}

type strikesView struct {
	Identity      string     `json:"identity"`
	SellerStrikes int        `json:"seller_strikes"`
	BuyerStrikes  int        `json:"buyer_strikes"`
	LastStrikeAt  *time.Time `json:"last_strike_at,omitempty"`
}

func strikesViewOf(rec strikes.Record) strikesView {
	view := strikesView{
		Identity:      rec.Identity,
		SellerStrikes: rec.SellerStrikes,
		BuyerStrikes:  rec.BuyerStrikes,
	}
	if !rec.LastStrikeAt.IsZero() {
		at := rec.LastStrikeAt
		view.LastStrikeAt = &at
	}
	return view
}

type orderViewBody struct {
	ID          string    `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	Amount      int64     `json:"amount"`
	Contestable bool      `json:"contestable"`
	CompletedAt time.Time `json:"completed_at"`
}

func orderView(rec order.Record) orderViewBody {
	return orderViewBody{
		ID:          rec.ID,
		BuyerID:     rec.BuyerID,
		SellerID:    rec.SellerID,
		Amount:      rec.Amount,
		Contestable: rec.Contestable,
		CompletedAt: rec.CompletedAt,
	}
}
