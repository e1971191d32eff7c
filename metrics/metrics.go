package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the trust core.
type Metrics struct {
	DisputesOpened   prometheus.Counter
	VotesCast        *prometheus.CounterVec
	DisputesResolved *prometheus.CounterVec
	DisputesExtended prometheus.Counter
	StrikesApplied   *prometheus.CounterVec
	SellersSuspended prometheus.Counter

	RewardsDistributed prometheus.Counter
	RewardsClaimed     prometheus.Counter
	RewardAmount       prometheus.Counter

	SeedsAccrued *prometheus.CounterVec
}

// New creates and registers all instruments on the default registerer.
func New() *Metrics {
	return &Metrics{
		DisputesOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_disputes_opened_total",
			Help: "Total disputes opened against completed orders",
		}),
		VotesCast: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedmarket_dispute_votes_total",
			Help: "Total dispute votes cast",
		}, []string{"side"}), // side: buyer, seller
		DisputesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedmarket_disputes_resolved_total",
			Help: "Total disputes resolved",
		}, []string{"outcome", "via"}), // outcome: buyer, seller; via: quorum, admin
		DisputesExtended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_disputes_extended_total",
			Help: "Total voting-window extensions granted",
		}),
		StrikesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedmarket_strikes_applied_total",
			Help: "Total strikes applied to losing dispute parties",
		}, []string{"role"}), // role: seller, buyer
		SellersSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_sellers_suspended_total",
			Help: "Total sellers auto-suspended by the strike threshold",
		}),
		RewardsDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_rewards_distributed_total",
			Help: "Total referral reward distributions queued",
		}),
		RewardsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_rewards_claimed_total",
			Help: "Total vested rewards claimed",
		}),
		RewardAmount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seedmarket_reward_amount_total",
			Help: "Sum of reward amounts distributed, in base units",
		}),
		SeedsAccrued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seedmarket_seeds_accrued_total",
			Help: "Sum of adjusted Seeds accrued",
		}, []string{"category"}),
	}
}
