package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_tally_matches_ballots",
			SQL: `SELECT d.id, d.votes_for_buyer, d.votes_for_seller,
                         COUNT(*) FILTER (WHERE v.voted_for_buyer) AS ballots_buyer,
                         COUNT(*) FILTER (WHERE NOT v.voted_for_buyer) AS ballots_seller
                  FROM disputes d
                  LEFT JOIN dispute_votes v ON v.dispute_id = d.id
                  GROUP BY d.id
                  HAVING d.votes_for_buyer <> COUNT(*) FILTER (WHERE v.voted_for_buyer)
                      OR d.votes_for_seller <> COUNT(*) FILTER (WHERE NOT v.voted_for_buyer)`,
		},
		{
			Name: "O2_no_late_ballots",
			SQL: `SELECT v.dispute_id, v.voter_id, v.created_at, d.voting_ends_at
                  FROM dispute_votes v
                  JOIN disputes d ON d.id = v.dispute_id
                  WHERE v.created_at > d.voting_ends_at`,
		},
		{
			Name: "O3_resolution_write_once",
			SQL: `SELECT id FROM disputes
                  WHERE (resolved AND resolved_at IS NULL)
                     OR (NOT resolved AND resolved_at IS NOT NULL)
                     OR (NOT resolved AND admin_resolved)`,
		},
		{
			Name: "O4_seeds_balance_matches_events",
			SQL: `SELECT b.identity, b.total, COALESCE(SUM(e.adjusted_amount),0) AS event_total
                  FROM seeds_balances b
                  LEFT JOIN seeds_events e ON e.identity = b.identity
                  GROUP BY b.identity
                  HAVING b.total <> COALESCE(SUM(e.adjusted_amount),0)
                      OR b.event_count <> COUNT(e.id)`,
		},
		{
			Name: "O5_allocations_within_total",
			SQL: `SELECT r.id, r.total_amount, SUM(ra.amount) AS allocated
                  FROM pending_rewards r
                  JOIN reward_allocations ra ON ra.reward_id = r.id
                  GROUP BY r.id
                  HAVING SUM(ra.amount) > r.total_amount`,
		},
		{
			Name: "O6_earnings_match_claimed",
			SQL: `SELECT a.id, a.total_earned, COALESCE(SUM(ra.amount),0) AS claimed_total
                  FROM ambassadors a
                  LEFT JOIN reward_allocations ra ON ra.ambassador_id = a.id
                  LEFT JOIN pending_rewards r ON r.id = ra.reward_id AND r.claimed
                  GROUP BY a.id
                  HAVING a.total_earned <> COALESCE(SUM(ra.amount) FILTER (WHERE r.claimed),0)`,
		},
		{
			Name: "O7_claim_requires_vesting",
			SQL: `SELECT id FROM pending_rewards
                  WHERE claimed AND (claimed_at IS NULL OR claimed_at < claimable_at)`,
		},
		{
			Name: "O8_strike_threshold_suspends",
			SQL: `SELECT s.identity, s.seller_strikes, u.suspended
                  FROM user_strikes s
                  JOIN users u ON u.id = s.identity
                  WHERE s.seller_strikes >= 3 AND NOT u.suspended`,
		},
		{
			Name: "O9_no_stale_outbox",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
