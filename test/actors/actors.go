package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Voter casts ballots on a dispute from a fixed juror identity. The ballot
// insert and the tally bump ride the same transaction so the tally oracle can
// hold at every commit point. Duplicate ballots are expected under contention.
func Voter(ctx context.Context, pool *pgxpool.Pool, disputeID int64, voterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		forBuyer := rand.Intn(2) == 0
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		// the window check and the ballot default to the same transaction
		// timestamp, so a ballot can never land past the deadline it saw
		var resolved, open bool
		err = tx.QueryRow(ctx, `SELECT resolved, voting_ends_at > get_tx_timestamp() FROM disputes WHERE id=$1 FOR UPDATE`, disputeID).
			Scan(&resolved, &open)
		if err == nil && !resolved && open {
			_, err = tx.Exec(ctx, `INSERT INTO dispute_votes (dispute_id, voter_id, voted_for_buyer, seeds_awarded)
                                   VALUES ($1,$2,$3,10)`, disputeID, voterID, forBuyer)
			if err == nil {
				column := "votes_for_seller"
				if forBuyer {
					column = "votes_for_buyer"
				}
				if _, err = tx.Exec(ctx, `UPDATE disputes SET `+column+` = `+column+` + 1 WHERE id=$1`, disputeID); err != nil {
					_ = tx.Rollback(ctx)
					return fmt.Errorf("voter tally: %w", err)
				}
				if err := tx.Commit(ctx); err != nil {
					_ = tx.Rollback(ctx)
				}
			} else {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					// expected under contention
					_ = tx.Rollback(ctx)
				} else {
					_ = tx.Rollback(ctx)
					return fmt.Errorf("voter insert: %w", err)
				}
			}
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Resolver races to close a dispute once the window lapses: quorum resolves
// it, a short quorum extends it exactly once. The losing party's strike and
// the published event commit with the resolution so the write-once and
// suspension oracles see no intermediate state.
func Resolver(ctx context.Context, pool *pgxpool.Pool, disputeID int64, minVotes int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var (
			resolved, extended bool
			endsAt             time.Time
			forBuyer, forSeller int
			buyerID, sellerID  string
		)
		err = tx.QueryRow(ctx, `SELECT resolved, extended, voting_ends_at, votes_for_buyer, votes_for_seller, buyer_id, seller_id
                                FROM disputes WHERE id=$1 FOR UPDATE`, disputeID).
			Scan(&resolved, &extended, &endsAt, &forBuyer, &forSeller, &buyerID, &sellerID)
		if err == nil && !resolved && !time.Now().Before(endsAt) {
			switch {
			case forBuyer+forSeller >= minVotes:
				buyerWon := forBuyer > forSeller
				_, err = tx.Exec(ctx, `UPDATE disputes SET resolved=true, buyer_won=$2, resolved_at=NOW()
                                       WHERE id=$1 AND resolved=false`, disputeID, buyerWon)
				if err == nil {
					loser, column := buyerID, "buyer_strikes"
					if buyerWon {
						loser, column = sellerID, "seller_strikes"
					}
					_, _ = tx.Exec(ctx, `INSERT INTO user_strikes (identity, `+column+`) VALUES ($1, 1)
                                         ON CONFLICT (identity) DO UPDATE
                                         SET `+column+` = user_strikes.`+column+` + 1, last_strike_at = NOW()`, loser)
					if buyerWon {
						_, _ = tx.Exec(ctx, `UPDATE users SET suspended=true WHERE id=$1
                                             AND (SELECT seller_strikes FROM user_strikes WHERE identity=$1) >= 3`, sellerID)
					}
					_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload)
                                         VALUES ('dispute.resolved', jsonb_build_object('dispute_id',$1,'buyer_won',$2))`, disputeID, buyerWon)
					_ = tx.Commit(ctx)
				} else {
					_ = tx.Rollback(ctx)
				}
			case !extended:
				_, _ = tx.Exec(ctx, `UPDATE disputes SET extended=true, voting_ends_at=NOW() + interval '2 seconds'
                                     WHERE id=$1 AND extended=false`, disputeID)
				_ = tx.Commit(ctx)
			default:
				_ = tx.Rollback(ctx)
			}
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// AdminOverrider occasionally re-stamps an already-resolved dispute the way a
// moderator would. The outcome flips but resolved_at and the strike ledger
// stay put.
func AdminOverrider(ctx context.Context, pool *pgxpool.Pool, disputeID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(5) == 0 {
			_, _ = pool.Exec(ctx, `UPDATE disputes SET admin_resolved=true, buyer_won=NOT buyer_won,
                                   admin_reason='stress override'
                                   WHERE id=$1 AND resolved=true`, disputeID)
		}
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

// RewardPoster races to queue the referral reward for one order. Exactly one
// insert wins the unique order constraint; the winner writes the 80/20 split
// down the ambassador chain in the same transaction.
func RewardPoster(ctx context.Context, pool *pgxpool.Pool, orderID string, chain []string, total int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var rewardID string
		err = tx.QueryRow(ctx, `INSERT INTO pending_rewards (order_id, total_amount, chain_depth, claimable_at)
                                VALUES ($1,$2,$3,NOW())
                                ON CONFLICT (order_id) DO NOTHING
                                RETURNING id`, orderID, total, len(chain)).Scan(&rewardID)
		if err == nil {
			remaining := total
			for level, ambID := range chain {
				share := remaining * 8000 / 10000
				if share == 0 {
					break
				}
				if _, err = tx.Exec(ctx, `INSERT INTO reward_allocations (reward_id, level, ambassador_id, amount)
                                          VALUES ($1,$2,$3,$4)`, rewardID, level, ambID, share); err != nil {
					_ = tx.Rollback(ctx)
					return fmt.Errorf("reward poster allocation: %w", err)
				}
				remaining -= share
			}
			_ = tx.Commit(ctx)
		} else if errors.Is(err, pgx.ErrNoRows) {
			// order already rewarded; expected under contention
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("reward poster insert: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Claimer sweeps vested unclaimed rewards and pays each allocation out to its
// ambassador. The claimed flip and the earnings credits share one
// transaction, which is what the earnings oracle checks.
func Claimer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var rewardID string
		err = tx.QueryRow(ctx, `SELECT id FROM pending_rewards
                                WHERE claimed=false AND claimable_at <= NOW()
                                LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&rewardID)
		if err == nil {
			tag, err := tx.Exec(ctx, `UPDATE pending_rewards SET claimed=true, claimed_at=NOW()
                                      WHERE id=$1 AND claimed=false`, rewardID)
			if err == nil && tag.RowsAffected() == 1 {
				_, _ = tx.Exec(ctx, `UPDATE ambassadors a SET total_earned = a.total_earned + ra.amount
                                     FROM reward_allocations ra
                                     WHERE ra.reward_id=$1 AND ra.ambassador_id=a.id`, rewardID)
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload)
                                     VALUES ('reward.claimed', jsonb_build_object('reward_id',$1))`, rewardID)
				_ = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
			}
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(60+rand.Intn(80)) * time.Millisecond)
	}
}

// Accruer hammers one identity's seeds balance with small referral accruals.
// Event insert, balance upsert and the first-accrual counter bump follow the
// ledger's single-transaction shape.
func Accruer(ctx context.Context, pool *pgxpool.Pool, identity string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		raw := int64(1 + rand.Intn(10))
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO seeds_events (identity, category, raw_amount, multiplier_bps, adjusted_amount, ref_kind, ref_id)
                               VALUES ($1,'referral',$2,10000,$2,'stress','')`, identity, raw)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("accruer event: %w", err)
		}
		var eventCount int64
		err = tx.QueryRow(ctx, `INSERT INTO seeds_balances (identity, referrals, total, last_updated, event_count)
                                VALUES ($1,$2,$2,NOW(),1)
                                ON CONFLICT (identity) DO UPDATE
                                SET referrals = seeds_balances.referrals + $2,
                                    total = seeds_balances.total + $2,
                                    last_updated = NOW(),
                                    event_count = seeds_balances.event_count + 1
                                RETURNING event_count`, identity, raw).Scan(&eventCount)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("accruer balance: %w", err)
		}
		if eventCount == 1 {
			_, _ = tx.Exec(ctx, `UPDATE seeds_stats SET unique_earners = unique_earners + 1 WHERE id = 1`)
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(10+rand.Intn(25)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox rows with SKIP LOCKED, simulating the
// occasional delivery failure; rows that keep failing go dead after five
// attempts.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random delivery failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1,
                                     status = CASE WHEN attempts+1 >= 5 THEN 'dead' ELSE 'pending' END
                                     WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
