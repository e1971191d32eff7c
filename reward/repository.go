package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound              = errors.New("reward: not found")
	ErrDuplicateDistribution = errors.New("reward: order already distributed")
	ErrAlreadyClaimed        = errors.New("reward: already claimed")
	ErrNotVested             = errors.New("reward: vesting period not elapsed")
	ErrNoChain               = errors.New("reward: seller has no recruiting ambassador")
	ErrNothingToDistribute   = errors.New("reward: order amount too small to allocate")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const rewardColumns = `id, order_id, total_amount, chain_depth, queued_at, claimable_at, claimed, claimed_at`

func scanReward(row pgx.Row) (PendingReward, error) {
	var rec PendingReward
	err := row.Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.TotalAmount,
		&rec.ChainDepth,
		&rec.QueuedAt,
		&rec.ClaimableAt,
		&rec.Claimed,
		&rec.ClaimedAt,
	)
	return rec, err
}

// CreateTx inserts the pending reward and its per-level allocations. The
// unique order_id constraint is the exactly-once-per-order guard.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, rec PendingReward, allocations []Allocation) (PendingReward, error) {
	const insert = `
		INSERT INTO pending_rewards (id, order_id, total_amount, chain_depth, queued_at, claimable_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + rewardColumns
	created, err := scanReward(tx.QueryRow(ctx, insert,
		rec.ID, rec.OrderID, rec.TotalAmount, rec.ChainDepth, rec.QueuedAt, rec.ClaimableAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return PendingReward{}, ErrDuplicateDistribution
		}
		return PendingReward{}, fmt.Errorf("reward: insert pending: %w", err)
	}

	for _, alloc := range allocations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reward_allocations (reward_id, level, ambassador_id, amount)
			VALUES ($1, $2, $3, $4)
		`, created.ID, alloc.Level, alloc.AmbassadorID, alloc.Amount); err != nil {
			return PendingReward{}, fmt.Errorf("reward: insert allocation level %d: %w", alloc.Level, err)
		}
	}
	return created, nil
}

// GetForUpdateTx locks the pending reward row for a claim transition.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error) {
	query := `SELECT ` + rewardColumns + ` FROM pending_rewards WHERE id = $1 FOR UPDATE`
	rec, err := scanReward(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingReward{}, ErrNotFound
	}
	if err != nil {
		return PendingReward{}, fmt.Errorf("reward: lock pending: %w", err)
	}
	return rec, nil
}

// MarkClaimedTx flips the write-once claimed flag. The claimed = false guard
// under the row lock makes a double claim impossible.
func (r *Repository) MarkClaimedTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error) {
	query := `
		UPDATE pending_rewards
		SET claimed = true,
		    claimed_at = get_tx_timestamp()
		WHERE id = $1 AND claimed = false
		RETURNING ` + rewardColumns
	rec, err := scanReward(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingReward{}, ErrAlreadyClaimed
	}
	if err != nil {
		return PendingReward{}, fmt.Errorf("reward: mark claimed: %w", err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (PendingReward, error) {
	query := `SELECT ` + rewardColumns + ` FROM pending_rewards WHERE id = $1`
	rec, err := scanReward(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingReward{}, ErrNotFound
	}
	if err != nil {
		return PendingReward{}, fmt.Errorf("reward: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (PendingReward, error) {
	query := `SELECT ` + rewardColumns + ` FROM pending_rewards WHERE order_id = $1`
	rec, err := scanReward(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingReward{}, ErrNotFound
	}
	if err != nil {
		return PendingReward{}, fmt.Errorf("reward: get by order: %w", err)
	}
	return rec, nil
}

// AllocationsOf lists a reward's per-level allocations, nearest level first.
func (r *Repository) AllocationsOf(ctx context.Context, rewardID string) ([]Allocation, error) {
	return r.allocations(ctx, r.pool, rewardID)
}

// AllocationsOfTx is the in-transaction form used during a claim.
func (r *Repository) AllocationsOfTx(ctx context.Context, tx pgx.Tx, rewardID string) ([]Allocation, error) {
	return r.allocations(ctx, tx, rewardID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) allocations(ctx context.Context, q querier, rewardID string) ([]Allocation, error) {
	rows, err := q.Query(ctx, `
		SELECT reward_id, level, ambassador_id, amount
		FROM reward_allocations
		WHERE reward_id = $1
		ORDER BY level
	`, rewardID)
	if err != nil {
		return nil, fmt.Errorf("reward: list allocations: %w", err)
	}
	defer rows.Close()

	out := make([]Allocation, 0, 4)
	for rows.Next() {
		var alloc Allocation
		if err := rows.Scan(&alloc.RewardID, &alloc.Level, &alloc.AmbassadorID, &alloc.Amount); err != nil {
			return nil, fmt.Errorf("reward: scan allocation: %w", err)
		}
		out = append(out, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reward: iterate allocations: %w", err)
	}
	return out, nil
}

// ListForAmbassador returns every pending reward that allocates to the given
// ambassador, newest first.
func (r *Repository) ListForAmbassador(ctx context.Context, ambassadorID string) ([]PendingReward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.id, p.order_id, p.total_amount, p.chain_depth, p.queued_at, p.claimable_at, p.claimed, p.claimed_at
		FROM pending_rewards p
		JOIN reward_allocations ra ON ra.reward_id = p.id
		WHERE ra.ambassador_id = $1
		ORDER BY p.queued_at DESC
	`, ambassadorID)
	if err != nil {
		return nil, fmt.Errorf("reward: list for ambassador: %w", err)
	}
	defer rows.Close()

	out := make([]PendingReward, 0, 8)
	for rows.Next() {
		rec, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("reward: scan pending: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reward: iterate pending: %w", err)
	}
	return out, nil
}
