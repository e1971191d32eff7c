package seeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvalidCategory = errors.New("seeds: invalid category")
	ErrNegativeAmount  = errors.New("seeds: negative raw amount")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var categoryColumns = map[Category]string{
	CategoryPurchase:    "purchases",
	CategorySale:        "sales",
	CategoryReferral:    "referrals",
	CategoryMilestone:   "milestones",
	CategoryRecruitment: "recruitments",
}

// AppendTx writes one accrual inside the caller's transaction: the immutable
// event row, the balance upsert, and the unique-earner counter bump when the
// identity accrues for the first time.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, acc Accrual, multiplierBps, adjusted int64, at time.Time) (Event, error) {
	column, ok := categoryColumns[acc.Category]
	if !ok {
		return Event{}, ErrInvalidCategory
	}

	const insertEvent = `
		INSERT INTO seeds_events (identity, category, raw_amount, multiplier_bps, adjusted_amount, ref_kind, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	event := Event{
		Identity:       acc.Identity,
		Category:       acc.Category,
		RawAmount:      acc.RawAmount,
		MultiplierBps:  multiplierBps,
		AdjustedAmount: adjusted,
		RefKind:        acc.RefKind,
		RefID:          acc.RefID,
		CreatedAt:      at,
	}
	if err := tx.QueryRow(ctx, insertEvent,
		acc.Identity, acc.Category, acc.RawAmount, multiplierBps, adjusted, acc.RefKind, acc.RefID, at,
	).Scan(&event.ID); err != nil {
		return Event{}, fmt.Errorf("seeds: append event: %w", err)
	}

	upsertBalance := fmt.Sprintf(`
		INSERT INTO seeds_balances (identity, %[1]s, total, last_updated, event_count)
		VALUES ($1, $2, $2, $3, 1)
		ON CONFLICT (identity) DO UPDATE
		SET %[1]s = seeds_balances.%[1]s + $2,
		    total = seeds_balances.total + $2,
		    last_updated = $3,
		    event_count = seeds_balances.event_count + 1
		RETURNING event_count
	`, column)

	var eventCount int64
	if err := tx.QueryRow(ctx, upsertBalance, acc.Identity, adjusted, at).Scan(&eventCount); err != nil {
		return Event{}, fmt.Errorf("seeds: update balance: %w", err)
	}

	if eventCount == 1 {
		if _, err := tx.Exec(ctx, `UPDATE seeds_stats SET unique_earners = unique_earners + 1 WHERE id = 1`); err != nil {
			return Event{}, fmt.Errorf("seeds: bump unique earners: %w", err)
		}
	}

	return event, nil
}

// BalanceOf returns the rolling aggregate for an identity; identities that
// never accrued read back as zero.
func (r *Repository) BalanceOf(ctx context.Context, identity string) (Balance, error) {
	const query = `
		SELECT identity, purchases, sales, referrals, milestones, recruitments, total, last_updated, event_count
		FROM seeds_balances
		WHERE identity = $1
	`
	var b Balance
	err := r.pool.QueryRow(ctx, query, identity).Scan(
		&b.Identity, &b.Purchases, &b.Sales, &b.Referrals, &b.Milestones,
		&b.Recruitments, &b.Total, &b.LastUpdated, &b.EventCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{Identity: identity}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("seeds: balance of: %w", err)
	}
	return b, nil
}

// EventsOf lists an identity's accrual history, newest first.
func (r *Repository) EventsOf(ctx context.Context, identity string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `
		SELECT id, identity, category, raw_amount, multiplier_bps, adjusted_amount, ref_kind, ref_id, created_at
		FROM seeds_events
		WHERE identity = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("seeds: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Identity, &ev.Category, &ev.RawAmount, &ev.MultiplierBps,
			&ev.AdjustedAmount, &ev.RefKind, &ev.RefID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("seeds: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("seeds: iterate events: %w", err)
	}
	return out, nil
}

// UniqueEarners returns the global count of identities with at least one
// accrual.
func (r *Repository) UniqueEarners(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT unique_earners FROM seeds_stats WHERE id = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("seeds: unique earners: %w", err)
	}
	return n, nil
}
