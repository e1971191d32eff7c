package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("order: not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordCompleted upserts a completed order reported by the marketplace
// collaborator. Re-reporting the same order id is a no-op.
func (r *Repository) RecordCompleted(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, fmt.Errorf("order: missing order id")
	}
	if rec.Amount <= 0 {
		return Record{}, fmt.Errorf("order: amount must be positive")
	}

	const query = `
		INSERT INTO orders (id, buyer_id, seller_id, amount, contestable)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, rec.ID, rec.BuyerID, rec.SellerID, rec.Amount, rec.Contestable); err != nil {
		return Record{}, fmt.Errorf("order: record completed: %w", err)
	}
	return r.Get(ctx, rec.ID)
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	return scanOrder(r.pool.QueryRow(ctx, getSQL, id))
}

// GetTx reads an order inside the caller's transaction so dispute and reward
// preconditions see a consistent snapshot.
func (r *Repository) GetTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return scanOrder(tx.QueryRow(ctx, getSQL, id))
}

const getSQL = `
	SELECT id, buyer_id, seller_id, amount, contestable, completed_at
	FROM orders
	WHERE id = $1
`

func scanOrder(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.BuyerID, &rec.SellerID, &rec.Amount, &rec.Contestable, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("order: get: %w", err)
	}
	return rec, nil
}
