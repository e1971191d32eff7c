package strikes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidRole = errors.New("strikes: invalid role")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ApplyTx increments the strike counter for the given role inside the
// caller's transaction and returns the updated record. The upsert makes the
// first strike create the ledger row.
func (r *Repository) ApplyTx(ctx context.Context, tx pgx.Tx, identity string, role Role, at time.Time) (Record, error) {
	var column string
	switch role {
	case RoleSeller:
		column = "seller_strikes"
	case RoleBuyer:
		column = "buyer_strikes"
	default:
		return Record{}, ErrInvalidRole
	}

	query := fmt.Sprintf(`
		INSERT INTO user_strikes (identity, %[1]s, last_strike_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (identity) DO UPDATE
		SET %[1]s = user_strikes.%[1]s + 1,
		    last_strike_at = $2
		RETURNING identity, seller_strikes, buyer_strikes, last_strike_at
	`, column)

	var rec Record
	if err := tx.QueryRow(ctx, query, identity, at).
		Scan(&rec.Identity, &rec.SellerStrikes, &rec.BuyerStrikes, &rec.LastStrikeAt); err != nil {
		return Record{}, fmt.Errorf("strikes: apply %s strike: %w", role, err)
	}
	return rec, nil
}

// Get returns the strike ledger row for an identity. Identities with no
// strikes yet read back as an all-zero record.
func (r *Repository) Get(ctx context.Context, identity string) (Record, error) {
	const query = `
		SELECT identity, seller_strikes, buyer_strikes, last_strike_at
		FROM user_strikes
		WHERE identity = $1
	`
	var rec Record
	err := r.pool.QueryRow(ctx, query, identity).
		Scan(&rec.Identity, &rec.SellerStrikes, &rec.BuyerStrikes, &rec.LastStrikeAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{Identity: identity}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("strikes: get: %w", err)
	}
	return rec, nil
}
