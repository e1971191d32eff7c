package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("dispute: not found")
	ErrDuplicateDispute = errors.New("dispute: order already disputed")
	ErrNotOrderBuyer    = errors.New("dispute: caller is not the order buyer")
	ErrNotContestable   = errors.New("dispute: order is not contestable")
	ErrNotDisputeSeller = errors.New("dispute: caller is not the disputed seller")
	ErrAlreadyResponded = errors.New("dispute: seller already responded")
	ErrAlreadyVoted     = errors.New("dispute: voter already voted")
	ErrVotingClosed     = errors.New("dispute: voting window closed")
	ErrVotingOpen       = errors.New("dispute: voting window still open")
	ErrAlreadyResolved  = errors.New("dispute: already resolved")
	ErrNotQualified     = errors.New("dispute: voter not qualified")
	ErrQuorumNotReached = errors.New("dispute: quorum not reached after extension")
	ErrNotAdmin         = errors.New("dispute: admin capability required")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const disputeColumns = `id, order_id, buyer_id, seller_id, buyer_reason, buyer_evidence_ref,
	seller_response, seller_evidence_ref, created_at, voting_ends_at,
	votes_for_buyer, votes_for_seller, resolved, buyer_won, extended,
	admin_resolved, admin_reason, resolved_at`

func scanDispute(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.BuyerID,
		&rec.SellerID,
		&rec.BuyerReason,
		&rec.BuyerEvidenceRef,
		&rec.SellerResponse,
		&rec.SellerEvidenceRef,
		&rec.CreatedAt,
		&rec.VotingEndsAt,
		&rec.VotesForBuyer,
		&rec.VotesForSeller,
		&rec.Resolved,
		&rec.BuyerWon,
		&rec.Extended,
		&rec.AdminResolved,
		&rec.AdminReason,
		&rec.ResolvedAt,
	)
	return rec, err
}

// CreateTx opens a dispute. The unique order_id constraint enforces at most
// one dispute per order, ever.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const insert = `
		INSERT INTO disputes (order_id, buyer_id, seller_id, buyer_reason, buyer_evidence_ref, created_at, voting_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + disputeColumns
	created, err := scanDispute(tx.QueryRow(ctx, insert,
		rec.OrderID, rec.BuyerID, rec.SellerID, rec.BuyerReason, rec.BuyerEvidenceRef,
		rec.CreatedAt, rec.VotingEndsAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateDispute
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

// GetForUpdateTx locks the dispute row: every transition validates and
// mutates under this lock so tallies never lose increments and resolved
// flips exactly once.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	rec, err := scanDispute(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return rec, nil
}

// SetSellerResponseTx records the seller's one allowed response.
func (r *Repository) SetSellerResponseTx(ctx context.Context, tx pgx.Tx, id int64, response, evidenceRef string) (Record, error) {
	query := `
		UPDATE disputes
		SET seller_response = $2,
		    seller_evidence_ref = $3
		WHERE id = $1 AND seller_response IS NULL
		RETURNING ` + disputeColumns
	rec, err := scanDispute(tx.QueryRow(ctx, query, id, response, evidenceRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrAlreadyResponded
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: set response: %w", err)
	}
	return rec, nil
}

// InsertVoteTx appends the ballot and bumps the matching tally atomically.
func (r *Repository) InsertVoteTx(ctx context.Context, tx pgx.Tx, vote Vote) (Vote, error) {
	const insert = `
		INSERT INTO dispute_votes (dispute_id, voter_id, voted_for_buyer, seeds_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING dispute_id, voter_id, voted_for_buyer, seeds_awarded, created_at
	`
	var created Vote
	err := tx.QueryRow(ctx, insert,
		vote.DisputeID, vote.VoterID, vote.VotedForBuyer, vote.SeedsAwarded, vote.CreatedAt).
		Scan(&created.DisputeID, &created.VoterID, &created.VotedForBuyer, &created.SeedsAwarded, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Vote{}, ErrAlreadyVoted
		}
		return Vote{}, fmt.Errorf("dispute: insert vote: %w", err)
	}

	column := "votes_for_seller"
	if vote.VotedForBuyer {
		column = "votes_for_buyer"
	}
	query := fmt.Sprintf(`UPDATE disputes SET %[1]s = %[1]s + 1 WHERE id = $1`, column)
	if _, err := tx.Exec(ctx, query, vote.DisputeID); err != nil {
		return Vote{}, fmt.Errorf("dispute: bump tally: %w", err)
	}
	return created, nil
}

// MarkExtendedTx grants the single automatic extension.
func (r *Repository) MarkExtendedTx(ctx context.Context, tx pgx.Tx, id int64, newEndsAt time.Time) (Record, error) {
	query := `
		UPDATE disputes
		SET extended = true,
		    voting_ends_at = $2
		WHERE id = $1 AND extended = false AND resolved = false
		RETURNING ` + disputeColumns
	rec, err := scanDispute(tx.QueryRow(ctx, query, id, newEndsAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrQuorumNotReached
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark extended: %w", err)
	}
	return rec, nil
}

// MarkResolvedTx flips the write-once resolved flag via quorum. The
// resolved = false guard under the row lock prevents a double resolve.
func (r *Repository) MarkResolvedTx(ctx context.Context, tx pgx.Tx, id int64, buyerWon bool, at time.Time) (Record, error) {
	query := `
		UPDATE disputes
		SET resolved = true,
		    buyer_won = $2,
		    resolved_at = $3
		WHERE id = $1 AND resolved = false
		RETURNING ` + disputeColumns
	rec, err := scanDispute(tx.QueryRow(ctx, query, id, buyerWon, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrAlreadyResolved
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	return rec, nil
}

// MarkAdminResolvedTx stamps an admin override. Unlike the quorum path it
// carries no resolved = false guard: the override always wins, re-stamping
// an already-resolved dispute.
func (r *Repository) MarkAdminResolvedTx(ctx context.Context, tx pgx.Tx, id int64, buyerWon bool, reason string, at time.Time) (Record, error) {
	query := `
		UPDATE disputes
		SET resolved = true,
		    buyer_won = $2,
		    admin_resolved = true,
		    admin_reason = $3,
		    resolved_at = COALESCE(resolved_at, $4)
		WHERE id = $1
		RETURNING ` + disputeColumns
	rec, err := scanDispute(tx.QueryRow(ctx, query, id, buyerWon, reason, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark admin resolved: %w", err)
	}
	return rec, nil
}

// VotesOfTx lists every ballot on a dispute, oldest first, inside the
// caller's transaction. Resolution iterates these for the majority bonus.
func (r *Repository) VotesOfTx(ctx context.Context, tx pgx.Tx, disputeID int64) ([]Vote, error) {
	rows, err := tx.Query(ctx, `
		SELECT dispute_id, voter_id, voted_for_buyer, seeds_awarded, created_at
		FROM dispute_votes
		WHERE dispute_id = $1
		ORDER BY created_at
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, 8)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.DisputeID, &v.VoterID, &v.VotedForBuyer, &v.SeedsAwarded, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return out, nil
}

// AddVoteSeedsTx records the majority bonus onto the winning ballots.
func (r *Repository) AddVoteSeedsTx(ctx context.Context, tx pgx.Tx, disputeID int64, voterID string, bonus int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE dispute_votes
		SET seeds_awarded = seeds_awarded + $3
		WHERE dispute_id = $1 AND voter_id = $2
	`, disputeID, voterID, bonus); err != nil {
		return fmt.Errorf("dispute: add vote seeds: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	rec, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1`
	rec, err := scanDispute(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("dispute: get by order: %w", err)
	}
	return rec, nil
}

// ListForParty returns disputes where the identity is buyer or seller,
// newest first.
func (r *Repository) ListForParty(ctx context.Context, identity string) ([]Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("dispute: list for party: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Votes lists a dispute's ballots outside any transaction, for the read
// surface.
func (r *Repository) Votes(ctx context.Context, disputeID int64) ([]Vote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dispute_id, voter_id, voted_for_buyer, seeds_awarded, created_at
		FROM dispute_votes
		WHERE dispute_id = $1
		ORDER BY created_at
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, 8)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.DisputeID, &v.VoterID, &v.VotedForBuyer, &v.SeedsAwarded, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return out, nil
}
