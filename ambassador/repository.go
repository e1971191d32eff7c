package ambassador

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("ambassador: not found")
	ErrUplineNotFound    = errors.New("ambassador: upline not found")
	ErrUplineInactive    = errors.New("ambassador: upline inactive or suspended")
	ErrAlreadyRegistered = errors.New("ambassador: identity already registered")
	ErrAlreadyRecruited  = errors.New("ambassador: seller already recruited")
	ErrNotRecruited      = errors.New("ambassador: seller has no recruiter")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `id, owner_identity, upline_id, recruited_sellers, recruited_ambassadors, total_earned, active, suspended, created_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OwnerIdentity,
		&rec.UplineID,
		&rec.RecruitedSellers,
		&rec.RecruitedAmbassadors,
		&rec.TotalEarned,
		&rec.Active,
		&rec.Suspended,
		&rec.CreatedAt,
	)
	return rec, err
}

// CreateTx inserts a new ambassador. When an upline is given it is locked,
// checked active and non-suspended, and its recruited-ambassadors counter is
// bumped, all inside the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, id, ownerIdentity string, uplineID *string) (Record, error) {
	if uplineID != nil {
		var active, suspended bool
		err := tx.QueryRow(ctx, `SELECT active, suspended FROM ambassadors WHERE id = $1 FOR UPDATE`, *uplineID).
			Scan(&active, &suspended)
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrUplineNotFound
		}
		if err != nil {
			return Record{}, fmt.Errorf("ambassador: lock upline: %w", err)
		}
		if !active || suspended {
			return Record{}, ErrUplineInactive
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO ambassadors (id, owner_identity, upline_id)
		VALUES ($1, $2, $3)
		RETURNING %s
	`, selectColumns)
	rec, err := scanRecord(tx.QueryRow(ctx, query, id, ownerIdentity, uplineID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyRegistered
		}
		return Record{}, fmt.Errorf("ambassador: insert: %w", err)
	}

	if uplineID != nil {
		if _, err := tx.Exec(ctx, `UPDATE ambassadors SET recruited_ambassadors = recruited_ambassadors + 1 WHERE id = $1`, *uplineID); err != nil {
			return Record{}, fmt.Errorf("ambassador: bump upline counter: %w", err)
		}
	}
	return rec, nil
}

// RecruitSellerTx associates a seller with an ambassador, exactly once per
// seller, and bumps the recruiter's seller counter.
func (r *Repository) RecruitSellerTx(ctx context.Context, tx pgx.Tx, sellerID, ambassadorID string) (Recruitment, error) {
	const insert = `
		INSERT INTO recruited_sellers (seller_id, ambassador_id)
		VALUES ($1, $2)
		RETURNING seller_id, ambassador_id, created_at
	`
	var rec Recruitment
	err := tx.QueryRow(ctx, insert, sellerID, ambassadorID).
		Scan(&rec.SellerID, &rec.AmbassadorID, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Recruitment{}, ErrAlreadyRecruited
		}
		return Recruitment{}, fmt.Errorf("ambassador: recruit seller: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE ambassadors SET recruited_sellers = recruited_sellers + 1 WHERE id = $1`, ambassadorID); err != nil {
		return Recruitment{}, fmt.Errorf("ambassador: bump seller counter: %w", err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM ambassadors WHERE id = $1`, selectColumns)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ambassador: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByOwner(ctx context.Context, ownerIdentity string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM ambassadors WHERE owner_identity = $1`, selectColumns)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, ownerIdentity))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ambassador: get by owner: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM ambassadors WHERE id = $1`, selectColumns)
	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("ambassador: get: %w", err)
	}
	return rec, nil
}

// RecruiterOfTx resolves the ambassador who recruited a seller, inside the
// caller's transaction.
func (r *Repository) RecruiterOfTx(ctx context.Context, tx pgx.Tx, sellerID string) (Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM ambassadors a
		JOIN recruited_sellers rs ON rs.ambassador_id = a.id
		WHERE rs.seller_id = $1
	`, prefixedColumns("a"))
	rec, err := scanRecord(tx.QueryRow(ctx, query, sellerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotRecruited
	}
	if err != nil {
		return Record{}, fmt.Errorf("ambassador: recruiter of: %w", err)
	}
	return rec, nil
}

// ChainTx walks the upline pointers starting at startID, returning at most
// maxDepth records with the starting ambassador first. The walk is a bounded
// loop: the depth counter, not the graph shape, guarantees termination.
func (r *Repository) ChainTx(ctx context.Context, tx pgx.Tx, startID string, maxDepth int) ([]Record, error) {
	chain := make([]Record, 0, maxDepth)
	nextID := &startID
	for depth := 0; depth < maxDepth && nextID != nil; depth++ {
		rec, err := r.GetTx(ctx, tx, *nextID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec)
		nextID = rec.UplineID
	}
	return chain, nil
}

// AddEarnedTx credits a claimed allocation onto the ambassador's lifetime
// total.
func (r *Repository) AddEarnedTx(ctx context.Context, tx pgx.Tx, id string, amount int64) error {
	tag, err := tx.Exec(ctx, `UPDATE ambassadors SET total_earned = total_earned + $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("ambassador: add earned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveRecruitCount returns the recruited-sellers counter used by the voter
// qualification check.
func (r *Repository) ActiveRecruitCount(ctx context.Context, ownerIdentity string) (int, bool, error) {
	var recruits int
	var qualified bool
	err := r.pool.QueryRow(ctx, `
		SELECT recruited_sellers, active AND NOT suspended
		FROM ambassadors
		WHERE owner_identity = $1
	`, ownerIdentity).Scan(&recruits, &qualified)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ambassador: recruit count: %w", err)
	}
	return recruits, qualified, nil
}

func prefixedColumns(alias string) string {
	return fmt.Sprintf(
		"%[1]s.id, %[1]s.owner_identity, %[1]s.upline_id, %[1]s.recruited_sellers, %[1]s.recruited_ambassadors, %[1]s.total_earned, %[1]s.active, %[1]s.suspended, %[1]s.created_at",
		alias,
	)
}
