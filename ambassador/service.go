package ambassador

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seedmarket/policy"
	"seedmarket/seeds"
)

// SeedsRecorder accrues incentive points inside the same transaction as the
// graph mutation that earned them.
type SeedsRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, acc seeds.Accrual) (seeds.Event, error)
}

type Service struct {
	pool    *pgxpool.Pool
	repo    *Repository
	rules   policy.Rules
	accrual SeedsRecorder
	idGen   func() string
	now     func() time.Time
}

type RegisterParams struct {
	OwnerIdentity string
	UplineID      *string
}

func NewService(pool *pgxpool.Pool, repo *Repository, rules policy.Rules) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{
		pool:  pool,
		repo:  repo,
		rules: rules,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (s *Service) WithSeedsRecorder(rec SeedsRecorder) *Service {
	s.accrual = rec
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new ambassador, optionally under an existing active
// upline. The upline earns a recruitment accrual in the same transaction.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Record, error) {
	if params.OwnerIdentity == "" {
		return Record{}, fmt.Errorf("ambassador: missing owner identity")
	}
	if params.UplineID != nil && *params.UplineID == "" {
		return Record{}, fmt.Errorf("ambassador: empty upline id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("ambassador: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.CreateTx(ctx, tx, s.idGen(), params.OwnerIdentity, params.UplineID)
	if err != nil {
		return Record{}, err
	}

	if params.UplineID != nil && s.accrual != nil {
		upline, err := s.repo.GetTx(ctx, tx, *params.UplineID)
		if err != nil {
			return Record{}, err
		}
		if _, err := s.accrual.RecordTx(ctx, tx, seeds.Accrual{
			Identity:  upline.OwnerIdentity,
			Category:  seeds.CategoryRecruitment,
			RawAmount: s.rules.RecruitAmbassadorSeeds,
			RefKind:   "ambassador",
			RefID:     rec.ID,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("ambassador: commit register: %w", err)
	}
	return rec, nil
}

// RecruitSeller links a seller to a recruiting ambassador exactly once. The
// ambassador's owner earns a referral accrual in the same transaction.
func (s *Service) RecruitSeller(ctx context.Context, ambassadorID, sellerID string) (Recruitment, error) {
	if ambassadorID == "" || sellerID == "" {
		return Recruitment{}, fmt.Errorf("ambassador: ambassador and seller ids required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Recruitment{}, fmt.Errorf("ambassador: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amb, err := s.repo.GetTx(ctx, tx, ambassadorID)
	if err != nil {
		return Recruitment{}, err
	}
	if !amb.Active || amb.Suspended {
		return Recruitment{}, ErrUplineInactive
	}

	rec, err := s.repo.RecruitSellerTx(ctx, tx, sellerID, ambassadorID)
	if err != nil {
		return Recruitment{}, err
	}

	if s.accrual != nil {
		if _, err := s.accrual.RecordTx(ctx, tx, seeds.Accrual{
			Identity:  amb.OwnerIdentity,
			Category:  seeds.CategoryReferral,
			RawAmount: s.rules.RecruitSellerSeeds,
			RefKind:   "seller",
			RefID:     sellerID,
		}); err != nil {
			return Recruitment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Recruitment{}, fmt.Errorf("ambassador: commit recruit: %w", err)
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOwner(ctx context.Context, ownerIdentity string) (Record, error) {
	return s.repo.GetByOwner(ctx, ownerIdentity)
}
