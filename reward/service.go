package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"seedmarket/ambassador"
	"seedmarket/metrics"
	"seedmarket/order"
	"seedmarket/outbox"
	"seedmarket/policy"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the persistence surface the ledger drives. The production
// implementation is Repository.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rec PendingReward, allocations []Allocation) (PendingReward, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error)
	MarkClaimedTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error)
	AllocationsOfTx(ctx context.Context, tx pgx.Tx, rewardID string) ([]Allocation, error)
	Get(ctx context.Context, id string) (PendingReward, error)
	GetByOrder(ctx context.Context, orderID string) (PendingReward, error)
	AllocationsOf(ctx context.Context, rewardID string) ([]Allocation, error)
	ListForAmbassador(ctx context.Context, ambassadorID string) ([]PendingReward, error)
}

// OrderSource reads completed orders inside the distribution transaction.
type OrderSource interface {
	GetTx(ctx context.Context, tx pgx.Tx, id string) (order.Record, error)
}

// Graph is the slice of the referral graph the ledger needs.
type Graph interface {
	RecruiterOfTx(ctx context.Context, tx pgx.Tx, sellerID string) (ambassador.Record, error)
	ChainTx(ctx context.Context, tx pgx.Tx, startID string, maxDepth int) ([]ambassador.Record, error)
	AddEarnedTx(ctx context.Context, tx pgx.Tx, id string, amount int64) error
}

// OutboxWriter hands transfer instructions to the custody collaborator via
// the transactional outbox.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool   TxBeginner
	repo   Store
	orders OrderSource
	graph  Graph
	rules  policy.Rules
	out    OutboxWriter
	idGen  func() string
	now    func() time.Time
	stats  *metrics.Metrics
}

func NewService(pool TxBeginner, repo Store, orders OrderSource, graph Graph, rules policy.Rules) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		graph:  graph,
		rules:  rules,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *Service) WithOutbox(out OutboxWriter) *Service {
	s.out = out
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

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.stats = m
	return s
}

// SplitAmount computes one level's retained share of the remaining pool.
func SplitAmount(remaining, retentionBps int64) int64 {
	return remaining * retentionBps / policy.BpsDenominator
}

// Distribute walks the seller's referral chain and queues one PendingReward
// covering every level's allocation, subject to vesting. It is called by the
// marketplace exactly once per completed order; the unique order constraint
// turns a repeat call into ErrDuplicateDistribution.
func (s *Service) Distribute(ctx context.Context, orderID string) (PendingReward, []Allocation, error) {
	if orderID == "" {
		return PendingReward{}, nil, fmt.Errorf("reward: missing order id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PendingReward{}, nil, fmt.Errorf("reward: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := s.orders.GetTx(ctx, tx, orderID)
	if err != nil {
		return PendingReward{}, nil, err
	}

	recruiter, err := s.graph.RecruiterOfTx(ctx, tx, ord.SellerID)
	if err != nil {
		if errors.Is(err, ambassador.ErrNotRecruited) {
			return PendingReward{}, nil, ErrNoChain
		}
		return PendingReward{}, nil, err
	}

	chain, err := s.graph.ChainTx(ctx, tx, recruiter.ID, s.rules.MaxChainDepth)
	if err != nil {
		return PendingReward{}, nil, err
	}
	if len(chain) == 0 {
		return PendingReward{}, nil, ErrNoChain
	}

	now := s.now()
	rewardID := s.idGen()
	allocations := make([]Allocation, 0, len(chain))
	remaining := ord.Amount
	var distributed int64
	for level, amb := range chain {
		share := SplitAmount(remaining, s.rules.RetentionBps)
		if share == 0 {
			break
		}
		allocations = append(allocations, Allocation{
			RewardID:     rewardID,
			Level:        level,
			AmbassadorID: amb.ID,
			Amount:       share,
		})
		distributed += share
		remaining -= share
	}
	// Whatever is left after the walk is deliberately not paid to anyone.

	// A tiny order can round every share down to zero; the schema requires
	// at least one allocated level, so refuse instead of queueing nothing.
	if len(allocations) == 0 {
		return PendingReward{}, nil, ErrNothingToDistribute
	}

	rec := PendingReward{
		ID:          rewardID,
		OrderID:     ord.ID,
		TotalAmount: distributed,
		ChainDepth:  len(allocations),
		QueuedAt:    now,
		ClaimableAt: now.Add(s.rules.VestingPeriod),
	}
	created, err := s.repo.CreateTx(ctx, tx, rec, allocations)
	if err != nil {
		return PendingReward{}, nil, err
	}

	if s.out != nil {
		payload := map[string]any{
			"reward_id":    created.ID,
			"order_id":     created.OrderID,
			"total_amount": created.TotalAmount,
			"chain_depth":  created.ChainDepth,
			"claimable_at": created.ClaimableAt.UTC(),
		}
		if err := s.out.Enqueue(ctx, tx, outbox.TopicRewardDistributed, payload); err != nil {
			return PendingReward{}, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PendingReward{}, nil, fmt.Errorf("reward: commit distribute: %w", err)
	}

	if s.stats != nil {
		s.stats.RewardsDistributed.Inc()
		s.stats.RewardAmount.Add(float64(created.TotalAmount))
	}
	return created, allocations, nil
}

// Claim releases a vested reward exactly once: the claimed flag flips under
// a row lock, each ambassador's lifetime total is credited, and one transfer
// instruction covering all allocations goes to the custody collaborator via
// the outbox. There is no partial claim.
func (s *Service) Claim(ctx context.Context, rewardID string) (PendingReward, error) {
	if rewardID == "" {
		return PendingReward{}, fmt.Errorf("reward: missing reward id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PendingReward{}, fmt.Errorf("reward: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, rewardID)
	if err != nil {
		return PendingReward{}, err
	}
	if rec.Claimed {
		return PendingReward{}, ErrAlreadyClaimed
	}
	if s.now().Before(rec.ClaimableAt) {
		return PendingReward{}, ErrNotVested
	}

	claimed, err := s.repo.MarkClaimedTx(ctx, tx, rewardID)
	if err != nil {
		return PendingReward{}, err
	}

	allocations, err := s.repo.AllocationsOfTx(ctx, tx, rewardID)
	if err != nil {
		return PendingReward{}, err
	}

	transfers := make([]map[string]any, 0, len(allocations))
	for _, alloc := range allocations {
		if err := s.graph.AddEarnedTx(ctx, tx, alloc.AmbassadorID, alloc.Amount); err != nil {
			return PendingReward{}, err
		}
		transfers = append(transfers, map[string]any{
			"ambassador_id": alloc.AmbassadorID,
			"level":         alloc.Level,
			"amount":        alloc.Amount,
		})
	}

	if s.out != nil {
		payload := map[string]any{
			"reward_id":    claimed.ID,
			"order_id":     claimed.OrderID,
			"total_amount": claimed.TotalAmount,
			"transfers":    transfers,
		}
		if err := s.out.Enqueue(ctx, tx, outbox.TopicRewardClaimed, payload); err != nil {
			return PendingReward{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PendingReward{}, fmt.Errorf("reward: commit claim: %w", err)
	}

	if s.stats != nil {
		s.stats.RewardsClaimed.Inc()
	}
	return claimed, nil
}

func (s *Service) Get(ctx context.Context, id string) (PendingReward, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (PendingReward, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) Allocations(ctx context.Context, rewardID string) ([]Allocation, error) {
	return s.repo.AllocationsOf(ctx, rewardID)
}

func (s *Service) ListForAmbassador(ctx context.Context, ambassadorID string) ([]PendingReward, error) {
	return s.repo.ListForAmbassador(ctx, ambassadorID)
}
