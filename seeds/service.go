package seeds

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seedmarket/metrics"
	"seedmarket/policy"
)

// Service is the accrual sink. It never applies business preconditions of
// its own: validity of the triggering event is the caller's responsibility.
type Service struct {
	pool  *pgxpool.Pool
	repo  *Repository
	rules policy.Rules
	now   func() time.Time
	stats *metrics.Metrics
}

func NewService(pool *pgxpool.Pool, repo *Repository, rules policy.Rules) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{
		pool:  pool,
		repo:  repo,
		rules: rules,
		now:   time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.stats = m
	return s
}

// Record accrues Seeds for an identity in its own transaction.
func (s *Service) Record(ctx context.Context, acc Accrual) (Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("seeds: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	event, err := s.RecordTx(ctx, tx, acc)
	if err != nil {
		return Event{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, fmt.Errorf("seeds: commit: %w", err)
	}
	return event, nil
}

// RecordTx accrues Seeds inside the caller's transaction. Dispute voting and
// referral rewards use this form so the accrual commits or rolls back with
// the transition that caused it.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, acc Accrual) (Event, error) {
	if acc.Identity == "" {
		return Event{}, fmt.Errorf("seeds: missing identity")
	}
	if !acc.Category.Valid() {
		return Event{}, ErrInvalidCategory
	}
	if acc.RawAmount < 0 {
		return Event{}, ErrNegativeAmount
	}

	at := s.now()
	multiplierBps := s.rules.MultiplierBps(at)
	adjusted := acc.RawAmount * multiplierBps / policy.BpsDenominator

	event, err := s.repo.AppendTx(ctx, tx, acc, multiplierBps, adjusted, at)
	if err != nil {
		return Event{}, err
	}

	if s.stats != nil {
		s.stats.SeedsAccrued.WithLabelValues(string(acc.Category)).Add(float64(adjusted))
	}
	return event, nil
}

func (s *Service) BalanceOf(ctx context.Context, identity string) (Balance, error) {
	return s.repo.BalanceOf(ctx, identity)
}

func (s *Service) EventsOf(ctx context.Context, identity string, limit int) ([]Event, error) {
	return s.repo.EventsOf(ctx, identity, limit)
}

func (s *Service) UniqueEarners(ctx context.Context) (int64, error) {
	return s.repo.UniqueEarners(ctx)
}
