package dispute

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"seedmarket/metrics"
	"seedmarket/order"
	"seedmarket/outbox"
	"seedmarket/policy"
	"seedmarket/seeds"
	"seedmarket/strikes"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the transition persistence surface the service drives. The
// production implementation is Repository.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (Record, error)
	SetSellerResponseTx(ctx context.Context, tx pgx.Tx, id int64, response, evidenceRef string) (Record, error)
	InsertVoteTx(ctx context.Context, tx pgx.Tx, vote Vote) (Vote, error)
	MarkExtendedTx(ctx context.Context, tx pgx.Tx, id int64, endsAt time.Time) (Record, error)
	MarkResolvedTx(ctx context.Context, tx pgx.Tx, id int64, buyerWon bool, at time.Time) (Record, error)
	MarkAdminResolvedTx(ctx context.Context, tx pgx.Tx, id int64, buyerWon bool, reason string, at time.Time) (Record, error)
	VotesOfTx(ctx context.Context, tx pgx.Tx, disputeID int64) ([]Vote, error)
	AddVoteSeedsTx(ctx context.Context, tx pgx.Tx, disputeID int64, voterID string, amount int64) error
	Get(ctx context.Context, id int64) (Record, error)
	GetByOrder(ctx context.Context, orderID string) (Record, error)
	ListForParty(ctx context.Context, identity string) ([]Record, error)
	Votes(ctx context.Context, disputeID int64) ([]Vote, error)
}

// OrderSource reads the disputed order inside the opening transaction.
type OrderSource interface {
	GetTx(ctx context.Context, tx pgx.Tx, id string) (order.Record, error)
}

// Qualifier answers whether a voter may sit on the panel. Qualification is
// owned by the identity collaborator; the store only queries it.
type Qualifier interface {
	IsQualifiedVoter(ctx context.Context, voterID string) (bool, error)
}

// StrikeLedger applies the losing party's strike in the resolution
// transaction.
type StrikeLedger interface {
	ApplyTx(ctx context.Context, tx pgx.Tx, identity string, role strikes.Role, at time.Time) (strikes.Record, error)
}

// Suspender flips the seller registry's suspended flag when the strike
// threshold is hit. The flip runs in the resolution transaction: it is a
// required side effect, not best-effort.
type Suspender interface {
	SuspendSellerTx(ctx context.Context, tx pgx.Tx, sellerID string) error
}

// SeedsRecorder accrues voting incentives in the same transaction as the
// ballot or resolution that earned them.
type SeedsRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, acc seeds.Accrual) (seeds.Event, error)
}

// OutboxWriter publishes resolution notifications for external consumers.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool      TxBeginner
	repo      Store
	orders    OrderSource
	qualifier Qualifier
	ledger    StrikeLedger
	suspender Suspender
	accrual   SeedsRecorder
	out       OutboxWriter
	rules     policy.Rules
	now       func() time.Time
	stats     *metrics.Metrics
}

func NewService(pool TxBeginner, repo Store, orders OrderSource, qualifier Qualifier, ledger StrikeLedger, suspender Suspender, rules policy.Rules) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		orders:    orders,
		qualifier: qualifier,
		ledger:    ledger,
		suspender: suspender,
		rules:     rules,
		now:       time.Now,
	}
}

func (s *Service) WithSeedsRecorder(rec SeedsRecorder) *Service {
	s.accrual = rec
	return s
}

func (s *Service) WithOutbox(out OutboxWriter) *Service {
	s.out = out
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

type OpenParams struct {
	OrderID     string
	BuyerID     string
	Reason      string
	EvidenceRef string
}

// Open raises a dispute against a completed, contestable order. Exactly one
// dispute may ever exist per order.
func (s *Service) Open(ctx context.Context, params OpenParams) (Record, error) {
	if params.OrderID == "" || params.BuyerID == "" {
		return Record{}, fmt.Errorf("dispute: order and buyer ids required")
	}
	if params.Reason == "" {
		return Record{}, fmt.Errorf("dispute: reason required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := s.orders.GetTx(ctx, tx, params.OrderID)
	if err != nil {
		return Record{}, err
	}
	if ord.BuyerID != params.BuyerID {
		return Record{}, ErrNotOrderBuyer
	}
	if !ord.Contestable {
		return Record{}, ErrNotContestable
	}

	now := s.now()
	rec, err := s.repo.CreateTx(ctx, tx, Record{
		OrderID:          ord.ID,
		BuyerID:          ord.BuyerID,
		SellerID:         ord.SellerID,
		BuyerReason:      params.Reason,
		BuyerEvidenceRef: params.EvidenceRef,
		CreatedAt:        now,
		VotingEndsAt:     now.Add(s.rules.VoteDuration),
	})
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	if s.stats != nil {
		s.stats.DisputesOpened.Inc()
	}
	return rec, nil
}

type RespondParams struct {
	DisputeID   int64
	SellerID    string
	Response    string
	EvidenceRef string
}

// SubmitResponse records the seller's single response. It never moves the
// voting deadline.
func (s *Service) SubmitResponse(ctx context.Context, params RespondParams) (Record, error) {
	if params.Response == "" {
		return Record{}, fmt.Errorf("dispute: response required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.SellerID != params.SellerID {
		return Record{}, ErrNotDisputeSeller
	}
	if rec.Resolved {
		return Record{}, ErrAlreadyResolved
	}
	if rec.SellerResponse != nil {
		return Record{}, ErrAlreadyResponded
	}

	updated, err := s.repo.SetSellerResponseTx(ctx, tx, params.DisputeID, params.Response, params.EvidenceRef)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit response: %w", err)
	}
	return updated, nil
}

type VoteParams struct {
	DisputeID     int64
	VoterID       string
	VotedForBuyer bool
}

// CastVote admits a qualified voter's ballot while the window is open and
// pays the fixed per-vote incentive in the same transaction. The deadline
// check uses one clock reading taken when the transition is validated.
func (s *Service) CastVote(ctx context.Context, params VoteParams) (Vote, error) {
	if params.VoterID == "" {
		return Vote{}, fmt.Errorf("dispute: voter id required")
	}

	qualified, err := s.qualifier.IsQualifiedVoter(ctx, params.VoterID)
	if err != nil {
		return Vote{}, err
	}
	if !qualified {
		return Vote{}, ErrNotQualified
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Vote{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Vote{}, err
	}
	if rec.Resolved {
		return Vote{}, ErrAlreadyResolved
	}
	now := s.now()
	if !s.rules.WindowOpen(now, rec.VotingEndsAt) {
		return Vote{}, ErrVotingClosed
	}

	vote, err := s.repo.InsertVoteTx(ctx, tx, Vote{
		DisputeID:     params.DisputeID,
		VoterID:       params.VoterID,
		VotedForBuyer: params.VotedForBuyer,
		SeedsAwarded:  s.rules.VoteSeeds,
		CreatedAt:     now,
	})
	if err != nil {
		return Vote{}, err
	}

	if s.accrual != nil {
		if _, err := s.accrual.RecordTx(ctx, tx, seeds.Accrual{
			Identity:  params.VoterID,
			Category:  seeds.CategoryReferral,
			RawAmount: s.rules.VoteSeeds,
			RefKind:   "dispute",
			RefID:     strconv.FormatInt(params.DisputeID, 10),
		}); err != nil {
			return Vote{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Vote{}, fmt.Errorf("dispute: commit vote: %w", err)
	}

	if s.stats != nil {
		side := "seller"
		if params.VotedForBuyer {
			side = "buyer"
		}
		s.stats.VotesCast.WithLabelValues(side).Inc()
	}
	return vote, nil
}

// ResolveByQuorum is callable by anyone once the voting window has closed.
// Below quorum it grants exactly one extension; below quorum a second time
// it refuses with ErrQuorumNotReached, leaving the dispute in its terminal
// pending state until an admin steps in. At quorum, ties favor the seller.
func (s *Service) ResolveByQuorum(ctx context.Context, disputeID int64) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Resolved {
		return Record{}, ErrAlreadyResolved
	}
	now := s.now()
	if s.rules.WindowOpen(now, rec.VotingEndsAt) {
		return Record{}, ErrVotingOpen
	}

	if !s.rules.QuorumMet(rec.TotalVotes()) {
		if rec.Extended {
			return Record{}, ErrQuorumNotReached
		}
		extended, err := s.repo.MarkExtendedTx(ctx, tx, disputeID, now.Add(s.rules.VoteExtension))
		if err != nil {
			return Record{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Record{}, fmt.Errorf("dispute: commit extension: %w", err)
		}
		if s.stats != nil {
			s.stats.DisputesExtended.Inc()
		}
		return extended, nil
	}

	buyerWon := rec.VotesForBuyer > rec.VotesForSeller
	resolved, err := s.repo.MarkResolvedTx(ctx, tx, disputeID, buyerWon, now)
	if err != nil {
		return Record{}, err
	}

	if err := s.applyResolutionEffects(ctx, tx, resolved, now, true); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolution: %w", err)
	}

	s.countResolved(resolved, "quorum")
	return resolved, nil
}

type AdminResolveParams struct {
	DisputeID int64
	ActorID   string
	ActorRole string
	BuyerWins bool
	Reason    string
}

// AdminResolve is the designed escape hatch: it always wins, before, after,
// or instead of quorum. Re-stamping an already-resolved dispute replaces the
// outcome but does not reverse previously applied strikes or bonus accruals.
func (s *Service) AdminResolve(ctx context.Context, params AdminResolveParams) (Record, error) {
	if params.ActorRole != "admin" {
		return Record{}, ErrNotAdmin
	}
	if params.Reason == "" {
		return Record{}, fmt.Errorf("dispute: admin reason required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}

	now := s.now()
	firstResolution := !rec.Resolved
	resolved, err := s.repo.MarkAdminResolvedTx(ctx, tx, params.DisputeID, params.BuyerWins, params.Reason, now)
	if err != nil {
		return Record{}, err
	}

	if firstResolution {
		if err := s.applyResolutionEffects(ctx, tx, resolved, now, true); err != nil {
			return Record{}, err
		}
	} else if err := s.publishResolved(ctx, tx, resolved); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit admin resolution: %w", err)
	}

	s.countResolved(resolved, "admin")
	return resolved, nil
}

// applyResolutionEffects runs the first-resolution side effects: the losing
// party's strike (with the threshold suspension), the majority voter bonus,
// and the resolution notification. All of it shares the resolution
// transaction.
func (s *Service) applyResolutionEffects(ctx context.Context, tx pgx.Tx, rec Record, now time.Time, awardBonus bool) error {
	loser := rec.BuyerID
	role := strikes.RoleBuyer
	if rec.BuyerWon {
		loser = rec.SellerID
		role = strikes.RoleSeller
	}

	struck, err := s.ledger.ApplyTx(ctx, tx, loser, role, now)
	if err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.StrikesApplied.WithLabelValues(string(role)).Inc()
	}

	if role == strikes.RoleSeller && struck.SellerStrikes >= s.rules.StrikeThreshold {
		if err := s.suspender.SuspendSellerTx(ctx, tx, loser); err != nil {
			return err
		}
		if s.out != nil {
			if err := s.out.Enqueue(ctx, tx, outbox.TopicSellerSuspended, map[string]any{
				"seller_id":      loser,
				"seller_strikes": struck.SellerStrikes,
				"dispute_id":     rec.ID,
			}); err != nil {
				return err
			}
		}
		if s.stats != nil {
			s.stats.SellersSuspended.Inc()
		}
	}

	if awardBonus && s.rules.MajorityBonusSeeds > 0 {
		votes, err := s.repo.VotesOfTx(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		for _, vote := range votes {
			if vote.VotedForBuyer != rec.BuyerWon {
				continue
			}
			if err := s.repo.AddVoteSeedsTx(ctx, tx, rec.ID, vote.VoterID, s.rules.MajorityBonusSeeds); err != nil {
				return err
			}
			if s.accrual != nil {
				if _, err := s.accrual.RecordTx(ctx, tx, seeds.Accrual{
					Identity:  vote.VoterID,
					Category:  seeds.CategoryReferral,
					RawAmount: s.rules.MajorityBonusSeeds,
					RefKind:   "dispute",
					RefID:     strconv.FormatInt(rec.ID, 10),
				}); err != nil {
					return err
				}
			}
		}
	}

	return s.publishResolved(ctx, tx, rec)
}

func (s *Service) publishResolved(ctx context.Context, tx pgx.Tx, rec Record) error {
	if s.out == nil {
		return nil
	}
	return s.out.Enqueue(ctx, tx, outbox.TopicDisputeResolved, map[string]any{
		"dispute_id":     rec.ID,
		"order_id":       rec.OrderID,
		"buyer_won":      rec.BuyerWon,
		"admin_resolved": rec.AdminResolved,
	})
}

func (s *Service) countResolved(rec Record, via string) {
	if s.stats == nil {
		return
	}
	outcome := "seller"
	if rec.BuyerWon {
		outcome = "buyer"
	}
	s.stats.DisputesResolved.WithLabelValues(outcome, via).Inc()
}

func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) ListForParty(ctx context.Context, identity string) ([]Record, error) {
	return s.repo.ListForParty(ctx, identity)
}

func (s *Service) Votes(ctx context.Context, disputeID int64) ([]Vote, error) {
	return s.repo.Votes(ctx, disputeID)
}
