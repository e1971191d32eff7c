package reward

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"seedmarket/ambassador"
	"seedmarket/order"
	"seedmarket/outbox"
	"seedmarket/policy"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestSplitAmount(t *testing.T) {
	cases := []struct {
		remaining int64
		bps       int64
		want      int64
	}{
		{1000, 8000, 800},
		{200, 8000, 160},
		{40, 8000, 32},
		{1, 8000, 0},
		{0, 8000, 0},
		{10_000, 10_000, 10_000},
	}
	for _, tc := range cases {
		if got := SplitAmount(tc.remaining, tc.bps); got != tc.want {
			t.Errorf("SplitAmount(%d, %d) = %d, want %d", tc.remaining, tc.bps, got, tc.want)
		}
	}
}

func newRewardService(store *fakeStore, graph *fakeGraph) (*Service, *fakeOutbox) {
	out := &fakeOutbox{}
	next := 0
	svc := NewService(&fakePool{}, store, &fakeOrders{amount: 1000}, graph, policy.Default()).
		WithOutbox(out).
		WithClock(func() time.Time { return testStart }).
		WithIDGenerator(func() string {
			next++
			return fmt.Sprintf("reward-%d", next)
		})
	return svc, out
}

func chainOf(ids ...string) []ambassador.Record {
	chain := make([]ambassador.Record, 0, len(ids))
	for _, id := range ids {
		chain = append(chain, ambassador.Record{ID: id, Active: true})
	}
	return chain
}

func TestDistribute_ChainSplit(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1", "amb-2", "amb-3")}
	svc, out := newRewardService(store, graph)

	rec, allocs, err := svc.Distribute(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// 1000 at 80% retention per level: 800, 160, 32; 8 stays undistributed.
	wantAmounts := []int64{800, 160, 32}
	if len(allocs) != len(wantAmounts) {
		t.Fatalf("got %d allocations, want %d", len(allocs), len(wantAmounts))
	}
	for i, want := range wantAmounts {
		if allocs[i].Amount != want {
			t.Errorf("level %d amount %d, want %d", i, allocs[i].Amount, want)
		}
	}
	if rec.TotalAmount != 992 {
		t.Errorf("total %d, want 992", rec.TotalAmount)
	}
	if rec.ChainDepth != 3 {
		t.Errorf("chain depth %d, want 3", rec.ChainDepth)
	}
	wantVest := testStart.Add(policy.Default().VestingPeriod)
	if !rec.ClaimableAt.Equal(wantVest) {
		t.Errorf("claimable at %v, want %v", rec.ClaimableAt, wantVest)
	}
	if !out.has(outbox.TopicRewardDistributed) {
		t.Errorf("expected reward.distributed event")
	}
}

func TestDistribute_StopsAtZeroShare(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1", "amb-2", "amb-3")}
	svc, _ := newRewardService(store, graph)
	svc.orders = &fakeOrders{amount: 2}

	rec, allocs, err := svc.Distribute(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// 2 * 0.8 = 1 for level 0; remaining 1 * 0.8 rounds to 0, walk stops.
	if len(allocs) != 1 || allocs[0].Amount != 1 {
		t.Fatalf("allocations %+v, want single share of 1", allocs)
	}
	if rec.TotalAmount != 1 {
		t.Errorf("total %d, want 1", rec.TotalAmount)
	}
}

func TestDistribute_TooSmallToAllocate(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1", "amb-2", "amb-3")}
	svc, out := newRewardService(store, graph)
	svc.orders = &fakeOrders{amount: 1}

	// 1 * 0.8 rounds to 0 already at level 0: nothing to queue.
	_, _, err := svc.Distribute(context.Background(), "order-1")
	if !errors.Is(err, ErrNothingToDistribute) {
		t.Fatalf("got %v, want ErrNothingToDistribute", err)
	}
	if len(store.rewards) != 0 {
		t.Errorf("expected no reward queued, got %d", len(store.rewards))
	}
	if out.has(outbox.TopicRewardDistributed) {
		t.Errorf("unexpected reward.distributed event")
	}
}

func TestDistribute_NoChain(t *testing.T) {
	svc, _ := newRewardService(&fakeStore{}, &fakeGraph{recruiterErr: ambassador.ErrNotRecruited})

	_, _, err := svc.Distribute(context.Background(), "order-1")
	if !errors.Is(err, ErrNoChain) {
		t.Fatalf("got %v, want ErrNoChain", err)
	}
}

func TestDistribute_DuplicateOrder(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1")}
	svc, _ := newRewardService(store, graph)

	if _, _, err := svc.Distribute(context.Background(), "order-1"); err != nil {
		t.Fatalf("first distribute: %v", err)
	}
	_, _, err := svc.Distribute(context.Background(), "order-1")
	if !errors.Is(err, ErrDuplicateDistribution) {
		t.Fatalf("got %v, want ErrDuplicateDistribution", err)
	}
}

func TestClaim_PaysOutOnce(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1", "amb-2")}
	svc, out := newRewardService(store, graph)

	rec, _, err := svc.Distribute(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	svc.WithClock(func() time.Time { return rec.ClaimableAt })
	claimed, err := svc.Claim(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed.Claimed {
		t.Fatalf("reward not marked claimed")
	}
	if graph.earned["amb-1"] != 800 || graph.earned["amb-2"] != 160 {
		t.Errorf("earned totals %v, want amb-1=800 amb-2=160", graph.earned)
	}
	if !out.has(outbox.TopicRewardClaimed) {
		t.Errorf("expected reward.claimed event")
	}

	_, err = svc.Claim(context.Background(), rec.ID)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}
	if graph.earned["amb-1"] != 800 {
		t.Errorf("earned credited twice: %v", graph.earned)
	}
}

func TestClaim_NotVested(t *testing.T) {
	store := &fakeStore{}
	graph := &fakeGraph{chain: chainOf("amb-1")}
	svc, _ := newRewardService(store, graph)

	rec, _, err := svc.Distribute(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	svc.WithClock(func() time.Time { return rec.ClaimableAt.Add(-time.Second) })
	_, err = svc.Claim(context.Background(), rec.ID)
	if !errors.Is(err, ErrNotVested) {
		t.Fatalf("got %v, want ErrNotVested", err)
	}
}

// --- fakes ---

type fakeOrders struct {
	amount int64
}

func (f *fakeOrders) GetTx(ctx context.Context, tx pgx.Tx, id string) (order.Record, error) {
	return order.Record{
		ID:          id,
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		Amount:      f.amount,
		Contestable: false,
		CompletedAt: testStart.Add(-time.Hour),
	}, nil
}

type fakeGraph struct {
	chain        []ambassador.Record
	recruiterErr error
	earned       map[string]int64
}

func (f *fakeGraph) RecruiterOfTx(ctx context.Context, tx pgx.Tx, sellerID string) (ambassador.Record, error) {
	if f.recruiterErr != nil {
		return ambassador.Record{}, f.recruiterErr
	}
	return f.chain[0], nil
}

func (f *fakeGraph) ChainTx(ctx context.Context, tx pgx.Tx, startID string, maxDepth int) ([]ambassador.Record, error) {
	if len(f.chain) > maxDepth {
		return f.chain[:maxDepth], nil
	}
	return f.chain, nil
}

func (f *fakeGraph) AddEarnedTx(ctx context.Context, tx pgx.Tx, id string, amount int64) error {
	if f.earned == nil {
		f.earned = map[string]int64{}
	}
	f.earned[id] += amount
	return nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeOutbox) has(topic string) bool {
	for _, t := range f.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// fakeStore keeps rewards in memory with the same uniqueness and write-once
// guards the SQL layer enforces.
type fakeStore struct {
	rewards map[string]PendingReward
	byOrder map[string]string
	allocs  map[string][]Allocation
}

func (f *fakeStore) init() {
	if f.rewards == nil {
		f.rewards = map[string]PendingReward{}
		f.byOrder = map[string]string{}
		f.allocs = map[string][]Allocation{}
	}
}

func (f *fakeStore) CreateTx(ctx context.Context, tx pgx.Tx, rec PendingReward, allocations []Allocation) (PendingReward, error) {
	f.init()
	if _, exists := f.byOrder[rec.OrderID]; exists {
		return PendingReward{}, ErrDuplicateDistribution
	}
	f.rewards[rec.ID] = rec
	f.byOrder[rec.OrderID] = rec.ID
	f.allocs[rec.ID] = allocations
	return rec, nil
}

func (f *fakeStore) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error) {
	f.init()
	rec, ok := f.rewards[id]
	if !ok {
		return PendingReward{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) MarkClaimedTx(ctx context.Context, tx pgx.Tx, id string) (PendingReward, error) {
	f.init()
	rec, ok := f.rewards[id]
	if !ok {
		return PendingReward{}, ErrNotFound
	}
	if rec.Claimed {
		return PendingReward{}, ErrAlreadyClaimed
	}
	now := testStart
	rec.Claimed = true
	rec.ClaimedAt = &now
	f.rewards[id] = rec
	return rec, nil
}

func (f *fakeStore) AllocationsOfTx(ctx context.Context, tx pgx.Tx, rewardID string) ([]Allocation, error) {
	f.init()
	return f.allocs[rewardID], nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (PendingReward, error) {
	return f.GetForUpdateTx(ctx, nil, id)
}

func (f *fakeStore) GetByOrder(ctx context.Context, orderID string) (PendingReward, error) {
	f.init()
	id, ok := f.byOrder[orderID]
	if !ok {
		return PendingReward{}, ErrNotFound
	}
	return f.rewards[id], nil
}

func (f *fakeStore) AllocationsOf(ctx context.Context, rewardID string) ([]Allocation, error) {
	return f.AllocationsOfTx(ctx, nil, rewardID)
}

func (f *fakeStore) ListForAmbassador(ctx context.Context, ambassadorID string) ([]PendingReward, error) {
	f.init()
	var out []PendingReward
	for id, allocs := range f.allocs {
		for _, a := range allocs {
			if a.AmbassadorID == ambassadorID {
				out = append(out, f.rewards[id])
				break
			}
		}
	}
	return out, nil
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct{}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error   { return nil }
func (f *fakeTx) Rollback(context.Context) error { return nil }

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
