package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"seedmarket/test/actors"
	"seedmarket/test/chaos"
	"seedmarket/test/infra"
	"seedmarket/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestTrustCoreConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	// migrations
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	// seed minimal data
	seedData := mustSeed(t, ctx, pool)

	// run actors
	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// jurors and resolvers battling over one dispute
	for i := 0; i < *flConcurrency; i++ {
		voterID := seedData.voterIDs[i%len(seedData.voterIDs)]
		g.Go(func() error { return actors.Voter(ctx2, pool, seedData.disputeID, voterID, stop) })
		g.Go(func() error { return actors.Resolver(ctx2, pool, seedData.disputeID, 3, stop) })
	}

	// admin re-stamps the outcome once resolved
	g.Go(func() error { return actors.AdminOverrider(ctx2, pool, seedData.disputeID, stop) })
	// competing reward posters for the same order, and claim sweeps
	for i := 0; i < *flConcurrency/2+1; i++ {
		g.Go(func() error {
			return actors.RewardPoster(ctx2, pool, seedData.rewardOrderID, seedData.chain, 1000, stop)
		})
		g.Go(func() error { return actors.Claimer(ctx2, pool, stop) })
	}
	// seeds accruals against one hot identity
	g.Go(func() error { return actors.Accruer(ctx2, pool, seedData.earnerID, stop) })
	// outbox worker
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	// schedule oracle checks until duration reached
	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	buyerID       string
	sellerID      string
	voterIDs      []string
	disputeID     int64
	rewardOrderID string
	chain         []string
	earnerID      string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs
	tag := rand.Int63()
	user := func(role, label string) string {
		var id string
		if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role)
                                      VALUES ($1,$2,'x',$3) RETURNING id`,
			fmt.Sprintf("%s-%d@example.com", label, tag), "Stress "+label, role).Scan(&id); err != nil {
			t.Fatalf("seed user %s: %v", label, err)
		}
		return id
	}

	s.buyerID = user("member", "buyer")
	s.sellerID = user("seller", "seller")
	for i := 0; i < 5; i++ {
		s.voterIDs = append(s.voterIDs, user("member", fmt.Sprintf("voter%d", i)))
	}

	// contested order with a dispute whose window lapses mid-run, so the
	// resolvers get to race over the close
	orderID := fmt.Sprintf("ord-dispute-%d", tag)
	if _, err := pool.Exec(ctx, `INSERT INTO orders (id, buyer_id, seller_id, amount) VALUES ($1,$2,$3,500)`,
		orderID, s.buyerID, s.sellerID); err != nil {
		t.Fatalf("seed contested order: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO disputes (order_id, buyer_id, seller_id, buyer_reason, voting_ends_at)
                                  VALUES ($1,$2,$3,'item never arrived',NOW() + interval '5 seconds')
                                  RETURNING id`,
		orderID, s.buyerID, s.sellerID).Scan(&s.disputeID); err != nil {
		t.Fatalf("seed dispute: %v", err)
	}

	// three-level ambassador chain and a recruited seller for the reward race
	ambassador := func(owner string, upline *string) string {
		var id string
		if err := pool.QueryRow(ctx, `INSERT INTO ambassadors (owner_identity, upline_id) VALUES ($1,$2) RETURNING id`,
			owner, upline).Scan(&id); err != nil {
			t.Fatalf("seed ambassador: %v", err)
		}
		return id
	}
	root := ambassador(user("ambassador", "root"), nil)
	mid := ambassador(user("ambassador", "mid"), &root)
	leaf := ambassador(user("ambassador", "leaf"), &mid)
	s.chain = []string{leaf, mid, root}

	recruited := user("seller", "recruited")
	if _, err := pool.Exec(ctx, `INSERT INTO recruited_sellers (seller_id, ambassador_id) VALUES ($1,$2)`,
		recruited, leaf); err != nil {
		t.Fatalf("seed recruitment: %v", err)
	}
	s.rewardOrderID = fmt.Sprintf("ord-reward-%d", tag)
	if _, err := pool.Exec(ctx, `INSERT INTO orders (id, buyer_id, seller_id, amount) VALUES ($1,$2,$3,1000)`,
		s.rewardOrderID, s.buyerID, recruited); err != nil {
		t.Fatalf("seed reward order: %v", err)
	}

	s.earnerID = user("member", "earner")
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"disputes", `SELECT id, resolved, buyer_won, extended, admin_resolved, votes_for_buyer, votes_for_seller, voting_ends_at, resolved_at FROM disputes ORDER BY id DESC LIMIT 20`},
		{"dispute_votes", `SELECT dispute_id, voter_id, voted_for_buyer, created_at FROM dispute_votes ORDER BY created_at DESC LIMIT 50`},
		{"pending_rewards", `SELECT id, order_id, total_amount, claimed, claimable_at, claimed_at FROM pending_rewards ORDER BY queued_at DESC LIMIT 20`},
		{"seeds_balances", `SELECT identity, referrals, total, event_count FROM seeds_balances ORDER BY last_updated DESC LIMIT 20`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			// compact print
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
