package ambassador

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"seedmarket/policy"
	"seedmarket/seeds"
)

func TestReferralChainLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"users", "ambassadors", "recruited_sellers", "seeds_events", "seeds_balances"} {
		if !tableExists(ctx, t, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	mustInsert := func(query string, args ...any) string {
		var id string
		if err := pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			t.Fatalf("seed statement failed: %v", err)
		}
		return id
	}

	suffix := time.Now().UnixNano()
	newUser := func(tag string) string {
		return mustInsert(`INSERT INTO users (email, full_name, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", tag, suffix), tag)
	}

	rootOwner := newUser("root")
	midOwner := newUser("mid")
	leafOwner := newUser("leaf")
	seller := newUser("seller")

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM recruited_sellers WHERE seller_id = $1`, seller)
		pool.Exec(ctx2, `DELETE FROM seeds_events WHERE identity IN ($1, $2, $3, $4)`, rootOwner, midOwner, leafOwner, seller)
		pool.Exec(ctx2, `DELETE FROM seeds_balances WHERE identity IN ($1, $2, $3, $4)`, rootOwner, midOwner, leafOwner, seller)
		pool.Exec(ctx2, `DELETE FROM ambassadors WHERE owner_identity IN ($1, $2, $3)`, rootOwner, midOwner, leafOwner)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3, $4)`, rootOwner, midOwner, leafOwner, seller)
	})

	rules := policy.Default()
	seedsSvc := seeds.NewService(pool, nil, rules)
	svc := NewService(pool, nil, rules).WithSeedsRecorder(seedsSvc)

	root, err := svc.Register(ctx, RegisterParams{OwnerIdentity: rootOwner})
	if err != nil {
		t.Fatalf("register root: %v", err)
	}
	mid, err := svc.Register(ctx, RegisterParams{OwnerIdentity: midOwner, UplineID: &root.ID})
	if err != nil {
		t.Fatalf("register mid: %v", err)
	}
	leaf, err := svc.Register(ctx, RegisterParams{OwnerIdentity: leafOwner, UplineID: &mid.ID})
	if err != nil {
		t.Fatalf("register leaf: %v", err)
	}

	// Registering under an upline pays the upline's recruitment seeds.
	var rootSeeds int64
	if err := pool.QueryRow(ctx, `SELECT recruitments FROM seeds_balances WHERE identity = $1`, rootOwner).Scan(&rootSeeds); err != nil {
		t.Fatalf("root seeds balance: %v", err)
	}
	if rootSeeds == 0 {
		t.Errorf("expected recruitment seeds for root after mid registered")
	}

	if _, err := svc.Register(ctx, RegisterParams{OwnerIdentity: midOwner}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate register: got %v, want ErrAlreadyRegistered", err)
	}

	if _, err := svc.RecruitSeller(ctx, leaf.ID, seller); err != nil {
		t.Fatalf("recruit seller: %v", err)
	}
	if _, err := svc.RecruitSeller(ctx, root.ID, seller); !errors.Is(err, ErrAlreadyRecruited) {
		t.Fatalf("second recruiter: got %v, want ErrAlreadyRecruited", err)
	}

	repo := NewRepository(pool)
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	recruiter, err := repo.RecruiterOfTx(ctx, tx, seller)
	if err != nil {
		t.Fatalf("recruiter of seller: %v", err)
	}
	if recruiter.ID != leaf.ID {
		t.Fatalf("recruiter %s, want %s", recruiter.ID, leaf.ID)
	}

	chain, err := repo.ChainTx(ctx, tx, leaf.ID, rules.MaxChainDepth)
	if err != nil {
		t.Fatalf("chain walk: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length %d, want 3", len(chain))
	}
	if chain[0].ID != leaf.ID || chain[1].ID != mid.ID || chain[2].ID != root.ID {
		t.Fatalf("chain order wrong: %s %s %s", chain[0].ID, chain[1].ID, chain[2].ID)
	}

	// Depth cap truncates the walk.
	capped, err := repo.ChainTx(ctx, tx, leaf.ID, 2)
	if err != nil {
		t.Fatalf("capped chain walk: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("capped chain length %d, want 2", len(capped))
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
