package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"seedmarket/ambassador"
	"seedmarket/api"
	"seedmarket/auth"
	"seedmarket/db"
	"seedmarket/dispute"
	"seedmarket/metrics"
	"seedmarket/order"
	"seedmarket/outbox"
	"seedmarket/policy"
	"seedmarket/reward"
	"seedmarket/seeds"
	"seedmarket/strikes"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules := policy.Default()
	if path := os.Getenv("RULES_PATH"); path != "" {
		loaded, err := policy.Load(path)
		if err != nil {
			log.Fatalf("load rules: %v", err)
		}
		rules = loaded
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	stats := metrics.New()
	outboxWriter := outbox.NewWriter()

	orderRepo := order.NewRepository(pool)
	strikeRepo := strikes.NewRepository(pool)
	authRepo := auth.NewRepository(pool)

	seedsSvc := seeds.NewService(pool, nil, rules).WithMetrics(stats)

	ambassadorRepo := ambassador.NewRepository(pool)
	ambassadorSvc := ambassador.NewService(pool, ambassadorRepo, rules).
		WithSeedsRecorder(seedsSvc)

	authSvc := auth.NewService(authRepo, ambassadorRepo, rules, jwtSecret)

	rewardSvc := reward.NewService(pool, reward.NewRepository(pool), orderRepo, ambassadorRepo, rules).
		WithOutbox(outboxWriter).
		WithMetrics(stats)

	disputeSvc := dispute.NewService(pool, dispute.NewRepository(pool), orderRepo, authSvc, strikeRepo, authRepo, rules).
		WithSeedsRecorder(seedsSvc).
		WithOutbox(outboxWriter).
		WithMetrics(stats)

	dispatcher := outbox.NewDispatcher(pool, outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
		// Downstream custody and notification transports subscribe here.
		log.Printf("outbox: %s %s", msg.Topic, msg.Payload)
		return nil
	}))
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher stopped: %v", err)
		}
	}()

	server := api.New(api.Config{
		Auth:        authSvc,
		Disputes:    disputeSvc,
		Ambassadors: ambassadorSvc,
		Rewards:     rewardSvc,
		Seeds:       seedsSvc,
		Orders:      orderRepo,
		Strikes:     strikeRepo,
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}
