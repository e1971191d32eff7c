package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Topics emitted by the trust core. External collaborators subscribe to
// these to move funds and flip registry state.
const (
	TopicRewardClaimed     = "reward.claimed"
	TopicDisputeResolved   = "dispute.resolved"
	TopicSellerSuspended   = "seller.suspended"
	TopicRewardDistributed = "reward.distributed"
)

// Message is a pending outbox row handed to a Handler.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Writer appends messages to the transactional outbox. Enqueue runs inside
// the caller's transaction so a rolled-back transition leaves no message
// behind.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, raw); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// Handler delivers a message to its external destination. A non-nil error
// leaves the message pending for a later attempt.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Dispatcher drains pending outbox rows in batches using SKIP LOCKED so
// multiple dispatchers never deliver the same message twice.
type Dispatcher struct {
	pool        *pgxpool.Pool
	handler     Handler
	batchSize   int
	pollEvery   time.Duration
	maxAttempts int
}

func NewDispatcher(pool *pgxpool.Pool, handler Handler) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		handler:     handler,
		batchSize:   25,
		pollEvery:   time.Second,
		maxAttempts: 10,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := d.DrainOnce(ctx); err != nil {
			return err
		}
	}
}

// DrainOnce claims one batch of pending messages, delivers them, and marks
// them processed or dead. It returns the number of messages it handled.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	handled := 0
	for _, msg := range batch {
		if err := d.handler.Handle(ctx, msg); err != nil {
			status := "pending"
			if msg.Attempts+1 >= d.maxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1`, msg.ID, status); err != nil {
				return handled, fmt.Errorf("outbox: mark attempt: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1 WHERE id = $1`, msg.ID); err != nil {
			return handled, fmt.Errorf("outbox: mark processed: %w", err)
		}
		handled++
	}

	if err := tx.Commit(ctx); err != nil {
		return handled, fmt.Errorf("outbox: commit drain: %w", err)
	}
	return handled, nil
}
