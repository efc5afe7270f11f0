package outbox

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"orderflow/test/infra"
)

type sentMessage struct {
	Topic string
	Key   string
	Value string
}

// fakeProducer records deliveries and can be told to fail a topic.
type fakeProducer struct {
	mu        sync.Mutex
	sent      []sentMessage
	failTopic string
}

func (p *fakeProducer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failTopic {
		return context.DeadlineExceeded
	}
	p.sent = append(p.sent, sentMessage{Topic: topic, Key: string(key), Value: string(value)})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("ORDERFLOW_TEST_PG_DSN") == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			t.Skip("docker unavailable and no DSN provided")
		}
	}

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, os.Getenv("ORDERFLOW_TEST_PG_DSN") != "")
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(pool.Close)
	t.Cleanup(func() { teardown(context.Background()) })
	return pool
}

func enqueue(t *testing.T, ctx context.Context, pool *pgxpool.Pool, topic string) {
	t.Helper()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	if err := EnqueueTx(ctx, tx, topic, map[string]any{"n": topic}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func countByStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, status string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE status = $1`, status).Scan(&n)
	if err != nil {
		t.Fatalf("count %s: %v", status, err)
	}
	return n
}

func TestPublisher_DrainsPendingMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	pool := testPool(t, ctx)

	enqueue(t, ctx, pool, "order.created")
	enqueue(t, ctx, pool, "order.status_changed")
	enqueue(t, ctx, pool, "dispute.opened")

	producer := &fakeProducer{}
	pub := NewPublisher(NewRepository(pool), producer, PublisherConfig{BatchSize: 10, MaxAttempts: 3}, zap.NewNop())

	if err := pub.processBatch(ctx); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if got := producer.count(); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d", got)
	}
	if got := countByStatus(t, ctx, pool, StatusPublished); got != 3 {
		t.Fatalf("expected 3 published rows, got %d", got)
	}
	if got := countByStatus(t, ctx, pool, StatusPending); got != 0 {
		t.Fatalf("expected an empty pending set, got %d rows", got)
	}

	var unstamped int
	err := pool.QueryRow(ctx,
		`SELECT count(*) FROM outbox WHERE status = 'published' AND published_at IS NULL`).Scan(&unstamped)
	if err != nil {
		t.Fatalf("count unstamped: %v", err)
	}
	if unstamped != 0 {
		t.Fatalf("%d published rows missing published_at", unstamped)
	}

	// a drained outbox yields no re-deliveries
	if err := pub.processBatch(ctx); err != nil {
		t.Fatalf("process empty batch: %v", err)
	}
	if got := producer.count(); got != 3 {
		t.Fatalf("message re-delivered after publication: %d deliveries", got)
	}
}

func TestPublisher_ParksMessageAfterMaxAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	pool := testPool(t, ctx)

	enqueue(t, ctx, pool, "order.created")
	enqueue(t, ctx, pool, "review.created")

	producer := &fakeProducer{failTopic: "review.created"}
	pub := NewPublisher(NewRepository(pool), producer, PublisherConfig{BatchSize: 10, MaxAttempts: 2}, zap.NewNop())

	// the healthy message goes out once, the failing one burns both
	// attempts and is parked; the last round must find nothing to claim
	for i := 0; i < 3; i++ {
		if err := pub.processBatch(ctx); err != nil {
			t.Fatalf("process batch %d: %v", i, err)
		}
	}

	if got := producer.count(); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if got := countByStatus(t, ctx, pool, StatusPublished); got != 1 {
		t.Fatalf("expected 1 published row, got %d", got)
	}
	if got := countByStatus(t, ctx, pool, StatusFailed); got != 1 {
		t.Fatalf("expected 1 failed row, got %d", got)
	}

	var lastErr *string
	var attempts int
	err := pool.QueryRow(ctx,
		`SELECT attempts, last_error FROM outbox WHERE status = 'failed'`).Scan(&attempts, &lastErr)
	if err != nil {
		t.Fatalf("read failed row: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", attempts)
	}
	if lastErr == nil || *lastErr == "" {
		t.Fatal("expected last_error to be recorded")
	}
}
