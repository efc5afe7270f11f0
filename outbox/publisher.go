package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orderflow/metrics"
)

// PublisherConfig tunes the polling loop.
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Publisher polls the outbox table and ships pending messages to the broker.
type Publisher struct {
	repo     *Repository
	producer Producer
	cfg      PublisherConfig
	log      *zap.Logger
}

func NewPublisher(repo *Repository, producer Producer, cfg PublisherConfig, log *zap.Logger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Publisher{repo: repo, producer: producer, cfg: cfg, log: log}
}

// Run polls until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox publisher stopping")
			return p.producer.Close()
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.log.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// processBatch claims a batch under SKIP LOCKED, delivers each message, and
// records the outcome in the same transaction as the claim.
func (p *Publisher) processBatch(ctx context.Context) error {
	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	msgs, err := p.repo.ClaimPendingTx(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return tx.Commit(ctx)
	}

	for _, m := range msgs {
		if err := p.producer.SendMessage(ctx, m.Topic, []byte(m.ID), m.Payload); err != nil {
			p.log.Warn("outbox delivery failed",
				zap.String("message_id", m.ID),
				zap.String("topic", m.Topic),
				zap.Int("attempts", m.Attempts+1),
				zap.Error(err))
			if markErr := p.repo.MarkAttemptTx(ctx, tx, m.ID, err, p.cfg.MaxAttempts); markErr != nil {
				return markErr
			}
			continue
		}
		if err := p.repo.MarkPublishedTx(ctx, tx, m.ID); err != nil {
			return err
		}
		metrics.OutboxPublishedTotal.Inc()
	}

	return tx.Commit(ctx)
}
