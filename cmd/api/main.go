package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderflow/auth"
	"orderflow/config"
	"orderflow/db"
	"orderflow/dispute"
	"orderflow/escrow"
	"orderflow/httpapi"
	"orderflow/logger"
	"orderflow/offer"
	"orderflow/order"
	"orderflow/outbox"
	"orderflow/review"
)

func main() {
	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	provider := escrow.NewHTTPProvider(cfg.PaymentProviderURL, cfg.PaymentProviderTimeout)
	ledger := escrow.NewLedger(provider)

	offers := offer.NewRegistry(pool)
	orders := order.NewService(pool, offers, ledger, log)
	disputes := dispute.NewService(pool, ledger, log)
	reviews := review.NewService(pool, log)

	server := httpapi.NewServer(authSvc, orders, disputes, reviews, pool, log)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	publisher := outbox.NewPublisher(outbox.NewRepository(pool), producer, outbox.PublisherConfig{
		PollInterval: cfg.OutboxPollEvery,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(cfg.HTTPPort)
	})
	g.Go(func() error {
		publisher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
