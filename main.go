package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docpay-service/internal/api"
	"docpay-service/internal/callback"
	"docpay-service/internal/config"
	"docpay-service/internal/db"
	"docpay-service/internal/download"
	"docpay-service/internal/event"
	"docpay-service/internal/gateway"
	"docpay-service/internal/kafka"
	"docpay-service/internal/logging"
	"docpay-service/internal/metrics"
	"docpay-service/internal/model"
	"docpay-service/internal/payment"
	"docpay-service/internal/poller"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.MustLoadConfig("config")
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.Database.ConnString(), "migrations"); err != nil {
		logger.Error("Error running migrations", "error", err)
		os.Exit(1)
	}

	dbpool, err := db.GetPool(cfg.Database.ConnString())
	if err != nil {
		logger.Error("Error connecting to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	repo := db.NewSubmissionRepository(dbpool)

	prices, err := model.NewPriceTable(cfg.Pricing)
	if err != nil {
		logger.Error("Error loading price table", "error", err)
		os.Exit(1)
	}

	var tokens gateway.TokenCache = gateway.NewMemoryTokenCache()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		tokens = gateway.NewRedisTokenCache(rdb, cfg.Gateway.ShortCode)
	}
	gatewayClient := gateway.NewClient(cfg.Gateway, tokens, logger)

	callbacks := callback.NewProcessor(repo, logger)
	payments := payment.NewOrchestrator(repo, gatewayClient, callbacks, prices, cfg.Gateway.Timeout(), logger)

	pollerCfg := poller.ConfigFrom(cfg.Poller)
	polls := poller.NewManager(poller.NewRepositorySource(repo, pollerCfg.QueryTimeout), pollerCfg, logger)
	defer polls.Close()

	presigner, err := download.NewPresignClient(ctx, cfg.Download)
	if err != nil {
		logger.Error("Error creating S3 presign client", "error", err)
		os.Exit(1)
	}
	downloads := download.NewLinker(repo, presigner, cfg.Download, logger)

	handler := api.NewHandler(payments, repo, polls, callbacks, downloads, logger)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	submissionWriter := kafka.NewWriter(cfg.Kafka)
	defer submissionWriter.Close()
	producer := event.NewProducer(repo, submissionWriter, cfg.Outbox, logger)

	documentReader := kafka.NewReader(cfg.Kafka)
	defer documentReader.Close()
	documents := event.NewProcessor(repo, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		polls.Close()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return producer.Start(gctx)
	})
	g.Go(func() error {
		return callbacks.RunReplayer(gctx, cfg.Callback)
	})
	g.Go(func() error {
		return kafka.ReadDocumentEvents(gctx, documentReader, documents, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}
