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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YUJAEYUN/exercisemate/internal/api"
	"github.com/YUJAEYUN/exercisemate/internal/app"
	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/config"
	"github.com/YUJAEYUN/exercisemate/internal/outbox"
	httptransport "github.com/YUJAEYUN/exercisemate/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	var dispatcher *outbox.Dispatcher
	if a.Pool != nil && cfg.EventDelivery == config.DeliveryOutbox {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(a.Pool, producer, registry, outbox.DispatcherConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			Logger:       log.New(os.Stderr, "[outbox] ", log.LstdFlags|log.Lmsgprefix),
		})
		go dispatcher.Start(ctx)
		log.Printf("outbox dispatcher publishing to %s", cfg.KafkaTopic)
	}

	mux := http.NewServeMux()
	api.NewHandler(a.Service, a.Notifier, log.New(os.Stderr, "[api] ", log.LstdFlags|log.Lmsgprefix)).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.PublicPaths)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), httptransport.Chain(mux,
		httptransport.RequestID,
		httptransport.Logging(log.New(os.Stderr, "[http] ", log.LstdFlags|log.Lmsgprefix)),
		httptransport.CORS(cfg.CORSOrigins),
		authMiddleware.Wrap,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("exercisemate api listening on %s (delivery=%s)", cfg.HTTPAddress, cfg.EventDelivery)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
