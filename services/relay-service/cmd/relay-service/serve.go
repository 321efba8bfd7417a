package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/delayrelay/libs/config"
	"github.com/md-rashed-zaman/delayrelay/libs/grpcx"
	"github.com/md-rashed-zaman/delayrelay/libs/httpx"
	"github.com/md-rashed-zaman/delayrelay/libs/kafkax"
	otelx "github.com/md-rashed-zaman/delayrelay/libs/otel"
	"github.com/md-rashed-zaman/delayrelay/libs/runtime"
	relayconfig "github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/config"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/dispatch"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/event"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/ingest"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/storage"
	"github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/stream"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume, hold and republish events until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

type sink interface {
	dispatch.Sink
	Close() error
}

func serve(ctx context.Context, configPath string) error {
	service := config.String("SERVICE_NAME", "relay-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		return err
	}
	grpcPort, grpcEnabled, err := config.OptionalPort("GRPC_PORT")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	cfg, err := relayconfig.Load(configPath)
	if err != nil {
		return err
	}
	instance := uuid.NewString()
	logger = logger.With("instance", instance)
	logger.Info("relay config loaded",
		"file", relayconfig.ConfigFile(configPath),
		"source_topics", cfg.SourceTopics,
		"sink_topics", cfg.SinkTopics,
		"storage", string(cfg.Storage.Type),
		"expiry_age", cfg.ExpiryAge.String(),
		"dispatch_interval", cfg.DispatchInterval.String(),
		"producer_client", cfg.ProducerClient,
	)
	if !cfg.Storage.Type.Persistent() {
		logger.Warn("storage is not persistent; held events are lost on restart", "storage", string(cfg.Storage.Type))
	}

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	storeOpen := true
	defer func() {
		if storeOpen {
			_ = store.Close()
		}
	}()

	codec := event.NewCodec(cfg.TimestampField, cfg.TimestampLayout, logger)

	source, err := stream.NewKafkaSource(logger, stream.KafkaSourceConfig{
		Brokers:   cfg.ConsumerBrokers,
		GroupID:   cfg.GroupID,
		Topics:    cfg.SourceTopics,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	out, err := newSink(cfg, service, instance)
	if err != nil {
		_ = source.Close()
		return err
	}

	pipeline := ingest.NewPipeline(source, store, codec, logger, ingest.Config{PollTimeout: cfg.PollTimeout})
	dispatcher := dispatch.NewDispatcher(store, codec, out, logger, dispatch.Config{
		Interval:     cfg.DispatchInterval,
		ExpiryAge:    cfg.ExpiryAge,
		Destinations: cfg.SinkTopics,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ingestDone := make(chan error, 1)
	go func() {
		ingestDone <- pipeline.Run(runCtx)
	}()
	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(runCtx)
		close(dispatchDone)
	}()

	checks := []runtime.ReadyCheck{
		{Name: "kafka-consumer", Check: kafkax.ReadyCheck(strings.Join(cfg.ConsumerBrokers, ","))},
		{Name: "kafka-producer", Check: kafkax.ReadyCheck(strings.Join(cfg.ProducerBrokers, ","))},
	}
	if p, ok := store.(storage.Pinger); ok {
		checks = append(checks, runtime.ReadyCheck{Name: "storage", Check: p.Ping})
	}
	ready := runtime.NewReadiness(checks...)

	mux := runtime.NewBaseMuxWithReady(ready)
	if config.Bool("PENDING_ENDPOINT", true) {
		mux.Handle("/pending", httpx.Chain(pendingHandler(store, codec, cfg.ExpiryAge, logger),
			httpx.WithMethods(http.MethodGet),
			httpx.WithTimeout(30*time.Second),
		))
	}
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<10),
	)
	handler = otelhttp.NewHandler(handler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	var health *grpcx.HealthServer
	if grpcEnabled {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.Error("grpc listen failed", "addr", ":"+grpcPort, "err", err)
		} else {
			health = grpcx.NewHealthServer(logger, ready)
			go health.Watch(runCtx, 5*time.Second)
			go func() {
				logger.Info("grpc health server starting", "addr", lis.Addr().String())
				if err := health.Serve(lis); err != nil {
					logger.Error("grpc server error", "err", err)
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-ingestDone:
		runErr = err
		ingestDone <- nil
		logger.Error("ingestion stopped", "err", err)
	}

	ready.Drain()
	cancelRun()
	_ = source.Close()
	if err := <-ingestDone; err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("ingestion stopped")
	<-dispatchDone
	logger.Info("dispatch stopped")

	if err := out.Close(); err != nil {
		logger.Warn("closing producer failed", "err", err)
	}
	storeOpen = false
	if err := store.Close(); err != nil {
		logger.Warn("closing storage failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	if health != nil {
		health.Stop()
	}
	logger.Info("relay stopped")
	return runErr
}

func newSink(cfg *relayconfig.Config, clientID, instance string) (sink, error) {
	switch cfg.ProducerClient {
	case relayconfig.ClientSarama:
		s, err := stream.NewSaramaSink(cfg.ProducerBrokers, clientID, instance)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := stream.NewKafkaSink(cfg.ProducerBrokers, instance)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func pendingHandler(store storage.Storage, dec dispatch.Decoder, expiryAge time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sum, err := dispatch.Inspect(r.Context(), store, dec, time.Now(), expiryAge, nil)
		if err != nil {
			logger.Error("pending scan failed", "err", err)
			http.Error(w, "storage scan failed", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sum)
	})
}
