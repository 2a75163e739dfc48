package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/directory"
	"fleet-monitor/tracking/internal/logger"
	"fleet-monitor/tracking/internal/pipeline"
	"fleet-monitor/tracking/internal/store"
	"fleet-monitor/tracking/internal/tracking"
	transport "fleet-monitor/tracking/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.New(os.Stdout, cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("tracker exited", "action", "service_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Postgres ──
	db, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// ── 2. Redis ──
	redis, err := store.NewRedisStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer redis.Close()

	// ── 3. Telemetry source ──
	var source tracking.TelemetrySource = redis
	if cfg.TelemetrySource == "amqp" {
		amqpSource, err := store.NewAMQPSource(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		defer amqpSource.Close()
		source = amqpSource
	}

	// ── 4. Alert sinks ──
	sinks := []pipeline.AlertSink{redis}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := store.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic, log)
		if err := kafka.EnsureTopic(ctx, 5); err != nil {
			log.Warn("kafka topic not ensured", "action", "kafka_unavailable", "error", err)
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}

	// ── 5. Engine ──
	dispatcher := pipeline.NewDispatcher(cfg.ArchiveChannelSize, cfg.AlertChannelSize, cfg.SnapshotChannelSize)
	engine := tracking.NewEngine(cfg.Engine(), source,
		tracking.WithLogger(log),
		tracking.WithActiveTripFeed(db),
		tracking.WithUserDirectory(directory.NewCache(db, cfg.DirectoryTTL)),
		tracking.WithEventSink(dispatcher),
	)

	hub := transport.NewHub(log)
	unsubscribe := engine.Subscribe(hub.Broadcast)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	// ── 6. Pipeline workers ──
	for i := 0; i < max(cfg.ArchiveWriterWorkers, 1); i++ {
		w := pipeline.NewArchiveWriter(dispatcher.ArchiveChan, db, log, cfg.ArchiveBatchSize, cfg.ArchiveFlushIntervalMS)
		g.Go(func() error { w.Run(gctx); return nil })
	}
	stateWriter := pipeline.NewStateWriter(dispatcher.SnapshotChan, redis, log)
	g.Go(func() error { stateWriter.Run(gctx); return nil })
	alertPublisher := pipeline.NewAlertPublisher(dispatcher.AlertChan, db, redis, log, sinks...)
	g.Go(func() error { alertPublisher.Run(gctx); return nil })

	// ── 7. Tracking ──
	if err := engine.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		return nil
	})

	// ── 8. HTTP ──
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: transport.NewServer(engine, hub, log, cfg.ServiceName, map[string]transport.HealthCheck{
			"postgres": db.Ping,
			"redis":    redis.Ping,
		}).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("tracker listening", "action", "http_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "action", "service_stopping")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
