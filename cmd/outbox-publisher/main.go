package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/instance"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/migrate"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/registry"
	"github.com/angelmondragon/marketplace-settlement/pkg/pubsub"
)

func main() {
	listDLQ := flag.Int("list-dlq", 0, "print the N newest dead-lettered events and exit")
	requeue := flag.String("requeue", "", "hand the dead-lettered outbox event with this id back to the relay and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	deadLetters := outbox.NewDeadLetters(dbClient.DB())
	if *listDLQ > 0 || *requeue != "" {
		if err := operate(context.Background(), deadLetters, *listDLQ, *requeue); err != nil {
			logg.Error(context.Background(), "dead letter operation failed", err)
			os.Exit(1)
		}
		return
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	repo := outbox.NewRepository(dbClient.DB())
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	if err := pubsubClient.CheckTopics(context.Background(), eventRegistry.Topics()...); err != nil {
		logg.Error(context.Background(), "outbox topics unavailable", err)
		os.Exit(1)
	}
	relay, err := NewRelay(RelayParams{
		Config:     cfg.Outbox,
		Logger:     logg,
		DB:         dbClient,
		Store:      repo,
		DeadLetter: deadLetters,
		Registry:   eventRegistry,
		Sink:       newPubSubSink(pubsubClient),
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox relay", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"instance":    instance.GetID(),
	})
	metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "starting outbox publisher")

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// operate runs the one-shot dead letter commands instead of the relay loop.
func operate(ctx context.Context, dlq *outbox.DeadLetters, list int, requeue string) error {
	if requeue != "" {
		id, err := uuid.Parse(requeue)
		if err != nil {
			return fmt.Errorf("invalid -requeue id: %w", err)
		}
		if err := dlq.Requeue(ctx, id); err != nil {
			return err
		}
		fmt.Println("requeued", id)
		return nil
	}

	entries, err := dlq.Recent(ctx, list)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tTYPE\tREASON\tATTEMPTS\tFAILED AT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.EventID, e.EventType, e.ErrorReason, e.AttemptCount, e.FailedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
