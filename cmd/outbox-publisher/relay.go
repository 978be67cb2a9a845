package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/registry"
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Sink delivers one message to a topic and waits for the broker ack.
type Sink interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
	Ping(ctx context.Context) error
}

// errNoTopic marks rows whose topic has no publisher; they go straight to the DLQ.
var errNoTopic = errors.New("no publisher for topic")

type relayOptions struct {
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	maxBackoff   time.Duration
}

func optionsFrom(cfg config.OutboxConfig) relayOptions {
	opts := relayOptions{
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		maxBackoff:   10 * time.Second,
	}
	if opts.batchSize <= 0 {
		opts.batchSize = 50
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = 10
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = 500 * time.Millisecond
	}
	return opts
}

type RelayParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Store      outboxStore
	DeadLetter deadLetterStore
	Registry   resolver
	Sink       Sink
	Metrics    *metrics.OutboxMetrics
}

// Relay moves committed outbox rows to Pub/Sub. Each batch is claimed and settled inside one transaction.
type Relay struct {
	logg     *logger.Logger
	db       txRunner
	store    outboxStore
	dlq      deadLetterStore
	registry resolver
	sink     Sink
	metrics  *metrics.OutboxMetrics
	opts     relayOptions
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.DeadLetter == nil:
		return nil, errors.New("dead letter store is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Sink == nil:
		return nil, errors.New("sink is required")
	}
	return &Relay{
		logg:     p.Logger,
		db:       p.DB,
		store:    p.Store,
		dlq:      p.DeadLetter,
		registry: p.Registry,
		sink:     p.Sink,
		metrics:  p.Metrics,
		opts:     optionsFrom(p.Config),
	}, nil
}

// Run drains batches until ctx is cancelled. Empty polls sleep one interval; failed batches back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.sink.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	backoff := r.newBackoff()
	for {
		handled, err := r.drain(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait, _ = backoff.Next()
		case handled > 0:
			backoff = r.newBackoff()
			continue
		default:
			backoff = r.newBackoff()
			wait = r.opts.pollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Relay) newBackoff() retry.Backoff {
	b := retry.NewExponential(r.opts.pollInterval)
	b = retry.WithCappedDuration(r.opts.maxBackoff, b)
	return retry.WithJitter(250*time.Millisecond, b)
}

// drain claims one batch and settles every row in it. It returns how many rows were claimed.
func (r *Relay) drain(ctx context.Context) (int, error) {
	var handled int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.store.FetchUnpublishedForPublish(tx, r.opts.batchSize, r.opts.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		handled = len(events)
		for _, event := range events {
			if err := r.settle(ctx, tx, event, r.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return handled, err
}

type delivery struct {
	topic   string
	eventID string
	err     error
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return delivery{err: err}
	}
	out := delivery{topic: resolved.Descriptor.Topic, eventID: resolved.Envelope.EventID}
	out.err = r.sink.Send(ctx, out.topic, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"topic":          out.topic,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	return out
}

// settle records the delivery outcome on the row: published, failed for retry, or dead-lettered.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount + 1,
		"topic":         d.topic,
		"event_id":      d.eventID,
	})

	if d.err == nil {
		if err := r.store.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.metrics.IncPublished(string(event.EventType))
		r.logg.Info(logCtx, "outbox event published")
		return nil
	}

	switch {
	case errors.Is(d.err, errNoTopic):
		return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonUndeliverable, d.err)
	case registry.IsPermanent(d.err):
		return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, d.err)
	case event.AttemptCount+1 >= r.opts.maxAttempts:
		return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", d.err))
	}

	r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed, will retry")
	r.metrics.IncFailure(string(event.EventType), "retry")
	if err := r.store.MarkFailedTx(tx, event.ID, d.err); err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()}), "outbox event dead-lettered")
	r.metrics.IncFailure(string(event.EventType), string(reason))

	if err := r.dlq.InsertTx(tx, event.DeadLetter(reason, cause, time.Now())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.store.MarkTerminalTx(tx, event.ID, cause, r.opts.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubSink publishes through the shared client's cached per-topic publishers.
type pubsubSink struct {
	client  topicSource
	timeout time.Duration
}

func newPubSubSink(client topicSource) *pubsubSink {
	return &pubsubSink{client: client, timeout: 15 * time.Second}
}

func (s *pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *pubsubSink) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.client.Publisher(topic)
	if pub == nil {
		return fmt.Errorf("%w %q", errNoTopic, topic)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}
