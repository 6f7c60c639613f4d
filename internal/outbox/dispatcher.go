package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Dispatcher defaults.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultBatchSize      = 100
	DefaultSchemaCacheTTL = 30 * time.Minute
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(ctx context.Context, subject, schema string) (int, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pollInterval = d
		}
	}
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.batchSize = n
		}
	}
}

// WithSchemaCacheTTL overrides how long registry ids are trusted.
func WithSchemaCacheTTL(ttl time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if ttl > 0 {
			disp.schemaTTL = ttl
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// Dispatcher drains the outbox and publishes events framed with their schema id.
type Dispatcher struct {
	store        Store
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	schemaTTL    time.Duration
	schemaIDs    *ttlcache.Cache[string, int]
	logger       *zap.Logger
	now          func() time.Time
	done         chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, producer messageWriter, registry schemaRegistrar, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		producer:     producer,
		registry:     registry,
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		schemaTTL:    DefaultSchemaCacheTTL,
		logger:       zap.NewNop(),
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.schemaIDs = ttlcache.New(
		ttlcache.WithTTL[string, int](d.schemaTTL),
		ttlcache.WithDisableTouchOnHit[string, int](),
	)
	return d
}

// Start polls until ctx is cancelled. Run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.schemaIDs.Start()
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		d.schemaIDs.Stop()
		close(d.done)
	}()

	for {
		if err := d.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// ProcessBatch claims one batch and publishes it. A delivery failure dead-letters the
// whole batch; the rows are then marked published so they leave the outbox.
func (d *Dispatcher) ProcessBatch(ctx context.Context) error {
	start := d.now()

	msgs, err := d.store.Claim(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("claim outbox rows: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(d.now().Sub(start).Seconds()) }()

	if err := d.deliver(ctx, msgs); err != nil {
		d.logger.Warn("outbox delivery failed, dead-lettering batch", zap.Int("messages", len(msgs)), zap.Error(err))
		failedCounter.Add(float64(len(msgs)))
		for _, msg := range msgs {
			if dlqErr := d.store.DeadLetter(ctx, msg, fmt.Sprintf("%s (topic=%s)", err, msg.Topic)); dlqErr != nil {
				return fmt.Errorf("dead-letter event %d: %w", msg.EventID, dlqErr)
			}
			dlqCounter.WithLabelValues(msg.EventType).Inc()
		}
	} else {
		deliveredCounter.Add(float64(len(msgs)))
	}
	return d.store.MarkPublished(ctx, eventIDs(msgs))
}

func (d *Dispatcher) deliver(ctx context.Context, msgs []Message) error {
	byTopic := make(map[string][]kafka.Message)
	order := make([]string, 0, 1)
	for _, msg := range msgs {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			return err
		}
		if _, seen := byTopic[msg.Topic]; !seen {
			order = append(order, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
			},
			Time: d.now().UTC(),
		})
	}
	for _, topic := range order {
		if err := d.producer.WriteMessages(ctx, topic, byTopic[topic]...); err != nil {
			return fmt.Errorf("write %s: %w", topic, err)
		}
	}
	return nil
}

func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	entry, ok := catalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema for event_type=%s", msg.EventType)
	}
	if item := d.schemaIDs.Get(msg.SchemaSubject); item != nil {
		return item.Value(), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, entry.schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", msg.SchemaSubject, err)
	}
	d.schemaIDs.Set(msg.SchemaSubject, id, ttlcache.DefaultTTL)
	return id, nil
}

func eventIDs(msgs []Message) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.EventID)
	}
	return ids
}
