package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProducerConfig tunes the Kafka writers. Zero durations take the defaults below.
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

const (
	defaultClientID     = "wearable-sync"
	defaultBatchTimeout = 50 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
)

// KafkaProducer publishes sync events. Writers are created per topic on first use and
// keyed by user id, so a user's events stay ordered within one partition.
type KafkaProducer struct {
	cfg       ProducerConfig
	transport *kafka.Transport
	logger    *zap.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(cfg ProducerConfig, logger *zap.Logger) *KafkaProducer {
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaProducer{
		cfg:       cfg,
		transport: &kafka.Transport{ClientID: cfg.ClientID},
		logger:    logger,
		writers:   make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes msgs to topic and waits for every in-sync replica.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	if len(p.cfg.Brokers) == 0 {
		return errors.New("kafka producer has no brokers")
	}
	if err := p.writer(topic).WriteMessages(ctx, msgs...); err != nil {
		var writeErrs kafka.WriteErrors
		if errors.As(err, &writeErrs) {
			p.logger.Warn("partial kafka write",
				zap.String("topic", topic),
				zap.Int("failed", writeErrs.Count()),
				zap.Int("total", len(msgs)),
			)
		}
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	// Topics are provisioned ahead of time.
	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           p.cfg.BatchTimeout,
		WriteTimeout:           p.cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
		Transport:              p.transport,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			p.logger.Warn("kafka writer", zap.String("topic", topic), zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}
	p.writers[topic] = w
	return w
}

// Close flushes and releases every writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
		delete(p.writers, topic)
	}
	return errs
}
