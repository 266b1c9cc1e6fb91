package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/metrics"
)

// KafkaNotifier publishes trade events to a Kafka topic, keyed by symbol
// so one symbol's events stay ordered within a partition. Transient
// publish failures are retried with capped exponential backoff.
type KafkaNotifier struct {
	writer      *kafka.Writer
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	log         logger.Logger
}

func NewKafkaNotifier(cfg config.NotifyConfig, log logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		maxAttempts: cfg.MaxAttempts,
		backoffMin:  cfg.BackoffMin,
		backoffMax:  cfg.BackoffMax,
		log:         log,
	}
}

func (k *KafkaNotifier) Publish(ctx context.Context, ev TradeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Record.Symbol),
		Value: payload,
	}

	var lastErr error
	for attempt := 0; attempt < k.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffFor(attempt-1, k.backoffMin, k.backoffMax)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = k.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		k.log.Warn("notify_retry",
			logger.String("symbol", ev.Record.Symbol),
			logger.Int("attempt", attempt+1),
			logger.Err(lastErr),
		)
	}
	metrics.NotifyFailures.Inc()
	return fmt.Errorf("publish after %d attempts: %w", k.maxAttempts, lastErr)
}

func (k *KafkaNotifier) Close() error { return k.writer.Close() }

// New builds the configured notifier backend.
func New(cfg config.NotifyConfig, log logger.Logger) (Notifier, error) {
	switch cfg.Backend {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("notify: kafka backend needs at least one broker")
		}
		return NewKafkaNotifier(cfg, log), nil
	case "noop", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("notify: unknown backend %q", cfg.Backend)
	}
}
