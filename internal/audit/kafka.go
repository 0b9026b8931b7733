package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
)

// Kafka publishes audit records as JSON, keyed by user id so that each user's
// records stay ordered within a partition.
type Kafka struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *breaker
}

// NewKafka creates a producer for conf. Brokers are contacted lazily.
func NewKafka(conf config.KafkaConf, logger *slog.Logger, extra ...kgo.Opt) (*Kafka, error) {
	if len(conf.Brokers) == 0 {
		return nil, errors.New("audit: no kafka brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
		kgo.ClientID(conf.ClientID),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}
	client, err := kgo.NewClient(append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka client: %w", err)
	}
	return &Kafka{
		client:  client,
		topic:   conf.Topic,
		logger:  logger.With("component", "audit_mirror", "topic", conf.Topic),
		breaker: newBreaker(5, 30*time.Second),
	}, nil
}

// Publish enqueues rec and returns immediately; delivery errors are logged.
func (k *Kafka) Publish(ctx context.Context, rec karma.AuditRecord) {
	if !k.breaker.Allow() {
		metrics.AuditMirrorErrors.Inc()
		return
	}
	value, err := json.Marshal(rec)
	if err != nil {
		metrics.AuditMirrorErrors.Inc()
		k.logger.Error("encode audit record", "audit_id", rec.ID, "error", err)
		return
	}
	r := &kgo.Record{
		Key:   []byte(rec.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(rec.EventID)},
		},
	}
	k.client.Produce(ctx, r, func(r *kgo.Record, err error) {
		if err != nil {
			k.breaker.Failure()
			metrics.AuditMirrorErrors.Inc()
			k.logger.Warn("audit mirror publish failed", "audit_id", rec.ID, "error", err)
			return
		}
		k.breaker.Success()
	})
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	if err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	return nil
}
