package kafka

import (
	"context"
	"sort"

	"github.com/IBM/sarama"

	"shelfmarket-backend/internal/config"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
)

// Producer publishes notification events with a synchronous, idempotent
// sarama producer.
type Producer struct {
	sync sarama.SyncProducer
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Version = sarama.V2_8_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1

	sync, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errs.Wrap(err, "create kafka producer")
	}
	logger.Info("Kafka producer connected", "brokers", cfg.Brokers)
	return NewProducerFromSync(sync), nil
}

// NewProducerFromSync wraps an existing producer.
func NewProducerFromSync(sync sarama.SyncProducer) *Producer {
	return &Producer{sync: sync}
}

func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hs := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		hs = append(hs, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: hs,
	}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return errs.Wrapf(err, "publish to %s", topic)
	}
	logger.Debug("Kafka message published", "topic", topic, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
