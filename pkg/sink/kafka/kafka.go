// Package kafka publishes records to Kafka, one topic per resource. Each
// record is a JSON message keyed by its merge key, so log compaction keeps
// the latest version of every row. A replace load starts with a reset
// message for the customer.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "kafka"

// Header names set on every message
const (
	HeaderResource    = "adsync-resource"
	HeaderCustomer    = "adsync-customer-id"
	HeaderDisposition = "adsync-disposition"
	HeaderOp          = "adsync-op"
)

// Message ops
const (
	OpUpsert = "upsert"
	OpReset  = "reset"
)

// Message is the JSON value of a record message
type Message struct {
	Resource    string         `json:"resource"`
	CustomerID  string         `json:"customer_id"`
	Disposition string         `json:"disposition"`
	Key         []string       `json:"key,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// Sink publishes through a synchronous producer
type Sink struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *zap.Logger
}

var _ sink.Sink = (*Sink)(nil)

// ProducerConfig builds the sarama configuration
func ProducerConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "adsync"
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Version = sarama.V2_1_0_0

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	switch strings.ToLower(cfg.Compression) {
	case "", "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown kafka compression %q", cfg.Compression)
	}

	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka producer configuration")
	}
	return sc, nil
}

// New connects a producer to cfg.Kafka.Brokers
func New(_ context.Context, cfg config.DestinationConfig) (*Sink, error) {
	sc, err := ProducerConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}
	logger.Get().Info("connected to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	return NewWithProducer(producer, cfg.Kafka.TopicPrefix), nil
}

// NewWithProducer wraps an existing producer
func NewWithProducer(producer sarama.SyncProducer, topicPrefix string) *Sink {
	return &Sink{
		producer: producer,
		prefix:   topicPrefix,
		logger:   logger.Get().With(zap.String("sink", Name)),
	}
}

func (s *Sink) Name() string { return Name }

// Topic returns the topic of a resource
func (s *Sink) Topic(resource string) string {
	return sink.TableName(s.prefix, resource)
}

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := s.Topic(batch.Resource)
	layout := sink.NewLayout(batch)

	msgs := make([]*sarama.ProducerMessage, 0, batch.Len()+1)
	if batch.Disposition == models.DispositionReplace && batch.First {
		reset, err := s.message(topic, batch, OpReset, batch.CustomerID, Message{})
		if err != nil {
			return err
		}
		msgs = append(msgs, reset)
	}

	for _, rec := range batch.Records {
		m, err := s.message(topic, batch, OpUpsert, rec.Key(), Message{
			Key:         rec.MergeKey,
			Data:        layout.Document(rec),
			ExtractedAt: rec.ExtractedAt,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := s.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			s.logger.Error("messages failed", zap.String("topic", topic), zap.Int("failed", len(perrs)), zap.Error(perrs[0].Err))
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish records").WithDetail("topic", topic)
	}
	return nil
}

func (s *Sink) message(topic string, batch *models.Batch, op, key string, m Message) (*sarama.ProducerMessage, error) {
	m.Resource = batch.Resource
	m.CustomerID = batch.CustomerID
	m.Disposition = string(batch.Disposition)
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = time.Now().UTC()
	}
	value, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode message")
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderResource), Value: []byte(batch.Resource)},
			{Key: []byte(HeaderCustomer), Value: []byte(batch.CustomerID)},
			{Key: []byte(HeaderDisposition), Value: []byte(batch.Disposition)},
			{Key: []byte(HeaderOp), Value: []byte(op)},
		},
	}, nil
}

func (s *Sink) Close(context.Context) error {
	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close kafka producer")
	}
	return nil
}
