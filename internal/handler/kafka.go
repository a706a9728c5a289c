package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"hostagent/internal/config"
	"hostagent/internal/logger"
	"hostagent/internal/network"
)

func init() {
	Register("kafka", func(cfg *config.Config, deps Deps) (Handler, error) {
		return NewKafkaHandler(cfg.Kafka, cfg.SOCKSProxy, deps.Source)
	})
}

var errHandlerClosed = errors.New("handler is closed")

var compressionCodecs = map[string]sarama.CompressionCodec{
	"":       sarama.CompressionSnappy,
	"snappy": sarama.CompressionSnappy,
	"none":   sarama.CompressionNone,
	"gzip":   sarama.CompressionGZIP,
	"lz4":    sarama.CompressionLZ4,
	"zstd":   sarama.CompressionZSTD,
}

var requiredAcks = map[int]sarama.RequiredAcks{
	0:  sarama.NoResponse,
	1:  sarama.WaitForLocal,
	-1: sarama.WaitForAll,
}

// KafkaHandler publishes every due check record as one message, keyed by
// host so that the results of a host stay in one partition.
type KafkaHandler struct {
	producer sarama.AsyncProducer
	topic    string
	source   Source

	mu     sync.RWMutex
	closed bool
}

// NewKafkaHandler connects an async producer to cfg.Brokers.
func NewKafkaHandler(cfg config.KafkaConfig, socksCfg config.SOCKSConfig, source Source) (*KafkaHandler, error) {
	sc, err := newSaramaConfig(cfg, socksCfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaHandler(producer, cfg.Topic, source), nil
}

func newKafkaHandler(producer sarama.AsyncProducer, topic string, source Source) *KafkaHandler {
	h := &KafkaHandler{producer: producer, topic: topic, source: source}
	go h.logDeliveryErrors()
	return h
}

func newSaramaConfig(cfg config.KafkaConfig, socksCfg config.SOCKSConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "hostagent"

	codec, ok := compressionCodecs[strings.ToLower(cfg.Compression)]
	if !ok {
		return nil, fmt.Errorf("unknown Kafka compression %q", cfg.Compression)
	}
	acks, ok := requiredAcks[cfg.RequiredAcks]
	if !ok {
		return nil, fmt.Errorf("invalid Kafka RequiredAcks %d (want 0, 1 or -1)", cfg.RequiredAcks)
	}

	p := &sc.Producer
	p.Compression = codec
	p.RequiredAcks = acks
	p.Return.Successes = false
	p.Return.Errors = true
	p.Retry.Max = cfg.MaxRetries
	p.Retry.Backoff = cfg.RetryBackoff
	p.Flush.Frequency = cfg.FlushFrequency
	p.Flush.Messages = cfg.FlushMessages

	if cfg.Timeout > 0 {
		sc.Net.DialTimeout = cfg.Timeout
		sc.Net.ReadTimeout = cfg.Timeout
		sc.Net.WriteTimeout = cfg.Timeout
	}

	if cfg.EnableTLS {
		tlsConfig, err := clientTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("kafka TLS: %w", err)
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsConfig
	}

	if cfg.SASLEnabled {
		if err := configureSASL(sc, cfg.SASLMechanism, cfg.SASLUser, cfg.SASLPassword); err != nil {
			return nil, err
		}
	}

	dialer, err := network.SOCKSDialer(socksCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	if dialer != nil {
		sc.Net.Proxy.Enable = true
		sc.Net.Proxy.Dialer = dialer
	}

	return sc, nil
}

// Name returns "kafka".
func (h *KafkaHandler) Name() string { return "kafka" }

// Run queues one message per record due at ts. Delivery is asynchronous.
func (h *KafkaHandler) Run(ctx context.Context, ts time.Time) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errHandlerClosed
	}

	for _, rec := range results(h.source, ts) {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal check record: %w", err)
		}
		msg := &sarama.ProducerMessage{
			Topic:     h.topic,
			Key:       sarama.StringEncoder(rec.Host),
			Value:     sarama.ByteEncoder(value),
			Timestamp: rec.Timestamp,
		}
		select {
		case h.producer.Input() <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close flushes and closes the producer.
func (h *KafkaHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.producer.Close()
}

func (h *KafkaHandler) logDeliveryErrors() {
	log := logger.WithComponent("kafka-handler")
	for perr := range h.producer.Errors() {
		log.Error().Err(perr.Err).
			Str("topic", perr.Msg.Topic).
			Interface("host", perr.Msg.Key).
			Msg("Check record was not delivered")
	}
}
