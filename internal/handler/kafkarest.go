package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hostagent/internal/config"
	"hostagent/internal/logger"
	"hostagent/internal/network"
)

func init() {
	Register("kafkarest", func(cfg *config.Config, deps Deps) (Handler, error) {
		return NewKafkaRestHandler(cfg.KafkaRest, cfg.SOCKSProxy, deps.Source)
	})
}

const (
	kafkaRestContentType = "application/vnd.kafka.json.v2+json"
	maxRetries           = 2
)

var retryDelay = 500 * time.Millisecond

type kafkaRestRecord struct {
	Key   string      `json:"key"`
	Value CheckRecord `json:"value"`
}

type kafkaRestBody struct {
	Records []kafkaRestRecord `json:"records"`
}

// KafkaRestHandler posts results to a topic through the Kafka REST proxy.
type KafkaRestHandler struct {
	client  *http.Client
	baseURL string
	topic   string
	source  Source
	mu      sync.RWMutex
	closed  bool
}

// NewKafkaRestHandler creates a new KafkaRest HTTP handler.
func NewKafkaRestHandler(cfg config.KafkaRestConfig, socksCfg config.SOCKSConfig, source Source) (*KafkaRestHandler, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("kafkarest handler requires KafkaRest.Address")
	}

	transport := &http.Transport{}
	dial, err := network.ContextDialer(socksCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for KafkaRest: %w", err)
	}
	if dial != nil {
		transport.DialContext = dial
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &KafkaRestHandler{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: ensureHTTPScheme(cfg.Address),
		topic:   cfg.Topic,
		source:  source,
	}, nil
}

// Name returns "kafkarest".
func (h *KafkaRestHandler) Name() string { return "kafkarest" }

// Run posts every record due at ts in one request.
func (h *KafkaRestHandler) Run(ctx context.Context, ts time.Time) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return fmt.Errorf("handler is closed")
	}
	h.mu.RUnlock()

	recs := results(h.source, ts)
	if len(recs) == 0 {
		return nil
	}

	payload := kafkaRestBody{Records: make([]kafkaRestRecord, 0, len(recs))}
	for _, rec := range recs {
		payload.Records = append(payload.Records, kafkaRestRecord{Key: rec.Host, Value: rec})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal check records: %w", err)
	}

	url := fmt.Sprintf("%s/topics/%s", h.baseURL, h.topic)
	log := logger.WithComponent("kafkarest-handler")

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		lastErr = h.doPost(ctx, url, body)
		if lastErr == nil {
			return nil
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Msg("KafkaRest post failed, retrying")
	}

	return fmt.Errorf("KafkaRest post failed after %d retries: %w", maxRetries, lastErr)
}

// Close releases resources.
func (h *KafkaRestHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.client.CloseIdleConnections()
	return nil
}

func (h *KafkaRestHandler) doPost(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", kafkaRestContentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("KafkaRest returned HTTP %d", resp.StatusCode)
	}

	return nil
}

func ensureHTTPScheme(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
