// Package webhook delivers best-effort terminal-state notifications.
// Delivery is fire-and-forget: failures are logged and never retried, and
// never affect batch status.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for webhook delivery.
var (
	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_webhook_deliveries_total",
		Help: "Total webhook deliveries by outcome",
	}, []string{"outcome"})
)

// Payload is the fixed notification shape POSTed on terminal transitions.
type Payload struct {
	BatchID   string        `json:"batchId"`
	Status    batch.Status  `json:"status"`
	Summary   batch.Summary `json:"summary"`
	Timestamp time.Time     `json:"timestamp"`
}

// Sender posts notifications to per-batch notify URLs.
type Sender struct {
	client *http.Client
	logger zerolog.Logger
}

// NewSender creates a sender with a bounded delivery timeout.
func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify delivers the payload in a background goroutine. An empty URL is a
// no-op.
func (s *Sender) Notify(url string, p Payload) {
	if url == "" {
		return
	}
	go func() {
		if err := s.Deliver(context.Background(), url, p); err != nil {
			s.logger.Warn().
				Err(err).
				Str("batch_id", p.BatchID).
				Str("url", url).
				Msg("Webhook delivery failed")
		}
	}()
}

// Deliver performs one synchronous delivery attempt.
func (s *Sender) Deliver(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		webhookDeliveriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		webhookDeliveriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		webhookDeliveriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}

	webhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	s.logger.Debug().
		Str("batch_id", p.BatchID).
		Str("status", string(p.Status)).
		Msg("Webhook delivered")
	return nil
}
