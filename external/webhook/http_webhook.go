package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pcider/printbot/internal/metrics"
	"github.com/pcider/printbot/internal/webhook"
)

const (
	requestTimeout   = 10 * time.Second
	breakerOpenDelay = 30 * time.Second
	breakerTripAfter = 5
)

type HTTPSender struct {
	webhookURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPSender posts events to webhookURL. An empty URL disables delivery.
// After breakerTripAfter consecutive failures deliveries fail fast until the
// breaker lets a probe through.
func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "print_webhook",
			MaxRequests: 1,
			Timeout:     breakerOpenDelay,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			},
		}),
	}
}

func (s *HTTPSender) SendPrintEvent(ctx context.Context, payload webhook.PrintEvent) error {
	if s.webhookURL == "" {
		return nil
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, payload)
	})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("print webhook delivery failed: %w", err)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *HTTPSender) post(ctx context.Context, payload webhook.PrintEvent) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSender) State() gobreaker.State {
	return s.breaker.State()
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
