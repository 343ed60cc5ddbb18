package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pcider/printbot/internal/webhook"
)

func samplePayload() webhook.PrintEvent {
	ev := webhook.NewPrintEvent(webhook.EventPrintFinished, 1, "Right P1S", time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	ev.ClaimedUsername = "maker"
	return ev
}

func TestSendPrintEvent_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendPrintEvent(context.Background(), samplePayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendPrintEvent_Success(t *testing.T) {
	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	payload := samplePayload()
	sender := NewHTTPSender(server.URL)
	if err := sender.SendPrintEvent(context.Background(), payload); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if got["event_id"] != payload.EventID || payload.EventID == "" {
		t.Fatalf("unexpected event_id: %v", got["event_id"])
	}
	if got["event"] != "print_finished" {
		t.Fatalf("unexpected event: %v", got["event"])
	}
	if got["printer_index"] != float64(1) {
		t.Fatalf("unexpected printer_index: %v", got["printer_index"])
	}
	if got["printer_name"] != "Right P1S" {
		t.Fatalf("unexpected printer_name: %v", got["printer_name"])
	}
	if got["occurred_at"] != "2026-03-01T09:30:00Z" {
		t.Fatalf("unexpected occurred_at: %v", got["occurred_at"])
	}
	if got["claimed_username"] != "maker" {
		t.Fatalf("unexpected claimed_username: %v", got["claimed_username"])
	}
	if _, ok := got["error_code"]; ok {
		t.Fatal("error_code must be omitted when unset")
	}
}

func TestSendPrintEvent_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendPrintEvent(context.Background(), samplePayload()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestSendPrintEvent_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	for i := 0; i < breakerTripAfter; i++ {
		_ = sender.SendPrintEvent(context.Background(), samplePayload())
	}
	if sender.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", sender.State())
	}

	err := sender.SendPrintEvent(context.Background(), samplePayload())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if calls.Load() != breakerTripAfter {
		t.Fatalf("expected %d requests to reach the server, got %d", breakerTripAfter, calls.Load())
	}
}
