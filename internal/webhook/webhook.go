package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventPrintStarted  = "print_started"
	EventPrintFinished = "print_finished"
	EventPrintFailed   = "print_failed"
	EventPrintPaused   = "print_paused"
)

// PrintEvent is the JSON body posted for each print lifecycle event.
type PrintEvent struct {
	EventID         string    `json:"event_id"`
	Event           string    `json:"event"`
	PrinterIndex    int       `json:"printer_index"`
	PrinterName     string    `json:"printer_name"`
	OccurredAt      time.Time `json:"occurred_at"`
	ClaimedUsername string    `json:"claimed_username,omitempty"`
	ErrorCode       *int      `json:"error_code,omitempty"`
}

func NewPrintEvent(event string, printerIndex int, printerName string, at time.Time) PrintEvent {
	return PrintEvent{
		EventID:      uuid.NewString(),
		Event:        event,
		PrinterIndex: printerIndex,
		PrinterName:  printerName,
		OccurredAt:   at.UTC(),
	}
}

type Sender interface {
	SendPrintEvent(ctx context.Context, payload PrintEvent) error
}
