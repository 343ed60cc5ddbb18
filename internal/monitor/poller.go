package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pcider/printbot/internal/metrics"
	"github.com/pcider/printbot/internal/printer"
)

const DefaultPauseWindow = 60 * time.Second

// Snapshot is the state remembered for one printer between poll passes.
type Snapshot struct {
	GcodeState   printer.GcodeState
	PrintStatus  printer.PrintStatus
	CurrentLayer int
	LastPausedAt time.Time
}

// ReconnectAttempt records one connect call made on behalf of a printer.
type ReconnectAttempt struct {
	Index int
	Err   error
}

// Poller owns the device adapters of all configured printers and turns their
// telemetry into domain events. Poll must only be called from one goroutine;
// the accessors are safe to call from command handlers.
type Poller struct {
	devices     []printer.Device
	names       []string
	clock       clockwork.Clock
	pauseWindow time.Duration

	snapshots map[int]*Snapshot
}

func NewPoller(devices []printer.Device, names []string, clock clockwork.Clock, pauseWindow time.Duration) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pauseWindow <= 0 {
		pauseWindow = DefaultPauseWindow
	}
	return &Poller{
		devices:     devices,
		names:       names,
		clock:       clock,
		pauseWindow: pauseWindow,
		snapshots:   make(map[int]*Snapshot, len(devices)),
	}
}

func (p *Poller) Count() int {
	return len(p.devices)
}

// Name returns the configured printer name, or its 1-based number.
func (p *Poller) Name(index int) string {
	if index >= 0 && index < len(p.names) && p.names[index] != "" {
		return p.names[index]
	}
	return strconv.Itoa(index + 1)
}

func (p *Poller) Printer(index int) (printer.Device, bool) {
	if index < 0 || index >= len(p.devices) || p.devices[index] == nil {
		return nil, false
	}
	return p.devices[index], true
}

// CameraFrame returns the latest camera frame of a ready printer, or nil.
func (p *Poller) CameraFrame(index int) []byte {
	dev, ok := p.Printer(index)
	if !ok || !dev.Ready() {
		return nil
	}
	return dev.LastCameraFrame()
}

// ReadyStatus returns the live status of a printer that is connected and
// reporting telemetry.
func (p *Poller) ReadyStatus(index int) (printer.Status, bool) {
	dev, ok := p.Printer(index)
	if !ok || !dev.Ready() {
		return printer.Status{}, false
	}
	st, err := dev.Status()
	if err != nil {
		slog.Warn("failed to read printer status", "printer", index+1, "error", err)
		return printer.Status{}, false
	}
	return st, true
}

func (p *Poller) ConnectAll(ctx context.Context) []ReconnectAttempt {
	attempts := make([]ReconnectAttempt, 0, len(p.devices))
	for i, dev := range p.devices {
		if dev == nil {
			continue
		}
		slog.Info("connecting to printer", "printer", i+1, "name", p.Name(i))
		err := dev.Connect(ctx)
		if err != nil {
			slog.Error("failed to connect printer", "printer", i+1, "error", err)
		}
		metrics.PrinterConnected.WithLabelValues(printerLabel(i)).Set(boolGauge(err == nil))
		attempts = append(attempts, ReconnectAttempt{Index: i, Err: err})
	}
	return attempts
}

// ReconnectIfNeeded reconnects every printer whose connection dropped.
func (p *Poller) ReconnectIfNeeded(ctx context.Context) []ReconnectAttempt {
	var attempts []ReconnectAttempt
	for i, dev := range p.devices {
		if dev == nil {
			continue
		}
		if dev.IsConnected() {
			metrics.PrinterConnected.WithLabelValues(printerLabel(i)).Set(1)
			continue
		}
		slog.Warn("printer not connected, reconnecting", "printer", i+1)
		err := dev.Connect(ctx)
		result := "ok"
		if err != nil {
			result = "error"
			slog.Error("failed to reconnect printer", "printer", i+1, "error", err)
		}
		metrics.PrinterReconnectsTotal.WithLabelValues(printerLabel(i), result).Inc()
		metrics.PrinterConnected.WithLabelValues(printerLabel(i)).Set(boolGauge(err == nil))
		attempts = append(attempts, ReconnectAttempt{Index: i, Err: err})
	}
	return attempts
}

func (p *Poller) DisconnectAll() {
	for i, dev := range p.devices {
		if dev == nil {
			continue
		}
		if err := dev.Disconnect(); err != nil {
			slog.Error("failed to disconnect printer", "printer", i+1, "error", err)
		}
	}
}

// Poll diffs every ready printer against its remembered snapshot and returns
// the derived events in order. A printer that is not ready is skipped and
// keeps its snapshot; a printer whose read fails is logged and skipped
// without affecting the others.
func (p *Poller) Poll(_ context.Context) []Event {
	metrics.PollCyclesTotal.Inc()
	var events []Event
	for i, dev := range p.devices {
		if dev == nil || !dev.Ready() {
			continue
		}
		evs, err := p.checkPrinter(i, dev)
		if err != nil {
			metrics.PollErrorsTotal.WithLabelValues(printerLabel(i)).Inc()
			slog.Error("error checking printer state", "printer", i+1, "error", err)
			continue
		}
		for _, ev := range evs {
			metrics.EventsTotal.WithLabelValues(ev.Kind().String()).Inc()
		}
		events = append(events, evs...)
	}
	return events
}

// snapshot returns a copy of the remembered state of a printer. Like Poll it
// must only be called from the polling goroutine.
func (p *Poller) snapshot(index int) Snapshot {
	if s, ok := p.snapshots[index]; ok {
		return *s
	}
	return newSnapshot()
}

func newSnapshot() Snapshot {
	return Snapshot{GcodeState: printer.GcodeUnknown, PrintStatus: printer.StatusUnknown}
}

func (p *Poller) checkPrinter(i int, dev printer.Device) (events []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("panic while reading telemetry: %v", r)
		}
	}()

	st, err := dev.Status()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}

	snap, ok := p.snapshots[i]
	if !ok {
		s := newSnapshot()
		snap = &s
		p.snapshots[i] = snap
	}
	prevGcode, prevStatus := snap.GcodeState, snap.PrintStatus
	snap.GcodeState, snap.PrintStatus = st.GcodeState, st.PrintStatus

	if prevGcode != printer.GcodeUnknown && prevGcode != st.GcodeState {
		events = append(events, NewStateChanged(i, prevGcode, st.GcodeState))

		switch {
		case st.GcodeState == printer.GcodeFinish:
			events = append(events, NewPrintFinished(i))
		case st.GcodeState == printer.GcodeFailed:
			events = append(events, NewPrintFailed(i, st.ErrorCode))
		case prevGcode == printer.GcodeRunning && st.GcodeState == printer.GcodePause:
			now := p.clock.Now()
			if now.Sub(snap.LastPausedAt) > p.pauseWindow {
				events = append(events, NewPrintPaused(i, st.ErrorCode))
				snap.LastPausedAt = now
			}
		case isIdleLike(prevGcode) && st.GcodeState == printer.GcodeRunning:
			snap.CurrentLayer = 0
			events = append(events, NewPrintStarted(i, st.RemainingMinutes))
		}
	}

	if st.GcodeState == printer.GcodeRunning && st.CurrentLayer != snap.CurrentLayer {
		events = append(events, NewLayerChanged(i, snap.CurrentLayer, st.CurrentLayer))
		snap.CurrentLayer = st.CurrentLayer
	}

	if prevStatus != printer.StatusUnknown && prevStatus != st.PrintStatus {
		events = append(events, NewStatusChanged(i, prevStatus, st.PrintStatus))
	}
	return events, nil
}

func isIdleLike(s printer.GcodeState) bool {
	return s == printer.GcodeFinish || s == printer.GcodeIdle || s == printer.GcodePrepare
}

// StatusText renders the fleet overview posted to the status chat.
func (p *Poller) StatusText() string {
	var b strings.Builder
	b.WriteString("Printer Statuses:```c\n")
	for i := range p.devices {
		st, ok := p.ReadyStatus(i)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%d: %s (%s", i+1, st.GcodeState, st.PrintStatus)
		if st.GcodeState.Active() {
			fmt.Fprintf(&b, ", %d%% done, %s left, L:%d/%d",
				st.Percentage, printer.FormatMinutes(st.RemainingMinutes), st.CurrentLayer, st.TotalLayers)
		}
		b.WriteString(")\n")
	}
	b.WriteString("Note: \"FINISH/IDLE\" means not in use\n")
	fmt.Fprintf(&b, "Updated on: %s\n", p.clock.Now().Format("2006-01-02 15:04"))
	b.WriteString("```\n")
	return b.String()
}

func printerLabel(i int) string {
	return strconv.Itoa(i + 1)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
