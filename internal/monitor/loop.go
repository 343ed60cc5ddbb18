package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pcider/printbot/internal/metrics"
)

const DefaultPollInterval = 5 * time.Second

// Dispatcher reacts to one domain event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Reporter receives the periodic side effects of a pass that are not tied to
// a single event.
type Reporter interface {
	ReportReconnects(ctx context.Context, attempts []ReconnectAttempt)
	UpdateStatus(ctx context.Context, text string)
	RefreshLivestreams(ctx context.Context)
	FlushLog(ctx context.Context)
}

// Loop drives the poller on a fixed interval. Every pass runs sequentially on
// the Run goroutine: reconnect, status message, poll, dispatch, livestreams,
// log flush. A slow event handler (the finished-print frame wait is the
// longest) delays the whole pass and every printer behind it.
type Loop struct {
	poller     *Poller
	dispatcher Dispatcher
	reporter   Reporter
	clock      clockwork.Clock
	interval   time.Duration
}

func NewLoop(poller *Poller, dispatcher Dispatcher, reporter Reporter, clock clockwork.Clock, interval time.Duration) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Loop{
		poller:     poller,
		dispatcher: dispatcher,
		reporter:   reporter,
		clock:      clock,
		interval:   interval,
	}
}

// Run blocks until ctx is cancelled. A pass that is already running when ctx
// is cancelled completes before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("monitor loop started", "interval", l.interval, "printers", l.poller.Count())
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor loop stopped")
			return nil
		case <-ticker.Chan():
			l.RunPass(context.WithoutCancel(ctx))
		}
	}
}

// RunPass performs a single pass.
func (l *Loop) RunPass(ctx context.Context) {
	if attempts := l.poller.ReconnectIfNeeded(ctx); len(attempts) > 0 {
		l.reporter.ReportReconnects(ctx, attempts)
	}

	l.reporter.UpdateStatus(ctx, l.poller.StatusText())

	for _, ev := range l.poller.Poll(ctx) {
		l.dispatch(ctx, ev)
	}

	l.reporter.RefreshLivestreams(ctx)
	l.reporter.FlushLog(ctx)
}

func (l *Loop) dispatch(ctx context.Context, ev Event) {
	kind := ev.Kind().String()
	start := l.clock.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(kind).Observe(l.clock.Since(start).Seconds())
	}()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in event handler: %v", r)
			}
		}()
		return l.dispatcher.Dispatch(ctx, ev)
	}()
	if err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues(kind).Inc()
		slog.Error("failed to handle event", "event", kind, "printer", ev.Printer()+1, "error", err)
	}
}
