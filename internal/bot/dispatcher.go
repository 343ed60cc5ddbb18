package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/metrics"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/printer"
	"github.com/pcider/printbot/internal/repository"
	"github.com/pcider/printbot/internal/session"
	"github.com/pcider/printbot/internal/webhook"
)

const (
	DefaultStartGrace          = 2 * time.Second
	DefaultFinishFrameAttempts = 10
	DefaultFinishFrameInterval = time.Second
)

type DispatchSettings struct {
	// StartGrace lets the device settle its time estimate before a start
	// is announced.
	StartGrace          time.Duration
	FinishFrameAttempts int
	FinishFrameInterval time.Duration
}

// Dispatcher turns poller events into chat messages and session changes.
// Events are handled one at a time; the start grace and the finished-frame
// wait block the calling poll pass.
type Dispatcher struct {
	fleet    Fleet
	store    *session.Store
	svc      *MessageService
	gw       messaging.Gateway
	hook     webhook.Sender
	clock    clockwork.Clock
	main     messaging.Target
	settings DispatchSettings
}

var _ monitor.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher(fleet Fleet, store *session.Store, svc *MessageService, gw messaging.Gateway, hook webhook.Sender, clock clockwork.Clock, main messaging.Target, settings DispatchSettings) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if settings.FinishFrameAttempts <= 0 {
		settings.FinishFrameAttempts = DefaultFinishFrameAttempts
	}
	return &Dispatcher{
		fleet:    fleet,
		store:    store,
		svc:      svc,
		gw:       gw,
		hook:     hook,
		clock:    clock,
		main:     main,
		settings: settings,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev monitor.Event) error {
	idx := ev.Printer()
	switch e := ev.(type) {
	case monitor.StateChanged:
		d.svc.Log(ctx, fmt.Sprintf(messageGcodeChanged, idx+1, e.Prev, e.New), nil)
		return nil
	case monitor.StatusChanged:
		d.svc.Log(ctx, fmt.Sprintf(messagePrintChanged, idx+1, e.Prev, e.New), nil)
		return nil
	case monitor.PrintStarted:
		return d.printStarted(ctx, e)
	case monitor.PrintFinished:
		return d.printFinished(ctx, idx)
	case monitor.PrintFailed:
		d.svc.Log(ctx, fmt.Sprintf(messageFailedFormat, idx+1, e.ErrorCode), d.fleet.CameraFrame(idx))
		d.notifyWebhook(ctx, webhook.EventPrintFailed, idx, d.claimer(idx), &e.ErrorCode)
		return nil
	case monitor.PrintPaused:
		d.svc.Log(ctx, fmt.Sprintf(messagePausedFormat, idx+1, e.ErrorCode), d.fleet.CameraFrame(idx))
		d.notifyWebhook(ctx, webhook.EventPrintPaused, idx, d.claimer(idx), &e.ErrorCode)
		return nil
	case monitor.LayerChanged:
		return d.layerChanged(ctx, e)
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func (d *Dispatcher) printStarted(ctx context.Context, e monitor.PrintStarted) error {
	idx := e.Printer()
	if err := d.wait(ctx, d.settings.StartGrace); err != nil {
		return err
	}

	minutes, layers := e.PrintTime, 0
	if st, ok := d.fleet.ReadyStatus(idx); ok {
		if st.RemainingMinutes > 0 {
			minutes = st.RemainingMinutes
		}
		layers = st.TotalLayers
	}
	printTime := printer.FormatMinutes(minutes)

	if stale, ok := d.store.Print(idx); ok {
		d.deleteAnnouncement(ctx, stale)
	}

	text := fmt.Sprintf(messageStartedFormat, idx+1, printTime, layers)
	msg, err := d.gw.SendMessage(ctx, d.main, text, messaging.Options{Keyboard: claimKeyboard(idx)})
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("send_message").Inc()
		return fmt.Errorf("failed to announce print start: %w", err)
	}
	d.store.StartPrint(ctx, idx, msg.ID, d.main.String(), printTime)
	slog.Info("print started", "printer", idx+1, "message_id", msg.ID, "print_time", printTime)

	d.notifyWebhook(ctx, webhook.EventPrintStarted, idx, "", nil)
	return nil
}

func (d *Dispatcher) printFinished(ctx context.Context, idx int) error {
	d.svc.StopLivestream(ctx, idx)

	dev, hasDevice := d.fleet.Printer(idx)
	if hasDevice {
		d.setLight(ctx, idx, dev, true)
		dev.ClearCameraFrame()
	}
	frame := d.awaitFrame(ctx, idx)

	sess, hasSession := d.store.Print(idx)
	if hasSession {
		d.deleteAnnouncement(ctx, sess)
	}
	err := d.announceFinished(ctx, idx, sess, hasSession, frame)

	if hasDevice {
		d.setLight(ctx, idx, dev, false)
	}
	d.store.EndPrint(ctx, idx)
	slog.Info("print finished", "printer", idx+1, "had_session", hasSession)

	d.notifyWebhook(ctx, webhook.EventPrintFinished, idx, sess.Username(), nil)
	return err
}

// announceFinished posts the finished message, preferring the claimer's DM
// when they asked for it and falling back to the main chat.
func (d *Dispatcher) announceFinished(ctx context.Context, idx int, sess repository.PrintSession, hasSession bool, frame []byte) error {
	text := fmt.Sprintf(messageFinishedFormat, idx+1)
	claimed := hasSession && sess.Claimed()
	if claimed {
		text = fmt.Sprintf(messageFinishedClaimFormat, idx+1, sess.Username())
	}

	if claimed && sess.DMPreference == repository.DMPreferenceDM {
		_, err := d.svc.send(ctx, messaging.DirectTarget(*sess.ClaimedBy), text, frame, messaging.Options{})
		if err == nil {
			return nil
		}
		slog.Warn("failed to deliver finished print by DM, using main chat", "printer", idx+1, "user", *sess.ClaimedBy, "error", err)
	}

	if _, err := d.svc.send(ctx, d.main, text, frame, messaging.Options{}); err != nil {
		return fmt.Errorf("failed to announce print finish: %w", err)
	}
	return nil
}

// awaitFrame polls for a fresh camera frame, giving up after the configured
// number of attempts.
func (d *Dispatcher) awaitFrame(ctx context.Context, idx int) []byte {
	for attempt := 1; ; attempt++ {
		if frame := d.fleet.CameraFrame(idx); len(frame) > 0 {
			return frame
		}
		if attempt >= d.settings.FinishFrameAttempts {
			slog.Info("no camera frame for finished print", "printer", idx+1, "attempts", attempt)
			return nil
		}
		if err := d.wait(ctx, d.settings.FinishFrameInterval); err != nil {
			return nil
		}
	}
}

func (d *Dispatcher) layerChanged(ctx context.Context, e monitor.LayerChanged) error {
	idx := e.Printer()
	sess, ok := d.store.Print(idx)
	if !ok || !sess.Claimed() {
		return nil
	}
	claimer := *sess.ClaimedBy
	dm := messaging.DirectTarget(claimer)
	opts := messaging.Options{Keyboard: unclaimKeyboard(idx)}

	var errs []error
	if e.Layer == 2 && sess.Layer2Notify && !sess.Layer2Notified {
		text := fmt.Sprintf(messageLayer2Format, idx+1)
		if _, err := d.svc.send(ctx, dm, text, d.fleet.CameraFrame(idx), opts); err != nil {
			errs = append(errs, fmt.Errorf("layer 2 notification: %w", err))
		} else if err := d.store.MarkLayer2Notified(ctx, idx, claimer); err != nil {
			errs = append(errs, markError(idx, err))
		}
	}

	if sess.NotifyLayer != nil && !sess.NotifyLayerNotified && e.Layer >= *sess.NotifyLayer {
		if _, err := d.svc.send(ctx, dm, customNotifyText(idx, sess), d.fleet.CameraFrame(idx), opts); err != nil {
			errs = append(errs, fmt.Errorf("custom notification: %w", err))
		} else if err := d.store.MarkNotifyLayerNotified(ctx, idx, claimer); err != nil {
			errs = append(errs, markError(idx, err))
		}
	}
	return errors.Join(errs...)
}

// markError drops the error of a mark that lost a race with an unclaim or
// re-claim; the new claimer's flags stay armed.
func markError(idx int, err error) error {
	if errors.Is(err, session.ErrNotClaimer) || errors.Is(err, session.ErrNoSession) {
		slog.Info("claim changed during notification; not marking", "printer", idx+1, "error", err)
		return nil
	}
	return err
}

func (d *Dispatcher) deleteAnnouncement(ctx context.Context, sess repository.PrintSession) {
	if sess.MessageID == 0 {
		return
	}
	msg, err := announcementOf(sess)
	if err != nil {
		slog.Warn("stored announcement target is invalid", "printer", sess.PrinterIndex+1, "chat_id", sess.ChatID, "error", err)
		return
	}
	if err := d.gw.DeleteMessage(ctx, msg); err != nil && !errors.Is(err, messaging.ErrMessageNotFound) {
		metrics.GatewayErrorsTotal.WithLabelValues("delete_message").Inc()
		slog.Warn("failed to delete announcement", "printer", sess.PrinterIndex+1, "message_id", msg.ID, "error", err)
	}
}

func (d *Dispatcher) setLight(ctx context.Context, idx int, dev printer.Device, on bool) {
	if err := dev.SetLight(ctx, on); err != nil {
		slog.Warn("failed to switch chamber light", "printer", idx+1, "on", on, "error", err)
	}
}

func (d *Dispatcher) claimer(idx int) string {
	sess, ok := d.store.Print(idx)
	if !ok {
		return ""
	}
	return sess.Username()
}

func (d *Dispatcher) notifyWebhook(ctx context.Context, event string, idx int, claimedUsername string, errorCode *int) {
	if d.hook == nil {
		return
	}
	payload := webhook.NewPrintEvent(event, idx, d.fleet.Name(idx), d.clock.Now())
	payload.ClaimedUsername = claimedUsername
	payload.ErrorCode = errorCode
	if err := d.hook.SendPrintEvent(ctx, payload); err != nil {
		slog.Warn("failed to deliver print webhook", "event", event, "printer", idx+1, "error", err)
	}
}

func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	select {
	case <-d.clock.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// announcementOf addresses the message a session was announced with.
func announcementOf(sess repository.PrintSession) (messaging.Message, error) {
	target, err := messaging.ParseTarget(sess.ChatID)
	if err != nil {
		return messaging.Message{}, err
	}
	return messaging.Message{Chat: target, ID: sess.MessageID}, nil
}
