package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/metrics"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/printer"
	"github.com/pcider/printbot/internal/session"
)

const (
	DefaultLogFlushInterval      = 5 * time.Second
	DefaultLivestreamMaxDuration = 10 * time.Minute

	maxTextLength    = 4096
	maxCaptionLength = 1024
)

// Fleet is the read side of the printer fleet used by the bot.
type Fleet interface {
	Count() int
	Name(index int) string
	Printer(index int) (printer.Device, bool)
	CameraFrame(index int) []byte
	ReadyStatus(index int) (printer.Status, bool)
}

// Targets are the chats the bot writes to. A zero Log target disables the
// log channel; a zero Status target disables the status message.
type Targets struct {
	Main   messaging.Target
	Status messaging.Target
	Log    messaging.Target
}

type livestream struct {
	msg        messaging.Message
	startedAt  time.Time
	lastUpdate time.Time
}

// MessageService owns the bot's outgoing chat surfaces: the buffered log
// channel, the fleet status message and camera livestreams.
type MessageService struct {
	gw            messaging.Gateway
	store         *session.Store
	fleet         Fleet
	targets       Targets
	clock         clockwork.Clock
	logWindow     time.Duration
	livestreamMax time.Duration

	mu          sync.Mutex
	logLines    []string
	logImage    []byte
	lastLogSent time.Time
	prevStatus  string
	livestreams map[int]*livestream
}

var _ monitor.Reporter = (*MessageService)(nil)

func NewMessageService(gw messaging.Gateway, store *session.Store, fleet Fleet, targets Targets, clock clockwork.Clock, logWindow, livestreamMax time.Duration) *MessageService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logWindow <= 0 {
		logWindow = DefaultLogFlushInterval
	}
	if livestreamMax <= 0 {
		livestreamMax = DefaultLivestreamMaxDuration
	}
	return &MessageService{
		gw:            gw,
		store:         store,
		fleet:         fleet,
		targets:       targets,
		clock:         clock,
		logWindow:     logWindow,
		livestreamMax: livestreamMax,
		livestreams:   make(map[int]*livestream),
	}
}

// Log records an operational message. Messages are batched into the log
// chat at most once per log window; image, when set, is attached to the
// next batch.
func (s *MessageService) Log(ctx context.Context, text string, image []byte) {
	slog.Info("bot log", "message", text)
	if s.targets.Log.IsZero() {
		return
	}

	s.mu.Lock()
	s.logLines = append(s.logLines, text)
	if len(image) > 0 {
		s.logImage = image
	}
	s.mu.Unlock()

	s.flushLog(ctx, false)
}

// FlushLog sends buffered log lines once the log window has elapsed.
func (s *MessageService) FlushLog(ctx context.Context) {
	s.flushLog(ctx, false)
}

// DrainLog sends whatever is buffered regardless of the window.
func (s *MessageService) DrainLog(ctx context.Context) {
	s.flushLog(ctx, true)
}

func (s *MessageService) flushLog(ctx context.Context, force bool) {
	s.mu.Lock()
	if len(s.logLines) == 0 || (!force && s.clock.Since(s.lastLogSent) < s.logWindow) {
		s.mu.Unlock()
		return
	}
	text := strings.Join(s.logLines, "\n")
	image := s.logImage
	s.logLines = nil
	s.logImage = nil
	s.lastLogSent = s.clock.Now()
	s.mu.Unlock()

	if _, err := s.send(ctx, s.targets.Log, text, image, messaging.Options{}); err != nil {
		slog.Warn("failed to send log message", "error", err)
	}
}

// Alert sends straight to the log chat, bypassing the batch.
func (s *MessageService) Alert(ctx context.Context, text string, kb *messaging.Keyboard) {
	slog.Warn("bot alert", "message", text)
	if s.targets.Log.IsZero() {
		return
	}
	if _, err := s.send(ctx, s.targets.Log, text, nil, messaging.Options{Keyboard: kb}); err != nil {
		slog.Warn("failed to send alert", "error", err)
	}
}

func (s *MessageService) ReportReconnects(ctx context.Context, attempts []monitor.ReconnectAttempt) {
	for _, a := range attempts {
		s.Log(ctx, fmt.Sprintf(messageReconnecting, a.Index+1), nil)
		if a.Err != nil {
			s.Alert(ctx, fmt.Sprintf(messageReconnectError, a.Index+1, a.Err), restartKeyboard(a.Index))
		}
	}
}

// ReportStartup logs the initial connect attempt of every printer, alerts
// on the failed ones and announces that the bot is running.
func (s *MessageService) ReportStartup(ctx context.Context, attempts []monitor.ReconnectAttempt) {
	for _, a := range attempts {
		s.Log(ctx, fmt.Sprintf(messageConnecting, a.Index+1, s.fleet.Name(a.Index)), nil)
		if a.Err != nil {
			s.Alert(ctx, fmt.Sprintf(messageReconnectError, a.Index+1, a.Err), restartKeyboard(a.Index))
		}
	}
	s.Log(ctx, messageBotStarted, nil)
	s.DrainLog(ctx)
}

// UpdateStatus keeps a single fleet status message current. Unchanged text
// is not re-sent. When the stored message is gone a new one is posted and
// its id persisted.
func (s *MessageService) UpdateStatus(ctx context.Context, text string) {
	if s.targets.Status.IsZero() {
		return
	}
	s.mu.Lock()
	unchanged := text == s.prevStatus
	s.mu.Unlock()
	if unchanged {
		return
	}

	opts := messaging.Options{ParseMode: messaging.ParseModeMarkdownV2}
	if id, ok := s.store.StatusMessageID(); ok {
		err := s.gw.EditMessageText(ctx, messaging.Message{Chat: s.targets.Status, ID: id}, text, opts)
		switch {
		case err == nil, errors.Is(err, messaging.ErrMessageNotModified):
			s.setPrevStatus(text)
			return
		case !errors.Is(err, messaging.ErrMessageNotFound):
			metrics.GatewayErrorsTotal.WithLabelValues("edit_status").Inc()
			slog.Warn("failed to edit status message", "message_id", id, "error", err)
			return
		}
		slog.Info("status message is gone, posting a new one", "message_id", id)
	}

	msg, err := s.gw.SendMessage(ctx, s.targets.Status, text, opts)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("send_status").Inc()
		slog.Warn("failed to send status message", "error", err)
		return
	}
	s.store.SetStatusMessageID(ctx, msg.ID)
	s.setPrevStatus(text)
}

func (s *MessageService) setPrevStatus(text string) {
	s.mu.Lock()
	s.prevStatus = text
	s.mu.Unlock()
}

// StartLivestream posts a photo that RefreshLivestreams keeps replacing
// with the latest camera frame. An existing stream for the printer is
// stopped first.
func (s *MessageService) StartLivestream(ctx context.Context, idx int, to messaging.Target, frame []byte) error {
	s.StopLivestream(ctx, idx)

	msg, err := s.gw.SendPhoto(ctx, to, frame, s.livestreamCaption(idx), messaging.Options{})
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("send_photo").Inc()
		return fmt.Errorf("failed to start livestream: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.livestreams[idx] = &livestream{msg: msg, startedAt: now, lastUpdate: now}
	s.mu.Unlock()
	slog.Info("livestream started", "printer", idx+1, "message_id", msg.ID)
	return nil
}

func (s *MessageService) StopLivestream(ctx context.Context, idx int) {
	s.mu.Lock()
	ls, ok := s.livestreams[idx]
	delete(s.livestreams, idx)
	s.mu.Unlock()
	if !ok {
		return
	}

	caption := fmt.Sprintf(messageLivestreamStopped, idx+1, s.clock.Now().Format("15:04:05"))
	if err := s.gw.EditMessageCaption(ctx, ls.msg, caption, messaging.Options{}); err != nil {
		slog.Debug("failed to mark livestream stopped", "printer", idx+1, "error", err)
	}
	slog.Info("livestream stopped", "printer", idx+1)
}

func (s *MessageService) HasLivestream(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.livestreams[idx]
	return ok
}

// RefreshLivestreams pushes the latest frame into every active stream and
// ends streams that outlived the maximum duration. A stream whose message
// can no longer be edited is dropped.
func (s *MessageService) RefreshLivestreams(ctx context.Context) {
	s.mu.Lock()
	indexes := make([]int, 0, len(s.livestreams))
	for idx := range s.livestreams {
		indexes = append(indexes, idx)
	}
	s.mu.Unlock()
	sort.Ints(indexes)

	for _, idx := range indexes {
		s.mu.Lock()
		ls, ok := s.livestreams[idx]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if s.clock.Since(ls.startedAt) >= s.livestreamMax {
			s.StopLivestream(ctx, idx)
			continue
		}

		frame := s.fleet.CameraFrame(idx)
		if len(frame) == 0 {
			continue
		}
		err := s.gw.EditMessageMedia(ctx, ls.msg, frame, s.livestreamCaption(idx), messaging.Options{})
		if err != nil && !errors.Is(err, messaging.ErrMessageNotModified) {
			slog.Info("livestream message unavailable, dropping", "printer", idx+1, "error", err)
			s.mu.Lock()
			delete(s.livestreams, idx)
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		ls.lastUpdate = s.clock.Now()
		s.mu.Unlock()
	}
}

func (s *MessageService) livestreamCaption(idx int) string {
	return fmt.Sprintf(messageLivestreamCaption, idx+1, s.clock.Now().Format("15:04:05"))
}

// send posts a photo with caption when image is set and a text message
// otherwise.
func (s *MessageService) send(ctx context.Context, to messaging.Target, text string, image []byte, opts messaging.Options) (messaging.Message, error) {
	if len(image) > 0 {
		msg, err := s.gw.SendPhoto(ctx, to, image, truncate(text, maxCaptionLength), opts)
		if err != nil {
			metrics.GatewayErrorsTotal.WithLabelValues("send_photo").Inc()
		}
		return msg, err
	}
	msg, err := s.gw.SendMessage(ctx, to, truncate(text, maxTextLength), opts)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("send_message").Inc()
	}
	return msg, err
}

// truncate keeps the tail of an over-long text, where the newest lines are.
func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return "…" + string(r[len(r)-limit+1:])
}
