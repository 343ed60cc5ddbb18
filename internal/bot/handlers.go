package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/repository"
	"github.com/pcider/printbot/internal/session"
)

const messageSomethingWrong = "Something went wrong, please try again."

// Handlers answers user commands and button presses.
type Handlers struct {
	fleet   Fleet
	store   *session.Store
	svc     *MessageService
	gw      messaging.Gateway
	ownerID int64
}

func NewHandlers(fleet Fleet, store *session.Store, svc *MessageService, gw messaging.Gateway, ownerID int64) *Handlers {
	return &Handlers{
		fleet:   fleet,
		store:   store,
		svc:     svc,
		gw:      gw,
		ownerID: ownerID,
	}
}

// Register attaches the handlers to the gateway.
func (h *Handlers) Register() {
	h.gw.RegisterCommandHandler(h.HandleCommand)
	h.gw.RegisterCallbackHandler(h.HandleCallback)
}

func (h *Handlers) isOwner(userID int64) bool {
	return h.ownerID != 0 && userID == h.ownerID
}

func (h *Handlers) HandleCommand(ctx context.Context, ev messaging.CommandEvent) {
	defer recoverHandler("command", ev.Command)
	slog.Debug("command received", "command", ev.Command, "user", ev.From.ID, "chat", ev.Chat.String())

	switch ev.Command {
	case "help":
		h.reply(ctx, ev, helpText)
	case "start":
		h.start(ctx, ev)
	case "info":
		h.info(ctx, ev)
	case "notify":
		h.notify(ctx, ev)
	case "camera":
		h.camera(ctx, ev)
	case "livestream":
		h.livestream(ctx, ev)
	case "unclaim":
		h.unclaimCommand(ctx, ev)
	default:
		slog.Debug("ignoring unknown command", "command", ev.Command)
	}
}

func (h *Handlers) reply(ctx context.Context, ev messaging.CommandEvent, text string) {
	if _, err := ev.Reply(ctx, text, messaging.Options{}); err != nil {
		slog.Warn("failed to reply to command", "command", ev.Command, "user", ev.From.ID, "error", err)
	}
}

// replyError sends user-facing errors verbatim and a generic text otherwise.
func (h *Handlers) replyError(ctx context.Context, ev messaging.CommandEvent, err error) {
	var userErr *UserError
	if errors.As(err, &userErr) {
		h.reply(ctx, ev, userErr.Text)
		return
	}
	switch {
	case errors.Is(err, session.ErrNoSession):
		h.reply(ctx, ev, messageSessionEnded)
	case errors.Is(err, session.ErrNotClaimer):
		h.reply(ctx, ev, messageNotClaimer)
	default:
		slog.Error("command failed", "command", ev.Command, "user", ev.From.ID, "error", err)
		h.reply(ctx, ev, messageSomethingWrong)
	}
}

// start handles deep-link entry into the DM. A claim_<idx> payload resumes
// a claim whose DM could not be delivered.
func (h *Handlers) start(ctx context.Context, ev messaging.CommandEvent) {
	if len(ev.Args) == 0 {
		h.reply(ctx, ev, messageWelcome)
		return
	}
	cb, err := ParseCallback(ev.Args[0], h.fleet.Count())
	if err != nil || cb.Kind != CallbackClaim {
		slog.Debug("ignoring start payload", "payload", ev.Args[0], "error", err)
		h.reply(ctx, ev, messageWelcome)
		return
	}

	idx := cb.PrinterIndex
	sess, ok := h.store.Print(idx)
	switch {
	case !ok:
		h.reply(ctx, ev, messageSessionEnded)
	case sess.IsClaimedBy(ev.From.ID):
		if err := h.sendClaimDM(ctx, idx, ev.From.ID); err != nil {
			slog.Warn("failed to send claim settings", "printer", idx+1, "user", ev.From.ID, "error", err)
			return
		}
		h.editAnnouncement(ctx, sess, claimedText(idx, sess.Username(), sess), nil)
	default:
		if text, _ := h.claim(ctx, idx, ev.From); text != "" {
			h.reply(ctx, ev, text)
		}
	}
}

func (h *Handlers) info(ctx context.Context, ev messaging.CommandEvent) {
	idx, err := ResolvePrinter(h.store.ClaimedBy(ev.From.ID), ev.Args, h.fleet.Count(), true)
	if err != nil {
		h.replyError(ctx, ev, err)
		return
	}
	st, ok := h.fleet.ReadyStatus(idx)
	if !ok {
		h.reply(ctx, ev, fmt.Sprintf(messageNotConnectedFormat, idx+1))
		return
	}
	sess, hasSession := h.store.Print(idx)
	h.reply(ctx, ev, infoText(idx, st, sess, hasSession))
}

// notify sets a custom layer or percentage target:
// /notify [printer] <layer> or /notify [printer] <percent>%.
func (h *Handlers) notify(ctx context.Context, ev messaging.CommandEvent) {
	switch len(ev.Args) {
	case 0:
		h.reply(ctx, ev, messageNotifyUsage)
		return
	case 1, 2:
	default:
		h.reply(ctx, ev, messageNotifyShortUsage)
		return
	}

	claimed := h.store.ClaimedBy(ev.From.ID)
	value := ev.Args[len(ev.Args)-1]
	printerArgs := ev.Args[:len(ev.Args)-1]
	if len(printerArgs) == 0 && len(claimed) > 1 {
		h.reply(ctx, ev, fmt.Sprintf(messageNotifyMultiple, printerList(claimed)))
		return
	}
	idx, err := ResolvePrinter(claimed, printerArgs, h.fleet.Count(), true)
	if err != nil {
		h.replyError(ctx, ev, err)
		return
	}

	if raw, isPercent := strings.CutSuffix(value, "%"); isPercent {
		percent, err := strconv.Atoi(raw)
		if err != nil {
			h.reply(ctx, ev, messagePercentInvalid)
			return
		}
		if percent < 1 || percent > 100 {
			h.reply(ctx, ev, messagePercentRange)
			return
		}
		st, ok := h.fleet.ReadyStatus(idx)
		if !ok || st.TotalLayers <= 0 {
			h.reply(ctx, ev, messageNoTotalLayers)
			return
		}
		target := PercentTargetLayer(percent, st.TotalLayers)
		if _, err := h.store.SetNotifyTarget(ctx, idx, ev.From.ID, target, repository.NotifyTypePercent, percent); err != nil {
			h.replyError(ctx, ev, err)
			return
		}
		h.reply(ctx, ev, fmt.Sprintf(messageNotifyPercentFormat, percent, target, st.TotalLayers, idx+1))
		return
	}

	layer, err := strconv.Atoi(value)
	if err != nil {
		h.reply(ctx, ev, messageLayerInvalid)
		return
	}
	if layer < 1 {
		h.reply(ctx, ev, messageLayerPositive)
		return
	}
	if _, err := h.store.SetNotifyTarget(ctx, idx, ev.From.ID, layer, repository.NotifyTypeLayer, layer); err != nil {
		h.replyError(ctx, ev, err)
		return
	}
	h.reply(ctx, ev, fmt.Sprintf(messageNotifyLayerFormat, layer, idx+1))
}

// PercentTargetLayer converts a percentage of total layers into the layer
// that triggers the notification. It is computed once when the target is
// set.
func PercentTargetLayer(percent, totalLayers int) int {
	return max(1, percent*totalLayers/100)
}

// cameraPrinter resolves the printer for camera commands. The owner may
// view any printer; everyone else only the printers they claimed.
func (h *Handlers) cameraPrinter(ctx context.Context, ev messaging.CommandEvent) (int, bool) {
	count := h.fleet.Count()
	if h.isOwner(ev.From.ID) {
		if len(ev.Args) == 0 {
			h.reply(ctx, ev, fmt.Sprintf(messageOwnerUsageFormat, ev.Command, count))
			return 0, false
		}
		idx, err := ResolvePrinter(nil, ev.Args, count, false)
		if err != nil {
			h.replyError(ctx, ev, err)
			return 0, false
		}
		return idx, true
	}

	claimed := h.store.ClaimedBy(ev.From.ID)
	if len(claimed) == 0 {
		h.reply(ctx, ev, messageNoCameraAccess)
		return 0, false
	}
	if len(ev.Args) == 0 && len(claimed) > 1 {
		h.reply(ctx, ev, fmt.Sprintf(messageMultipleUsageFormat, printerList(claimed), ev.Command))
		return 0, false
	}
	idx, err := ResolvePrinter(claimed, ev.Args, count, false)
	if err != nil {
		h.replyError(ctx, ev, err)
		return 0, false
	}
	if !containsIndex(claimed, idx) {
		h.reply(ctx, ev, fmt.Sprintf(messageOnlyAccessFormat, printerList(claimed)))
		return 0, false
	}
	return idx, true
}

func (h *Handlers) camera(ctx context.Context, ev messaging.CommandEvent) {
	idx, ok := h.cameraPrinter(ctx, ev)
	if !ok {
		return
	}
	frame := h.fleet.CameraFrame(idx)
	if len(frame) == 0 {
		h.reply(ctx, ev, fmt.Sprintf(messageNoFrameFormat, idx+1))
		return
	}

	caption := fmt.Sprintf(messageCameraCaption, idx+1)
	var err error
	if ev.ReplyPhoto != nil {
		_, err = ev.ReplyPhoto(ctx, frame, caption, messaging.Options{})
	} else {
		_, err = h.gw.SendPhoto(ctx, ev.Chat, frame, caption, messaging.Options{})
	}
	if err != nil {
		slog.Warn("failed to send camera frame", "printer", idx+1, "user", ev.From.ID, "error", err)
	}
}

func (h *Handlers) livestream(ctx context.Context, ev messaging.CommandEvent) {
	idx, ok := h.cameraPrinter(ctx, ev)
	if !ok {
		return
	}
	frame := h.fleet.CameraFrame(idx)
	if len(frame) == 0 {
		h.reply(ctx, ev, fmt.Sprintf(messageNoFrameFormat, idx+1))
		return
	}
	if err := h.svc.StartLivestream(ctx, idx, ev.Chat, frame); err != nil {
		slog.Warn("failed to start livestream", "printer", idx+1, "user", ev.From.ID, "error", err)
		h.reply(ctx, ev, messageSomethingWrong)
	}
}

func (h *Handlers) unclaimCommand(ctx context.Context, ev messaging.CommandEvent) {
	idx, err := ResolvePrinter(h.store.ClaimedBy(ev.From.ID), ev.Args, h.fleet.Count(), true)
	if err != nil {
		h.replyError(ctx, ev, err)
		return
	}
	sess, err := h.store.Unclaim(ctx, idx, ev.From.ID)
	if err != nil {
		h.replyError(ctx, ev, err)
		return
	}
	if err := h.restoreAnnouncement(ctx, sess); err != nil {
		h.reply(ctx, ev, fmt.Sprintf(messageUnclaimPartial, idx+1))
		return
	}
	h.reply(ctx, ev, fmt.Sprintf(messageUnclaimedFormat, idx+1))
}

// HandleCallback decodes a button press, acts on it and answers it exactly
// once.
func (h *Handlers) HandleCallback(ctx context.Context, ev messaging.CallbackEvent) {
	defer recoverHandler("callback", ev.Data)

	text, alert := "", false
	cb, err := ParseCallback(ev.Data, h.fleet.Count())
	if err != nil {
		slog.Warn("rejected callback", "data", ev.Data, "user", ev.From.ID, "error", err)
	} else {
		text, alert = h.callback(ctx, ev, cb)
	}

	if err := ev.Answer(ctx, text, alert); err != nil {
		slog.Debug("failed to answer callback", "data", ev.Data, "error", err)
	}
}

func (h *Handlers) callback(ctx context.Context, ev messaging.CallbackEvent, cb Callback) (string, bool) {
	idx := cb.PrinterIndex
	switch cb.Kind {
	case CallbackClaim:
		return h.claim(ctx, idx, ev.From)

	case CallbackDMPreference:
		sess, err := h.store.SetDMPreference(ctx, idx, ev.From.ID, cb.Preference)
		if err != nil {
			return callbackError(err)
		}
		h.showSettings(ctx, ev.Message, sess)
		return "", false

	case CallbackLayer2Toggle:
		sess, err := h.store.ToggleLayer2Notify(ctx, idx, ev.From.ID)
		if err != nil {
			return callbackError(err)
		}
		h.showSettings(ctx, ev.Message, sess)
		return "", false

	case CallbackUnclaim:
		sess, err := h.store.Unclaim(ctx, idx, ev.From.ID)
		if err != nil {
			return callbackError(err)
		}
		text := fmt.Sprintf(messageUnclaimedFormat, idx+1)
		if err := h.restoreAnnouncement(ctx, sess); err != nil {
			text = fmt.Sprintf(messageUnclaimPartial, idx+1)
		}
		if announcement, err := announcementOf(sess); err != nil || announcement != ev.Message {
			h.edit(ctx, ev.Message, text, nil)
		}
		return "", false

	case CallbackRestartPrinter:
		if !h.isOwner(ev.From.ID) {
			return messageOwnerOnly, true
		}
		text := h.restartPrinter(ctx, idx)
		h.edit(ctx, ev.Message, text, nil)
		return "", false

	case CallbackHelp:
		if _, err := h.gw.SendMessage(ctx, ev.Message.Chat, helpText, messaging.Options{}); err != nil {
			slog.Warn("failed to send help", "user", ev.From.ID, "error", err)
		}
		return "", false
	}
	return "", false
}

func callbackError(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return messageSessionEnded, true
	case errors.Is(err, session.ErrNotClaimer):
		return messageNotClaimer, true
	default:
		slog.Error("callback failed", "error", err)
		return messageSomethingWrong, true
	}
}

// claim assigns the print to user, opens the settings DM and updates the
// announcement. When the DM cannot be delivered the announcement asks the
// user to start one. It returns the callback answer.
func (h *Handlers) claim(ctx context.Context, idx int, user messaging.User) (string, bool) {
	sess, err := h.store.Claim(ctx, idx, user.ID, user.Handle())
	switch {
	case errors.Is(err, session.ErrAlreadyClaimed):
		return fmt.Sprintf(messageAlreadyClaimed, sess.Username()), true
	case err != nil:
		return callbackError(err)
	}
	slog.Info("print claimed", "printer", idx+1, "user", user.ID, "username", user.Handle())

	claimed := claimedText(idx, user.Handle(), sess)
	dmErr := h.sendClaimDM(ctx, idx, user.ID)
	if dmErr == nil {
		h.editAnnouncement(ctx, sess, claimed, nil)
		return "", false
	}

	slog.Info("claim DM not delivered", "printer", idx+1, "user", user.ID, "error", dmErr)
	if link := h.gw.DeepLink(ClaimDeepLinkPayload(idx)); link != "" {
		kb := messaging.NewKeyboard(messaging.Row(messaging.URLButton(buttonStartDM, link)))
		h.editAnnouncement(ctx, sess, fmt.Sprintf(messageStartDMPrompt, claimed, user.Handle()), kb)
	} else {
		h.editAnnouncement(ctx, sess, fmt.Sprintf(messageEnableDMPrompt, claimed, user.Handle()), nil)
	}
	return "", false
}

func (h *Handlers) sendClaimDM(ctx context.Context, idx int, userID int64) error {
	progress := ""
	if st, ok := h.fleet.ReadyStatus(idx); ok && st.GcodeState.Active() {
		progress = progressBlock(st)
	}
	text := fmt.Sprintf(messageClaimDMFormat, idx+1, progress)
	_, err := h.gw.SendMessage(ctx, messaging.DirectTarget(userID), text, messaging.Options{Keyboard: preferenceKeyboard(idx)})
	return err
}

func (h *Handlers) showSettings(ctx context.Context, msg messaging.Message, sess repository.PrintSession) {
	text, kb := settingsMessage(sess.PrinterIndex, sess.DMPreference, sess.Layer2Notify)
	h.edit(ctx, msg, text, kb)
}

func (h *Handlers) restartPrinter(ctx context.Context, idx int) string {
	dev, ok := h.fleet.Printer(idx)
	if !ok {
		return fmt.Sprintf(messageNotConnectedFormat, idx+1)
	}
	if err := dev.Disconnect(); err != nil {
		slog.Warn("failed to disconnect printer", "printer", idx+1, "error", err)
	}
	h.svc.Log(ctx, fmt.Sprintf(messageConnecting, idx+1, h.fleet.Name(idx)), nil)
	if err := dev.Connect(ctx); err != nil {
		return fmt.Sprintf(messageRestartFailed, idx+1, err)
	}
	return fmt.Sprintf(messageRestartStarted, idx+1)
}

// restoreAnnouncement puts the unclaimed text and Claim button back.
func (h *Handlers) restoreAnnouncement(ctx context.Context, sess repository.PrintSession) error {
	msg, err := announcementOf(sess)
	if err != nil {
		return err
	}
	return h.edit(ctx, msg, restoredText(sess.PrinterIndex, sess), claimKeyboard(sess.PrinterIndex))
}

func (h *Handlers) editAnnouncement(ctx context.Context, sess repository.PrintSession, text string, kb *messaging.Keyboard) {
	msg, err := announcementOf(sess)
	if err != nil {
		slog.Warn("stored announcement target is invalid", "printer", sess.PrinterIndex+1, "chat_id", sess.ChatID, "error", err)
		return
	}
	_ = h.edit(ctx, msg, text, kb)
}

func (h *Handlers) edit(ctx context.Context, msg messaging.Message, text string, kb *messaging.Keyboard) error {
	err := h.gw.EditMessageText(ctx, msg, text, messaging.Options{Keyboard: kb})
	if err == nil || errors.Is(err, messaging.ErrMessageNotModified) {
		return nil
	}
	slog.Warn("failed to edit message", "chat", msg.Chat.String(), "message_id", msg.ID, "error", err)
	return err
}

func recoverHandler(kind, name string) {
	if r := recover(); r != nil {
		slog.Error("handler panicked", "kind", kind, "name", name, "panic", r, "stack", string(debug.Stack()))
	}
}
