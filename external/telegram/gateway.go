package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/pcider/printbot/internal/messaging"
)

const (
	// Telegram allows about 30 messages per second per bot.
	sendRatePerSecond = 25
	sendBurst         = 5
	pollTimeoutSecs   = 30
	photoFileName     = "frame.jpg"
	// generalTopicID is the forum's General topic, which must be omitted
	// from requests.
	generalTopicID = 1
)

var (
	messageNotModifiedRe = regexp.MustCompile(`(?i)message is not modified`)
	messageNotFoundRe    = regexp.MustCompile(`(?i)message (to (edit|delete) )?(not found|can't be (edited|deleted))`)
	directUnavailableRe  = regexp.MustCompile(`(?i)bot was blocked by the user|bot can't initiate conversation|chat not found|user is deactivated`)
)

// Gateway is the Telegram messaging.Gateway built on the Bot API.
type Gateway struct {
	token   string
	options []telego.BotOption
	limiter *rate.Limiter

	mu         sync.RWMutex
	bot        *telego.Bot
	username   string
	onCommand  func(context.Context, messaging.CommandEvent)
	onCallback func(context.Context, messaging.CallbackEvent)
}

var _ messaging.Gateway = (*Gateway)(nil)

func NewGateway(token string, options ...telego.BotOption) *Gateway {
	return &Gateway{
		token:   token,
		options: options,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSecond), sendBurst),
	}
}

func (g *Gateway) Connect(ctx context.Context) error {
	bot, err := telego.NewBot(g.token, g.options...)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get telegram bot identity: %w", err)
	}

	g.mu.Lock()
	g.bot = bot
	g.username = me.Username
	g.mu.Unlock()
	slog.Info("telegram bot connected", "username", me.Username, "id", me.ID)
	return nil
}

func (g *Gateway) Close() error {
	return nil
}

func (g *Gateway) client() (*telego.Bot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.bot == nil {
		return nil, errors.New("telegram gateway is not connected")
	}
	return g.bot, nil
}

// Run long-polls for updates and hands them to the registered handlers one
// at a time until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        pollTimeoutSecs,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}
	for update := range updates {
		g.handleUpdate(ctx, update)
	}
	return nil
}

func (g *Gateway) SetCommands(ctx context.Context, defs []messaging.CommandDefinition) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	commands := make([]telego.BotCommand, len(defs))
	for i, d := range defs {
		commands[i] = telego.BotCommand{Command: d.Name, Description: d.Description}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands}); err != nil {
		return fmt.Errorf("failed to set telegram commands: %w", err)
	}
	return nil
}

func (g *Gateway) SendMessage(ctx context.Context, to messaging.Target, text string, opts messaging.Options) (messaging.Message, error) {
	bot, err := g.client()
	if err != nil {
		return messaging.Message{}, err
	}
	params := tu.Message(tu.ID(to.ChatID), text)
	params.MessageThreadID = threadForSend(to)
	params.ParseMode = string(opts.ParseMode)
	if kb := inlineKeyboard(opts.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return messaging.Message{}, err
	}
	msg, err := bot.SendMessage(ctx, params)
	if err != nil {
		return messaging.Message{}, mapError("sendMessage", err, to.Direct)
	}
	return messaging.Message{Chat: to, ID: int64(msg.MessageID)}, nil
}

func (g *Gateway) SendPhoto(ctx context.Context, to messaging.Target, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
	bot, err := g.client()
	if err != nil {
		return messaging.Message{}, err
	}
	params := &telego.SendPhotoParams{
		ChatID:          tu.ID(to.ChatID),
		MessageThreadID: threadForSend(to),
		Photo:           photoFile(photo),
		Caption:         caption,
		ParseMode:       string(opts.ParseMode),
	}
	if kb := inlineKeyboard(opts.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return messaging.Message{}, err
	}
	msg, err := bot.SendPhoto(ctx, params)
	if err != nil {
		return messaging.Message{}, mapError("sendPhoto", err, to.Direct)
	}
	return messaging.Message{Chat: to, ID: int64(msg.MessageID)}, nil
}

func (g *Gateway) EditMessageText(ctx context.Context, m messaging.Message, text string, opts messaging.Options) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	params := tu.EditMessageText(tu.ID(m.Chat.ChatID), int(m.ID), text)
	params.ParseMode = string(opts.ParseMode)
	params.ReplyMarkup = inlineKeyboard(opts.Keyboard)

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := bot.EditMessageText(ctx, params); err != nil {
		return mapError("editMessageText", err, m.Chat.Direct)
	}
	return nil
}

func (g *Gateway) EditMessageCaption(ctx context.Context, m messaging.Message, caption string, opts messaging.Options) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	params := &telego.EditMessageCaptionParams{
		ChatID:      tu.ID(m.Chat.ChatID),
		MessageID:   int(m.ID),
		Caption:     caption,
		ParseMode:   string(opts.ParseMode),
		ReplyMarkup: inlineKeyboard(opts.Keyboard),
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := bot.EditMessageCaption(ctx, params); err != nil {
		return mapError("editMessageCaption", err, m.Chat.Direct)
	}
	return nil
}

func (g *Gateway) EditMessageMedia(ctx context.Context, m messaging.Message, photo []byte, caption string, opts messaging.Options) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	media := tu.MediaPhoto(photoFile(photo))
	media.Caption = caption
	media.ParseMode = string(opts.ParseMode)
	params := &telego.EditMessageMediaParams{
		ChatID:      tu.ID(m.Chat.ChatID),
		MessageID:   int(m.ID),
		Media:       media,
		ReplyMarkup: inlineKeyboard(opts.Keyboard),
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := bot.EditMessageMedia(ctx, params); err != nil {
		return mapError("editMessageMedia", err, m.Chat.Direct)
	}
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, m messaging.Message) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err = bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(m.Chat.ChatID),
		MessageID: int(m.ID),
	})
	if err != nil {
		return mapError("deleteMessage", err, m.Chat.Direct)
	}
	return nil
}

// DeepLink returns a t.me link that opens the bot's DM with /start payload.
func (g *Gateway) DeepLink(payload string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", g.username, payload)
}

func (g *Gateway) RegisterCommandHandler(handler func(context.Context, messaging.CommandEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCommand = handler
}

func (g *Gateway) RegisterCallbackHandler(handler func(context.Context, messaging.CallbackEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCallback = handler
}

func (g *Gateway) answerCallback(ctx context.Context, queryID, text string, alert bool) error {
	bot, err := g.client()
	if err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
}

func threadForSend(to messaging.Target) int {
	if to.Direct || to.ThreadID <= generalTopicID {
		return 0
	}
	return to.ThreadID
}

func photoFile(photo []byte) telego.InputFile {
	return tu.File(tu.NameReader(bytes.NewReader(photo), photoFileName))
}

func inlineKeyboard(kb *messaging.Keyboard) *telego.InlineKeyboardMarkup {
	if kb == nil {
		return nil
	}
	rows := make([][]telego.InlineKeyboardButton, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		row := make([]telego.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, telego.InlineKeyboardButton{
				Text:         b.Text,
				URL:          b.URL,
				CallbackData: b.Data,
			})
		}
		rows = append(rows, row)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// mapError translates Bot API failures into messaging errors. The original
// description is kept in the message.
func mapError(method string, err error, direct bool) error {
	desc := err.Error()
	switch {
	case messageNotModifiedRe.MatchString(desc):
		return fmt.Errorf("telegram %s: %w: %v", method, messaging.ErrMessageNotModified, err)
	case messageNotFoundRe.MatchString(desc):
		return fmt.Errorf("telegram %s: %w: %v", method, messaging.ErrMessageNotFound, err)
	case direct && directUnavailableRe.MatchString(desc):
		return fmt.Errorf("telegram %s: %w: %v", method, messaging.ErrDirectUnavailable, err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

// parseCommand splits "/cmd@bot arg1 arg2". ok is false for non-commands
// and for commands addressed to another bot.
func parseCommand(text, botUsername string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name, mention, hasMention := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	if hasMention && !strings.EqualFold(mention, botUsername) {
		return "", nil, false
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
