package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/pcider/printbot/internal/messaging"
)

func (g *Gateway) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		g.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		g.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	g.mu.RLock()
	handler, username := g.onCommand, g.username
	g.mu.RUnlock()
	if handler == nil {
		return
	}

	name, args, ok := parseCommand(msg.Text, username)
	if !ok {
		return
	}
	chat := chatTarget(msg)
	handler(ctx, messaging.CommandEvent{
		Command: name,
		Args:    args,
		From:    toUser(msg.From),
		Chat:    chat,
		Reply: func(ctx context.Context, text string, opts messaging.Options) (messaging.Message, error) {
			return g.SendMessage(ctx, chat, text, opts)
		},
		ReplyPhoto: func(ctx context.Context, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
			return g.SendPhoto(ctx, chat, photo, caption, opts)
		},
	})
}

func (g *Gateway) handleCallbackQuery(ctx context.Context, q *telego.CallbackQuery) {
	g.mu.RLock()
	handler := g.onCallback
	g.mu.RUnlock()

	answered := false
	answer := func(ctx context.Context, text string, alert bool) error {
		answered = true
		return g.answerCallback(ctx, q.ID, text, alert)
	}

	if handler != nil {
		var origin messaging.Message
		if q.Message != nil {
			chat := q.Message.GetChat()
			origin = messaging.Message{
				Chat: messaging.Target{ChatID: chat.ID, Direct: chat.Type == telego.ChatTypePrivate},
				ID:   int64(q.Message.GetMessageID()),
			}
			if m, ok := q.Message.(*telego.Message); ok && m.IsTopicMessage {
				origin.Chat.ThreadID = m.MessageThreadID
			}
		}
		handler(ctx, messaging.CallbackEvent{
			Data:    q.Data,
			From:    toUser(&q.From),
			Message: origin,
			Answer:  answer,
		})
	}

	if !answered {
		if err := answer(ctx, "", false); err != nil {
			slog.Debug("failed to answer callback query", "error", err)
		}
	}
}

func chatTarget(msg *telego.Message) messaging.Target {
	t := messaging.Target{ChatID: msg.Chat.ID, Direct: msg.Chat.Type == telego.ChatTypePrivate}
	if msg.IsTopicMessage {
		t.ThreadID = msg.MessageThreadID
	}
	return t
}

func toUser(u *telego.User) messaging.User {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return messaging.User{ID: u.ID, Username: u.Username, DisplayName: name}
}
