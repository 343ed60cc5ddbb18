// Package messagingtest provides an in-memory messaging.Gateway for tests.
package messagingtest

import (
	"context"
	"strings"
	"sync"

	"github.com/pcider/printbot/internal/messaging"
)

// Sent is a message or photo posted through the fake.
type Sent struct {
	To      messaging.Target
	Text    string
	Photo   []byte
	Options messaging.Options
	Message messaging.Message
}

type EditKind string

const (
	EditText    EditKind = "text"
	EditCaption EditKind = "caption"
	EditMedia   EditKind = "media"
)

type Edit struct {
	Kind    EditKind
	Message messaging.Message
	Text    string
	Photo   []byte
	Options messaging.Options
}

// Answer is a recorded callback acknowledgement.
type Answer struct {
	Text  string
	Alert bool
}

// Gateway records every call. Failures are scripted with the Err fields.
type Gateway struct {
	mu     sync.Mutex
	nextID int64

	sent     []Sent
	edits    []Edit
	deleted  []messaging.Message
	commands []messaging.CommandDefinition

	// SendErr, when set, is consulted before every send.
	SendErr   func(to messaging.Target) error
	EditErr   error
	DeleteErr error
	// LinkBase makes DeepLink return LinkBase+payload. Empty disables links.
	LinkBase string

	onCommand  func(context.Context, messaging.CommandEvent)
	onCallback func(context.Context, messaging.CallbackEvent)
}

var _ messaging.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{nextID: 100}
}

func (g *Gateway) Connect(context.Context) error { return nil }
func (g *Gateway) Close() error                  { return nil }

func (g *Gateway) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (g *Gateway) SetCommands(_ context.Context, defs []messaging.CommandDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append([]messaging.CommandDefinition(nil), defs...)
	return nil
}

func (g *Gateway) SendMessage(_ context.Context, to messaging.Target, text string, opts messaging.Options) (messaging.Message, error) {
	return g.record(to, text, nil, opts)
}

func (g *Gateway) SendPhoto(_ context.Context, to messaging.Target, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
	return g.record(to, caption, photo, opts)
}

func (g *Gateway) record(to messaging.Target, text string, photo []byte, opts messaging.Options) (messaging.Message, error) {
	g.mu.Lock()
	hook := g.SendErr
	g.mu.Unlock()
	if hook != nil {
		if err := hook(to); err != nil {
			return messaging.Message{}, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	msg := messaging.Message{Chat: to, ID: g.nextID}
	g.sent = append(g.sent, Sent{To: to, Text: text, Photo: photo, Options: opts, Message: msg})
	return msg, nil
}

func (g *Gateway) EditMessageText(_ context.Context, msg messaging.Message, text string, opts messaging.Options) error {
	return g.edit(Edit{Kind: EditText, Message: msg, Text: text, Options: opts})
}

func (g *Gateway) EditMessageCaption(_ context.Context, msg messaging.Message, caption string, opts messaging.Options) error {
	return g.edit(Edit{Kind: EditCaption, Message: msg, Text: caption, Options: opts})
}

func (g *Gateway) EditMessageMedia(_ context.Context, msg messaging.Message, photo []byte, caption string, opts messaging.Options) error {
	return g.edit(Edit{Kind: EditMedia, Message: msg, Text: caption, Photo: photo, Options: opts})
}

func (g *Gateway) edit(e Edit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.EditErr != nil {
		return g.EditErr
	}
	g.edits = append(g.edits, e)
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, msg messaging.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DeleteErr != nil {
		return g.DeleteErr
	}
	g.deleted = append(g.deleted, msg)
	return nil
}

func (g *Gateway) DeepLink(payload string) string {
	if g.LinkBase == "" {
		return ""
	}
	return g.LinkBase + payload
}

func (g *Gateway) RegisterCommandHandler(handler func(context.Context, messaging.CommandEvent)) {
	g.onCommand = handler
}

func (g *Gateway) RegisterCallbackHandler(handler func(context.Context, messaging.CallbackEvent)) {
	g.onCallback = handler
}

// Command delivers "/name args..." from user in chat to the registered
// handler. Replies are recorded as sends to chat.
func (g *Gateway) Command(ctx context.Context, chat messaging.Target, from messaging.User, line string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 || g.onCommand == nil {
		return
	}
	g.onCommand(ctx, messaging.CommandEvent{
		Command: fields[0],
		Args:    fields[1:],
		From:    from,
		Chat:    chat,
		Reply: func(ctx context.Context, text string, opts messaging.Options) (messaging.Message, error) {
			return g.SendMessage(ctx, chat, text, opts)
		},
		ReplyPhoto: func(ctx context.Context, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
			return g.SendPhoto(ctx, chat, photo, caption, opts)
		},
	})
}

// Press delivers a button press on msg and returns how it was answered.
func (g *Gateway) Press(ctx context.Context, from messaging.User, msg messaging.Message, data string) []Answer {
	if g.onCallback == nil {
		return nil
	}
	var answers []Answer
	g.onCallback(ctx, messaging.CallbackEvent{
		Data:    data,
		From:    from,
		Message: msg,
		Answer: func(_ context.Context, text string, alert bool) error {
			answers = append(answers, Answer{Text: text, Alert: alert})
			return nil
		},
	})
	return answers
}

func (g *Gateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sent(nil), g.sent...)
}

// SentTo returns what was posted to target, oldest first.
func (g *Gateway) SentTo(to messaging.Target) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Sent
	for _, s := range g.sent {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) Edits() []Edit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edit(nil), g.edits...)
}

// EditsOf returns the edits applied to msg, oldest first.
func (g *Gateway) EditsOf(msg messaging.Message) []Edit {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Edit
	for _, e := range g.edits {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

func (g *Gateway) Deleted() []messaging.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]messaging.Message(nil), g.deleted...)
}

func (g *Gateway) Commands() []messaging.CommandDefinition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]messaging.CommandDefinition(nil), g.commands...)
}

// SetEditErr scripts the error returned by every edit.
func (g *Gateway) SetEditErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.EditErr = err
}
