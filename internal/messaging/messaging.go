package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMessageNotFound is returned when the message to edit or delete no
	// longer exists on the platform.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageNotModified is returned by edits whose content did not change.
	ErrMessageNotModified = errors.New("message not modified")
	// ErrDirectUnavailable is returned when the bot may not open a direct
	// conversation with the user (they never started the bot or blocked it).
	ErrDirectUnavailable = errors.New("direct messages unavailable for user")
)

// Target addresses a chat, optionally a thread inside it, or a user's
// direct conversation with the bot.
type Target struct {
	ChatID   int64
	ThreadID int
	Direct   bool
}

func ChatTarget(chatID int64, threadID int) Target {
	return Target{ChatID: chatID, ThreadID: threadID}
}

// DirectTarget addresses the direct conversation with a user.
func DirectTarget(userID int64) Target {
	return Target{ChatID: userID, Direct: true}
}

func (t Target) IsZero() bool {
	return t.ChatID == 0
}

// String renders the target as "chat" or "chat/thread". Direct targets are
// rendered as the bare user id.
func (t Target) String() string {
	if t.ThreadID != 0 && !t.Direct {
		return fmt.Sprintf("%d/%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses the "chat" or "chat/thread" form.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("empty chat target")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("invalid chat id %q: %w", chatPart, err)
	}
	t := Target{ChatID: chatID}
	if hasThread {
		threadID, err := strconv.Atoi(threadPart)
		if err != nil || threadID < 0 {
			return Target{}, fmt.Errorf("invalid thread id %q", threadPart)
		}
		t.ThreadID = threadID
	}
	return t, nil
}

// Message identifies a sent message.
type Message struct {
	Chat Target
	ID   int64
}

func (m Message) IsZero() bool {
	return m.ID == 0
}

type ParseMode string

const (
	ParseModeNone       ParseMode = ""
	ParseModeMarkdownV2 ParseMode = "MarkdownV2"
)

// Button is either a callback button (Data set) or a link button (URL set).
type Button struct {
	Text string
	Data string
	URL  string
}

func CallbackButton(text, data string) Button {
	return Button{Text: text, Data: data}
}

func URLButton(text, url string) Button {
	return Button{Text: text, URL: url}
}

type Keyboard struct {
	Rows [][]Button
}

func NewKeyboard(rows ...[]Button) *Keyboard {
	return &Keyboard{Rows: rows}
}

func Row(buttons ...Button) []Button {
	return buttons
}

type Options struct {
	Keyboard  *Keyboard
	ParseMode ParseMode
}

type User struct {
	ID          int64
	Username    string
	DisplayName string
}

// Handle is how the bot refers to the user in chat.
func (u User) Handle() string {
	if u.Username != "" {
		return u.Username
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return strconv.FormatInt(u.ID, 10)
}

type CommandDefinition struct {
	Name        string
	Description string
}

// CommandEvent is an inbound user command. Args holds the whitespace
// separated words after the command name.
type CommandEvent struct {
	Command string
	Args    []string
	From    User
	Chat    Target
	Reply   func(ctx context.Context, text string, opts Options) (Message, error)
	// ReplyPhoto may be nil on platforms that cannot attach images to replies.
	ReplyPhoto func(ctx context.Context, photo []byte, caption string, opts Options) (Message, error)
}

// CallbackEvent is an inbound button press.
type CallbackEvent struct {
	Data    string
	From    User
	Message Message
	Answer  func(ctx context.Context, text string, alert bool) error
}

// Gateway is the chat platform the bot talks through.
type Gateway interface {
	Connect(ctx context.Context) error
	Close() error
	// Run delivers inbound updates to the registered handlers until ctx ends.
	Run(ctx context.Context) error
	SetCommands(ctx context.Context, defs []CommandDefinition) error

	SendMessage(ctx context.Context, to Target, text string, opts Options) (Message, error)
	SendPhoto(ctx context.Context, to Target, photo []byte, caption string, opts Options) (Message, error)
	EditMessageText(ctx context.Context, msg Message, text string, opts Options) error
	EditMessageCaption(ctx context.Context, msg Message, caption string, opts Options) error
	EditMessageMedia(ctx context.Context, msg Message, photo []byte, caption string, opts Options) error
	DeleteMessage(ctx context.Context, msg Message) error

	// DeepLink returns a URL that opens a direct conversation with the bot
	// carrying payload, or "" when the platform has no such links.
	DeepLink(payload string) string

	RegisterCommandHandler(handler func(context.Context, CommandEvent))
	RegisterCallbackHandler(handler func(context.Context, CallbackEvent))
}
