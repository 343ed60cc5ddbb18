package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcider/printbot/internal/messaging"
)

var testToken = "123456789:" + strings.Repeat("A", 35)

type apiCall struct {
	method string
	body   map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []apiCall
	failures map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body := map[string]any{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, body: body})
	failure := f.failures[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failure != "" {
		fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, failure)
		return
	}
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Print","username":"printbot"}}`)
	case "sendMessage", "sendPhoto", "editMessageText", "editMessageCaption", "editMessageMedia":
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeAPI) last(method string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}
	return apiCall{}, false
}

func (f *fakeAPI) fail(method, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[string]string)
	}
	f.failures[method] = description
}

func newTestGateway(t *testing.T) (*Gateway, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	g := NewGateway(testToken, telego.WithAPIServer(srv.URL), telego.WithDiscardLogger())
	require.NoError(t, g.Connect(context.Background()))
	return g, api
}

func TestConnectResolvesDeepLink(t *testing.T) {
	g, _ := newTestGateway(t)
	assert.Equal(t, "https://t.me/printbot?start=claim_0", g.DeepLink("claim_0"))
	assert.Equal(t, "", NewGateway(testToken).DeepLink("claim_0"))
}

func TestSendMessageToThreadWithKeyboard(t *testing.T) {
	g, api := newTestGateway(t)
	to := messaging.ChatTarget(-100, 7)
	kb := messaging.NewKeyboard(messaging.Row(
		messaging.CallbackButton("Claim Print", "claim_0"),
		messaging.URLButton("Start DM with bot", "https://t.me/printbot?start=claim_0"),
	))

	msg, err := g.SendMessage(context.Background(), to, "hello", messaging.Options{Keyboard: kb})
	require.NoError(t, err)
	assert.Equal(t, messaging.Message{Chat: to, ID: 42}, msg)

	call, ok := api.last("sendMessage")
	require.True(t, ok)
	assert.EqualValues(t, -100, call.body["chat_id"])
	assert.EqualValues(t, 7, call.body["message_thread_id"])
	assert.Equal(t, "hello", call.body["text"])
	markup := call.body["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	buttons := rows[0].([]any)
	assert.Equal(t, "claim_0", buttons[0].(map[string]any)["callback_data"])
	assert.Equal(t, "https://t.me/printbot?start=claim_0", buttons[1].(map[string]any)["url"])
}

func TestGeneralTopicAndDirectOmitThread(t *testing.T) {
	assert.Zero(t, threadForSend(messaging.ChatTarget(-100, 1)))
	assert.Zero(t, threadForSend(messaging.DirectTarget(5)))
	assert.Equal(t, 9, threadForSend(messaging.ChatTarget(-100, 9)))
}

func TestErrorsAreMapped(t *testing.T) {
	g, api := newTestGateway(t)
	ctx := context.Background()
	msg := messaging.Message{Chat: messaging.ChatTarget(-100, 0), ID: 42}

	api.fail("editMessageText", "Bad Request: message is not modified: specified new message content and reply markup are exactly the same")
	err := g.EditMessageText(ctx, msg, "same", messaging.Options{})
	assert.ErrorIs(t, err, messaging.ErrMessageNotModified)

	api.fail("deleteMessage", "Bad Request: message to delete not found")
	assert.ErrorIs(t, g.DeleteMessage(ctx, msg), messaging.ErrMessageNotFound)

	api.fail("sendMessage", "Forbidden: bot can't initiate conversation with a user")
	_, err = g.SendMessage(ctx, messaging.DirectTarget(5), "hi", messaging.Options{})
	assert.ErrorIs(t, err, messaging.ErrDirectUnavailable)

	api.fail("sendMessage", "Bad Request: chat not found")
	_, err = g.SendMessage(ctx, messaging.ChatTarget(-5, 0), "hi", messaging.Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, messaging.ErrDirectUnavailable, "group targets are misconfiguration, not DM failures")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{text: "/notify 2 50%", name: "notify", args: []string{"2", "50%"}, ok: true},
		{text: "/Info@PrintBot", name: "info", args: []string{}, ok: true},
		{text: "/camera@otherbot 1", ok: false},
		{text: "hello", ok: false},
		{text: "/", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text, "printbot")
		assert.Equal(t, tt.ok, ok, tt.text)
		if tt.ok {
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		}
	}
}

func TestUpdatesReachHandlers(t *testing.T) {
	g, api := newTestGateway(t)
	ctx := context.Background()

	var cmd messaging.CommandEvent
	g.RegisterCommandHandler(func(_ context.Context, ev messaging.CommandEvent) { cmd = ev })
	var cb messaging.CallbackEvent
	g.RegisterCallbackHandler(func(ctx context.Context, ev messaging.CallbackEvent) {
		cb = ev
		_ = ev.Answer(ctx, "Already claimed by alice", true)
	})

	g.handleUpdate(ctx, telego.Update{Message: &telego.Message{
		MessageID:       3,
		MessageThreadID: 7,
		IsTopicMessage:  true,
		Text:            "/info 1",
		From:            &telego.User{ID: 5, Username: "alice", FirstName: "Alice"},
		Chat:            telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup},
	}})
	assert.Equal(t, "info", cmd.Command)
	assert.Equal(t, []string{"1"}, cmd.Args)
	assert.Equal(t, messaging.ChatTarget(-100, 7), cmd.Chat)
	assert.Equal(t, "alice", cmd.From.Handle())

	_, err := cmd.Reply(ctx, "reply", messaging.Options{})
	require.NoError(t, err)
	call, _ := api.last("sendMessage")
	assert.EqualValues(t, 7, call.body["message_thread_id"])

	g.handleUpdate(ctx, telego.Update{CallbackQuery: &telego.CallbackQuery{
		ID:      "q1",
		From:    telego.User{ID: 6, Username: "bob"},
		Data:    "claim_0",
		Message: &telego.Message{MessageID: 9, Chat: telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup}},
	}})
	assert.Equal(t, "claim_0", cb.Data)
	assert.Equal(t, int64(9), cb.Message.ID)

	answer, ok := api.last("answerCallbackQuery")
	require.True(t, ok)
	assert.Equal(t, "q1", answer.body["callback_query_id"])
	assert.Equal(t, true, answer.body["show_alert"])
}

func TestUnhandledCallbackIsStillAnswered(t *testing.T) {
	g, api := newTestGateway(t)
	g.handleUpdate(context.Background(), telego.Update{CallbackQuery: &telego.CallbackQuery{
		ID:   "q2",
		From: telego.User{ID: 6},
		Data: "help",
	}})
	call, ok := api.last("answerCallbackQuery")
	require.True(t, ok)
	assert.Equal(t, "q2", call.body["callback_query_id"])
}
