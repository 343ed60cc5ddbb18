package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/pcider/printbot/internal/messaging"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if rt != nil {
		s.Client = &http.Client{Transport: rt}
	}
	return s
}

func newTestGateway(t *testing.T, rt roundTripFunc) *Gateway {
	t.Helper()
	g := NewGateway("test-token", "guild-1")
	g.session = newTestSession(t, rt)
	return g
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestSendMessage_PostsContentAndButtons(t *testing.T) {
	var body map[string]any
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/channels/123/messages") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"777","channel_id":"123"}`), nil
	})

	kb := messaging.NewKeyboard(
		messaging.Row(messaging.CallbackButton("Claim", "claim_0")),
		messaging.Row(messaging.URLButton("Open", "https://example.com")),
	)
	msg, err := g.SendMessage(context.Background(), messaging.ChatTarget(123, 0), "Printer 1 has started printing.", messaging.Options{Keyboard: kb})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 777 || msg.Chat != messaging.ChatTarget(123, 0) {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if body["content"] != "Printer 1 has started printing." {
		t.Fatalf("unexpected content: %v", body["content"])
	}
	rows, ok := body["components"].([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("expected 2 component rows, got %v", body["components"])
	}
	first := rows[0].(map[string]any)["components"].([]any)[0].(map[string]any)
	if first["custom_id"] != "claim_0" || first["label"] != "Claim" {
		t.Fatalf("unexpected callback button: %v", first)
	}
	link := rows[1].(map[string]any)["components"].([]any)[0].(map[string]any)
	if link["url"] != "https://example.com" || link["style"] != float64(discordgo.LinkButton) {
		t.Fatalf("unexpected link button: %v", link)
	}
}

func TestSendMessage_ThreadOverridesChannel(t *testing.T) {
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/channels/456/messages") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"id":"1","channel_id":"456"}`), nil
	})

	if _, err := g.SendMessage(context.Background(), messaging.ChatTarget(123, 456), "hi", messaging.Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendMessage_DirectOpensDMChannelOnce(t *testing.T) {
	dmOpens := 0
	sends := 0
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/users/@me/channels"):
			dmOpens++
			return jsonResponse(http.StatusOK, `{"id":"555","type":1}`), nil
		case strings.HasSuffix(req.URL.Path, "/channels/555/messages"):
			sends++
			return jsonResponse(http.StatusOK, `{"id":"9","channel_id":"555"}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		return nil, nil
	})

	for range 2 {
		msg, err := g.SendMessage(context.Background(), messaging.DirectTarget(42), "hello", messaging.Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !msg.Chat.Direct || msg.Chat.ChatID != 42 {
			t.Fatalf("expected direct target of user 42, got %+v", msg.Chat)
		}
	}
	if dmOpens != 1 || sends != 2 {
		t.Fatalf("expected 1 DM open and 2 sends, got %d and %d", dmOpens, sends)
	}
}

func TestSendMessage_DirectMapsCannotMessageUser(t *testing.T) {
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/users/@me/channels") {
			return jsonResponse(http.StatusOK, `{"id":"555","type":1}`), nil
		}
		return jsonResponse(http.StatusForbidden, `{"code":50007,"message":"Cannot send messages to this user"}`), nil
	})

	_, err := g.SendMessage(context.Background(), messaging.DirectTarget(42), "hello", messaging.Options{})
	if !errors.Is(err, messaging.ErrDirectUnavailable) {
		t.Fatalf("expected ErrDirectUnavailable, got %v", err)
	}
}

func TestDeleteMessage_UnknownMessageMapsToNotFound(t *testing.T) {
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodDelete || !strings.HasSuffix(req.URL.Path, "/channels/123/messages/777") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		return jsonResponse(http.StatusNotFound, `{"code":10008,"message":"Unknown Message"}`), nil
	})

	err := g.DeleteMessage(context.Background(), messaging.Message{Chat: messaging.ChatTarget(123, 0), ID: 777})
	if !errors.Is(err, messaging.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestEditMessageText_ClearsButtonsWithoutKeyboard(t *testing.T) {
	var body map[string]any
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPatch || !strings.HasSuffix(req.URL.Path, "/channels/123/messages/777") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"777","channel_id":"123"}`), nil
	})

	err := g.EditMessageText(context.Background(), messaging.Message{Chat: messaging.ChatTarget(123, 0), ID: 777}, "claimed", messaging.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["content"] != "claimed" {
		t.Fatalf("unexpected content: %v", body["content"])
	}
	if comps, ok := body["components"].([]any); !ok || len(comps) != 0 {
		t.Fatalf("expected empty components, got %v", body["components"])
	}
}

func TestDeepLink_IsUnsupported(t *testing.T) {
	if got := NewGateway("t", "g").DeepLink("claim_0"); got != "" {
		t.Fatalf("expected no deep link, got %q", got)
	}
}

func TestSetCommands_CreatesMissingAndEditsChanged(t *testing.T) {
	var created, edited []string
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/applications/app-1/guilds/guild-1/commands"):
			return jsonResponse(http.StatusOK, `[{"id":"c1","name":"help","description":"Show help"},{"id":"c2","name":"info","description":"old"}]`), nil
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/applications/app-1/guilds/guild-1/commands"):
			var cmd discordgo.ApplicationCommand
			if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
				t.Fatalf("failed to decode command: %v", err)
			}
			created = append(created, cmd.Name)
			if len(cmd.Options) != 1 || cmd.Options[0].Name != argsOptionName {
				t.Fatalf("expected args option on %s, got %+v", cmd.Name, cmd.Options)
			}
			return jsonResponse(http.StatusOK, `{"id":"c3"}`), nil
		case req.Method == http.MethodPatch && strings.HasSuffix(req.URL.Path, "/applications/app-1/guilds/guild-1/commands/c2"):
			edited = append(edited, "info")
			return jsonResponse(http.StatusOK, `{"id":"c2"}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		return nil, nil
	})
	g.session.State.User = &discordgo.User{ID: "app-1"}

	err := g.SetCommands(context.Background(), []messaging.CommandDefinition{
		{Name: "help", Description: "Show help"},
		{Name: "info", Description: "Show printer progress"},
		{Name: "notify", Description: "Notify at a layer"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 || created[0] != "notify" {
		t.Fatalf("expected notify to be created, got %v", created)
	}
	if len(edited) != 1 {
		t.Fatalf("expected info to be edited, got %v", edited)
	}
}

func TestHandleSlashCommand_ParsesArgsAndReplies(t *testing.T) {
	var responded bool
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/interactions/i-1/tok/callback"):
			responded = true
			return jsonResponse(http.StatusNoContent, ``), nil
		case strings.HasSuffix(req.URL.Path, "/webhooks/app-1/tok/messages/@original"):
			return jsonResponse(http.StatusOK, `{"id":"901","channel_id":"123"}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		return nil, nil
	})

	var got messaging.CommandEvent
	var reply messaging.Message
	g.RegisterCommandHandler(func(ctx context.Context, ev messaging.CommandEvent) {
		got = ev
		var err error
		reply, err = ev.Reply(ctx, "ok", messaging.Options{})
		if err != nil {
			t.Errorf("reply failed: %v", err)
		}
	})

	g.onInteraction(g.session, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i-1",
		AppID:     "app-1",
		Token:     "tok",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "guild-1",
		ChannelID: "123",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "42", Username: "alice", GlobalName: "Alice"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "notify",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: argsOptionName, Type: discordgo.ApplicationCommandOptionString, Value: "2 50%"},
			},
		},
	}})

	if got.Command != "notify" || strings.Join(got.Args, " ") != "2 50%" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.From.ID != 42 || got.From.Username != "alice" || got.From.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", got.From)
	}
	if got.Chat != messaging.ChatTarget(123, 0) {
		t.Fatalf("unexpected chat: %+v", got.Chat)
	}
	if !responded || reply.ID != 901 {
		t.Fatalf("expected interaction response with id 901, got responded=%v reply=%+v", responded, reply)
	}
}

func TestHandleComponent_AcknowledgesWhenHandlerDoesNotAnswer(t *testing.T) {
	var callbacks int
	var ackType float64
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/interactions/i-2/tok/callback") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		callbacks++
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		ackType, _ = body["type"].(float64)
		return jsonResponse(http.StatusNoContent, ``), nil
	})

	var got messaging.CallbackEvent
	g.RegisterCallbackHandler(func(_ context.Context, ev messaging.CallbackEvent) {
		got = ev
	})

	g.onInteraction(g.session, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i-2",
		Token:     "tok",
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "555",
		User:      &discordgo.User{ID: "42", Username: "alice"},
		Message:   &discordgo.Message{ID: "777", ChannelID: "555"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "dm_0"},
	}})

	if got.Data != "dm_0" {
		t.Fatalf("unexpected data: %q", got.Data)
	}
	if got.Message.Chat != messaging.DirectTarget(42) || got.Message.ID != 777 {
		t.Fatalf("expected DM origin message, got %+v", got.Message)
	}
	if callbacks != 1 || ackType != float64(discordgo.InteractionResponseDeferredMessageUpdate) {
		t.Fatalf("expected one deferred update ack, got %d (type %v)", callbacks, ackType)
	}
}

func TestHandleComponent_AnswerWithTextIsEphemeral(t *testing.T) {
	var body struct {
		Type int `json:"type"`
		Data struct {
			Content string `json:"content"`
			Flags   int    `json:"flags"`
		} `json:"data"`
	}
	calls := 0
	g := newTestGateway(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return jsonResponse(http.StatusNoContent, ``), nil
	})
	g.RegisterCallbackHandler(func(ctx context.Context, ev messaging.CallbackEvent) {
		if err := ev.Answer(ctx, "Already claimed by @bob", true); err != nil {
			t.Errorf("answer failed: %v", err)
		}
	})

	g.onInteraction(g.session, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i-3",
		Token:     "tok",
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   "guild-1",
		ChannelID: "123",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "42", Username: "alice"}},
		Message:   &discordgo.Message{ID: "777", ChannelID: "123"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "claim_0"},
	}})

	if calls != 1 {
		t.Fatalf("expected exactly one answer, got %d", calls)
	}
	if body.Data.Content != "Already claimed by @bob" || body.Data.Flags&int(discordgo.MessageFlagsEphemeral) == 0 {
		t.Fatalf("expected ephemeral answer, got %+v", body)
	}
}

func TestPreferredDiscordName(t *testing.T) {
	tests := []struct {
		global, user, fallback, want string
	}{
		{"Alice", "alice", "1", "Alice"},
		{"", "alice", "1", "alice"},
		{"", "", "1", "1"},
	}
	for _, tt := range tests {
		if got := preferredDiscordName(tt.global, tt.user, tt.fallback); got != tt.want {
			t.Fatalf("preferredDiscordName(%q, %q, %q) = %q, want %q", tt.global, tt.user, tt.fallback, got, tt.want)
		}
	}
}
