package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/pcider/printbot/internal/messaging"
)

const (
	argsOptionName  = "args"
	photoFileName   = "frame.jpg"
	photoMediaType  = "image/jpeg"
	ackReplyContent = "Done."

	restCodeUnknownMessage  = 10008
	restCodeUnknownChannel  = 10003
	restCodeCannotMessageDM = 50007
)

// Gateway is the Discord messaging.Gateway. Chat targets are channel ids,
// a thread id overrides the channel, and direct targets are user ids whose
// DM channel is opened on first use.
type Gateway struct {
	session *discordgo.Session
	token   string
	guildID string

	mu         sync.RWMutex
	dmChannels map[int64]string
	onCommand  func(context.Context, messaging.CommandEvent)
	onCallback func(context.Context, messaging.CallbackEvent)
}

var _ messaging.Gateway = (*Gateway)(nil)

func NewGateway(token, guildID string) *Gateway {
	return &Gateway{
		token:      token,
		guildID:    guildID,
		dmChannels: make(map[int64]string),
	}
}

func (g *Gateway) Connect(_ context.Context) error {
	s, err := discordgo.New("Bot " + g.token)
	if err != nil {
		return err
	}
	g.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsDirectMessages)
	s.AddHandler(g.onInteraction)
	if err := s.Open(); err != nil {
		return err
	}
	slog.Info("discord session opened", "guild_id", g.guildID)
	return nil
}

func (g *Gateway) Close() error {
	if g.session != nil {
		return g.session.Close()
	}
	return nil
}

// Run blocks until ctx ends; discordgo delivers events on its own
// goroutines.
func (g *Gateway) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// SetCommands registers the commands as guild slash commands. Each command
// but help takes one optional free-form "args" option.
func (g *Gateway) SetCommands(_ context.Context, defs []messaging.CommandDefinition) error {
	appID := g.applicationID()
	if appID == "" {
		return fmt.Errorf("discord application id is not available")
	}
	existing, err := g.session.ApplicationCommands(appID, g.guildID)
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		if cmd == nil || cmd.Name == "" {
			continue
		}
		existingByName[cmd.Name] = cmd
	}
	for _, def := range defs {
		if err := g.upsertGuildSlashCommand(appID, def, existingByName); err != nil {
			return fmt.Errorf("failed to upsert command %q: %w", def.Name, err)
		}
	}
	return nil
}

func (g *Gateway) upsertGuildSlashCommand(appID string, def messaging.CommandDefinition, existingByName map[string]*discordgo.ApplicationCommand) error {
	if def.Name == "" {
		return nil
	}
	payload := &discordgo.ApplicationCommand{
		Name:        def.Name,
		Description: def.Description,
	}
	if def.Name != "help" {
		payload.Options = []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        argsOptionName,
			Description: "Printer number and value, e.g. 2 50%",
		}}
	}
	cmd, ok := existingByName[def.Name]
	if !ok {
		_, err := g.session.ApplicationCommandCreate(appID, g.guildID, payload)
		return err
	}
	if cmd.Description == def.Description && len(cmd.Options) == len(payload.Options) {
		return nil
	}
	_, err := g.session.ApplicationCommandEdit(appID, g.guildID, cmd.ID, payload)
	return err
}

func (g *Gateway) SendMessage(_ context.Context, to messaging.Target, text string, opts messaging.Options) (messaging.Message, error) {
	channelID, err := g.channelFor(to)
	if err != nil {
		return messaging.Message{}, err
	}
	m, err := g.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    text,
		Components: components(opts.Keyboard),
	})
	if err != nil {
		return messaging.Message{}, mapError("send message", err, to.Direct)
	}
	return toMessage(to, m.ID)
}

func (g *Gateway) SendPhoto(_ context.Context, to messaging.Target, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
	channelID, err := g.channelFor(to)
	if err != nil {
		return messaging.Message{}, err
	}
	m, err := g.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    caption,
		Files:      []*discordgo.File{photoAttachment(photo)},
		Components: components(opts.Keyboard),
	})
	if err != nil {
		return messaging.Message{}, mapError("send photo", err, to.Direct)
	}
	return toMessage(to, m.ID)
}

func (g *Gateway) EditMessageText(_ context.Context, msg messaging.Message, text string, opts messaging.Options) error {
	edit, err := g.messageEdit(msg)
	if err != nil {
		return err
	}
	comps := components(opts.Keyboard)
	edit.Content = &text
	edit.Components = &comps
	if _, err := g.session.ChannelMessageEditComplex(edit); err != nil {
		return mapError("edit message", err, msg.Chat.Direct)
	}
	return nil
}

// EditMessageCaption edits the content shown above the attachment.
func (g *Gateway) EditMessageCaption(ctx context.Context, msg messaging.Message, caption string, opts messaging.Options) error {
	return g.EditMessageText(ctx, msg, caption, opts)
}

// EditMessageMedia replaces the message's attachments with photo.
func (g *Gateway) EditMessageMedia(_ context.Context, msg messaging.Message, photo []byte, caption string, opts messaging.Options) error {
	edit, err := g.messageEdit(msg)
	if err != nil {
		return err
	}
	comps := components(opts.Keyboard)
	attachments := []*discordgo.MessageAttachment{}
	edit.Content = &caption
	edit.Components = &comps
	edit.Attachments = &attachments
	edit.Files = []*discordgo.File{photoAttachment(photo)}
	if _, err := g.session.ChannelMessageEditComplex(edit); err != nil {
		return mapError("edit media", err, msg.Chat.Direct)
	}
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, msg messaging.Message) error {
	channelID, err := g.channelFor(msg.Chat)
	if err != nil {
		return err
	}
	if err := g.session.ChannelMessageDelete(channelID, strconv.FormatInt(msg.ID, 10)); err != nil {
		return mapError("delete message", err, msg.Chat.Direct)
	}
	return nil
}

// DeepLink is unsupported on Discord.
func (g *Gateway) DeepLink(string) string {
	return ""
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

func (g *Gateway) messageEdit(msg messaging.Message) (*discordgo.MessageEdit, error) {
	channelID, err := g.channelFor(msg.Chat)
	if err != nil {
		return nil, err
	}
	return discordgo.NewMessageEdit(channelID, strconv.FormatInt(msg.ID, 10)), nil
}

func (g *Gateway) channelFor(to messaging.Target) (string, error) {
	if to.Direct {
		return g.dmChannel(to.ChatID)
	}
	if to.ThreadID != 0 {
		return strconv.Itoa(to.ThreadID), nil
	}
	return strconv.FormatInt(to.ChatID, 10), nil
}

func (g *Gateway) dmChannel(userID int64) (string, error) {
	g.mu.RLock()
	id, ok := g.dmChannels[userID]
	g.mu.RUnlock()
	if ok {
		return id, nil
	}

	ch, err := g.session.UserChannelCreate(strconv.FormatInt(userID, 10))
	if err != nil {
		return "", mapError("open DM", err, true)
	}
	g.mu.Lock()
	g.dmChannels[userID] = ch.ID
	g.mu.Unlock()
	return ch.ID, nil
}

func (g *Gateway) applicationID() string {
	if g.session == nil || g.session.State == nil {
		return ""
	}
	if g.session.State.Application != nil && g.session.State.Application.ID != "" {
		return g.session.State.Application.ID
	}
	if g.session.State.User != nil {
		return g.session.State.User.ID
	}
	return ""
}

func toMessage(to messaging.Target, id string) (messaging.Message, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("unexpected discord message id %q: %w", id, err)
	}
	return messaging.Message{Chat: to, ID: n}, nil
}

func photoAttachment(photo []byte) *discordgo.File {
	return &discordgo.File{Name: photoFileName, ContentType: photoMediaType, Reader: bytes.NewReader(photo)}
}

func components(kb *messaging.Keyboard) []discordgo.MessageComponent {
	if kb == nil {
		return []discordgo.MessageComponent{}
	}
	rows := make([]discordgo.MessageComponent, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		buttons := make([]discordgo.MessageComponent, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				buttons = append(buttons, discordgo.Button{Label: b.Text, Style: discordgo.LinkButton, URL: b.URL})
				continue
			}
			buttons = append(buttons, discordgo.Button{Label: b.Text, Style: discordgo.PrimaryButton, CustomID: b.Data})
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}
	return rows
}

func restErrorCode(err error) (status, code int, ok bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return 0, 0, false
	}
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	return status, code, true
}

func mapError(op string, err error, direct bool) error {
	status, code, ok := restErrorCode(err)
	if ok {
		switch {
		case code == restCodeUnknownMessage || (status == http.StatusNotFound && code != restCodeUnknownChannel):
			return fmt.Errorf("discord %s: %w: %v", op, messaging.ErrMessageNotFound, err)
		case direct && (code == restCodeCannotMessageDM || status == http.StatusForbidden):
			return fmt.Errorf("discord %s: %w: %v", op, messaging.ErrDirectUnavailable, err)
		}
	}
	return fmt.Errorf("discord %s: %w", op, err)
}

func preferredDiscordName(globalName, username, fallback string) string {
	if globalName != "" {
		return globalName
	}
	if username != "" {
		return username
	}
	return fallback
}

func interactionUser(ic *discordgo.InteractionCreate) (messaging.User, bool) {
	var u *discordgo.User
	if ic.Member != nil && ic.Member.User != nil {
		u = ic.Member.User
	}
	if u == nil && ic.User != nil {
		u = ic.User
	}
	if u == nil || u.ID == "" {
		return messaging.User{}, false
	}
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return messaging.User{}, false
	}
	return messaging.User{
		ID:          id,
		Username:    u.Username,
		DisplayName: preferredDiscordName(u.GlobalName, u.Username, u.ID),
	}, true
}

// interactionTarget addresses where the interaction happened. Interactions
// from DMs become direct targets of the user.
func interactionTarget(ic *discordgo.InteractionCreate, user messaging.User) (messaging.Target, error) {
	if ic.GuildID == "" {
		return messaging.DirectTarget(user.ID), nil
	}
	id, err := strconv.ParseInt(ic.ChannelID, 10, 64)
	if err != nil {
		return messaging.Target{}, fmt.Errorf("unexpected discord channel id %q: %w", ic.ChannelID, err)
	}
	return messaging.ChatTarget(id, 0), nil
}

func commandArgs(data discordgo.ApplicationCommandInteractionData) []string {
	for _, opt := range data.Options {
		if opt != nil && opt.Name == argsOptionName && opt.Type == discordgo.ApplicationCommandOptionString {
			return strings.Fields(opt.StringValue())
		}
	}
	return nil
}
