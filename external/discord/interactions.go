package discord

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/pcider/printbot/internal/messaging"
)

func (g *Gateway) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil {
		return
	}
	ctx := context.Background()
	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		g.handleSlashCommand(ctx, s, ic)
	case discordgo.InteractionMessageComponent:
		g.handleComponent(ctx, s, ic)
	}
}

func (g *Gateway) handleSlashCommand(ctx context.Context, s *discordgo.Session, ic *discordgo.InteractionCreate) {
	data := ic.ApplicationCommandData()
	if data.Name == "" {
		return
	}
	user, ok := interactionUser(ic)
	if !ok {
		return
	}
	chat, err := interactionTarget(ic, user)
	if err != nil {
		slog.Warn("ignoring slash command", "command", data.Name, "error", err)
		return
	}
	g.mu.RLock()
	handler := g.onCommand
	g.mu.RUnlock()
	if handler == nil {
		return
	}
	slog.Info("slash command interaction received", "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "command", data.Name, "user_id", user.ID)

	r := &interactionReplier{session: s, interaction: ic.Interaction, chat: chat}
	handler(ctx, messaging.CommandEvent{
		Command:    data.Name,
		Args:       commandArgs(data),
		From:       user,
		Chat:       chat,
		Reply:      r.reply,
		ReplyPhoto: r.replyPhoto,
	})

	// Slash commands must be acknowledged even when the handler answered
	// elsewhere (a livestream posts straight to the channel).
	if !r.responded() {
		if err := s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: ackReplyContent, Flags: discordgo.MessageFlagsEphemeral},
		}); err != nil {
			slog.Debug("failed to acknowledge slash command", "command", data.Name, "error", err)
		}
	}
}

func (g *Gateway) handleComponent(ctx context.Context, s *discordgo.Session, ic *discordgo.InteractionCreate) {
	user, ok := interactionUser(ic)
	if !ok {
		return
	}
	chat, err := interactionTarget(ic, user)
	if err != nil {
		slog.Warn("ignoring component interaction", "error", err)
		return
	}
	var origin messaging.Message
	if ic.Message != nil {
		if origin, err = toMessage(chat, ic.Message.ID); err != nil {
			slog.Warn("ignoring component interaction", "error", err)
			return
		}
	}

	answered := false
	answer := func(_ context.Context, text string, alert bool) error {
		answered = true
		resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
		if text != "" {
			resp = &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
			}
		}
		return s.InteractionRespond(ic.Interaction, resp)
	}

	g.mu.RLock()
	handler := g.onCallback
	g.mu.RUnlock()
	if handler != nil {
		handler(ctx, messaging.CallbackEvent{
			Data:    ic.MessageComponentData().CustomID,
			From:    user,
			Message: origin,
			Answer:  answer,
		})
	}
	if !answered {
		if err := answer(ctx, "", false); err != nil {
			slog.Debug("failed to acknowledge component interaction", "error", err)
		}
	}
}

// interactionReplier answers a slash command. The first reply is the
// interaction response; later replies are follow-ups.
type interactionReplier struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	chat        messaging.Target

	mu   sync.Mutex
	sent bool
}

func (r *interactionReplier) responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (r *interactionReplier) reply(_ context.Context, text string, opts messaging.Options) (messaging.Message, error) {
	return r.send(text, nil, opts)
}

func (r *interactionReplier) replyPhoto(_ context.Context, photo []byte, caption string, opts messaging.Options) (messaging.Message, error) {
	return r.send(caption, []*discordgo.File{photoAttachment(photo)}, opts)
}

func (r *interactionReplier) send(content string, files []*discordgo.File, opts messaging.Options) (messaging.Message, error) {
	r.mu.Lock()
	first := !r.sent
	r.sent = true
	r.mu.Unlock()

	comps := components(opts.Keyboard)
	if !first {
		m, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content:    content,
			Files:      files,
			Components: comps,
		})
		if err != nil {
			return messaging.Message{}, mapError("follow up", err, r.chat.Direct)
		}
		return toMessage(r.chat, m.ID)
	}

	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Files: files, Components: comps},
	})
	if err != nil {
		return messaging.Message{}, mapError("respond", err, r.chat.Direct)
	}
	m, err := r.session.InteractionResponse(r.interaction)
	if err != nil {
		return messaging.Message{}, mapError("fetch response", err, r.chat.Direct)
	}
	return toMessage(r.chat, m.ID)
}
