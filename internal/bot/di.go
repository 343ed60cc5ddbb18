package bot

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/session"
	"github.com/pcider/printbot/internal/webhook"
)

// TargetsFromConfig resolves the configured chats. An empty log chat
// disables the log channel.
func TargetsFromConfig(c *config.Config) (Targets, error) {
	var t Targets
	var err error
	if t.Main, err = messaging.ParseTarget(c.ChatID); err != nil {
		return Targets{}, fmt.Errorf("CHAT_ID: %w", err)
	}
	if t.Status, err = messaging.ParseTarget(c.StatusTarget()); err != nil {
		return Targets{}, fmt.Errorf("STATUS_CHAT_ID: %w", err)
	}
	if c.LogTarget() != "" {
		if t.Log, err = messaging.ParseTarget(c.LogTarget()); err != nil {
			return Targets{}, fmt.Errorf("LOG_CHAT_ID: %w", err)
		}
	}
	return t, nil
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*MessageService, error) {
		c := do.MustInvoke[*config.Config](i)
		targets, err := TargetsFromConfig(c)
		if err != nil {
			return nil, err
		}
		return NewMessageService(
			do.MustInvoke[messaging.Gateway](i),
			do.MustInvoke[*session.Store](i),
			do.MustInvoke[*monitor.Poller](i),
			targets,
			do.MustInvoke[clockwork.Clock](i),
			c.LogFlushInterval,
			c.LivestreamMaxDuration,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (monitor.Reporter, error) {
		return do.MustInvoke[*MessageService](i), nil
	})
	do.Provide(injector, func(i do.Injector) (monitor.Dispatcher, error) {
		c := do.MustInvoke[*config.Config](i)
		targets, err := TargetsFromConfig(c)
		if err != nil {
			return nil, err
		}
		return NewDispatcher(
			do.MustInvoke[*monitor.Poller](i),
			do.MustInvoke[*session.Store](i),
			do.MustInvoke[*MessageService](i),
			do.MustInvoke[messaging.Gateway](i),
			do.MustInvoke[webhook.Sender](i),
			do.MustInvoke[clockwork.Clock](i),
			targets.Main,
			DispatchSettings{
				StartGrace:          c.StartGrace,
				FinishFrameAttempts: c.FinishFrameAttempts,
				FinishFrameInterval: c.FinishFrameInterval,
			},
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*Handlers, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHandlers(
			do.MustInvoke[*monitor.Poller](i),
			do.MustInvoke[*session.Store](i),
			do.MustInvoke[*MessageService](i),
			do.MustInvoke[messaging.Gateway](i),
			c.OwnerID,
		), nil
	})
}
