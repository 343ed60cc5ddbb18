package discord

import (
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/messaging"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (messaging.Gateway, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewGateway(c.DiscordToken, c.DiscordGuildID), nil
	})
}
