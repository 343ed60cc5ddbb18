package monitor

import (
	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/printer"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Poller, error) {
		c := do.MustInvoke[*config.Config](i)
		devices := do.MustInvoke[[]printer.Device](i)
		return NewPoller(devices, c.PrinterNames(), do.MustInvoke[clockwork.Clock](i), c.PauseDebounce), nil
	})
	do.Provide(injector, func(i do.Injector) (*Loop, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewLoop(
			do.MustInvoke[*Poller](i),
			do.MustInvoke[Dispatcher](i),
			do.MustInvoke[Reporter](i),
			do.MustInvoke[clockwork.Clock](i),
			c.PollInterval,
		), nil
	})
}
