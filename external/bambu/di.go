package bambu

import (
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/printer"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) ([]printer.Device, error) {
		c := do.MustInvoke[*config.Config](i)
		devices := make([]printer.Device, len(c.Printers))
		for idx, p := range c.Printers {
			devices[idx] = NewDevice(p)
		}
		return devices, nil
	})
}
