package httpserver

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/repository"
	"github.com/pcider/printbot/internal/session"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		var checks []HealthCheck
		if p, ok := do.MustInvoke[repository.Persister](i).(pinger); ok {
			checks = append(checks, HealthCheck{Name: cfg.StoreBackend, Ping: p.Ping})
		}
		return NewServer(
			cfg.HTTPAddr,
			do.MustInvoke[*monitor.Poller](i),
			do.MustInvoke[*session.Store](i),
			do.MustInvoke[clockwork.Clock](i),
			checks...,
		), nil
	})
}
