package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/pcider/printbot/internal/bot"
	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/httpserver"
	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/repository"
)

const (
	gatewayConnectTimeout = 20 * time.Second
	printerConnectTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the printers and the chat platform and start monitoring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("startup: loading configuration")
			cfg := mustLoadConfig()
			initLogger(cfg)
			slog.Info("startup: configuration loaded", "env", cfg.Env, "platform", cfg.MessagingPlatform, "printers", len(cfg.Printers))

			slog.Info("startup: building dependency graph")
			injector, err := setupDI(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg, injector)
		},
	}
}

func runBot(ctx context.Context, cfg *config.Config, injector do.Injector) error {
	gw, err := do.Invoke[messaging.Gateway](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve messaging gateway: %w", err)
	}
	poller, err := do.Invoke[*monitor.Poller](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve printer poller: %w", err)
	}
	svc, err := do.Invoke[*bot.MessageService](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve message service: %w", err)
	}
	handlers, err := do.Invoke[*bot.Handlers](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve command handlers: %w", err)
	}
	loop, err := do.Invoke[*monitor.Loop](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve monitor loop: %w", err)
	}
	persister := do.MustInvoke[repository.Persister](injector)

	connectCtx, cancel := context.WithTimeout(ctx, gatewayConnectTimeout)
	slog.Info("startup: connecting to chat platform", "platform", cfg.MessagingPlatform)
	err = gw.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect %s gateway: %w", cfg.MessagingPlatform, err)
	}
	if err := gw.SetCommands(ctx, bot.CommandDefinitions()); err != nil {
		slog.Error("failed to register commands", "error", err)
	}
	handlers.Register()

	printerCtx, cancel := context.WithTimeout(ctx, printerConnectTimeout)
	slog.Info("startup: connecting to printers", "count", poller.Count())
	attempts := poller.ConnectAll(printerCtx)
	cancel()
	svc.ReportStartup(ctx, attempts)

	var srv *httpserver.Server
	if cfg.HTTPAddr != "" {
		srv = do.MustInvoke[*httpserver.Server](injector)
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("http server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("startup: entering gateway run loop")
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("gateway run failed", "error", err)
		}
	}()

	err = loop.Run(ctx)
	slog.Info("shutting down")
	shutdown(svc, gw, poller, srv, persister)
	return err
}

// shutdown runs after the monitor loop has finished its last pass.
func shutdown(svc *bot.MessageService, gw messaging.Gateway, poller *monitor.Poller, srv *httpserver.Server, persister repository.Persister) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	svc.DrainLog(ctx)
	if err := gw.Close(); err != nil {
		slog.Error("gateway close failed", "error", err)
	}
	poller.DisconnectAll()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown failed", "error", err)
		}
	}
	if c, ok := persister.(interface{ Shutdown() error }); ok {
		if err := c.Shutdown(); err != nil {
			slog.Error("failed to close session store backend", "error", err)
		}
	}
}
