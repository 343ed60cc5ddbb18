package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	bambuimpl "github.com/pcider/printbot/external/bambu"
	configloader "github.com/pcider/printbot/external/config"
	discordimpl "github.com/pcider/printbot/external/discord"
	repositoryimpl "github.com/pcider/printbot/external/repository"
	telegramimpl "github.com/pcider/printbot/external/telegram"
	webhookimpl "github.com/pcider/printbot/external/webhook"
	"github.com/pcider/printbot/internal/bot"
	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/httpserver"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "printbot",
		Short:        "Chat bot that monitors a fleet of Bambu Lab printers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd().RunE(cmd, args)
		},
	}
	cmd.AddCommand(runCmd())
	cmd.AddCommand(sessionsCmd())
	return cmd
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) (do.Injector, error) {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue[clockwork.Clock](injector, clockwork.NewRealClock())
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	bambuimpl.RegisterDI(injector)
	monitor.RegisterDI(injector)
	bot.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	switch cfg.MessagingPlatform {
	case config.PlatformTelegram:
		telegramimpl.RegisterDI(injector)
	case config.PlatformDiscord:
		discordimpl.RegisterDI(injector)
	default:
		return nil, fmt.Errorf("unsupported messaging platform %q", cfg.MessagingPlatform)
	}

	return injector, nil
}
