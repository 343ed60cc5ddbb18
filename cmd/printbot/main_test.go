package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	discordimpl "github.com/pcider/printbot/external/discord"
	telegramimpl "github.com/pcider/printbot/external/telegram"
	"github.com/pcider/printbot/internal/bot"
	"github.com/pcider/printbot/internal/config"
	"github.com/pcider/printbot/internal/httpserver"
	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/monitor"
	"github.com/pcider/printbot/internal/printer"
)

func testConfig(t *testing.T, platform string) *config.Config {
	t.Helper()
	return &config.Config{
		Env:               "test",
		MessagingPlatform: platform,
		TelegramBotToken:  "123:abc",
		DiscordToken:      "discord-token",
		DiscordGuildID:    "guild-1",
		ChatID:            "-1001/7",
		LogChatID:         "-1003",
		Printers: []printer.Config{
			{Name: "Left", Host: "10.0.0.2", AccessCode: "12345678", Serial: "01P00A000000001"},
		},
		PollInterval:          3 * time.Second,
		PauseDebounce:         monitor.DefaultPauseWindow,
		StoreBackend:          config.StoreFile,
		StateFile:             filepath.Join(t.TempDir(), "data.json"),
		HTTPAddr:              ":0",
		LogFlushInterval:      bot.DefaultLogFlushInterval,
		LivestreamMaxDuration: bot.DefaultLivestreamMaxDuration,
	}
}

func TestSetupDI_ResolvesTelegramGraph(t *testing.T) {
	injector, err := setupDI(testConfig(t, config.PlatformTelegram))
	require.NoError(t, err)

	gw := do.MustInvoke[messaging.Gateway](injector)
	assert.IsType(t, &telegramimpl.Gateway{}, gw)
	assert.NotNil(t, do.MustInvoke[*monitor.Loop](injector))
	assert.NotNil(t, do.MustInvoke[*bot.Handlers](injector))
	assert.NotNil(t, do.MustInvoke[*httpserver.Server](injector))
	assert.Equal(t, 1, do.MustInvoke[*monitor.Poller](injector).Count())
}

func TestSetupDI_ResolvesDiscordGateway(t *testing.T) {
	injector, err := setupDI(testConfig(t, config.PlatformDiscord))
	require.NoError(t, err)

	assert.IsType(t, &discordimpl.Gateway{}, do.MustInvoke[messaging.Gateway](injector))
}

func TestSetupDI_RejectsUnknownPlatform(t *testing.T) {
	_, err := setupDI(testConfig(t, "irc"))
	assert.Error(t, err)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["sessions"])
}
