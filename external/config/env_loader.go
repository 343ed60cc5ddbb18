package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	internalconfig "github.com/pcider/printbot/internal/config"
)

type envConfig struct {
	Env                   string        `env:"ENV" envDefault:"production"`
	MessagingPlatform     string        `env:"MESSAGING_PLATFORM" envDefault:"telegram"`
	TelegramBotToken      string        `env:"TELEGRAM_BOT_TOKEN"`
	DiscordToken          string        `env:"DISCORD_TOKEN"`
	DiscordGuildID        string        `env:"DISCORD_GUILD_ID"`
	ChatID                string        `env:"CHAT_ID,required"`
	StatusChatID          string        `env:"STATUS_CHAT_ID"`
	LogChatID             string        `env:"LOG_CHAT_ID"`
	OwnerID               int64         `env:"OWNER_ID"`
	PrintersFile          string        `env:"PRINTERS_FILE" envDefault:"printers.yaml"`
	PollInterval          time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	PauseDebounce         time.Duration `env:"PAUSE_DEBOUNCE" envDefault:"60s"`
	StartGrace            time.Duration `env:"START_GRACE" envDefault:"2s"`
	FinishFrameAttempts   int           `env:"FINISH_FRAME_ATTEMPTS" envDefault:"10"`
	FinishFrameInterval   time.Duration `env:"FINISH_FRAME_INTERVAL" envDefault:"1s"`
	LogFlushInterval      time.Duration `env:"LOG_FLUSH_INTERVAL" envDefault:"5s"`
	LivestreamMaxDuration time.Duration `env:"LIVESTREAM_MAX_DURATION" envDefault:"10m"`
	StoreBackend          string        `env:"STORE_BACKEND" envDefault:"file"`
	StateFile             string        `env:"STATE_FILE" envDefault:"data.json"`
	DatabaseURL           string        `env:"DATABASE_URL"`
	RedisURL              string        `env:"REDIS_URL"`
	PrintWebhookURL       string        `env:"PRINT_WEBHOOK_URL"`
	HTTPAddr              string        `env:"HTTP_ADDR"`
}

// Load reads the environment and the printers file and validates the result.
func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	printers, err := LoadPrinters(raw.PrintersFile)
	if err != nil {
		return nil, err
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		MessagingPlatform:     raw.MessagingPlatform,
		TelegramBotToken:      raw.TelegramBotToken,
		DiscordToken:          raw.DiscordToken,
		DiscordGuildID:        raw.DiscordGuildID,
		ChatID:                raw.ChatID,
		StatusChatID:          raw.StatusChatID,
		LogChatID:             raw.LogChatID,
		OwnerID:               raw.OwnerID,
		PrintersFile:          raw.PrintersFile,
		Printers:              printers,
		PollInterval:          raw.PollInterval,
		PauseDebounce:         raw.PauseDebounce,
		StartGrace:            raw.StartGrace,
		FinishFrameAttempts:   raw.FinishFrameAttempts,
		FinishFrameInterval:   raw.FinishFrameInterval,
		LogFlushInterval:      raw.LogFlushInterval,
		LivestreamMaxDuration: raw.LivestreamMaxDuration,
		StoreBackend:          raw.StoreBackend,
		StateFile:             raw.StateFile,
		DatabaseURL:           raw.DatabaseURL,
		RedisURL:              raw.RedisURL,
		PrintWebhookURL:       raw.PrintWebhookURL,
		HTTPAddr:              raw.HTTPAddr,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
