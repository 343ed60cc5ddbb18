package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pcider/printbot/internal/messaging"
	"github.com/pcider/printbot/internal/printer"
)

const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"

	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Env               string
	MessagingPlatform string
	TelegramBotToken  string
	DiscordToken      string
	DiscordGuildID    string

	ChatID       string
	StatusChatID string
	LogChatID    string
	OwnerID      int64

	PrintersFile string
	Printers     []printer.Config

	PollInterval          time.Duration
	PauseDebounce         time.Duration
	StartGrace            time.Duration
	FinishFrameAttempts   int
	FinishFrameInterval   time.Duration
	LogFlushInterval      time.Duration
	LivestreamMaxDuration time.Duration

	StoreBackend string
	StateFile    string
	DatabaseURL  string
	RedisURL     string

	PrintWebhookURL string
	HTTPAddr        string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}

	switch c.MessagingPlatform {
	case PlatformTelegram:
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when MESSAGING_PLATFORM=telegram")
		}
	case PlatformDiscord:
		if c.DiscordToken == "" || c.DiscordGuildID == "" {
			return fmt.Errorf("DISCORD_TOKEN and DISCORD_GUILD_ID are required when MESSAGING_PLATFORM=discord")
		}
	default:
		return fmt.Errorf("MESSAGING_PLATFORM must be %q or %q, got %q", PlatformTelegram, PlatformDiscord, c.MessagingPlatform)
	}

	for _, t := range []struct {
		name  string
		value string
	}{
		{name: "CHAT_ID", value: c.ChatID},
		{name: "STATUS_CHAT_ID", value: c.StatusChatID},
		{name: "LOG_CHAT_ID", value: c.LogChatID},
	} {
		if t.value == "" {
			continue
		}
		if _, err := messaging.ParseTarget(t.value); err != nil {
			return fmt.Errorf("%s is invalid: %w", t.name, err)
		}
	}

	switch c.StoreBackend {
	case StoreFile:
		if c.StateFile == "" {
			return fmt.Errorf("STATE_FILE is required when STORE_BACKEND=file")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of file, postgres, redis, got %q", c.StoreBackend)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{name: "POLL_INTERVAL", value: c.PollInterval},
		{name: "PAUSE_DEBOUNCE", value: c.PauseDebounce},
		{name: "FINISH_FRAME_INTERVAL", value: c.FinishFrameInterval},
		{name: "LOG_FLUSH_INTERVAL", value: c.LogFlushInterval},
		{name: "LIVESTREAM_MAX_DURATION", value: c.LivestreamMaxDuration},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.StartGrace < 0 {
		return fmt.Errorf("START_GRACE must not be negative, got %s", c.StartGrace)
	}
	if c.FinishFrameAttempts <= 0 {
		return fmt.Errorf("FINISH_FRAME_ATTEMPTS must be positive, got %d", c.FinishFrameAttempts)
	}

	if c.PrintWebhookURL != "" {
		u, err := url.Parse(c.PrintWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PRINT_WEBHOOK_URL must be an absolute http(s) URL, got %q", c.PrintWebhookURL)
		}
	}

	if len(c.Printers) == 0 {
		return fmt.Errorf("at least one printer must be configured in %s", c.PrintersFile)
	}
	for i, p := range c.Printers {
		if p.Host == "" || p.AccessCode == "" || p.Serial == "" {
			return fmt.Errorf("printer %d: host, access_code and serial are required", i+1)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "MESSAGING_PLATFORM", value: c.MessagingPlatform},
		{name: "CHAT_ID", value: c.ChatID},
		{name: "PRINTERS_FILE", value: c.PrintersFile},
		{name: "STORE_BACKEND", value: c.StoreBackend},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StatusTarget is where the fleet status message lives. It falls back to the
// main chat.
func (c *Config) StatusTarget() string {
	if c.StatusChatID != "" {
		return c.StatusChatID
	}
	return c.ChatID
}

// LogTarget is the operational log channel. Empty disables it.
func (c *Config) LogTarget() string {
	return c.LogChatID
}

func (c *Config) PrinterNames() []string {
	names := make([]string, len(c.Printers))
	for i, p := range c.Printers {
		names[i] = p.Name
	}
	return names
}
