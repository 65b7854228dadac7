package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultSignalAPIURL      = "http://localhost:8080"
	DefaultSignalWebhookPort = 3002
	DefaultStorePath         = "data/chats"
	DefaultAssistantName     = "Andy"
	DefaultGatewayHost       = "127.0.0.1"
	DefaultGatewayPort       = 18790

	DefaultRelayExchange    = "signalclaw"
	DefaultRelayInboundKey  = "signalclaw.message.inbound"
	DefaultRelayOutboundKey = "signalclaw.message.outbound"
	DefaultRelayReplyQueue  = "signalclaw.replies"
	DefaultRelayPrefetch    = 10
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Relay    RelayConfig    `json:"relay"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format        string `json:"format,omitempty"`
	Level         string `json:"level,omitempty"`
	AddSource     bool   `json:"add_source,omitempty"`
	RedactNumbers bool   `json:"redact_numbers,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Signal   SignalConfig   `json:"signal"`
	Telegram TelegramConfig `json:"telegram"`
}

// SignalConfig configures the signal-cli-rest-api bridge.
type SignalConfig struct {
	Enabled     bool   `json:"enabled"       env:"SIGNAL_ENABLED"`
	APIURL      string `json:"api_url"       env:"SIGNAL_API_URL"`
	WebhookHost string `json:"webhook_host"  env:"SIGNAL_WEBHOOK_HOST"`
	WebhookPort int    `json:"webhook_port"  env:"SIGNAL_WEBHOOK_PORT"`
	PhoneNumber string `json:"phone_number"  env:"SIGNAL_PHONE_NUMBER"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"    env:"TELEGRAM_ENABLED"`
	Token     string   `json:"token"      env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"TELEGRAM_ALLOW_FROM"`
}

// StoreConfig points at the on-disk chat metadata database.
type StoreConfig struct {
	Path string `json:"path" env:"SIGNALCLAW_STORE_PATH"`
}

// RelayConfig configures the AMQP link to the assistant.
type RelayConfig struct {
	URL           string `json:"url"            env:"SIGNALCLAW_RELAY_URL"`
	Exchange      string `json:"exchange"       env:"SIGNALCLAW_RELAY_EXCHANGE"`
	InboundKey    string `json:"inbound_key"    env:"SIGNALCLAW_RELAY_INBOUND_KEY"`
	OutboundKey   string `json:"outbound_key"   env:"SIGNALCLAW_RELAY_OUTBOUND_KEY"`
	ReplyQueue    string `json:"reply_queue"    env:"SIGNALCLAW_RELAY_REPLY_QUEUE"`
	PrefetchCount int    `json:"prefetch_count" env:"SIGNALCLAW_RELAY_PREFETCH"`
}

// GatewayConfig configures the status server and reply formatting.
//
// AdminToken, when set, is the bearer token required on the admin routes.
// Without it those routes only answer loopback peers.
type GatewayConfig struct {
	Host          string `json:"host"           env:"SIGNALCLAW_GATEWAY_HOST"`
	Port          int    `json:"port"           env:"SIGNALCLAW_GATEWAY_PORT"`
	AdminToken    string `json:"admin_token"    env:"SIGNALCLAW_ADMIN_TOKEN"`
	AssistantName string `json:"assistant_name" env:"ASSISTANT_NAME"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects env-driven settings on top of file config.
//
// Only variables that are actually set replace file values.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	opts := env.Options{}
	targets := []any{&cfg.Channels.Signal, &cfg.Channels.Telegram, &cfg.Store, &cfg.Relay, &cfg.Gateway}
	for _, target := range targets {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return fmt.Errorf("parse environment overrides: %w", err)
		}
	}

	cfg.Channels.Telegram.AllowFrom = compact(cfg.Channels.Telegram.AllowFrom)
	cfg.Channels.Signal.PhoneNumber = strings.TrimSpace(cfg.Channels.Signal.PhoneNumber)

	return nil
}

// applyDefaults fills values the adapters cannot run without.
func applyDefaults(cfg *Config) {
	signalCfg := &cfg.Channels.Signal
	if strings.TrimSpace(signalCfg.APIURL) == "" {
		signalCfg.APIURL = DefaultSignalAPIURL
	}
	signalCfg.APIURL = strings.TrimRight(strings.TrimSpace(signalCfg.APIURL), "/")
	if signalCfg.WebhookPort <= 0 {
		signalCfg.WebhookPort = DefaultSignalWebhookPort
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath
	}

	relay := &cfg.Relay
	relay.URL = strings.TrimSpace(relay.URL)
	if relay.Exchange == "" {
		relay.Exchange = DefaultRelayExchange
	}
	if relay.InboundKey == "" {
		relay.InboundKey = DefaultRelayInboundKey
	}
	if relay.OutboundKey == "" {
		relay.OutboundKey = DefaultRelayOutboundKey
	}
	if relay.ReplyQueue == "" {
		relay.ReplyQueue = DefaultRelayReplyQueue
	}
	if relay.PrefetchCount <= 0 {
		relay.PrefetchCount = DefaultRelayPrefetch
	}

	cfg.Gateway.Host = strings.TrimSpace(cfg.Gateway.Host)
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultGatewayHost
	}
	cfg.Gateway.AdminToken = strings.TrimSpace(cfg.Gateway.AdminToken)
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = DefaultGatewayPort
	}
	cfg.Gateway.AssistantName = strings.TrimSpace(cfg.Gateway.AssistantName)
	if cfg.Gateway.AssistantName == "" {
		cfg.Gateway.AssistantName = DefaultAssistantName
	}
}

// compact trims values and drops empty entries.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SIGNALCLAW_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("SIGNALCLAW_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("SIGNALCLAW_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
