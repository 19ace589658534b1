// Package config assembles runtime configuration from three layers, lowest
// priority first: an optional YAML file, the process environment (a .env
// file is folded in via godotenv), and the encrypted secret store for
// sensitive values like the Telegram token.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SecretSource is the read side of the secret store. Keys follow the
// "env/<NAME>" convention.
type SecretSource interface {
	GetString(key string) (string, bool, error)
}

type Config struct {
	TelegramBotToken string
	TelegramAdminIDs []int64

	DatabasePath string
	HTTPAddr     string

	MaxBotsPerUser int
	MaxTotalBots   int

	LogLevel string
	LogFile  string

	EventWebhookURL string
	SecretsDir      string

	ConnectTimeout      time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectGrowth     float64
	ReconnectMaxDelay   time.Duration
	MaxReconnectJava    int
	MaxReconnectBedrock int

	Presence bool
}

// fileConfig mirrors the YAML file shape. Every field is optional.
type fileConfig struct {
	DatabasePath    string  `yaml:"database_path"`
	HTTPAddr        string  `yaml:"http_addr"`
	MaxBotsPerUser  int     `yaml:"max_bots_per_user"`
	MaxTotalBots    int     `yaml:"max_total_bots"`
	LogLevel        string  `yaml:"log_level"`
	LogFile         string  `yaml:"log_file"`
	EventWebhookURL string  `yaml:"event_webhook_url"`
	SecretsDir      string  `yaml:"secrets_dir"`
	ConnectTimeout  string  `yaml:"connect_timeout"`
	ReconnectBase   string  `yaml:"reconnect_base_delay"`
	ReconnectGrowth float64 `yaml:"reconnect_growth"`
	ReconnectMax    string  `yaml:"reconnect_max_delay"`
	MaxRetryJava    int     `yaml:"max_reconnect_java"`
	MaxRetryBedrock int     `yaml:"max_reconnect_bedrock"`
	Presence        *bool   `yaml:"presence"`
}

// Load reads CRAFTBOT_CONFIG (YAML, optional), .env, the environment and
// finally the secret store. secrets may be nil.
func Load(secrets SecretSource) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:        "data/craftbot.db",
		HTTPAddr:            ":8080",
		MaxBotsPerUser:      10,
		MaxTotalBots:        1000,
		LogLevel:            "info",
		SecretsDir:          "data/secrets",
		ConnectTimeout:      30 * time.Second,
		ReconnectBaseDelay:  5 * time.Second,
		ReconnectGrowth:     1.5,
		ReconnectMaxDelay:   5 * time.Minute,
		MaxReconnectJava:    3,
		MaxReconnectBedrock: 5,
		Presence:            true,
	}

	if path := strings.TrimSpace(os.Getenv("CRAFTBOT_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(secrets)

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set (env, .env or secret store)")
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if fc.DatabasePath != "" {
		c.DatabasePath = fc.DatabasePath
	}
	if fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	if fc.MaxBotsPerUser > 0 {
		c.MaxBotsPerUser = fc.MaxBotsPerUser
	}
	if fc.MaxTotalBots > 0 {
		c.MaxTotalBots = fc.MaxTotalBots
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.EventWebhookURL != "" {
		c.EventWebhookURL = fc.EventWebhookURL
	}
	if fc.SecretsDir != "" {
		c.SecretsDir = fc.SecretsDir
	}
	if d, ok := parseDur(fc.ConnectTimeout); ok {
		c.ConnectTimeout = d
	}
	if d, ok := parseDur(fc.ReconnectBase); ok {
		c.ReconnectBaseDelay = d
	}
	if fc.ReconnectGrowth > 1 {
		c.ReconnectGrowth = fc.ReconnectGrowth
	}
	if d, ok := parseDur(fc.ReconnectMax); ok {
		c.ReconnectMaxDelay = d
	}
	if fc.MaxRetryJava > 0 {
		c.MaxReconnectJava = fc.MaxRetryJava
	}
	if fc.MaxRetryBedrock > 0 {
		c.MaxReconnectBedrock = fc.MaxRetryBedrock
	}
	if fc.Presence != nil {
		c.Presence = *fc.Presence
	}
	return nil
}

func (c *Config) applyEnv(secrets SecretSource) {
	get := func(key string) string { return getenv(key, secrets) }

	if v := get("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := get("TELEGRAM_ADMIN_IDS"); v != "" {
		c.TelegramAdminIDs = parseInt64List(v)
	}
	if v := get("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := get("PORT"); v != "" {
		if strings.Contains(v, ":") {
			c.HTTPAddr = v
		} else {
			c.HTTPAddr = ":" + v
		}
	}
	if n, ok := parseIntEnv(get("MAX_BOTS_PER_USER")); ok {
		c.MaxBotsPerUser = n
	}
	if n, ok := parseIntEnv(get("MAX_TOTAL_BOTS")); ok {
		c.MaxTotalBots = n
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := get("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := get("EVENT_WEBHOOK_URL"); v != "" {
		c.EventWebhookURL = v
	}
	if v := get("SECRETS_DIR"); v != "" {
		c.SecretsDir = v
	}
	if d, ok := parseDur(get("CONNECT_TIMEOUT")); ok {
		c.ConnectTimeout = d
	}
	if d, ok := parseDur(get("CRAFTBOT_RECONNECT_BASE_DELAY")); ok {
		c.ReconnectBaseDelay = d
	}
	if f, err := strconv.ParseFloat(get("CRAFTBOT_RECONNECT_GROWTH"), 64); err == nil && f > 1 {
		c.ReconnectGrowth = f
	}
	if d, ok := parseDur(get("CRAFTBOT_RECONNECT_MAX_DELAY")); ok {
		c.ReconnectMaxDelay = d
	}
	if n, ok := parseIntEnv(get("CRAFTBOT_MAX_RECONNECT_JAVA")); ok {
		c.MaxReconnectJava = n
	}
	if n, ok := parseIntEnv(get("CRAFTBOT_MAX_RECONNECT_BEDROCK")); ok {
		c.MaxReconnectBedrock = n
	}
	if v := get("CRAFTBOT_PRESENCE"); v != "" {
		c.Presence = v != "0" && !strings.EqualFold(v, "false")
	}
}

// IsAdmin reports whether the Telegram user is in the admin allow-list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.TelegramAdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// getenv reads from OS env first, then from the secret store under env/<KEY>.
func getenv(key string, secrets SecretSource) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if secrets != nil {
		if v, ok, _ := secrets.GetString("env/" + key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseIntEnv(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseDur accepts Go duration strings ("45s") and bare seconds ("45").
func parseDur(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func parseInt64List(v string) []int64 {
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
