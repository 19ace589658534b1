package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSecrets is a map-backed SecretSource.
type fakeSecrets map[string]string

func (f fakeSecrets) GetString(key string) (string, bool, error) {
	v, ok := f[key]
	return v, ok, nil
}

// clearEnv blanks every key Load reads so host environment can't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CRAFTBOT_CONFIG", "TELEGRAM_BOT_TOKEN", "TELEGRAM_ADMIN_IDS",
		"DATABASE_PATH", "PORT", "MAX_BOTS_PER_USER", "MAX_TOTAL_BOTS",
		"LOG_LEVEL", "LOG_FILE", "EVENT_WEBHOOK_URL", "SECRETS_DIR",
		"CONNECT_TIMEOUT", "CRAFTBOT_RECONNECT_BASE_DELAY",
		"CRAFTBOT_RECONNECT_GROWTH", "CRAFTBOT_RECONNECT_MAX_DELAY",
		"CRAFTBOT_MAX_RECONNECT_JAVA", "CRAFTBOT_MAX_RECONNECT_BEDROCK",
		"CRAFTBOT_PRESENCE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramBotToken != "123:abc" {
		t.Errorf("token = %q", cfg.TelegramBotToken)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DatabasePath != "data/craftbot.db" {
		t.Errorf("defaults wrong: addr=%q db=%q", cfg.HTTPAddr, cfg.DatabasePath)
	}
	if cfg.MaxBotsPerUser != 10 || cfg.MaxTotalBots != 1000 {
		t.Errorf("cap defaults wrong: %d/%d", cfg.MaxBotsPerUser, cfg.MaxTotalBots)
	}
	if cfg.ReconnectBaseDelay != 5*time.Second || cfg.ReconnectGrowth != 1.5 || cfg.ReconnectMaxDelay != 5*time.Minute {
		t.Errorf("backoff defaults wrong: %v/%v/%v", cfg.ReconnectBaseDelay, cfg.ReconnectGrowth, cfg.ReconnectMaxDelay)
	}
	if cfg.MaxReconnectJava != 3 || cfg.MaxReconnectBedrock != 5 {
		t.Errorf("retry cap defaults wrong: %d/%d", cfg.MaxReconnectJava, cfg.MaxReconnectBedrock)
	}
	if !cfg.Presence {
		t.Error("presence should default to enabled")
	}
}

func TestLoadMissingToken(t *testing.T) {
	clearEnv(t)
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error when token missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ADMIN_IDS", "42, 99,not-a-number,7")
	t.Setenv("PORT", "9000")
	t.Setenv("CONNECT_TIMEOUT", "45")
	t.Setenv("CRAFTBOT_RECONNECT_BASE_DELAY", "2s")
	t.Setenv("CRAFTBOT_RECONNECT_GROWTH", "2.0")
	t.Setenv("CRAFTBOT_MAX_RECONNECT_JAVA", "8")
	t.Setenv("CRAFTBOT_PRESENCE", "false")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.HTTPAddr)
	}
	want := []int64{42, 99, 7}
	if len(cfg.TelegramAdminIDs) != len(want) {
		t.Fatalf("admin ids = %v", cfg.TelegramAdminIDs)
	}
	for i, id := range want {
		if cfg.TelegramAdminIDs[i] != id {
			t.Errorf("admin ids[%d] = %d, want %d", i, cfg.TelegramAdminIDs[i], id)
		}
	}
	if cfg.ConnectTimeout != 45*time.Second {
		t.Errorf("connect timeout = %v (bare seconds should parse)", cfg.ConnectTimeout)
	}
	if cfg.ReconnectBaseDelay != 2*time.Second || cfg.ReconnectGrowth != 2.0 {
		t.Errorf("backoff overrides wrong: %v/%v", cfg.ReconnectBaseDelay, cfg.ReconnectGrowth)
	}
	if cfg.MaxReconnectJava != 8 {
		t.Errorf("java retry cap = %d", cfg.MaxReconnectJava)
	}
	if cfg.Presence {
		t.Error("presence should be off")
	}
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "craftbot.yaml")
	data := []byte(`
database_path: /var/lib/craftbot.db
max_bots_per_user: 3
log_level: debug
reconnect_max_delay: 90s
presence: false
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRAFTBOT_CONFIG", path)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("LOG_LEVEL", "warn") // env 优先于 YAML

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "/var/lib/craftbot.db" || cfg.MaxBotsPerUser != 3 {
		t.Errorf("yaml values not applied: db=%q cap=%d", cfg.DatabasePath, cfg.MaxBotsPerUser)
	}
	if cfg.ReconnectMaxDelay != 90*time.Second {
		t.Errorf("reconnect max = %v", cfg.ReconnectMaxDelay)
	}
	if cfg.Presence {
		t.Error("yaml presence: false not applied")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, env should beat yaml", cfg.LogLevel)
	}
}

func TestLoadSecretStoreFallback(t *testing.T) {
	clearEnv(t)
	secrets := fakeSecrets{
		"env/TELEGRAM_BOT_TOKEN": "999:secret",
		"env/EVENT_WEBHOOK_URL":  "https://hooks.example.com/mc",
	}
	cfg, err := Load(secrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramBotToken != "999:secret" {
		t.Errorf("token = %q, want secret-store value", cfg.TelegramBotToken)
	}
	if cfg.EventWebhookURL != "https://hooks.example.com/mc" {
		t.Errorf("webhook = %q", cfg.EventWebhookURL)
	}

	// OS env beats the secret store
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	cfg, err = Load(secrets)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramBotToken != "123:abc" {
		t.Errorf("token = %q, env should win", cfg.TelegramBotToken)
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{TelegramAdminIDs: []int64{1, 2}}
	if !cfg.IsAdmin(2) || cfg.IsAdmin(3) {
		t.Error("IsAdmin membership check wrong")
	}
}
