package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// RunModeMessenger serves the Messenger webhook over HTTP.
	RunModeMessenger = "messenger"
	// RunModeTelegram runs the Telegram transport instead of the webhook server.
	RunModeTelegram = "telegram"
)

const (
	// LivesPolicyContinue keeps the game going when lives reach zero.
	LivesPolicyContinue = "continue"
	// LivesPolicyEnd ends the game when lives reach zero.
	LivesPolicyEnd = "end"
)

// MessengerConfig holds Messenger platform credentials and endpoints.
type MessengerConfig struct {
	VerifyToken string `yaml:"verify_token" envconfig:"VERIFY_TOKEN"`
	PageToken   string `yaml:"page_token" envconfig:"PAGE_TOKEN"`
	APIURL      string `yaml:"api_url" envconfig:"MESSENGER_API_URL"`
}

// WebhookConfig specifies the HTTP listener for inbound webhooks.
type WebhookConfig struct {
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Path   string `yaml:"path" envconfig:"WEBHOOK_PATH"`
	// URL is the public URL registered with Telegram when it runs in webhook mode.
	URL string `yaml:"url" envconfig:"WEBHOOK_URL"`
}

// TelegramConfig holds settings for the Telegram run mode.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// Poller is "longpoll" (default) or "webhook".
	Poller string `yaml:"poller" envconfig:"TELEGRAM_POLLER"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// RedisConfig locates the session store.
type RedisConfig struct {
	Host      string `yaml:"host" envconfig:"REDIS_HOST"`
	Port      int    `yaml:"port" envconfig:"REDIS_PORT"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig holds Postgres settings for the delivery failure ledger.
// An empty Host disables the ledger.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// Enabled reports whether a database was configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.Host) != ""
}

// GameConfig controls level loading and game rules.
type GameConfig struct {
	LevelsDir    string `yaml:"levels_dir" envconfig:"LEVELS_DIR"`
	DefaultLevel string `yaml:"default_level" envconfig:"DEFAULT_LEVEL"`
	ImageBaseURL string `yaml:"image_base_url" envconfig:"IMAGE_BASE_URL"`
	LivesPolicy  string `yaml:"lives_policy" envconfig:"LIVES_POLICY"`
}

// TimeoutsConfig bounds every external call made during a turn.
type TimeoutsConfig struct {
	StoreMS int `yaml:"store_ms" envconfig:"STORE_TIMEOUT_MS"`
	SendMS  int `yaml:"send_ms" envconfig:"SEND_TIMEOUT_MS"`
}

// Store returns the store call timeout.
func (t TimeoutsConfig) Store() time.Duration { return time.Duration(t.StoreMS) * time.Millisecond }

// Send returns the per-attempt send timeout.
func (t TimeoutsConfig) Send() time.Duration { return time.Duration(t.SendMS) * time.Millisecond }

// SenderConfig tunes outbound delivery retries.
type SenderConfig struct {
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
	MaxDurationMS  int `yaml:"max_duration_ms" envconfig:"SENDER_MAX_DURATION_MS"`
}

// DispatchConfig tunes batch fan-out.
type DispatchConfig struct {
	MaxParallelUsers int `yaml:"max_parallel_users" envconfig:"DISPATCH_MAX_PARALLEL_USERS"`
}

// DedupeConfig controls redelivery de-duplication. TTLSeconds == 0 disables it.
type DedupeConfig struct {
	TTLSeconds *int `yaml:"ttl_seconds" envconfig:"DEDUPE_TTL_SECONDS"`
}

// TTL returns the retention window; zero means disabled.
func (d DedupeConfig) TTL() time.Duration {
	if d.TTLSeconds == nil {
		return 0
	}
	return time.Duration(*d.TTLSeconds) * time.Second
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	RunMode   string          `yaml:"run_mode" envconfig:"RUN_MODE"`
	Messenger MessengerConfig `yaml:"messenger"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Game      GameConfig      `yaml:"game"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Sender    SenderConfig    `yaml:"sender"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
// An empty path skips the file and relies on the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.RunMode))
	if rm == "" {
		rm = RunModeMessenger
	}
	switch rm {
	case RunModeMessenger:
		if strings.TrimSpace(cfg.Messenger.VerifyToken) == "" {
			return fmt.Errorf("messenger.verify_token is required when run_mode is 'messenger'")
		}
		if strings.TrimSpace(cfg.Messenger.PageToken) == "" {
			return fmt.Errorf("messenger.page_token is required when run_mode is 'messenger'")
		}
	case RunModeTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when run_mode is 'telegram'")
		}
		poller := strings.ToLower(strings.TrimSpace(cfg.Telegram.Poller))
		if poller == "" || poller == "polling" {
			poller = "longpoll"
		}
		if poller != "longpoll" && poller != "webhook" {
			return fmt.Errorf("invalid telegram.poller %q; allowed: longpoll, webhook", cfg.Telegram.Poller)
		}
		if poller == "webhook" && strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.poller is 'webhook'")
		}
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
		cfg.Telegram.Poller = poller
	default:
		return fmt.Errorf("invalid run_mode %q; allowed: messenger, telegram", cfg.RunMode)
	}
	cfg.RunMode = rm

	if cfg.Messenger.APIURL == "" {
		cfg.Messenger.APIURL = "https://graph.facebook.com/v2.6/me/messages"
	}
	if cfg.Webhook.Listen == "" {
		cfg.Webhook.Listen = "0.0.0.0"
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 3000
	}
	if cfg.Webhook.Port < 0 {
		return fmt.Errorf("webhook.port must be > 0")
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/"
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		cfg.Webhook.Path = "/" + cfg.Webhook.Path
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "plq:states:"
	}

	if cfg.Database.Enabled() {
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 4
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = "migrations"
		}
	}

	if cfg.Game.LevelsDir == "" {
		cfg.Game.LevelsDir = "levels"
	}
	if cfg.Game.DefaultLevel == "" {
		cfg.Game.DefaultLevel = "level-1"
	}
	if cfg.Game.ImageBaseURL == "" {
		cfg.Game.ImageBaseURL = "https://storage.googleapis.com/pinoy-logos-quiz"
	}
	cfg.Game.ImageBaseURL = strings.TrimRight(cfg.Game.ImageBaseURL, "/")
	lp := strings.ToLower(strings.TrimSpace(cfg.Game.LivesPolicy))
	switch lp {
	case "":
		lp = LivesPolicyContinue
	case LivesPolicyContinue, LivesPolicyEnd:
	default:
		return fmt.Errorf("invalid game.lives_policy %q; allowed: continue, end", cfg.Game.LivesPolicy)
	}
	cfg.Game.LivesPolicy = lp

	if cfg.Timeouts.StoreMS <= 0 {
		cfg.Timeouts.StoreMS = 2000
	}
	if cfg.Timeouts.SendMS <= 0 {
		cfg.Timeouts.SendMS = 5000
	}

	if cfg.Sender.MaxRetries < 0 {
		return fmt.Errorf("sender.max_retries must be >= 0")
	}
	if cfg.Sender.MaxRetries == 0 {
		cfg.Sender.MaxRetries = 2
	}
	if cfg.Sender.RetryBackoffMS <= 0 {
		cfg.Sender.RetryBackoffMS = 500
	}
	if cfg.Sender.MaxDurationMS <= 0 {
		cfg.Sender.MaxDurationMS = 12000
	}

	if cfg.Dispatch.MaxParallelUsers <= 0 {
		cfg.Dispatch.MaxParallelUsers = 16
	}

	if cfg.Dedupe.TTLSeconds == nil {
		ttl := 600
		cfg.Dedupe.TTLSeconds = &ttl
	}
	if *cfg.Dedupe.TTLSeconds < 0 {
		return fmt.Errorf("dedupe.ttl_seconds must be >= 0")
	}
	return nil
}
