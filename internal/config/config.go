package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tg-notify-relay/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Twilio     TwilioConfig     `mapstructure:"twilio"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	APIKey          string        `mapstructure:"api_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelegramConfig 描述 Telegram 推送与轮询参数。
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

// TwilioConfig 描述电话升级通道参数。
type TwilioConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AccountSID     string        `mapstructure:"account_sid"`
	AuthToken      string        `mapstructure:"auth_token"`
	From           string        `mapstructure:"from"`
	To             string        `mapstructure:"to"`
	Language       string        `mapstructure:"language"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EscalationConfig tunes the acknowledgment deadline machinery.
type EscalationConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Retention time.Duration `mapstructure:"retention"`
}

// MailboxConfig bounds command retention.
type MailboxConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	MaxAge     time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig encapsulates optional PostgreSQL audit persistence.
type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "notifyrelay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")
	v.SetDefault("telegram.poll_timeout", "30s")

	v.SetDefault("twilio.enabled", false)
	v.SetDefault("twilio.language", "zh-CN")
	v.SetDefault("twilio.api_base", "https://api.twilio.com")
	v.SetDefault("twilio.request_timeout", "30s")

	v.SetDefault("escalation.window", "5m")
	v.SetDefault("escalation.retention", "10m")

	v.SetDefault("mailbox.max_entries", 1000)
	v.SetDefault("mailbox.max_age", "24h")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.audit_retention", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token 必须配置")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id 必须配置")
	}
	if c.Escalation.Window <= 0 {
		return fmt.Errorf("escalation.window must be greater than zero")
	}
	if c.Escalation.Retention <= 0 {
		return fmt.Errorf("escalation.retention must be greater than zero")
	}
	if c.Mailbox.MaxEntries <= 0 {
		return fmt.Errorf("mailbox.max_entries must be greater than zero")
	}
	if c.Mailbox.MaxAge <= 0 {
		return fmt.Errorf("mailbox.max_age must be greater than zero")
	}
	if c.Database.DSN != "" && c.Database.AuditRetention <= 0 {
		return fmt.Errorf("database.audit_retention must be greater than zero")
	}
	if c.Twilio.Enabled {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			return fmt.Errorf("twilio.account_sid 与 twilio.auth_token 必须配置")
		}
		if c.Twilio.From == "" || c.Twilio.To == "" {
			return fmt.Errorf("twilio.from 与 twilio.to 必须配置")
		}
	}
	return nil
}
