// Package config loads orchestrator settings from .env, an optional config
// file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	WhatsApp   WhatsAppConfig
	Device     DeviceConfig
	Redis      RedisConfig
	Proxy      ProxyConfig
	Session    SessionConfig
	Completion CompletionConfig
	AutoReply  AutoReplyConfig
	Viability  ViabilityConfig
	Telegram   TelegramConfig
	Log        LogConfig
}

type ServerConfig struct {
	Addr string
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

type WhatsAppConfig struct {
	SessionsDir string
	StoreDriver string // sqlite3 or postgres
	StoreDSN    string
}

type DeviceConfig struct {
	Seed    string
	Country string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type ProxyConfig struct {
	List           string
	Type           string
	HealthInterval time.Duration
	HealthTarget   string
	CheckDelay     time.Duration
}

type SessionConfig struct {
	BatchLimit     int
	ReconnectDelay time.Duration
}

type CompletionConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

type AutoReplyConfig struct {
	DedupTTL time.Duration
}

type ViabilityConfig struct {
	APIURL string
	APIKey string
}

type TelegramConfig struct {
	Token  string
	ChatID string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:./data/orchestrator.db?_busy_timeout=5000&_foreign_keys=on")
	v.SetDefault("whatsapp.sessions_dir", "./sessions")
	v.SetDefault("whatsapp.store_driver", "sqlite3")
	v.SetDefault("whatsapp.store_dsn", "")
	v.SetDefault("device.seed", "default-seed")
	v.SetDefault("device.country", "BR")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "orchestrator")
	v.SetDefault("proxy.list", "")
	v.SetDefault("proxy.type", "socks5")
	v.SetDefault("proxy.health_interval", 5*time.Minute)
	v.SetDefault("proxy.health_target", "https://www.google.com")
	v.SetDefault("proxy.check_delay", 2*time.Second)
	v.SetDefault("session.batch_limit", 50)
	v.SetDefault("session.reconnect_delay", 5*time.Second)
	v.SetDefault("completion.base_url", "https://api.openai.com/v1/")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.model", "gpt-4o-mini")
	v.SetDefault("completion.max_tokens", 500)
	v.SetDefault("completion.system_prompt", "")
	v.SetDefault("autoreply.dedup_ttl", 5*time.Hour)
	v.SetDefault("viability.api_url", "")
	v.SetDefault("viability.api_key", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads .env (if present), then the optional config file at path,
// then environment variables such as PROXY_LIST or COMPLETION_API_KEY.
func Load(path string) (*Config, error) {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server:   ServerConfig{Addr: v.GetString("server.addr")},
		Database: DatabaseConfig{Driver: v.GetString("database.driver"), DSN: v.GetString("database.dsn")},
		WhatsApp: WhatsAppConfig{
			SessionsDir: v.GetString("whatsapp.sessions_dir"),
			StoreDriver: v.GetString("whatsapp.store_driver"),
			StoreDSN:    v.GetString("whatsapp.store_dsn"),
		},
		Device: DeviceConfig{Seed: v.GetString("device.seed"), Country: v.GetString("device.country")},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Proxy: ProxyConfig{
			List:           v.GetString("proxy.list"),
			Type:           v.GetString("proxy.type"),
			HealthInterval: v.GetDuration("proxy.health_interval"),
			HealthTarget:   v.GetString("proxy.health_target"),
			CheckDelay:     v.GetDuration("proxy.check_delay"),
		},
		Session: SessionConfig{
			BatchLimit:     v.GetInt("session.batch_limit"),
			ReconnectDelay: v.GetDuration("session.reconnect_delay"),
		},
		Completion: CompletionConfig{
			BaseURL:      v.GetString("completion.base_url"),
			APIKey:       v.GetString("completion.api_key"),
			Model:        v.GetString("completion.model"),
			MaxTokens:    v.GetInt("completion.max_tokens"),
			SystemPrompt: v.GetString("completion.system_prompt"),
		},
		AutoReply: AutoReplyConfig{DedupTTL: v.GetDuration("autoreply.dedup_ttl")},
		Viability: ViabilityConfig{APIURL: v.GetString("viability.api_url"), APIKey: v.GetString("viability.api_key")},
		Telegram:  TelegramConfig{Token: v.GetString("telegram.token"), ChatID: v.GetString("telegram.chat_id")},
		Log:       LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Session.BatchLimit <= 0 {
		return fmt.Errorf("session.batch_limit must be positive")
	}
	switch c.Proxy.Type {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("proxy.type must be http, https or socks5, got %q", c.Proxy.Type)
	}
	return nil
}
