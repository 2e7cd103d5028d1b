package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDSN = "sqlite://animehub.db"

	defaultSessionTTL    = 24 * time.Hour
	defaultRetention     = 10 * time.Minute
	defaultPruneInterval = time.Minute
	defaultActiveWindow  = 5 * time.Minute
	defaultPresenceGrace = time.Second
	defaultBacklog       = 50
	defaultEventsPerSec  = 10
	defaultEventBurst    = 20
)

type Config struct {
	Port          string
	DatabaseDSN   string
	Env           string
	SessionTTL    time.Duration
	ChatRetention time.Duration
	PruneInterval time.Duration
	ChatBacklog   int
	ActiveWindow  time.Duration
	PresenceGrace time.Duration
	EventsPerSec  int
	EventBurst    int
	CORSOrigins   []string
}

// Load 仅从环境变量读取配置。
func Load() Config {
	cfg, _ := LoadFile("")
	return cfg
}

// LoadFile 先读取可选的 yaml 文件，再由环境变量覆盖；非正数或无法解析的数值回退为默认值。
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("app_port", "8080")
	v.SetDefault("database_dsn", DefaultDSN)
	v.SetDefault("app_env", "dev")
	v.SetDefault("cors_origins", "")
	v.AutomaticEnv()

	var err error
	if path != "" {
		v.SetConfigFile(path)
		if rerr := v.ReadInConfig(); rerr != nil {
			err = fmt.Errorf("read config: %w", rerr)
		}
	}

	return Config{
		Port:          v.GetString("app_port"),
		DatabaseDSN:   v.GetString("database_dsn"),
		Env:           v.GetString("app_env"),
		SessionTTL:    duration(v, "session_ttl", defaultSessionTTL),
		ChatRetention: duration(v, "chat_retention", defaultRetention),
		PruneInterval: duration(v, "chat_prune_interval", defaultPruneInterval),
		ChatBacklog:   positive(v, "chat_backlog", defaultBacklog),
		ActiveWindow:  duration(v, "active_window", defaultActiveWindow),
		PresenceGrace: duration(v, "presence_grace", defaultPresenceGrace),
		EventsPerSec:  positive(v, "ws_events_per_second", defaultEventsPerSec),
		EventBurst:    positive(v, "ws_event_burst", defaultEventBurst),
		CORSOrigins:   splitList(v.GetString("cors_origins")),
	}, err
}

func duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	d := v.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}

func positive(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	n := v.GetInt(key)
	if n <= 0 {
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 拒绝无法对外服务的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	switch cfg.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("unknown env %q", cfg.Env)
	}
	if cfg.ChatRetention <= 0 {
		return errors.New("chat retention must be positive")
	}
	if cfg.Env == "prod" && cfg.DatabaseDSN == DefaultDSN {
		return errors.New("default sqlite dsn is not allowed in prod")
	}
	return nil
}
