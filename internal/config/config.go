package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string             `yaml:"discord_token"`
	LogLevel      string             `yaml:"log_level"`
	RetentionDays int                `yaml:"retention_days"`
	GuildConfigs  GuildConfigsConfig `yaml:"guild_configs"`
	Ops           OpsConfig          `yaml:"ops"`
	Postgres      PostgresConfig     `yaml:"postgres"`
	Redis         RedisConfig        `yaml:"redis"`
	Dispatch      DispatchConfig     `yaml:"dispatch"`
	Playbook      PlaybookConfig     `yaml:"playbook"`
	Verification  VerificationConfig `yaml:"verification"`
	Tracker       TrackerConfig      `yaml:"tracker"`
}

type GuildConfigsConfig struct {
	Dir      string `yaml:"dir"`
	Template string `yaml:"template"`
}

type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig enables the audit store and infraction counters when DSN is set.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig moves action cooldowns to redis when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type DispatchConfig struct {
	TimeoutSeconds         int     `yaml:"timeout_seconds"`
	QuarantineRole         string  `yaml:"quarantine_role"`
	RatePerSecond          float64 `yaml:"rate_per_second"`
	Burst                  int     `yaml:"burst"`
	CooldownSeconds        int     `yaml:"cooldown_seconds"`
	DeleteMessageDays      int     `yaml:"delete_message_days"`
	InfractionForgiveHours int     `yaml:"infraction_forgive_hours"`
}

type PlaybookConfig struct {
	LockdownMinutes int `yaml:"lockdown_minutes"`
}

type VerificationConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type TrackerConfig struct {
	MaxUsers int `yaml:"max_users"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 30,
		GuildConfigs:  GuildConfigsConfig{Dir: "data/guilds"},
		Ops:           OpsConfig{Enabled: false, Addr: ":8080"},
		Dispatch: DispatchConfig{
			TimeoutSeconds:         15,
			QuarantineRole:         "Quarantined",
			RatePerSecond:          5,
			Burst:                  5,
			CooldownSeconds:        30,
			DeleteMessageDays:      1,
			InfractionForgiveHours: 72,
		},
		Playbook:     PlaybookConfig{LockdownMinutes: 10},
		Verification: VerificationConfig{MaxAttempts: 3},
		Tracker:      TrackerConfig{MaxUsers: 50000},
	}
}

// env lists the variables that override the YAML file. Unset variables leave the
// field nil so file values survive.
type env struct {
	DiscordToken           *string  `envconfig:"DISCORD_TOKEN"`
	LogLevel               *string  `envconfig:"LOG_LEVEL"`
	RetentionDays          *int     `envconfig:"RETENTION_DAYS"`
	GuildConfigDir         *string  `envconfig:"GUILD_CONFIG_DIR"`
	GuildConfigTemplate    *string  `envconfig:"GUILD_CONFIG_TEMPLATE"`
	OpsEnabled             *bool    `envconfig:"OPS_ENABLED"`
	OpsAddr                *string  `envconfig:"OPS_ADDR"`
	PostgresDSN            *string  `envconfig:"POSTGRES_DSN"`
	RedisURL               *string  `envconfig:"REDIS_URL"`
	DispatchTimeoutSeconds *int     `envconfig:"DISPATCH_TIMEOUT_SECONDS"`
	QuarantineRole         *string  `envconfig:"QUARANTINE_ROLE"`
	DispatchRatePerSecond  *float64 `envconfig:"DISPATCH_RATE_PER_SECOND"`
	DispatchBurst          *int     `envconfig:"DISPATCH_BURST"`
	CooldownSeconds        *int     `envconfig:"COOLDOWN_SECONDS"`
	DeleteMessageDays      *int     `envconfig:"DELETE_MESSAGE_DAYS"`
	InfractionForgiveHours *int     `envconfig:"INFRACTION_FORGIVE_HOURS"`
	LockdownMinutes        *int     `envconfig:"LOCKDOWN_MINUTES"`
	VerificationAttempts   *int     `envconfig:"VERIFICATION_MAX_ATTEMPTS"`
	TrackerMaxUsers        *int     `envconfig:"TRACKER_MAX_USERS"`
}

// Load reads path over the defaults, then applies environment overrides. An empty path
// falls back to CONFIG_PATH, then config.yaml; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks what the bot needs to connect.
func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.GuildConfigs.Dir == "" {
		return errors.New("guild_configs.dir is required")
	}
	return nil
}

func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DispatchConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c DispatchConfig) InfractionForgiveAge() time.Duration {
	return time.Duration(c.InfractionForgiveHours) * time.Hour
}

func applyEnv(cfg *Config) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	set(&cfg.DiscordToken, e.DiscordToken)
	set(&cfg.LogLevel, e.LogLevel)
	set(&cfg.RetentionDays, e.RetentionDays)
	set(&cfg.GuildConfigs.Dir, e.GuildConfigDir)
	set(&cfg.GuildConfigs.Template, e.GuildConfigTemplate)
	set(&cfg.Ops.Enabled, e.OpsEnabled)
	set(&cfg.Ops.Addr, e.OpsAddr)
	set(&cfg.Postgres.DSN, e.PostgresDSN)
	set(&cfg.Redis.URL, e.RedisURL)
	set(&cfg.Dispatch.TimeoutSeconds, e.DispatchTimeoutSeconds)
	set(&cfg.Dispatch.QuarantineRole, e.QuarantineRole)
	set(&cfg.Dispatch.RatePerSecond, e.DispatchRatePerSecond)
	set(&cfg.Dispatch.Burst, e.DispatchBurst)
	set(&cfg.Dispatch.CooldownSeconds, e.CooldownSeconds)
	set(&cfg.Dispatch.DeleteMessageDays, e.DeleteMessageDays)
	set(&cfg.Dispatch.InfractionForgiveHours, e.InfractionForgiveHours)
	set(&cfg.Playbook.LockdownMinutes, e.LockdownMinutes)
	set(&cfg.Verification.MaxAttempts, e.VerificationAttempts)
	set(&cfg.Tracker.MaxUsers, e.TrackerMaxUsers)
	return nil
}

func set[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
