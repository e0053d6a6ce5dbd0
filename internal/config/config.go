package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cannies936/Level-Cannies/internal/history"
)

type Config struct {
	DiscordToken              string        `yaml:"discord_token"`
	LogLevel                  string        `yaml:"log_level"`
	CommandPrefix             string        `yaml:"command_prefix"`
	MuteRoleName              string        `yaml:"mute_role_name"`
	DefaultSecurityLogChannel string        `yaml:"default_security_log_channel"`
	Health                    HealthConfig  `yaml:"health"`
	Spam                      SpamConfig    `yaml:"spam"`
	Banword                   BanwordConfig `yaml:"banword"`
	Notices                   NoticeConfig  `yaml:"notices"`
	Confirm                   ConfirmConfig `yaml:"confirm"`
	Actions                   ActionConfig  `yaml:"actions"`
	Audit                     AuditConfig   `yaml:"audit"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SpamConfig is process-wide; every guild is evaluated against the same limits.
type SpamConfig struct {
	MessageLimit        int  `yaml:"message_limit"`
	TimeWindowSeconds   int  `yaml:"time_window_seconds"`
	DuplicateLimit      int  `yaml:"duplicate_limit"`
	WarningThreshold    int  `yaml:"warning_threshold"`
	MuteDurationSeconds int  `yaml:"mute_duration_seconds"`
	Enabled             bool `yaml:"enabled"`
}

func (c SpamConfig) TimeWindow() time.Duration {
	return time.Duration(c.TimeWindowSeconds) * time.Second
}

func (c SpamConfig) MuteDuration() time.Duration {
	return time.Duration(c.MuteDurationSeconds) * time.Second
}

func (c SpamConfig) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"message_limit", c.MessageLimit},
		{"time_window_seconds", c.TimeWindowSeconds},
		{"duplicate_limit", c.DuplicateLimit},
		{"warning_threshold", c.WarningThreshold},
		{"mute_duration_seconds", c.MuteDurationSeconds},
	}
	for _, field := range fields {
		if field.value <= 0 {
			return fmt.Errorf("spam.%s must be positive, got %d", field.name, field.value)
		}
	}
	// Larger limits could never be reached by the bounded history.
	if c.MessageLimit > history.MaxTimestamps {
		return fmt.Errorf("spam.message_limit must be at most %d, got %d", history.MaxTimestamps, c.MessageLimit)
	}
	if c.DuplicateLimit > history.MaxBodies {
		return fmt.Errorf("spam.duplicate_limit must be at most %d, got %d", history.MaxBodies, c.DuplicateLimit)
	}
	return nil
}

type BanwordConfig struct {
	MuteSeconds   int `yaml:"mute_seconds"`
	MaxWordLength int `yaml:"max_word_length"`
}

func (c BanwordConfig) MuteDuration() time.Duration {
	return time.Duration(c.MuteSeconds) * time.Second
}

// NoticeConfig holds auto-dismiss delays (seconds) for channel notices.
type NoticeConfig struct {
	SpamWarningSeconds   int         `yaml:"spam_warning_seconds"`
	SpamMuteSeconds      int         `yaml:"spam_mute_seconds"`
	BanwordDeleteSeconds int         `yaml:"banword_delete_seconds"`
	BanwordWarnSeconds   int         `yaml:"banword_warn_seconds"`
	BanwordMuteSeconds   int         `yaml:"banword_mute_seconds"`
	EmbedColors          EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

type ConfirmConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (c ConfirmConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ActionConfig struct {
	OverwritesPerSecond int `yaml:"overwrites_per_second"`
	OverwriteWorkers    int `yaml:"overwrite_workers"`
	RoleCacheSize       int `yaml:"role_cache_size"`
	RoleCacheMinutes    int `yaml:"role_cache_minutes"`
}

type AuditConfig struct {
	RecentEntries int `yaml:"recent_entries"`
	RecentHours   int `yaml:"recent_hours"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:                  "info",
		CommandPrefix:             "n!",
		MuteRoleName:              "Muted",
		DefaultSecurityLogChannel: "",
		Health:                    HealthConfig{Enabled: false, Addr: ":8080"},
		Spam: SpamConfig{
			MessageLimit:        5,
			TimeWindowSeconds:   10,
			DuplicateLimit:      3,
			WarningThreshold:    2,
			MuteDurationSeconds: 300,
			Enabled:             true,
		},
		Banword: BanwordConfig{MuteSeconds: 1800, MaxWordLength: 100},
		Notices: NoticeConfig{
			SpamWarningSeconds:   10,
			SpamMuteSeconds:      20,
			BanwordDeleteSeconds: 10,
			BanwordWarnSeconds:   15,
			BanwordMuteSeconds:   20,
			EmbedColors: EmbedColors{
				Action:  0x22C55E,
				Warning: 0xF59E0B,
				Error:   0xEF4444,
			},
		},
		Confirm: ConfirmConfig{TimeoutSeconds: 30},
		Actions: ActionConfig{
			OverwritesPerSecond: 5,
			OverwriteWorkers:    4,
			RoleCacheSize:       1024,
			RoleCacheMinutes:    60,
		},
		Audit: AuditConfig{RecentEntries: 4096, RecentHours: 24},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Spam.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return errors.New("command_prefix must not be empty")
	}
	if strings.TrimSpace(c.MuteRoleName) == "" {
		return errors.New("mute_role_name must not be empty")
	}
	if c.Banword.MuteSeconds <= 0 {
		return fmt.Errorf("banword.mute_seconds must be positive, got %d", c.Banword.MuteSeconds)
	}
	if c.Banword.MaxWordLength <= 0 {
		return fmt.Errorf("banword.max_word_length must be positive, got %d", c.Banword.MaxWordLength)
	}
	if c.Confirm.TimeoutSeconds <= 0 {
		return fmt.Errorf("confirm.timeout_seconds must be positive, got %d", c.Confirm.TimeoutSeconds)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DiscordToken = envString("DISCORD_BOT_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.CommandPrefix = envString("COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.MuteRoleName = envString("MUTE_ROLE_NAME", cfg.MuteRoleName)
	cfg.DefaultSecurityLogChannel = envString("DEFAULT_SECURITY_LOG_CHANNEL", cfg.DefaultSecurityLogChannel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Spam.MessageLimit = envInt("SPAM_MESSAGE_LIMIT", cfg.Spam.MessageLimit)
	cfg.Spam.TimeWindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Spam.TimeWindowSeconds)
	cfg.Spam.DuplicateLimit = envInt("SPAM_DUPLICATE_LIMIT", cfg.Spam.DuplicateLimit)
	cfg.Spam.WarningThreshold = envInt("SPAM_WARNING_THRESHOLD", cfg.Spam.WarningThreshold)
	cfg.Spam.MuteDurationSeconds = envInt("SPAM_MUTE_SECONDS", cfg.Spam.MuteDurationSeconds)
	cfg.Spam.Enabled = envBool("SPAM_ENABLED", cfg.Spam.Enabled)
	cfg.Banword.MuteSeconds = envInt("BANWORD_MUTE_SECONDS", cfg.Banword.MuteSeconds)
	cfg.Confirm.TimeoutSeconds = envInt("CONFIRM_TIMEOUT_SECONDS", cfg.Confirm.TimeoutSeconds)
	cfg.Actions.OverwritesPerSecond = envInt("OVERWRITES_PER_SECOND", cfg.Actions.OverwritesPerSecond)
	cfg.Notices.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notices.EmbedColors.Action)
	cfg.Notices.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notices.EmbedColors.Warning)
	cfg.Notices.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notices.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
