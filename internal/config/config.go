package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	MongoURI      string           `yaml:"mongo_uri"`
	MongoDatabase string           `yaml:"mongo_database"`
	LogLevel      string           `yaml:"log_level"`
	Health        HealthConfig     `yaml:"health"`
	Scam          ScamConfig       `yaml:"scam"`
	Timers        TimerConfig      `yaml:"timers"`
	MessageLog    MessageLogConfig `yaml:"message_log"`
	GlobalChat    GlobalChatConfig `yaml:"global_chat"`
	Leveling      LevelingConfig   `yaml:"leveling"`
	AFK           AFKConfig        `yaml:"afk"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ScamConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

type TimerConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
}

type MessageLogConfig struct {
	FlushSeconds   int `yaml:"flush_seconds"`
	RetentionHours int `yaml:"retention_hours"`
}

type GlobalChatConfig struct {
	BurstMessages      int `yaml:"burst_messages"`
	BurstWindowSeconds int `yaml:"burst_window_seconds"`
	MaxLines           int `yaml:"max_lines"`
	MaxEmoji           int `yaml:"max_emoji"`
}

type LevelingConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	MinXP           int `yaml:"min_xp"`
	MaxXP           int `yaml:"max_xp"`
}

type AFKConfig struct {
	MinScheduleSeconds int `yaml:"min_schedule_seconds"`
}

func DefaultConfig() Config {
	return Config{
		MongoDatabase: "parrot",
		LogLevel:      "info",
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Scam: ScamConfig{
			Endpoint:       "https://anti-fish.bitflow.dev/check",
			TimeoutSeconds: 10,
			UserAgent:      "Parrot",
		},
		Timers:     TimerConfig{PollSeconds: 3},
		MessageLog: MessageLogConfig{FlushSeconds: 10, RetentionHours: 12},
		GlobalChat: GlobalChatConfig{
			BurstMessages:      3,
			BurstWindowSeconds: 5,
			MaxLines:           4,
			MaxEmoji:           10,
		},
		Leveling: LevelingConfig{CooldownSeconds: 60, MinXP: 10, MaxXP: 15},
		AFK:      AFKConfig{MinScheduleSeconds: 120},
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
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.MongoURI == "" {
		return Config{}, errors.New("MONGO_URI is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.MongoURI = envString("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = envString("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Scam.Endpoint = envString("SCAM_API_URL", cfg.Scam.Endpoint)
	cfg.Scam.TimeoutSeconds = envInt("SCAM_TIMEOUT_SECONDS", cfg.Scam.TimeoutSeconds)
	cfg.Scam.UserAgent = envString("SCAM_USER_AGENT", cfg.Scam.UserAgent)
	cfg.Timers.PollSeconds = envInt("TIMER_POLL_SECONDS", cfg.Timers.PollSeconds)
	cfg.MessageLog.FlushSeconds = envInt("MSGLOG_FLUSH_SECONDS", cfg.MessageLog.FlushSeconds)
	cfg.MessageLog.RetentionHours = envInt("MSGLOG_RETENTION_HOURS", cfg.MessageLog.RetentionHours)
	cfg.GlobalChat.BurstMessages = envInt("GLOBAL_BURST_MESSAGES", cfg.GlobalChat.BurstMessages)
	cfg.GlobalChat.BurstWindowSeconds = envInt("GLOBAL_BURST_WINDOW_SECONDS", cfg.GlobalChat.BurstWindowSeconds)
	cfg.GlobalChat.MaxLines = envInt("GLOBAL_MAX_LINES", cfg.GlobalChat.MaxLines)
	cfg.GlobalChat.MaxEmoji = envInt("GLOBAL_MAX_EMOJI", cfg.GlobalChat.MaxEmoji)
	cfg.Leveling.CooldownSeconds = envInt("LEVELING_COOLDOWN_SECONDS", cfg.Leveling.CooldownSeconds)
	cfg.Leveling.MinXP = envInt("LEVELING_MIN_XP", cfg.Leveling.MinXP)
	cfg.Leveling.MaxXP = envInt("LEVELING_MAX_XP", cfg.Leveling.MaxXP)
	cfg.AFK.MinScheduleSeconds = envInt("AFK_MIN_SCHEDULE_SECONDS", cfg.AFK.MinScheduleSeconds)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

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
