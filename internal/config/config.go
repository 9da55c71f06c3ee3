// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"trivia-game-bot/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Bot          BotConfig          `mapstructure:"bot"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Game         GameConfig         `mapstructure:"game"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	Difficulties []DifficultyConfig `mapstructure:"difficulties"`
}

// BotConfig holds chat platform configuration.
type BotConfig struct {
	Token        string  `mapstructure:"token"`
	AllowedChats []int64 `mapstructure:"allowed_chats"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the turn-queue store connection configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GameConfig holds session timing configuration.
type GameConfig struct {
	PrepTimeoutSeconds     int `mapstructure:"prep_timeout_seconds"`
	ResponseTimeSeconds    int `mapstructure:"response_time_seconds"`
	SessionDurationSeconds int `mapstructure:"session_duration_seconds"`
	ThemeSampleSize        int `mapstructure:"theme_sample_size"`
}

// DispatcherConfig holds worker pool configuration.
type DispatcherConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// DifficultyConfig describes one entry of the fixed difficulty set
// seeded into the database at startup.
type DifficultyConfig struct {
	Title              string `mapstructure:"title"`
	RightAnswersToWin  int    `mapstructure:"right_answers_to_win"`
	WrongAnswersToLose int    `mapstructure:"wrong_answers_to_lose"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. BOT_TOKEN, DATABASE_HOST, REDIS_ADDR.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "trivia")
	v.SetDefault("database.name", "trivia")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("game.prep_timeout_seconds", 30)
	v.SetDefault("game.response_time_seconds", model.DefaultResponseTime)
	v.SetDefault("game.session_duration_seconds", model.DefaultSessionDuration)
	v.SetDefault("game.theme_sample_size", 3)

	v.SetDefault("dispatcher.workers", 8)
	v.SetDefault("dispatcher.queue_size", 1024)
	v.SetDefault("dispatcher.stop_timeout", "10s")

	v.SetDefault("difficulties", []map[string]any{
		{"title": "green", "right_answers_to_win": 5, "wrong_answers_to_lose": 3},
		{"title": "yellow", "right_answers_to_win": 4, "wrong_answers_to_lose": 2},
		{"title": "red", "right_answers_to_win": 3, "wrong_answers_to_lose": 1},
	})
}

// IsChatAllowed checks if a chat ID is in the allow-list.
// An empty allow-list means all chats are allowed.
func (c *Config) IsChatAllowed(chatID int64) bool {
	if len(c.Bot.AllowedChats) == 0 {
		return true
	}
	for _, id := range c.Bot.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}
