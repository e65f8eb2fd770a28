// internal/config/config.go
//
// Typed server configuration.
// Values come from the process environment, optionally pre-populated from a
// .env file (godotenv), and are read through viper with defaults.
//
// Environment variables:
//   PORT, LOG_LEVEL, LOG_FORMAT, DB_PATH, CORPUS_SEED_FILE, CHARS_FILE,
//   GAME_TIME_LIMIT, GAME_DIFFICULTY, JWT_SECRET, JWT_EXPIRES_DAYS,
//   COOKIE_NAME, CLIENT_ORIGIN, DAILY_SALT, NODE_ENV

package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	Port      string `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // json | console
	DBPath    string `mapstructure:"DB_PATH"`

	CorpusSeedFile string `mapstructure:"CORPUS_SEED_FILE"` // replaces the embedded sample corpus
	CharsFile      string `mapstructure:"CHARS_FILE"`       // replaces the embedded character list

	GameTimeLimit  int    `mapstructure:"GAME_TIME_LIMIT"` // seconds
	GameDifficulty string `mapstructure:"GAME_DIFFICULTY"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTExpiresDays int    `mapstructure:"JWT_EXPIRES_DAYS"`
	CookieName     string `mapstructure:"COOKIE_NAME"`
	ClientOrigin   string `mapstructure:"CLIENT_ORIGIN"`
	DailySalt      string `mapstructure:"DAILY_SALT"`
	NodeEnv        string `mapstructure:"NODE_ENV"`
}

var defaults = map[string]any{
	"PORT":             "5175",
	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "json",
	"DB_PATH":          "./data/poetry.db",
	"CORPUS_SEED_FILE": "",
	"CHARS_FILE":       "",
	"GAME_TIME_LIMIT":  15,
	"GAME_DIFFICULTY":  "medium",
	"JWT_SECRET":       "dev_secret_change_me",
	"JWT_EXPIRES_DAYS": 14,
	"COOKIE_NAME":      "feihua_token",
	"CLIENT_ORIGIN":    "http://localhost:5173",
	"DAILY_SALT":       "local_dev_salt",
	"NODE_ENV":         "",
}

// Load reads .env files (missing files are fine) and the environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.GameTimeLimit <= 0 {
		return nil, fmt.Errorf("GAME_TIME_LIMIT must be positive, got %d", cfg.GameTimeLimit)
	}
	return &cfg, nil
}

// Production reports whether cookies must be Secure / SameSite=None.
func (c *Config) Production() bool { return c.NodeEnv == "production" }
