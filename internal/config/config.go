// Package config loads the bot's settings from the environment.
//
// A .env file in the working directory is read first if it exists; variables
// already set in the process environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type BotMode string

const (
	ModePolling BotMode = "polling"
	ModeWebhook BotMode = "webhook"
)

type StoreKind string

const (
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
	StoreMemory   StoreKind = "memory"
)

const DefaultSignalTemplate = "%s is calling everyone for a break!"

type Config struct {
	// Telegram
	BotToken      string
	BotUsername   string
	BotMode       BotMode
	BotDisabled   bool
	WebhookURL    string
	WebhookSecret string

	// HTTP
	Port           int
	APIEnabled     bool
	APITokenSecret string // empty leaves /api unauthenticated

	// Storage
	Store       StoreKind
	DBPath      string
	DatabaseURL string
	RedisAddr   string // empty keeps cooldowns in Store
	RedisDB     int

	// Lobby behaviour
	Cooldown          time.Duration
	FanoutConcurrency int
	FanoutRate        float64
	SendTimeout       time.Duration
	SignalTemplate    string

	// Logging
	LogLevel  slog.Level
	LogFormat string
}

// Load reads the given env files (".env" when none are given), then the
// process environment, and validates the result. Missing files are skipped.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading env file: %w", err)
	}
	return fromEnv(os.Getenv)
}

// fromEnv builds a Config from getenv. Every malformed value is reported, not
// only the first.
func fromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		BotToken:      getenv("BOT_TOKEN"),
		BotUsername:   strings.TrimPrefix(getenv("BOT_USERNAME"), "@"),
		BotMode:       BotMode(p.str("BOT_MODE", string(ModePolling))),
		BotDisabled:   p.boolean("BOT_DISABLED", false),
		WebhookURL:    getenv("WEBHOOK_URL"),
		WebhookSecret: getenv("WEBHOOK_SECRET"),

		Port:           p.integer("PORT", 8080),
		APIEnabled:     p.boolean("API_ENABLED", false),
		APITokenSecret: getenv("API_TOKEN_SECRET"),

		Store:       StoreKind(p.str("STORE", string(StoreSQLite))),
		DBPath:      p.str("DB_PATH", "data/breakroom.db"),
		DatabaseURL: getenv("DATABASE_URL"),
		RedisAddr:   getenv("REDIS_ADDR"),
		RedisDB:     p.integer("REDIS_DB", 0),

		Cooldown:          time.Duration(p.integer("COOLDOWN_SECONDS", 300)) * time.Second,
		FanoutConcurrency: p.integer("FANOUT_CONCURRENCY", 8),
		FanoutRate:        p.float("FANOUT_RATE", 25),
		SendTimeout:       p.duration("SEND_TIMEOUT", 10*time.Second),
		SignalTemplate:    p.str("SIGNAL_TEMPLATE", DefaultSignalTemplate),

		LogLevel:  p.level("LOG_LEVEL", slog.LevelInfo),
		LogFormat: strings.ToLower(p.str("LOG_FORMAT", "text")),
	}

	p.errs = append(p.errs, cfg.validate()...)
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(p.errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error

	if !c.BotDisabled {
		if c.BotToken == "" {
			errs = append(errs, errors.New("BOT_TOKEN is required"))
		}
		if c.BotUsername == "" {
			errs = append(errs, errors.New("BOT_USERNAME is required"))
		}
	}

	switch c.BotMode {
	case ModePolling:
	case ModeWebhook:
		if !c.BotDisabled && c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("BOT_MODE %q: want polling or webhook", c.BotMode))
	}

	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE %q: want sqlite, postgres or memory", c.Store))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.APITokenSecret != "" && len(c.APITokenSecret) < 16 {
		errs = append(errs, errors.New("API_TOKEN_SECRET must be at least 16 characters"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, errors.New("COOLDOWN_SECONDS must be positive"))
	}
	if c.FanoutConcurrency <= 0 {
		errs = append(errs, errors.New("FANOUT_CONCURRENCY must be positive"))
	}
	if c.FanoutRate <= 0 {
		errs = append(errs, errors.New("FANOUT_RATE must be positive"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	if strings.Count(c.SignalTemplate, "%s") != 1 || strings.Count(c.SignalTemplate, "%") != 1 {
		errs = append(errs, errors.New("SIGNAL_TEMPLATE must contain exactly one %s and no other verbs"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", c.LogFormat))
	}

	return errs
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Webhook reports whether updates arrive over HTTP instead of long polling.
func (c *Config) Webhook() bool {
	return c.BotMode == ModeWebhook
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// parser collects conversion errors so Load can report all of them at once.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go durations ("10s") and bare integers as seconds.
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a log level", key, v))
		return def
	}
	return l
}
