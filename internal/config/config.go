// Package config loads reminderd settings.
//
// Sources are layered in order, later ones win: built-in defaults, the config
// file (.json, .yaml or .yml), the legacy environment names of older
// deployments (REDIS_URL, TOKEN, PAGE_ID), then REMINDER_* variables where a
// double underscore separates sections: REMINDER_DISPATCH__DELAY=90s sets
// dispatch.delay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"reminder-dispatcher/internal/audit"
	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/model"
	"reminder-dispatcher/internal/notify"
	"reminder-dispatcher/internal/scheduler"
	"reminder-dispatcher/internal/store"
	"reminder-dispatcher/internal/worker"
)

const EnvPrefix = "REMINDER_"

type Config struct {
	Redis    RedisConfig    `koanf:"redis"`
	Notify   NotifyConfig   `koanf:"notify"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	HTTP     HTTPConfig     `koanf:"http"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type RedisConfig struct {
	URL         string        `koanf:"url"`
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db" validate:"min=0"`
	Match       string        `koanf:"match" validate:"required"`
	ScanCount   int64         `koanf:"scan_count" validate:"min=1"`
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"gte=0"`
}

type NotifyConfig struct {
	Driver     string          `koanf:"driver" validate:"oneof=messenger telegram log"`
	Content    string          `koanf:"content" validate:"required"`
	Timeout    time.Duration   `koanf:"timeout" validate:"gte=0"`
	RatePerSec float64         `koanf:"rate_per_sec" validate:"gte=0"`
	Messenger  MessengerConfig `koanf:"messenger"`
	Telegram   TelegramConfig  `koanf:"telegram"`
}

type MessengerConfig struct {
	BaseURL       string `koanf:"base_url" validate:"omitempty,url"`
	APIVersion    string `koanf:"api_version"`
	PageID        string `koanf:"page_id"`
	Token         string `koanf:"token"`
	MessagingType string `koanf:"messaging_type"`
}

type TelegramConfig struct {
	Token   string `koanf:"token"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
}

type DispatchConfig struct {
	Delay           time.Duration `koanf:"delay" validate:"gte=0"`
	Schedule        string        `koanf:"schedule" validate:"required"`
	Timezone        string        `koanf:"timezone"`
	RunOnStart      bool          `koanf:"run_on_start"`
	KeyFilter       string        `koanf:"key_filter"`
	Workers         int           `koanf:"workers" validate:"min=1,max=256"`
	KeyTimeout      time.Duration `koanf:"key_timeout" validate:"gt=0"`
	MaxBatches      int           `koanf:"max_batches" validate:"min=1"`
	IdentityField   string        `koanf:"identity_field" validate:"required"`
	ReceivedAtField string        `koanf:"received_at_field" validate:"required"`
	TimeLayout      string        `koanf:"time_layout" validate:"required"`
	Retry           RetryConfig   `koanf:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"min=0"`
	BaseDelay   time.Duration `koanf:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `koanf:"max_delay" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type AuditConfig struct {
	Driver string `koanf:"driver" validate:"oneof=none sqlite sqlite3 postgres postgresql"`
	DSN    string `koanf:"dsn"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=console json"`
	File   string `koanf:"file"`
}

// Defaults returns the built-in values as flat koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"redis.match":        "*",
		"redis.scan_count":   100,
		"redis.dial_timeout": "5s",

		"notify.driver":                   "messenger",
		"notify.content":                  "Hello, this is a test message!",
		"notify.timeout":                  "10s",
		"notify.messenger.base_url":       notify.DefaultGraphURL,
		"notify.messenger.api_version":    notify.DefaultGraphVersion,
		"notify.messenger.messaging_type": "RESPONSE",

		"dispatch.delay":             "1m",
		"dispatch.schedule":          "@every 1m",
		"dispatch.run_on_start":      true,
		"dispatch.key_filter":        "any",
		"dispatch.workers":           1,
		"dispatch.key_timeout":       "30s",
		"dispatch.max_batches":       100000,
		"dispatch.identity_field":    "identity",
		"dispatch.received_at_field": "receivedAt",
		"dispatch.time_layout":       model.DefaultTimeLayout,

		"http.addr":             ":8080",
		"http.shutdown_timeout": "15s",

		"audit.driver": "none",

		"logging.level":  "info",
		"logging.format": "console",
	}
}

// legacyEnv maps environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"REDIS_URL": "redis.url",
	"TOKEN":     "notify.messenger.token",
	"PAGE_ID":   "notify.messenger.page_id",
}

// Load reads the layered configuration. An empty path skips the file layer;
// a path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("set %s from %s: %w", key, name, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envTransform converts environment variable names to config keys.
// Example: REMINDER_DISPATCH__KEY_TIMEOUT -> dispatch.key_timeout
func envTransform(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser(), nil
	case ".yaml", ".yml":
		return YAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .json, .yaml or .yml)", filepath.Ext(path))
	}
}

func (c *Config) normalize() {
	c.Notify.Driver = strings.ToLower(strings.TrimSpace(c.Notify.Driver))
	c.Audit.Driver = strings.ToLower(strings.TrimSpace(c.Audit.Driver))
	if c.Audit.Driver == "" {
		c.Audit.Driver = "none"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Notify.Messenger.PageID = strings.TrimSpace(c.Notify.Messenger.PageID)
	c.Notify.Messenger.Token = strings.TrimSpace(c.Notify.Messenger.Token)
	c.Notify.Telegram.Token = strings.TrimSpace(c.Notify.Telegram.Token)
}

// Validate checks struct tags and the rules that depend on the chosen drivers.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	switch c.Notify.Driver {
	case "messenger":
		if c.Notify.Messenger.PageID == "" || c.Notify.Messenger.Token == "" {
			return fmt.Errorf("notify.messenger.page_id and notify.messenger.token are required for the messenger driver (or set PAGE_ID and TOKEN)")
		}
	case "telegram":
		if c.Notify.Telegram.Token == "" {
			return fmt.Errorf("notify.telegram.token is required for the telegram driver")
		}
	}
	if c.Audit.Driver != "none" && strings.TrimSpace(c.Audit.DSN) == "" {
		return fmt.Errorf("audit.dsn is required for the %s audit driver", c.Audit.Driver)
	}
	if _, err := worker.ParseKeyFilter(c.Dispatch.KeyFilter); err != nil {
		return fmt.Errorf("dispatch.key_filter: %w", err)
	}
	if _, err := scheduler.ParseSchedule(c.Dispatch.Schedule); err != nil {
		return fmt.Errorf("dispatch.schedule: %w", err)
	}
	if c.Dispatch.Timezone != "" {
		if _, err := time.LoadLocation(c.Dispatch.Timezone); err != nil {
			return fmt.Errorf("dispatch.timezone: %w", err)
		}
	}
	if r := c.Dispatch.Retry; r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
		return fmt.Errorf("dispatch.retry.base_delay (%s) exceeds max_delay (%s)", r.BaseDelay, r.MaxDelay)
	}
	return nil
}

func (c *Config) StoreOptions() store.RedisOptions {
	return store.RedisOptions{
		URL:         c.Redis.URL,
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		Match:       c.Redis.Match,
		ScanCount:   c.Redis.ScanCount,
		DialTimeout: c.Redis.DialTimeout,
	}
}

// NotifyConfig maps the notify section. The send timeout never exceeds the
// dispatch key timeout: the telegram client cannot be cancelled mid-request,
// so its HTTP timeout is the only bound on a send in flight.
func (c *Config) NotifyConfig() notify.Config {
	n := c.Notify
	timeout := n.Timeout
	if kt := c.Dispatch.KeyTimeout; kt > 0 && (timeout <= 0 || timeout > kt) {
		timeout = kt
	}
	return notify.Config{
		Driver:     n.Driver,
		Timeout:    timeout,
		RatePerSec: n.RatePerSec,
		Messenger: notify.MessengerOptions{
			BaseURL:       n.Messenger.BaseURL,
			APIVersion:    n.Messenger.APIVersion,
			PageID:        n.Messenger.PageID,
			Token:         n.Messenger.Token,
			MessagingType: n.Messenger.MessagingType,
			Timeout:       timeout,
		},
		Telegram: notify.TelegramOptions{
			Token:   n.Telegram.Token,
			BaseURL: n.Telegram.BaseURL,
			Timeout: timeout,
		},
	}
}

// DispatchSettings builds the live-tunable dispatch policies.
func (c *Config) DispatchSettings() (worker.Settings, error) {
	d := c.Dispatch
	filter, err := worker.ParseKeyFilter(d.KeyFilter)
	if err != nil {
		return worker.Settings{}, err
	}
	return worker.Settings{
		Content: c.Notify.Content,
		Delay:   d.Delay,
		Filter:  filter,
		Retry:   worker.NewRetryPolicy(d.Retry.MaxAttempts, d.Retry.BaseDelay, d.Retry.MaxDelay),
		Schema: model.Schema{
			IdentityField:   d.IdentityField,
			ReceivedAtField: d.ReceivedAtField,
			TimeLayout:      d.TimeLayout,
		},
	}, nil
}

func (c *Config) DispatchOptions() worker.Options {
	return worker.Options{
		Workers:    c.Dispatch.Workers,
		KeyTimeout: c.Dispatch.KeyTimeout,
		MaxBatches: c.Dispatch.MaxBatches,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Schedule:   c.Dispatch.Schedule,
		RunOnStart: c.Dispatch.RunOnStart,
		Timezone:   c.Dispatch.Timezone,
	}
}

func (c *Config) AuditConfig() audit.Config {
	return audit.Config{Driver: c.Audit.Driver, DSN: c.Audit.DSN}
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{Level: c.Logging.Level, Format: c.Logging.Format, File: c.Logging.File}
}

// RestartRequired lists the sections whose changes only take effect after a
// restart. Dispatch tunables and the schedule are applied live.
func RestartRequired(old, cur *Config) []string {
	var out []string
	if old.Redis != cur.Redis {
		out = append(out, "redis")
	}
	if old.Notify.Driver != cur.Notify.Driver || old.Notify.Timeout != cur.Notify.Timeout ||
		old.Notify.RatePerSec != cur.Notify.RatePerSec ||
		old.Notify.Messenger != cur.Notify.Messenger || old.Notify.Telegram != cur.Notify.Telegram {
		out = append(out, "notify")
	}
	if old.Dispatch.Workers != cur.Dispatch.Workers || old.Dispatch.KeyTimeout != cur.Dispatch.KeyTimeout ||
		old.Dispatch.MaxBatches != cur.Dispatch.MaxBatches || old.Dispatch.Timezone != cur.Dispatch.Timezone {
		out = append(out, "dispatch.workers/key_timeout/max_batches/timezone")
	}
	if old.HTTP != cur.HTTP {
		out = append(out, "http")
	}
	if old.Audit != cur.Audit {
		out = append(out, "audit")
	}
	if old.Logging != cur.Logging {
		out = append(out, "logging")
	}
	return out
}
