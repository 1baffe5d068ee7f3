package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"arbflow/internal/domain"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	HTTPAddr  string `yaml:"http_addr"`
	// HTTPDebug mounts the pprof handlers under /debug.
	HTTPDebug bool   `yaml:"http_debug"`
	DBPath    string `yaml:"db_path"`

	Scheduler struct {
		Name               string        `yaml:"name"`
		StatePath          string        `yaml:"state_path"`
		MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
		TickInterval       time.Duration `yaml:"tick_interval"`
		CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
		ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	} `yaml:"scheduler"`

	Gateway struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
		// Requests per Window is the outbound budget shared by all tasks.
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
		Mailbox  bool          `yaml:"mailbox"`
	} `yaml:"gateway"`

	OCR struct {
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"ocr"`

	Pipeline struct {
		Manual           *bool         `yaml:"manual"`
		Asset            string        `yaml:"asset"`
		Price            string        `yaml:"price"`
		AutoFund         bool          `yaml:"auto_fund"`
		PaymentMessage   string        `yaml:"payment_message"`
		HoldDelay        time.Duration `yaml:"hold_delay"`
		ReceiptTolerance string        `yaml:"receipt_tolerance"`
		ReceiptRetention time.Duration `yaml:"receipt_retention"`
		RunOnStart       bool          `yaml:"run_on_start"`
		Intervals        struct {
			Acceptor        time.Duration `yaml:"acceptor"`
			AdCreator       time.Duration `yaml:"ad_creator"`
			ChatListener    time.Duration `yaml:"chat_listener"`
			ReceiptListener time.Duration `yaml:"receipt_listener"`
			Releaser        time.Duration `yaml:"releaser"`
		} `yaml:"intervals"`
		Templates []Template `yaml:"templates"`
	} `yaml:"pipeline"`
}

type Template struct {
	ID       string   `yaml:"id"`
	Keywords []string `yaml:"keywords"`
	Body     string   `yaml:"body"`
	Priority int      `yaml:"priority"`
	Disabled bool     `yaml:"disabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.Log.Level = "info"
	c.HTTPAddr = ":8080"
	c.DBPath = "arbflow.db"

	c.Scheduler.Name = "arbflow"
	c.Scheduler.StatePath = "arbflow.state.json"
	c.Scheduler.MaxConcurrentTasks = 4
	c.Scheduler.TickInterval = 50 * time.Millisecond
	c.Scheduler.CheckpointInterval = 30 * time.Second
	c.Scheduler.ShutdownGrace = 5 * time.Second

	c.Gateway.BaseURL = "http://127.0.0.1:8090"
	c.Gateway.Timeout = 30 * time.Second
	c.Gateway.Requests = 30
	c.Gateway.Window = 10 * time.Second

	c.OCR.Timeout = 30 * time.Second

	c.Pipeline.Asset = "USDT"
	c.Pipeline.HoldDelay = 2 * time.Minute
	c.Pipeline.ReceiptTolerance = "10"
	c.Pipeline.ReceiptRetention = 24 * time.Hour
	c.Pipeline.Intervals.Acceptor = 10 * time.Second
	c.Pipeline.Intervals.AdCreator = 15 * time.Second
	c.Pipeline.Intervals.ChatListener = 5 * time.Second
	c.Pipeline.Intervals.ReceiptListener = 30 * time.Second
	c.Pipeline.Intervals.Releaser = 10 * time.Second
	return c
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is an error only when required.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = getEnv("ARBFLOW_DB", c.DBPath)
	c.HTTPAddr = getEnv("ARBFLOW_HTTP_ADDR", c.HTTPAddr)
	c.HTTPDebug = getEnvBool("ARBFLOW_HTTP_DEBUG", c.HTTPDebug)
	c.Log.Level = getEnv("ARBFLOW_LOG_LEVEL", c.Log.Level)
	c.Scheduler.StatePath = getEnv("ARBFLOW_STATE_PATH", c.Scheduler.StatePath)
	c.Scheduler.MaxConcurrentTasks = getEnvInt("ARBFLOW_MAX_CONCURRENT", c.Scheduler.MaxConcurrentTasks)
	c.Scheduler.CheckpointInterval = getEnvDuration("ARBFLOW_CHECKPOINT_INTERVAL", c.Scheduler.CheckpointInterval)
	c.Scheduler.ShutdownGrace = getEnvDuration("ARBFLOW_SHUTDOWN_GRACE", c.Scheduler.ShutdownGrace)
	c.Gateway.BaseURL = getEnv("ARBFLOW_GATEWAY_URL", c.Gateway.BaseURL)
	c.Gateway.Token = getEnv("ARBFLOW_GATEWAY_TOKEN", c.Gateway.Token)
	if v, ok := lookupEnvBool("ARBFLOW_MANUAL"); ok {
		c.Pipeline.Manual = &v
	}
	c.Pipeline.HoldDelay = getEnvDuration("ARBFLOW_HOLD_DELAY", c.Pipeline.HoldDelay)
}

func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"scheduler.tick_interval":             c.Scheduler.TickInterval,
		"scheduler.shutdown_grace":            c.Scheduler.ShutdownGrace,
		"gateway.window":                      c.Gateway.Window,
		"pipeline.intervals.acceptor":         c.Pipeline.Intervals.Acceptor,
		"pipeline.intervals.ad_creator":       c.Pipeline.Intervals.AdCreator,
		"pipeline.intervals.chat_listener":    c.Pipeline.Intervals.ChatListener,
		"pipeline.intervals.receipt_listener": c.Pipeline.Intervals.ReceiptListener,
		"pipeline.intervals.releaser":         c.Pipeline.Intervals.Releaser,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Scheduler.CheckpointInterval < 0 {
		errs = append(errs, fmt.Errorf("scheduler.checkpoint_interval must not be negative"))
	}
	if c.Pipeline.HoldDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.hold_delay must not be negative"))
	}
	if c.Scheduler.MaxConcurrentTasks <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent_tasks must be positive"))
	}
	if u, err := url.ParseRequestURI(c.Gateway.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q is not an http(s) URL", c.Gateway.BaseURL))
	}
	if c.Gateway.Mailbox && c.OCR.Command == "" {
		errs = append(errs, fmt.Errorf("ocr.command is required when gateway.mailbox is enabled"))
	}
	if _, err := c.Price(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Tolerance(); err != nil {
		errs = append(errs, err)
	}
	for i, t := range c.Pipeline.Templates {
		if t.ID == "" || len(t.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("pipeline.templates[%d] needs an id and keywords", i))
		}
	}
	return errors.Join(errs...)
}

// ManualMode returns the manual confirmation setting and whether the file or
// the environment set it.
func (c Config) ManualMode() (enabled, set bool) {
	if c.Pipeline.Manual == nil {
		return false, false
	}
	return *c.Pipeline.Manual, true
}

func (c Config) Price() (decimal.Decimal, error) {
	if c.Pipeline.Price == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Pipeline.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pipeline.price: %w", err)
	}
	return d, nil
}

func (c Config) Tolerance() (decimal.Decimal, error) {
	if c.Pipeline.ReceiptTolerance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Pipeline.ReceiptTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pipeline.receipt_tolerance: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("pipeline.receipt_tolerance must not be negative")
	}
	return d, nil
}

func (c Config) Templates() []domain.ChatTemplate {
	out := make([]domain.ChatTemplate, 0, len(c.Pipeline.Templates))
	for _, t := range c.Pipeline.Templates {
		out = append(out, domain.ChatTemplate{
			ID:       t.ID,
			Keywords: t.Keywords,
			Body:     t.Body,
			Priority: t.Priority,
			Active:   !t.Disabled,
		})
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if b, ok := lookupEnvBool(key); ok {
		return b
	}
	return def
}

func lookupEnvBool(key string) (bool, bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
