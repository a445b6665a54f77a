// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/movetrader/movebot/internal/models"
)

// Defaults applied to unset fields before validation.
const (
	defaultAsset           = "BTC"
	defaultLots            = 1
	defaultTimeout         = "10s"
	defaultFillPause       = "2s"
	defaultCatalogTTL      = "30s"
	defaultSessionTTL      = "10m"
	defaultSessionSweep    = "5m"
	defaultMonitorInterval = "30s"
	defaultMonitorTimeout  = "5s"
	defaultDashboardAddr   = ":8080"
	defaultStoragePath     = "data/journal.json"
	defaultTimezone        = "Asia/Kolkata"
	defaultRateLimit       = 8.0
	defaultRateBurst       = 4
	defaultMaxRetries      = 3
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Trading     TradingConfig     `yaml:"trading"`
	Session     SessionConfig     `yaml:"session"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // testnet | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ExchangeConfig defines venue API settings. Key material is normally
// supplied through ${VAR} expansion from the environment.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// BaseURL overrides the mode-derived REST endpoint.
	BaseURL string `yaml:"base_url"`
	// WSURL overrides the mode-derived websocket endpoint.
	WSURL      string  `yaml:"ws_url"`
	Timeout    string  `yaml:"timeout"`
	MaxRetries int     `yaml:"max_retries"`
	RateLimit  float64 `yaml:"rate_limit"` // requests per second
	RateBurst  int     `yaml:"rate_burst"`
}

// TradingConfig defines the defaults applied to trade requests that leave
// a field unset.
type TradingConfig struct {
	DefaultAsset string `yaml:"default_asset"`
	DefaultLots  int    `yaml:"default_lots"`
	// FillPause is the wait between entry acceptance and the single
	// fill-price read.
	FillPause string `yaml:"fill_pause"`
	// CatalogTTL bounds how long the product catalog is served from cache.
	CatalogTTL string `yaml:"catalog_ttl"`
	// StopLoss and Target arm the protective orders on requests that do
	// not specify their own percentages.
	StopLoss *models.ExitPercents `yaml:"stop_loss,omitempty"`
	Target   *models.ExitPercents `yaml:"target,omitempty"`
}

// SessionConfig tunes the conversational session store.
type SessionConfig struct {
	TTL           string `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
}

// MonitorConfig tunes the exit-level watchdog.
type MonitorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	CallTimeout string `yaml:"call_timeout"`
}

// ScheduleConfig defines timed auto-executions.
type ScheduleConfig struct {
	Timezone string          `yaml:"timezone"`
	Entries  []ScheduleEntry `yaml:"entries"`
}

// ScheduleEntry is one timed execution: fire the request at the wall-clock
// time At (HH:MM in the schedule's timezone), at most once per day.
type ScheduleEntry struct {
	ID      string              `yaml:"id"`
	At      string              `yaml:"at"`
	Request models.TradeRequest `yaml:"request"`
}

// TelegramConfig defines the command surface. An empty token disables
// Telegram entirely; the core keeps trading without it.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
	// AllowedUserIDs gates who may issue commands. Empty allows the
	// configured chat only.
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
}

// DashboardConfig defines the JSON status server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig defines where the trade journal lives.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate normalizes defaults and checks that all configuration values
// are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "testnet" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'testnet' or 'live'")
	}

	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required")
	}
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("exchange.max_retries must be >= 0")
	}
	if c.Exchange.RateLimit <= 0 {
		return fmt.Errorf("exchange.rate_limit must be > 0")
	}
	durations := []struct{ field, value string }{
		{"exchange.timeout", c.Exchange.Timeout},
		{"trading.fill_pause", c.Trading.FillPause},
		{"trading.catalog_ttl", c.Trading.CatalogTTL},
		{"session.ttl", c.Session.TTL},
		{"session.sweep_interval", c.Session.SweepInterval},
		{"monitor.interval", c.Monitor.Interval},
		{"monitor.call_timeout", c.Monitor.CallTimeout},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.field, err)
		}
	}

	if c.Trading.DefaultLots < 1 {
		return fmt.Errorf("trading.default_lots must be >= 1")
	}
	if c.Trading.StopLoss != nil {
		if err := c.Trading.StopLoss.Validate("trading.stop_loss"); err != nil {
			return err
		}
	}
	if c.Trading.Target != nil {
		if err := c.Trading.Target.Validate("trading.target"); err != nil {
			return err
		}
	}

	loc := c.ScheduleLocation()
	seen := make(map[string]bool, len(c.Schedule.Entries))
	for i, entry := range c.Schedule.Entries {
		if entry.ID == "" {
			return fmt.Errorf("schedule.entries[%d].id is required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("schedule.entries duplicate id %q", entry.ID)
		}
		seen[entry.ID] = true
		if _, err := time.ParseInLocation("15:04", entry.At, loc); err != nil {
			return fmt.Errorf("schedule.entries[%d].at invalid (want HH:MM): %w", i, err)
		}
		if err := entry.Request.Validate(); err != nil {
			return fmt.Errorf("schedule.entries[%d].request: %w", i, err)
		}
	}

	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}

	return nil
}

// normalize fills unset fields with defaults.
func (c *Config) normalize() {
	if c.Exchange.Timeout == "" {
		c.Exchange.Timeout = defaultTimeout
	}
	if c.Exchange.RateLimit == 0 {
		c.Exchange.RateLimit = defaultRateLimit
	}
	if c.Exchange.RateBurst == 0 {
		c.Exchange.RateBurst = defaultRateBurst
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = defaultMaxRetries
	}
	if c.Trading.DefaultAsset == "" {
		c.Trading.DefaultAsset = defaultAsset
	}
	if c.Trading.DefaultLots == 0 {
		c.Trading.DefaultLots = defaultLots
	}
	if c.Trading.FillPause == "" {
		c.Trading.FillPause = defaultFillPause
	}
	if c.Trading.CatalogTTL == "" {
		c.Trading.CatalogTTL = defaultCatalogTTL
	}
	if c.Session.TTL == "" {
		c.Session.TTL = defaultSessionTTL
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = defaultSessionSweep
	}
	if c.Monitor.Interval == "" {
		c.Monitor.Interval = defaultMonitorInterval
	}
	if c.Monitor.CallTimeout == "" {
		c.Monitor.CallTimeout = defaultMonitorTimeout
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = defaultDashboardAddr
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
}

// IsTestnet reports whether the bot targets the venue's testnet.
func (c *Config) IsTestnet() bool {
	return c.Environment.Mode == "testnet"
}

func parsedOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ExchangeTimeout returns the per-request HTTP timeout.
func (c *Config) ExchangeTimeout() time.Duration {
	return parsedOr(c.Exchange.Timeout, 10*time.Second)
}

// FillPause returns the wait before the single fill-price read.
func (c *Config) FillPause() time.Duration {
	return parsedOr(c.Trading.FillPause, 2*time.Second)
}

// CatalogTTL returns the product catalog cache lifetime.
func (c *Config) CatalogTTL() time.Duration {
	return parsedOr(c.Trading.CatalogTTL, 30*time.Second)
}

// SessionTTL returns how long an idle conversational session survives.
func (c *Config) SessionTTL() time.Duration {
	return parsedOr(c.Session.TTL, 10*time.Minute)
}

// SessionSweep returns the expired-session sweep interval.
func (c *Config) SessionSweep() time.Duration {
	return parsedOr(c.Session.SweepInterval, 5*time.Minute)
}

// MonitorInterval returns the exit-watchdog check interval.
func (c *Config) MonitorInterval() time.Duration {
	return parsedOr(c.Monitor.Interval, 30*time.Second)
}

// MonitorCallTimeout returns the per-check API call timeout.
func (c *Config) MonitorCallTimeout() time.Duration {
	return parsedOr(c.Monitor.CallTimeout, 5*time.Second)
}

// ScheduleLocation resolves the schedule timezone, falling back to a fixed
// IST offset on containers without tzdata.
func (c *Config) ScheduleLocation() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// DefaultRequest builds a trade request from the configured trading
// defaults for the given direction.
func (c *Config) DefaultRequest(direction models.Direction) models.TradeRequest {
	return models.TradeRequest{
		Asset:     c.Trading.DefaultAsset,
		Direction: direction,
		Lots:      c.Trading.DefaultLots,
		StopLoss:  c.Trading.StopLoss,
		Target:    c.Trading.Target,
	}
}

// UserAllowed reports whether a Telegram user may issue commands.
func (c *Config) UserAllowed(userID int64) bool {
	if len(c.Telegram.AllowedUserIDs) == 0 {
		return userID == c.Telegram.ChatID
	}
	for _, id := range c.Telegram.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
