package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"funding-rate-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	State     StateConfig     `mapstructure:"state"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Bybit     BybitConfig     `mapstructure:"bybit"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for
// durable state and the alert audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StateConfig locates the JSON fallback store used when no database is
// configured.
type StateConfig struct {
	File string `mapstructure:"file"`
}

// SchedulerConfig governs the polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	UniverseRefresh string        `mapstructure:"universe_refresh"`
}

// BybitConfig covers exchange market-data access.
type BybitConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Category          string        `mapstructure:"category"`
	QuoteSuffix       string        `mapstructure:"quote_suffix"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// AlertingConfig defines detection thresholds and alert routing.
type AlertingConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SettlementPolicy   string        `mapstructure:"settlement_policy"`
	FullAlertSymbols   []string      `mapstructure:"full_alert_symbols"`
	MinRateChange      float64       `mapstructure:"min_rate_change"`
	ExtremeRate        float64       `mapstructure:"extreme_rate"`
	PredictedRate      float64       `mapstructure:"predicted_rate"`
	PredictedMinChange float64       `mapstructure:"predicted_min_change"`
	MaxAlertsPerHour   int           `mapstructure:"max_alerts_per_hour"`
	TopPredicted       int           `mapstructure:"top_predicted"`
	SendDelay          time.Duration `mapstructure:"send_delay"`
}

// TelegramConfig holds bot credentials shared by the notifier and the
// command listener.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	TopicID  int64  `mapstructure:"topic_id"`
	APIBase  string `mapstructure:"api_base"`
}

// CommandsConfig tunes the on-demand query listener.
type CommandsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BotUsername string        `mapstructure:"bot_username"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Settlement policy names accepted by alerting.settlement_policy.
const (
	PolicyFlip       = "flip"
	PolicyFlipChange = "flip+change"
	PolicyFull       = "full"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDINGWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fundingwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.caller", false)

	v.SetDefault("state.file", "data/funding_state.json")

	// Keys without a meaningful default still need one registered:
	// viper only decodes keys it already knows about, so an env-only
	// value (FUNDINGWATCHER_TELEGRAM_BOT_TOKEN and friends) would be
	// invisible to Unmarshal otherwise.
	v.SetDefault("database.dsn", "")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	// 30 minutes catches every settlement of the 1-hour interval symbols.
	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.universe_refresh", "@every 24h")

	v.SetDefault("bybit.base_url", "https://api.bybit.com")
	v.SetDefault("bybit.category", "linear")
	v.SetDefault("bybit.quote_suffix", "USDT")
	v.SetDefault("bybit.request_timeout", "10s")
	v.SetDefault("bybit.requests_per_second", 8.0)
	v.SetDefault("bybit.request_burst", 16)
	v.SetDefault("bybit.user_agent", "fundingwatcher/1.0")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.settlement_policy", PolicyFull)
	v.SetDefault("alerting.full_alert_symbols", []string{"BTCUSDT"})
	v.SetDefault("alerting.min_rate_change", 0.0001)
	v.SetDefault("alerting.extreme_rate", 0.001)
	v.SetDefault("alerting.predicted_rate", 0.001)
	v.SetDefault("alerting.predicted_min_change", 0.5)
	v.SetDefault("alerting.max_alerts_per_hour", 200)
	v.SetDefault("alerting.top_predicted", 5)
	v.SetDefault("alerting.send_delay", "300ms")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.topic_id", 0)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")

	v.SetDefault("commands.enabled", true)
	v.SetDefault("commands.bot_username", "")
	v.SetDefault("commands.cache_ttl", "30s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.MinRateChange < 0 || c.Alerting.ExtremeRate < 0 || c.Alerting.PredictedRate < 0 {
		return fmt.Errorf("alerting thresholds cannot be negative")
	}
	if c.Alerting.MaxAlertsPerHour <= 0 {
		return fmt.Errorf("alerting.max_alerts_per_hour must be greater than zero")
	}
	switch c.Alerting.SettlementPolicy {
	case PolicyFlip, PolicyFlipChange, PolicyFull:
	default:
		return fmt.Errorf("alerting.settlement_policy must be one of %q, %q, %q",
			PolicyFlip, PolicyFlipChange, PolicyFull)
	}
	if c.Alerting.Enabled || c.Commands.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
