package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"finmonitor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metals    MetalsConfig    `mapstructure:"metals"`
	Funds     FundsConfig     `mapstructure:"funds"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Email     EmailConfig     `mapstructure:"email"`
	History   HistoryConfig   `mapstructure:"history"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP API listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates optional PostgreSQL audit storage.
// An empty DSN disables persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	SummaryHour  int           `mapstructure:"summary_hour"`
}

// MetalsConfig covers the precious-metal quote sources.
type MetalsConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	SinaGoldURL    string        `mapstructure:"sina_gold_url"`
	SinaSilverURL  string        `mapstructure:"sina_silver_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// FundsConfig covers the fund estimate source and watchlist.
type FundsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ListPath       string        `mapstructure:"list_path"`
}

// ExchangeConfig covers the USD/CNY rate cache.
type ExchangeConfig struct {
	CachePath      string        `mapstructure:"cache_path"`
	CacheDuration  time.Duration `mapstructure:"cache_duration"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	GoldThreshold       float64       `mapstructure:"gold_threshold"`
	SilverThreshold     float64       `mapstructure:"silver_threshold"`
	FundChangeThreshold float64       `mapstructure:"fund_change_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	EnableMetalMonitor  bool          `mapstructure:"enable_metal_monitor"`
	EnableFundMonitor   bool          `mapstructure:"enable_fund_monitor"`
}

// EmailConfig 描述 SMTP 告警邮件参数。
type EmailConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SMTPHost      string        `mapstructure:"smtp_host"`
	SMTPPort      int           `mapstructure:"smtp_port"`
	Sender        string        `mapstructure:"sender"`
	Password      string        `mapstructure:"password"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ListPath      string        `mapstructure:"list_path"`
}

// HistoryConfig governs the rolling history snapshot.
type HistoryConfig struct {
	SnapshotPath string        `mapstructure:"snapshot_path"`
	MaxLength    int           `mapstructure:"max_length"`
	Retention    time.Duration `mapstructure:"retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	OutputDir     string `mapstructure:"output_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINMONITOR")
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
	v.SetDefault("app.name", "finmonitor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.summary_hour", 18)

	v.SetDefault("metals.sina_gold_url", "https://hq.sinajs.cn/list=hf_GC")
	v.SetDefault("metals.sina_silver_url", "https://hq.sinajs.cn/list=hf_SI")
	v.SetDefault("metals.request_timeout", "10s")
	v.SetDefault("metals.user_agent", "finmonitor/1.0")

	v.SetDefault("funds.base_url", "https://fundgz.1234567.com.cn/js")
	v.SetDefault("funds.request_timeout", "10s")
	v.SetDefault("funds.list_path", "fund_list.txt")

	v.SetDefault("exchange.cache_path", "exchange_rate_cache.json")
	v.SetDefault("exchange.cache_duration", "1h")
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.max_retries", 3)

	v.SetDefault("alerting.gold_threshold", 500.0)
	v.SetDefault("alerting.silver_threshold", 8.0)
	v.SetDefault("alerting.fund_change_threshold", 3.0)
	v.SetDefault("alerting.cooldown", "60m")
	v.SetDefault("alerting.enable_metal_monitor", true)
	v.SetDefault("alerting.enable_fund_monitor", true)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_port", 465)
	v.SetDefault("email.retry_attempts", 3)
	v.SetDefault("email.retry_delay", "5s")
	v.SetDefault("email.timeout", "30s")
	v.SetDefault("email.list_path", "email_list.txt")

	v.SetDefault("history.snapshot_path", "price_history.json")
	v.SetDefault("history.max_length", 1000)
	v.SetDefault("history.retention", "168h")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.output_dir", ".")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Alerting.GoldThreshold < 0 {
		return fmt.Errorf("alerting.gold_threshold cannot be negative")
	}
	if c.Alerting.SilverThreshold < 0 {
		return fmt.Errorf("alerting.silver_threshold cannot be negative")
	}
	if c.Alerting.FundChangeThreshold < 0 {
		return fmt.Errorf("alerting.fund_change_threshold cannot be negative")
	}
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}
	if c.History.MaxLength <= 0 {
		return fmt.Errorf("history.max_length must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.SummaryHour < 0 || c.Scheduler.SummaryHour > 23 {
		return fmt.Errorf("scheduler.summary_hour must be within [0, 23]")
	}
	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("email.smtp_host 必须配置")
		}
		if c.Email.Sender == "" {
			return fmt.Errorf("email.sender 必须配置")
		}
	}
	return nil
}

// CooldownMinutes converts the alert cooldown to whole minutes.
func (c *Config) CooldownMinutes() int {
	return int(c.Alerting.Cooldown / time.Minute)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
