package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/storage"
	"github.com/spf13/viper"
)

const (
	// DefaultPath is where the configuration file is read from
	DefaultPath = "/etc/ktimer/config.yaml"

	// DefaultLedgerPath is the ledger location used by default and on fallback
	DefaultLedgerPath = "/var/lib/ktimer/ledger.tsv"

	// DefaultInterval is the accrual step in minutes
	DefaultInterval = 1

	// MaxExceptionMinutes bounds an exception day to a full day
	MaxExceptionMinutes = 24 * 60
)

// Config holds the complete application configuration
type Config struct {
	Interval int           `mapstructure:"interval"`
	Storage  StorageConfig `mapstructure:"storage"`
	Policy   PolicyConfig  `mapstructure:"policy"`
	Host     HostConfig    `mapstructure:"host"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Users    []UserConfig  `mapstructure:"users"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // file, bolt or redis
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Key          string `mapstructure:"key"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// PolicyConfig defines the command launched when a user is over their limit
type PolicyConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// HostConfig defines how active users are discovered
type HostConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Timeout string   `mapstructure:"timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// MonitorConfig defines the notifier
type MonitorConfig struct {
	PollInterval string `mapstructure:"poll_interval"`
	WarnMinutes  []int  `mapstructure:"warn_minutes"`
}

// UserConfig is one monitored user
type UserConfig struct {
	Name       string            `mapstructure:"name"`
	Limits     LimitsConfig      `mapstructure:"limits"`
	Exceptions []ExceptionConfig `mapstructure:"exceptions"`
}

// LimitsConfig holds the daily allowance in minutes for each weekday
type LimitsConfig struct {
	Monday    int `mapstructure:"monday"`
	Tuesday   int `mapstructure:"tuesday"`
	Wednesday int `mapstructure:"wednesday"`
	Thursday  int `mapstructure:"thursday"`
	Friday    int `mapstructure:"friday"`
	Saturday  int `mapstructure:"saturday"`
	Sunday    int `mapstructure:"sunday"`
}

// ExceptionConfig replaces the weekly limit on one date
type ExceptionConfig struct {
	Day     string `mapstructure:"day"`
	Minutes int    `mapstructure:"minutes"`
}

// Default returns the configuration used when no file sets a value. It is
// also the degraded configuration used when loading fails: every user is
// unmonitored because there are none.
func Default() *Config {
	return &Config{
		Interval: DefaultInterval,
		Storage: StorageConfig{
			Type: "file",
			Path: DefaultLedgerPath,
			Redis: RedisConfig{
				Host:         "localhost",
				Port:         6379,
				Key:          "ktimer:ledger",
				DialTimeout:  "5s",
				ReadTimeout:  "3s",
				WriteTimeout: "3s",
			},
		},
		Host: HostConfig{
			Command: "who",
			Args:    []string{},
			Timeout: "10s",
		},
		Policy: PolicyConfig{
			Args: []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			BindAddress: "127.0.0.1",
			Port:        9310,
		},
		Monitor: MonitorConfig{
			PollInterval: "1m",
			WarnMinutes:  []int{10, 5, 2, 1},
		},
	}
}

// Fallback returns the degraded configuration used when Load fails.
func Fallback() *Config {
	return Default()
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KTIMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("interval", d.Interval)

	// Storage defaults
	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.redis.host", d.Storage.Redis.Host)
	v.SetDefault("storage.redis.port", d.Storage.Redis.Port)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", d.Storage.Redis.Key)
	v.SetDefault("storage.redis.dial_timeout", d.Storage.Redis.DialTimeout)
	v.SetDefault("storage.redis.read_timeout", d.Storage.Redis.ReadTimeout)
	v.SetDefault("storage.redis.write_timeout", d.Storage.Redis.WriteTimeout)

	// Policy defaults
	v.SetDefault("policy.command", "")
	v.SetDefault("policy.args", d.Policy.Args)

	// Host defaults
	v.SetDefault("host.command", d.Host.Command)
	v.SetDefault("host.args", d.Host.Args)
	v.SetDefault("host.timeout", d.Host.Timeout)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	// Metrics defaults
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.bind_address", d.Metrics.BindAddress)
	v.SetDefault("metrics.port", d.Metrics.Port)

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.warn_minutes", d.Monitor.WarnMinutes)
}

// decodeHook adds date handling to viper's default hooks. YAML parsers may
// hand an unquoted 2024-05-01 over as a time.Time.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		timeToDateStringHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func timeToDateStringHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if t, ok := data.(time.Time); ok {
		return t.Format(calendar.Layout), nil
	}
	return data, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("invalid interval: %d (must be positive)", cfg.Interval)
	}

	switch cfg.Storage.Type {
	case "file", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s storage", cfg.Storage.Type)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %q (must be file, bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if _, err := time.ParseDuration(cfg.Monitor.PollInterval); err != nil {
		return fmt.Errorf("invalid monitor.poll_interval: %w", err)
	}
	for _, m := range cfg.Monitor.WarnMinutes {
		if m <= 0 {
			return fmt.Errorf("invalid monitor.warn_minutes entry: %d (must be positive)", m)
		}
	}

	if cfg.Host.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Host.Timeout); err != nil {
			return fmt.Errorf("invalid host.timeout: %w", err)
		}
	}

	seen := make(map[string]bool, len(cfg.Users))
	for i, u := range cfg.Users {
		if err := validateUser(u); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		key := normalizeName(u.Name)
		if seen[key] {
			return fmt.Errorf("users[%d]: duplicate user %q", i, u.Name)
		}
		seen[key] = true
	}

	return nil
}

func validateUser(u UserConfig) error {
	name := normalizeName(u.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if err := storage.ValidateUser(name); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	if _, err := u.Limits.Schedule(); err != nil {
		return err
	}

	for _, e := range u.Exceptions {
		if _, err := calendar.ParseDate(e.Day); err != nil {
			return fmt.Errorf("exception day: %w", err)
		}
		if e.Minutes < 0 || e.Minutes > MaxExceptionMinutes {
			return fmt.Errorf("exception %s: minutes %d out of range 0..%d", e.Day, e.Minutes, MaxExceptionMinutes)
		}
	}
	return nil
}
