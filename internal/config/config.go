package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SEGFETCH_DOWNLOADS_DIR
const EnvPrefix = "SEGFETCH"

// Config represents the entire application configuration
type Config struct {
	Downloads   DownloadsConfig   `mapstructure:"downloads"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Relay       RelayConfig       `mapstructure:"relay"`
}

// DownloadsConfig contains engine and queue settings
type DownloadsConfig struct {
	Dir                 string `mapstructure:"dir"`
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	MaxSegments         int    `mapstructure:"max_segments"`
	MinSegmentSize      int64  `mapstructure:"min_segment_size"`
	RetryAttempts       int    `mapstructure:"retry_attempts"`
	RetryDelay          string `mapstructure:"retry_delay"`
	Timeout             string `mapstructure:"timeout"`
	BandwidthLimit      int64  `mapstructure:"bandwidth_limit"` // bytes per second, 0 = unlimited
	UserAgent           string `mapstructure:"user_agent"`
	BufferSizeKB        int    `mapstructure:"buffer_size_kb"`
	InsecureSkipVerify  bool   `mapstructure:"insecure_skip_verify"`
	ReserveMB           int    `mapstructure:"reserve_mb"`
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"` // 0 disables the ceiling
}

// HTTPConfig contains control server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains background job settings
type MaintenanceConfig struct {
	AutosaveInterval string `mapstructure:"autosave_interval"`
	ScratchMaxAge    string `mapstructure:"scratch_max_age"`
	CleanupInterval  string `mapstructure:"cleanup_interval"`
}

// RelayConfig contains native messaging relay settings
type RelayConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Timeout   string `mapstructure:"timeout"`
}

// Loader reads configuration and watches it for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults and environment overrides registered
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("downloads.dir", "")
	v.SetDefault("downloads.max_concurrent", 3)
	v.SetDefault("downloads.max_segments", 8)
	v.SetDefault("downloads.min_segment_size", 1024*1024)
	v.SetDefault("downloads.retry_attempts", 3)
	v.SetDefault("downloads.retry_delay", "1s")
	v.SetDefault("downloads.timeout", "30s")
	v.SetDefault("downloads.bandwidth_limit", 0)
	v.SetDefault("downloads.user_agent", "")
	v.SetDefault("downloads.buffer_size_kb", 256)
	v.SetDefault("downloads.insecure_skip_verify", false)
	v.SetDefault("downloads.reserve_mb", 100)
	v.SetDefault("downloads.max_disk_usage_percent", 0)
	v.SetDefault("http.bind_addr", "127.0.0.1:6800")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.autosave_interval", "5s")
	v.SetDefault("maintenance.scratch_max_age", "24h")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("relay.server_url", "http://127.0.0.1:6800")
	v.SetDefault("relay.timeout", "10s")
}

// Load reads configPath (optional when empty) and returns the validated configuration
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath != "" {
		l.v.SetConfigFile(configPath)
		l.v.SetConfigType("yaml")
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDerivedDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Watch calls onChange with the re-read configuration whenever the loaded
// file changes. Invalid edits are reported through onError and ignored.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

func (c *Config) applyDerivedDefaults() {
	if c.Downloads.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Downloads.Dir = filepath.Join(home, "Downloads")
		} else {
			c.Downloads.Dir = "."
		}
	}
	if c.Database.Path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = c.Downloads.Dir
		}
		c.Database.Path = filepath.Join(base, "segfetch", "segfetch.db")
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	d := c.Downloads
	if d.MaxConcurrent < 1 || d.MaxConcurrent > 32 {
		return fmt.Errorf("downloads.max_concurrent must be between 1 and 32")
	}
	if d.MaxSegments < 1 || d.MaxSegments > 64 {
		return fmt.Errorf("downloads.max_segments must be between 1 and 64")
	}
	if d.MinSegmentSize < 64*1024 {
		return fmt.Errorf("downloads.min_segment_size must be at least 64KiB")
	}
	if d.RetryAttempts < 0 {
		return fmt.Errorf("downloads.retry_attempts must not be negative")
	}
	if d.BandwidthLimit < 0 {
		return fmt.Errorf("downloads.bandwidth_limit must not be negative")
	}
	if d.MaxDiskUsagePercent < 0 || d.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("downloads.max_disk_usage_percent must be between 0 and 100")
	}

	durations := map[string]string{
		"downloads.retry_delay":         d.RetryDelay,
		"downloads.timeout":             d.Timeout,
		"maintenance.autosave_interval": c.Maintenance.AutosaveInterval,
		"maintenance.scratch_max_age":   c.Maintenance.ScratchMaxAge,
		"maintenance.cleanup_interval":  c.Maintenance.CleanupInterval,
		"relay.timeout":                 c.Relay.Timeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetRetryDelay returns the base retry delay as time.Duration
func (c *DownloadsConfig) GetRetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// GetTimeout returns the per-request idle timeout as time.Duration
func (c *DownloadsConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetBufferSize returns the copy buffer size in bytes
func (c *DownloadsConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return 256 * 1024
	}
	return c.BufferSizeKB * 1024
}

// GetReserveBytes returns the free space always kept on the download volume
func (c *DownloadsConfig) GetReserveBytes() int64 {
	return int64(c.ReserveMB) * 1024 * 1024
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetAutosaveInterval returns the snapshot interval as time.Duration
func (c *MaintenanceConfig) GetAutosaveInterval() time.Duration {
	d, _ := time.ParseDuration(c.AutosaveInterval)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetScratchMaxAge returns the age after which orphaned scratch files are removed
func (c *MaintenanceConfig) GetScratchMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.ScratchMaxAge)
	if d == 0 {
		return 24 * time.Hour
	}
	return d
}

// GetCleanupInterval returns the cleanup interval as time.Duration
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetTimeout returns the relay request timeout as time.Duration
func (c *RelayConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}
