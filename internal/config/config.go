package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Catalog  CatalogConfig  `json:"catalog" mapstructure:"catalog"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// CatalogConfig contains remote song catalog settings
type CatalogConfig struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Timeout   int    `json:"timeout" mapstructure:"timeout"`       // seconds
	RateLimit int    `json:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 disables
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	ConnectTimeout      int  `json:"connect_timeout" mapstructure:"connect_timeout"` // seconds
	ReadTimeout         int  `json:"read_timeout" mapstructure:"read_timeout"`       // seconds
	ConcurrentDownloads int  `json:"concurrent_downloads" mapstructure:"concurrent_downloads"`
	LookupMetadata      bool `json:"lookup_metadata" mapstructure:"lookup_metadata"`
	EmbedTags           bool `json:"embed_tags" mapstructure:"embed_tags"`
}

// StorageConfig selects and configures the shared media store
type StorageConfig struct {
	Backend      string      `json:"backend" mapstructure:"backend"` // "local" or "minio"
	MediaDir     string      `json:"media_dir" mapstructure:"media_dir"`
	Subdirectory string      `json:"subdirectory" mapstructure:"subdirectory"`
	Minio        MinioConfig `json:"minio" mapstructure:"minio"`
}

// MinioConfig contains S3-compatible object storage settings
type MinioConfig struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
}

// DatabaseConfig contains the registry database location
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// ServerConfig contains the HTTP API settings
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// RedisConfig contains the optional feed relay settings
type RedisConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Addr          string `json:"addr" mapstructure:"addr"`
	Password      string `json:"password" mapstructure:"password"`
	DB            int    `json:"db" mapstructure:"db"`
	ChannelPrefix string `json:"channel_prefix" mapstructure:"channel_prefix"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// ConnectTimeoutDuration returns the download connect timeout
func (d DownloadConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// ReadTimeoutDuration returns the download read timeout
func (d DownloadConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(d.ReadTimeout) * time.Second
}

// TimeoutDuration returns the catalog request timeout
func (c CatalogConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			// Config file not found, create with defaults
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// LEVELMIND_DOWNLOAD_READ_TIMEOUT overrides download.read_timeout
	v.SetEnvPrefix("LEVELMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL cannot be empty")
	}

	if c.Catalog.Timeout < 1 {
		return fmt.Errorf("catalog timeout must be at least 1 second")
	}

	if c.Catalog.RateLimit < 0 {
		return fmt.Errorf("catalog rate limit cannot be negative")
	}

	if c.Download.ConnectTimeout < 1 || c.Download.ReadTimeout < 1 {
		return fmt.Errorf("download timeouts must be at least 1 second")
	}

	if c.Download.ConcurrentDownloads < 1 {
		return fmt.Errorf("concurrent downloads must be at least 1")
	}

	if c.Download.ConcurrentDownloads > 32 {
		return fmt.Errorf("concurrent downloads cannot exceed 32")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.MediaDir == "" {
			return fmt.Errorf("media directory cannot be empty")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("minio storage requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be local or minio)", c.Storage.Backend)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis relay enabled without an address")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("catalog.base_url", "http://localhost:3000")
	v.SetDefault("catalog.timeout", 30)
	v.SetDefault("catalog.rate_limit", 10)

	v.SetDefault("download.connect_timeout", 10)
	v.SetDefault("download.read_timeout", 10)
	v.SetDefault("download.concurrent_downloads", 4)
	v.SetDefault("download.lookup_metadata", true)
	v.SetDefault("download.embed_tags", false)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.media_dir", filepath.Join(dataDir, "media"))
	v.SetDefault("storage.subdirectory", "Music/LevelSuperMind")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "levelmind")
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.use_ssl", false)

	v.SetDefault("database.path", filepath.Join(dataDir, "data", "downloads.db"))

	v.SetDefault("server.addr", "127.0.0.1:8370")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "levelmind")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "app.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory.
// LEVELMIND_HOME wins over the platform config directory.
func GetDataDir() string {
	if home := os.Getenv("LEVELMIND_HOME"); home != "" {
		return home
	}

	base, err := os.UserConfigDir()
	if err != nil {
		base = os.Getenv("HOME")
	}
	return filepath.Join(base, "LevelMind")
}
