package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tobyh/feedvault/internal/domain"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Hosting  HostingConfig  `mapstructure:"hosting"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Relocate RelocateConfig `mapstructure:"relocate"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// StoreConfig configures the remote document store client.
type StoreConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"`
	PageSize int    `mapstructure:"page_size"`
}

// HostingConfig configures the media hosting backend (S3, R2, MinIO).
type HostingConfig struct {
	Provider  string `mapstructure:"provider"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// CacheConfig configures the durable local duplicate cache database.
type CacheConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// RelocateConfig configures the media relocation queue.
type RelocateConfig struct {
	Workers         int           `mapstructure:"workers"`
	ImageMaxBytes   int64         `mapstructure:"image_max_bytes"`
	VideoMaxBytes   int64         `mapstructure:"video_max_bytes"`
	HeavyVideoBytes int64         `mapstructure:"heavy_video_bytes"`
	ClipHosts       []string      `mapstructure:"clip_hosts"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	TaskDelay       time.Duration `mapstructure:"task_delay"`
}

type IngestConfig struct {
	RecentTTL time.Duration `mapstructure:"recent_ttl"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("store.page_size", 500)
	v.SetDefault("hosting.provider", "")
	v.SetDefault("hosting.endpoint", "localhost:9000")
	v.SetDefault("hosting.use_ssl", false)
	v.SetDefault("hosting.bucket", "feedvault-media")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "./data/feedvault.db")
	v.SetDefault("relocate.workers", 3)
	v.SetDefault("relocate.image_max_bytes", 10<<20)
	v.SetDefault("relocate.video_max_bytes", 100<<20)
	v.SetDefault("relocate.heavy_video_bytes", 8<<20)
	v.SetDefault("relocate.clip_hosts", []string{"video.twimg.com", "gfycat.com"})
	v.SetDefault("relocate.retry_attempts", 3)
	v.SetDefault("relocate.retry_base", "500ms")
	v.SetDefault("relocate.task_delay", "1s")
	v.SetDefault("ingest.recent_ttl", "90s")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("store.base_url", "STORE_BASE_URL")
	v.BindEnv("store.token", "STORE_TOKEN")
	v.BindEnv("hosting.endpoint", "HOSTING_ENDPOINT")
	v.BindEnv("hosting.access_key", "HOSTING_ACCESS_KEY")
	v.BindEnv("hosting.secret_key", "HOSTING_SECRET_KEY")
	v.BindEnv("hosting.use_ssl", "HOSTING_USE_SSL")
	v.BindEnv("hosting.bucket", "HOSTING_BUCKET")
	v.BindEnv("hosting.public_url", "HOSTING_PUBLIC_URL")
	v.BindEnv("cache.dsn", "CACHE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate is the pre-flight check run before any batch work. A
// failure here is fatal to the whole run, unlike per-item errors.
func (c *Config) Validate() error {
	if c.Store.BaseURL == "" {
		return domain.Errorf(domain.KindValidation, "config.Validate", "store.base_url is required")
	}
	if c.Store.Token == "" {
		return domain.Errorf(domain.KindValidation, "config.Validate", "store.token is required")
	}
	if c.Hosting.Bucket == "" {
		return domain.Errorf(domain.KindValidation, "config.Validate", "hosting.bucket is required")
	}
	if c.Relocate.Workers <= 0 {
		return domain.Errorf(domain.KindValidation, "config.Validate", "relocate.workers must be positive, got %d", c.Relocate.Workers)
	}
	if c.Relocate.RetryAttempts <= 0 {
		return domain.Errorf(domain.KindValidation, "config.Validate", "relocate.retry_attempts must be positive, got %d", c.Relocate.RetryAttempts)
	}
	return nil
}
