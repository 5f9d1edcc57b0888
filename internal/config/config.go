package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2beens/blogsrv/pkg"
)

type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	Environment   string `toml:"environment"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`

	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// prometheus
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// uploads: "disk" or "s3"
	UploadsBackend     string `toml:"uploads_backend"`
	UploadsRootPath    string `toml:"uploads_root_path"`
	UploadMaxSizeBytes int64  `toml:"upload_max_size_bytes"`
	S3Region           string `toml:"s3_region"`
	S3Bucket           string `toml:"s3_bucket"`
	S3BaseEndpoint     string `toml:"s3_base_endpoint"`
	S3PublicBaseURL    string `toml:"s3_public_base_url"`

	// sessions and auth
	SessionTTLHours             int      `toml:"session_ttl_hours"`
	SessionCookieSecure         bool     `toml:"session_cookie_secure"`
	SessionsCleanupIntervalMins int      `toml:"sessions_cleanup_interval_mins"`
	LoginRateLimitAllowedPerMin int      `toml:"login_rate_limit_allowed_per_min"`
	BcryptCost                  int      `toml:"bcrypt_cost"`
	EnforceDeleteOwnership      bool     `toml:"enforce_delete_ownership"`
	AllowedOrigins              []string `toml:"allowed_origins"`

	// reverse proxies (IPs or CIDRs) whose X-Real-Ip / X-Forwarded-For headers are honored
	TrustedProxies []string `toml:"trusted_proxies"`
}

type Toml struct {
	Development *Config
	Production  *Config
	DockerDev   *Config `toml:"dockerdev"`
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	case "ddev", "dockerdev":
		cfg = t.DockerDev
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	return cfg, nil
}

// Load reads the TOML file at path and returns the section for env, with defaults applied.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid [%s] config: %w", env, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.PostgresUser == "" {
		c.PostgresUser = "postgres"
	}
	if c.UploadsBackend == "" {
		c.UploadsBackend = "disk"
	}
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = 7 * 24
	}
	if c.SessionsCleanupIntervalMins == 0 {
		c.SessionsCleanupIntervalMins = 8 * 60
	}
	if c.LoginRateLimitAllowedPerMin == 0 {
		c.LoginRateLimitAllowedPerMin = 15
	}
}

func (c *Config) Validate() error {
	switch c.UploadsBackend {
	case "disk":
		if c.UploadsRootPath == "" {
			return fmt.Errorf("uploads_root_path is required for the disk uploads backend")
		}
	case "s3":
		if c.S3Bucket == "" || c.S3Region == "" {
			return fmt.Errorf("s3_bucket and s3_region are required for the s3 uploads backend")
		}
	default:
		return fmt.Errorf("unknown uploads backend: %s", c.UploadsBackend)
	}
	if c.UploadMaxSizeBytes < 0 {
		return fmt.Errorf("upload_max_size_bytes must not be negative")
	}
	if _, err := pkg.NewClientIPReader(c.TrustedProxies); err != nil {
		return fmt.Errorf("trusted_proxies: %w", err)
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) SessionsCleanupInterval() time.Duration {
	return time.Duration(c.SessionsCleanupIntervalMins) * time.Minute
}
