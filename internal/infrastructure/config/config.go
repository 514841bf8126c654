package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
	Storage   StorageConfig
	Xero      XeroConfig
	Sync      SyncConfig
	Security  SecurityConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool // when false, caches and locks are process-local
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// JWTConfig holds settings for verifying access tokens issued by the identity service
type JWTConfig struct {
	Secret                string
	Issuer                string
	AccessTokenExpiration time.Duration // used only when minting tokens for dev tooling
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
}

// SchedulerConfig holds background sync worker configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// Continuous profiling
	ProfilingEnabled  bool
	PyroscopeEndpoint string
}

// StorageConfig holds S3-compatible object storage settings for report archives
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	PresignExpiration time.Duration
}

// XeroConfig holds the Xero app registration and API settings
type XeroConfig struct {
	Enabled             bool
	ClientID            string
	ClientSecret        string
	RedirectURL         string
	Scopes              []string
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	APIBaseURL          string
	ConnectionsURL      string
	Timeout             time.Duration
	WebhookKey          string
	RateLimitPerMinute  int
	RateLimitBurst      int
	MaxRetries          int
	MaxRetryWait        time.Duration
	PostConnectRedirect string
}

// SyncConfig holds sync engine tuning
type SyncConfig struct {
	MinInterval        time.Duration
	CacheTTL           time.Duration
	PageSize           int
	LockTTL            time.Duration
	TokenRefreshMargin time.Duration
	AuthStateTTL       time.Duration
	AutoSyncInterval   time.Duration // 0 disables scheduled syncs
	WebhookDedupeTTL   time.Duration
	// Ownership overrides, "entity.field" -> LOCAL|REMOTE|SHARED
	Ownership map[string]string
}

// SecurityConfig holds secrets used at rest
type SecurityConfig struct {
	TokenEncryptionKey string // base64, 32 bytes
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BUILDOPS_ prefix (e.g., BUILDOPS_XERO_CLIENT_SECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("BUILDOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			Issuer:                v.GetString("jwt.issuer"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			QueueSize:         v.GetInt("scheduler.queue_size"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:     v.GetInt("scheduler.retry_attempts"),
			RetryDelay:        v.GetDuration("scheduler.retry_delay"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeEndpoint: v.GetString("telemetry.pyroscope_endpoint"),
		},
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Xero: XeroConfig{
			Enabled:             v.GetBool("xero.enabled"),
			ClientID:            v.GetString("xero.client_id"),
			ClientSecret:        v.GetString("xero.client_secret"),
			RedirectURL:         v.GetString("xero.redirect_url"),
			Scopes:              v.GetStringSlice("xero.scopes"),
			AuthURL:             v.GetString("xero.auth_url"),
			TokenURL:            v.GetString("xero.token_url"),
			RevokeURL:           v.GetString("xero.revoke_url"),
			APIBaseURL:          v.GetString("xero.api_base_url"),
			ConnectionsURL:      v.GetString("xero.connections_url"),
			Timeout:             v.GetDuration("xero.timeout"),
			WebhookKey:          v.GetString("xero.webhook_key"),
			RateLimitPerMinute:  v.GetInt("xero.rate_limit_per_minute"),
			RateLimitBurst:      v.GetInt("xero.rate_limit_burst"),
			MaxRetries:          v.GetInt("xero.max_retries"),
			MaxRetryWait:        v.GetDuration("xero.max_retry_wait"),
			PostConnectRedirect: v.GetString("xero.post_connect_redirect"),
		},
		Sync: SyncConfig{
			MinInterval:        v.GetDuration("sync.min_interval"),
			CacheTTL:           v.GetDuration("sync.cache_ttl"),
			PageSize:           v.GetInt("sync.page_size"),
			LockTTL:            v.GetDuration("sync.lock_ttl"),
			TokenRefreshMargin: v.GetDuration("sync.token_refresh_margin"),
			AuthStateTTL:       v.GetDuration("sync.auth_state_ttl"),
			AutoSyncInterval:   v.GetDuration("sync.auto_sync_interval"),
			WebhookDedupeTTL:   v.GetDuration("sync.webhook_dedupe_ttl"),
			Ownership:          v.GetStringMapString("sync.ownership"),
		},
		Security: SecurityConfig{
			TokenEncryptionKey: v.GetString("security.token_encryption_key"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "buildops-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "buildops"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "buildops:"
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "buildops-identity"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// a manual full sync runs inside the request
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// CORS origins have no wildcard fallback; they must be configured explicitly.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-Tenant-ID"}
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 3
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 100
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "buildops-backend"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "buildops-reports"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 24 * time.Hour
	}
	applyXeroDefaults(&cfg.Xero)
	applySyncDefaults(&cfg.Sync)
}

func applyXeroDefaults(x *XeroConfig) {
	if len(x.Scopes) == 0 {
		x.Scopes = []string{
			"openid", "profile", "email", "offline_access",
			"accounting.transactions", "accounting.contacts", "accounting.settings.read",
		}
	}
	if x.AuthURL == "" {
		x.AuthURL = "https://login.xero.com/identity/connect/authorize"
	}
	if x.TokenURL == "" {
		x.TokenURL = "https://identity.xero.com/connect/token"
	}
	if x.RevokeURL == "" {
		x.RevokeURL = "https://identity.xero.com/connect/revocation"
	}
	if x.APIBaseURL == "" {
		x.APIBaseURL = "https://api.xero.com/api.xro/2.0"
	}
	if x.ConnectionsURL == "" {
		x.ConnectionsURL = "https://api.xero.com/connections"
	}
	if x.Timeout == 0 {
		x.Timeout = 30 * time.Second
	}
	if x.RateLimitPerMinute == 0 {
		x.RateLimitPerMinute = 60
	}
	if x.RateLimitBurst == 0 {
		x.RateLimitBurst = 5
	}
	if x.MaxRetries == 0 {
		x.MaxRetries = 3
	}
	if x.MaxRetryWait == 0 {
		x.MaxRetryWait = time.Minute
	}
}

func applySyncDefaults(s *SyncConfig) {
	if s.MinInterval == 0 {
		s.MinInterval = 30 * time.Second
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = 60 * time.Second
	}
	if s.PageSize == 0 {
		s.PageSize = 100
	}
	if s.LockTTL == 0 {
		s.LockTTL = 10 * time.Minute
	}
	if s.TokenRefreshMargin == 0 {
		s.TokenRefreshMargin = 2 * time.Minute
	}
	if s.AuthStateTTL == 0 {
		s.AuthStateTTL = 10 * time.Minute
	}
	if s.WebhookDedupeTTL == 0 {
		s.WebhookDedupeTTL = 24 * time.Hour
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Sync.MinInterval < 0 || c.Sync.AutoSyncInterval < 0 {
		return fmt.Errorf("sync intervals cannot be negative")
	}
	if c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size cannot exceed 100, the ledger's page size")
	}
	if c.Security.TokenEncryptionKey != "" {
		if _, err := c.Security.EncryptionKey(); err != nil {
			return err
		}
	}
	if c.Xero.Enabled && (c.Xero.ClientID == "" || c.Xero.RedirectURL == "") {
		return fmt.Errorf("xero.client_id and xero.redirect_url are required when xero is enabled")
	}

	if c.App.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
		if c.Security.TokenEncryptionKey == "" {
			return fmt.Errorf("security.token_encryption_key is required in production")
		}
		if c.Xero.Enabled {
			if c.Xero.ClientSecret == "" {
				return fmt.Errorf("xero.client_secret is required in production")
			}
			if c.Xero.WebhookKey == "" {
				return fmt.Errorf("xero.webhook_key is required in production")
			}
		}
	}

	return nil
}

// EncryptionKey decodes the token encryption key
func (s SecurityConfig) EncryptionKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.token_encryption_key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("security.token_encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// IsProduction reports whether production-only validation applies
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the redis host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
