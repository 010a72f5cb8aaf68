package config

import "time"

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	OCPP           OCPPConfig           `mapstructure:"ocpp"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Auth           AuthConfig           `mapstructure:"auth"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Prometheus     PrometheusConfig     `mapstructure:"prometheus"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	// RateLimit caps operator API requests per client IP per minute; 0 disables it.
	RateLimit int `mapstructure:"rate_limit"`
}

type OCPPConfig struct {
	Port              int           `mapstructure:"port"`
	Path              string        `mapstructure:"path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// HeartbeatGrace multiplies the heartbeat interval before a silent session is evicted.
	HeartbeatGrace float64       `mapstructure:"heartbeat_grace"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	InboxSize      int           `mapstructure:"inbox_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	OrphanGrace    time.Duration `mapstructure:"orphan_grace"`
	PreauthTTL     time.Duration `mapstructure:"preauth_ttl"`
	Security       OCPPSecurity  `mapstructure:"security"`
}

type OCPPSecurity struct {
	// BasicAuth enables security profile 1; Credentials maps identity to a bcrypt hash.
	BasicAuth             bool              `mapstructure:"basic_auth"`
	Credentials           map[string]string `mapstructure:"credentials"`
	AllowedChargePointIDs []string          `mapstructure:"allowed_charge_point_ids"`
	RequireSubprotocol    bool              `mapstructure:"require_subprotocol"`
	ConnectRatePerSecond  float64           `mapstructure:"connect_rate_per_second"`
	ConnectBurst          int               `mapstructure:"connect_burst"`
	TLSCert               string            `mapstructure:"tls_cert"`
	TLSKey                string            `mapstructure:"tls_key"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type QueueConfig struct {
	// Driver is one of nats, rabbitmq or none.
	Driver   string         `mapstructure:"driver"`
	NATS     NATSConfig     `mapstructure:"nats"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	ServiceURL       string        `mapstructure:"service_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	OfflineAllowList []string      `mapstructure:"offline_allow_list"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type OpenTelemetryConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Jaeger      JaegerConfig `mapstructure:"jaeger"`
	ServiceName string       `mapstructure:"service_name"`
}

type JaegerConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	SamplerParam float64 `mapstructure:"sampler_param"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	MinRequests      uint32        `mapstructure:"min_requests"`
}
