package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads config.yaml (if any) and the environment into a Config.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load against a caller-supplied viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/app/configs")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	v.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	v.BindEnv("ocpp.port", "OCPP_PORT", "APP_OCPP_PORT")
	v.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	v.BindEnv("queue.nats.url", "NATS_URL", "APP_QUEUE_NATS_URL")
	v.BindEnv("queue.rabbitmq.url", "RABBITMQ_URL", "APP_QUEUE_RABBITMQ_URL")
	v.BindEnv("auth.service_url", "AUTH_SERVICE_URL", "APP_AUTH_SERVICE_URL")
	v.BindEnv("jwt.secret", "JWT_SECRET", "APP_JWT_SECRET")
	v.BindEnv("app.environment", "APP_ENVIRONMENT")
	v.BindEnv("logging.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sigec-csms")
	v.SetDefault("app.version", "v1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 45*time.Second)
	v.SetDefault("http.idle_timeout", 2*time.Minute)
	v.SetDefault("http.rate_limit", 120)

	v.SetDefault("ocpp.port", 9000)
	v.SetDefault("ocpp.path", "/ocpp/")
	v.SetDefault("ocpp.heartbeat_interval", 300*time.Second)
	v.SetDefault("ocpp.heartbeat_grace", 2.0)
	v.SetDefault("ocpp.sweep_interval", 10*time.Second)
	v.SetDefault("ocpp.call_timeout", 30*time.Second)
	v.SetDefault("ocpp.inbox_size", 32)
	v.SetDefault("ocpp.write_timeout", 10*time.Second)
	v.SetDefault("ocpp.orphan_grace", 15*time.Minute)
	v.SetDefault("ocpp.preauth_ttl", 2*time.Minute)
	v.SetDefault("ocpp.security.require_subprotocol", true)
	v.SetDefault("ocpp.security.connect_rate_per_second", 1.0)
	v.SetDefault("ocpp.security.connect_burst", 5)

	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("queue.driver", "nats")

	v.SetDefault("auth.timeout", 5*time.Second)
	v.SetDefault("auth.cache_ttl", 24*time.Hour)

	v.SetDefault("jwt.issuer", "sigec-csms")
	v.SetDefault("jwt.token_ttl", 8*time.Hour)

	v.SetDefault("opentelemetry.service_name", "sigec-csms")
	v.SetDefault("opentelemetry.jaeger.endpoint", "http://jaeger:14268/api/traces")
	v.SetDefault("opentelemetry.jaeger.sampler_param", 1.0)

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 0.6)
	v.SetDefault("circuit_breaker.min_requests", 3)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.OCPP.HeartbeatInterval <= 0 {
		return fmt.Errorf("ocpp.heartbeat_interval must be positive")
	}
	if c.OCPP.HeartbeatGrace < 1 {
		return fmt.Errorf("ocpp.heartbeat_grace must be at least 1, got %v", c.OCPP.HeartbeatGrace)
	}
	if c.OCPP.CallTimeout <= 0 {
		return fmt.Errorf("ocpp.call_timeout must be positive")
	}
	switch c.Queue.Driver {
	case "nats", "rabbitmq", "none":
	default:
		return fmt.Errorf("queue.driver must be nats, rabbitmq or none, got %q", c.Queue.Driver)
	}
	return nil
}
