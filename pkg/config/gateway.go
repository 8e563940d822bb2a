package config

import (
	"fmt"
	"net/url"
	"time"
)

// GatewayConfig holds the settings of the gateway binary.
type GatewayConfig struct {
	// Addr is the listen address. Default: ":8080"
	Addr string

	// UpstreamURL is the service requests are proxied to.
	UpstreamURL *url.URL

	// RedisAddr is used by the redis driver. Default: "localhost:6379"
	RedisAddr string

	// RedisPassword and RedisDB select the Redis database.
	RedisPassword string
	RedisDB       int

	// RedisPrefix namespaces this gateway's keys. Default: "routelimit:"
	RedisPrefix string

	// DatabaseURL is used by the postgres driver.
	DatabaseURL string

	// JWTSecret enables the jwt key function when set.
	JWTSecret string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout guards against slow clients. Default: 10s
	ReadHeaderTimeout time.Duration

	// UpstreamTimeout bounds waiting for upstream response headers.
	// Default: 30s
	UpstreamTimeout time.Duration

	// ServiceName is the tracing service name. Default: "routelimit"
	ServiceName string

	// TraceSampleRatio is the fraction of root spans sampled. Default: 0.1
	TraceSampleRatio float64
}

// LoadGatewayConfig loads gateway settings from the environment:
//   - ADDR, UPSTREAM_URL (required), DATABASE_URL, JWT_SECRET
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX
//   - SHUTDOWN_TIMEOUT (1s to 5m), READ_HEADER_TIMEOUT, UPSTREAM_TIMEOUT
//   - SERVICE_NAME, TRACE_SAMPLE_RATIO (0 to 1)
func LoadGatewayConfig() (*GatewayConfig, error) {
	raw := GetEnvString("UPSTREAM_URL", "")
	if raw == "" {
		return nil, fmt.Errorf("UPSTREAM_URL is required")
	}
	upstream, err := url.Parse(raw)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("UPSTREAM_URL %q is not an absolute URL", raw)
	}

	cfg := &GatewayConfig{
		Addr:              GetEnvString("ADDR", ":8080"),
		UpstreamURL:       upstream,
		RedisAddr:         GetEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     GetEnvString("REDIS_PASSWORD", ""),
		RedisDB:           GetEnvInt("REDIS_DB", 0),
		RedisPrefix:       GetEnvString("REDIS_PREFIX", "routelimit:"),
		DatabaseURL:       GetEnvString("DATABASE_URL", ""),
		JWTSecret:         GetEnvString("JWT_SECRET", ""),
		ShutdownTimeout:   GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout: GetEnvDuration("READ_HEADER_TIMEOUT", 10*time.Second),
		UpstreamTimeout:   GetEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		ServiceName:       GetEnvString("SERVICE_NAME", "routelimit"),
		TraceSampleRatio:  GetEnvFloat("TRACE_SAMPLE_RATIO", 0.1),
	}

	if err := ValidateDurationRange(cfg.ShutdownTimeout, time.Second, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}
	if err := ValidatePositiveDuration(cfg.ReadHeaderTimeout); err != nil {
		return nil, fmt.Errorf("READ_HEADER_TIMEOUT: %w", err)
	}
	if err := ValidatePositiveDuration(cfg.UpstreamTimeout); err != nil {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.TraceSampleRatio)
	}
	return cfg, nil
}
