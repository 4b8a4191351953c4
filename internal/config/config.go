// Package config loads the check-in agent configuration once at startup.
//
// Values resolve in priority order:
//
//	OS environment -> .env file -> AWS SSM Parameter Store (via *_SSM_PARAM)
//
// A missing required value or a failed validation aborts startup.
package config

import (
	"time"

	"attendance/internal/checkin"
	"attendance/internal/geofence"
	"attendance/internal/location"
	"attendance/internal/types"
)

// SecretString is the redacting string type used for credentials.
type SecretString = types.SecretString

// Config is the top-level agent configuration. It is immutable after
// LoadConfig returns; components receive only the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"checkin-agent"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Attendance    AttendanceAPIConfig
	Sampler       SamplerConfig
	Geofence      GeofenceConfig
	Session       SessionConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig configures the agent's HTTP listener.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
}

// AttendanceAPIConfig points the agent at the attendance backend.
type AttendanceAPIConfig struct {
	BaseURL    string        `envconfig:"ATTENDANCE_API_URL" validate:"required,url"`
	APIKey     SecretString  `envconfig:"ATTENDANCE_API_KEY"`
	Timeout    time.Duration `envconfig:"ATTENDANCE_API_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries int           `envconfig:"ATTENDANCE_API_MAX_RETRIES" default:"2" validate:"gte=0,lte=5"`
}

// SamplerConfig sets the acquisition thresholds used for every attempt.
type SamplerConfig struct {
	DesiredAccuracyMeters float64       `envconfig:"SAMPLER_DESIRED_ACCURACY_METERS" default:"25" validate:"gt=0"`
	MaxWait               time.Duration `envconfig:"SAMPLER_MAX_WAIT" default:"15s" validate:"gt=0"`
}

// GeofenceConfig tunes the geofencing context cache.
type GeofenceConfig struct {
	FallbackPolicy string        `envconfig:"GEOFENCE_FALLBACK_POLICY" default:"deny_if_no_gps" validate:"fallback_policy"`
	ContextMaxAge  time.Duration `envconfig:"GEOFENCE_CONTEXT_MAX_AGE" default:"0s" validate:"gte=0"`
	FetchTimeout   time.Duration `envconfig:"GEOFENCE_FETCH_TIMEOUT" default:"10s" validate:"gt=0"`
}

// SessionConfig controls device session lifetimes.
type SessionConfig struct {
	IdleTTL       time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m" validate:"gt=0"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m" validate:"gt=0"`
}

// AWSConfig holds the region and the LocalStack endpoint override.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds metric settings. CloudWatch emission is opt-in;
// the Prometheus scrape endpoint is on by default.
type ObservabilityConfig struct {
	MetricsEnabled    bool   `envconfig:"METRICS_ENABLED" default:"false"`
	PrometheusEnabled bool   `envconfig:"PROMETHEUS_ENABLED" default:"true"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AttendanceCheckIn" validate:"required"`
}

// BuildInfo holds build-time metadata.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Fallback returns the configured default fallback policy. Validation
// guarantees the value parses.
func (g GeofenceConfig) Fallback() types.FallbackPolicy {
	p, _ := types.ParseFallbackPolicy(g.FallbackPolicy)
	return p
}

// SamplingOptions converts the sampler settings to acquisition options.
func (s SamplerConfig) SamplingOptions() location.Options {
	return location.Options{
		DesiredAccuracyMeters: s.DesiredAccuracyMeters,
		MaxWait:               s.MaxWait,
	}
}

// RegistryConfig assembles the per-session settings for the check-in registry.
func (c *Config) RegistryConfig() checkin.RegistryConfig {
	return checkin.RegistryConfig{
		Sampling: c.Sampler.SamplingOptions(),
		Cache: geofence.CacheConfig{
			MaxAge:          c.Geofence.ContextMaxAge,
			FetchTimeout:    c.Geofence.FetchTimeout,
			DefaultFallback: c.Geofence.Fallback(),
		},
		IdleTTL: c.Session.IdleTTL,
	}
}

// IsLocal reports whether the agent runs outside AWS.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
