package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Check    CheckConfig
	Observe  ObserveConfig
	Registry RegistryConfig
	Server   ServerConfig
	Targets  TargetsConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// RegistryConfig describes the registry and token service queried by every
// checker. The defaults address Docker Hub.
type RegistryConfig struct {
	// AuthURL is the base URL of the token service; "token" is resolved
	// against it.
	AuthURL string `env:"REGISTRY_AUTH_URL, default=https://auth.docker.io/"`

	// Service is sent as the "service" parameter of token requests.
	Service string `env:"REGISTRY_SERVICE, default=registry.docker.io"`

	// URL is the base of the registry v2 API.
	URL string `env:"REGISTRY_URL, default=https://registry-1.docker.io/v2/"`

	// RequestTimeout bounds every individual registry, token and trigger
	// request.
	RequestTimeout time.Duration `env:"REGISTRY_REQUEST_TIMEOUT, default=30s"`

	// TokenTTL is how long a bearer token is reused for a scope. It must stay
	// below the lifetime of tokens issued by the token service.
	TokenTTL time.Duration `env:"REGISTRY_TOKEN_TTL, default=4m"`

	TokenCacheSize int `env:"REGISTRY_TOKEN_CACHE_SIZE, default=1000"`
}

type CheckConfig struct {
	// MaxConcurrency caps the number of tags checked at once for a target.
	MaxConcurrency int `env:"CHECK_MAX_CONCURRENCY, default=8"`

	// Interval selects periodic mode when non-zero. A zero interval checks
	// every target once and exits.
	Interval time.Duration `env:"CHECK_INTERVAL, default=0s"`
}

// TargetsConfig locates the image pairs to check. Both sources may be
// supplied; their targets are combined.
type TargetsConfig struct {
	File string `env:"DRIFT_TARGETS_FILE"`

	// Inline holds entries of the form "<base_image> <image> <trigger_url>".
	Inline []string `env:"DRIFT_TARGETS, delimiter=;"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=imagedrift"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Registry.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid registry configuration: %w", err)
	}

	err = cfg.Check.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid check configuration: %w", err)
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the registry endpoints are usable absolute URLs and
// that the timing settings are positive.
func (c *RegistryConfig) Validate() error {
	if err := validateEndpoint("REGISTRY_AUTH_URL", c.AuthURL); err != nil {
		return err
	}
	if err := validateEndpoint("REGISTRY_URL", c.URL); err != nil {
		return err
	}
	if c.Service == "" {
		return errors.New("REGISTRY_SERVICE must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REGISTRY_REQUEST_TIMEOUT must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("REGISTRY_TOKEN_TTL must be positive")
	}
	if c.TokenCacheSize <= 0 {
		return errors.New("REGISTRY_TOKEN_CACHE_SIZE must be positive")
	}

	return nil
}

// dockerHubHosts are the API hosts of Docker Hub.
var dockerHubHosts = []string{
	"registry-1.docker.io",
	"index.docker.io",
	"registry.hub.docker.com",
	"docker.io",
}

// DockerHub reports whether URL addresses Docker Hub, where official images
// live under the "library/" namespace.
func (c *RegistryConfig) DockerHub() bool {
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	return slices.Contains(dockerHubHosts, strings.ToLower(u.Hostname()))
}

func (c *CheckConfig) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("CHECK_MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.Interval < 0 {
		return fmt.Errorf("CHECK_INTERVAL must not be negative, got %s", c.Interval)
	}

	return nil
}

func (c *ObserveConfig) Validate() error {
	switch c.Type {
	case "grpc", "stdout":
		return nil
	default:
		return fmt.Errorf("OBSERVE_TYPE must be either \"grpc\" or \"stdout\", got %q", c.Type)
	}
}

func validateEndpoint(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s could not be parsed: %w", name, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL: %s", name, raw)
	}

	return nil
}
