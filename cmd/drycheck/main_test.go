package main

import (
	"testing"
	"time"

	"github.com/chinmina/imagedrift/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		BaseImage: "nginx",
		Image:     "myorg/nginx",
		Registry: config.RegistryConfig{
			AuthURL:        "https://auth.docker.io/",
			Service:        "registry.docker.io",
			URL:            "https://registry-1.docker.io/v2/",
			RequestTimeout: 30 * time.Second,
			TokenTTL:       4 * time.Minute,
			TokenCacheSize: 1000,
		},
		Check: config.CheckConfig{MaxConcurrency: 8},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "zero request timeout", modify: func(c *Config) { c.Registry.RequestTimeout = 0 }, err: "REGISTRY_REQUEST_TIMEOUT must be positive"},
		{name: "relative registry URL", modify: func(c *Config) { c.Registry.URL = "/v2/" }, err: "REGISTRY_URL must be an absolute URL"},
		{name: "zero concurrency", modify: func(c *Config) { c.Check.MaxConcurrency = 0 }, err: "CHECK_MAX_CONCURRENCY must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := validate(cfg)
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestResolveTarget(t *testing.T) {
	t.Run("docker hub", func(t *testing.T) {
		target, err := resolveTarget(validConfig())
		require.NoError(t, err)

		assert.Equal(t, "library/nginx", target.BaseImage)
		assert.Equal(t, "myorg/nginx", target.Image)
		assert.Equal(t, "myorg/nginx", target.Name)
	})

	t.Run("private registry", func(t *testing.T) {
		cfg := validConfig()
		cfg.Registry.URL = "https://registry.example.com/v2/"

		target, err := resolveTarget(cfg)
		require.NoError(t, err)

		assert.Equal(t, "nginx", target.BaseImage)
	})

	t.Run("tagged image", func(t *testing.T) {
		cfg := validConfig()
		cfg.Image = "myorg/nginx:1.25"

		_, err := resolveTarget(cfg)
		assert.ErrorContains(t, err, "must not include a tag or digest")
	})
}
