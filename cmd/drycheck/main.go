// This command is only used for local testing: it compares the tags of an
// image pair against the configured registry and prints one JSON line per
// tag. The build trigger is never called.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/chinmina/imagedrift/internal/cache"
	"github.com/chinmina/imagedrift/internal/checker"
	"github.com/chinmina/imagedrift/internal/config"
	"github.com/chinmina/imagedrift/internal/registry"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	BaseImage string `env:"UTIL_BASE_IMAGE, required"`
	Image     string `env:"UTIL_IMAGE, required"`
	Tag       string `env:"UTIL_TAG"` // all tags when empty

	Registry config.RegistryConfig
	Check    config.CheckConfig
}

type line struct {
	Tag        string `json:"tag"`
	Drifted    bool   `json:"drifted"`
	BaseDigest string `json:"base_digest,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Error      string `json:"error,omitempty"`
}

// dryRun reports drift without requesting a rebuild.
type dryRun struct{}

func (dryRun) Trigger(context.Context, string) (string, error) {
	return "dry run", nil
}

func main() {
	ctx := context.Background()

	cfg := Config{}
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	if err := validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	target, err := resolveTarget(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid image: %v\n", err)
		os.Exit(1)
	}

	c, err := newChecker(target, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring registry: %v\n", err)
		os.Exit(1)
	}

	var results []checker.Result
	if cfg.Tag != "" {
		results = []checker.Result{c.CheckTag(ctx, cfg.Tag)}
	} else {
		results, err = c.CheckAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listing tags: %v\n", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	failed := false
	for _, r := range results {
		l := line{
			Tag:        r.Tag,
			Drifted:    r.Outcome == checker.OutcomeTriggered,
			BaseDigest: r.BaseDigest.String(),
			Digest:     r.Digest.String(),
		}
		if r.Err != nil {
			l.Error = r.Err.Error()
			failed = true
		}
		_ = enc.Encode(l)
	}

	if failed {
		os.Exit(1)
	}
}

func validate(cfg Config) error {
	if err := cfg.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := cfg.Check.Validate(); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	return nil
}

func resolveTarget(cfg Config) (config.Target, error) {
	dockerHub := cfg.Registry.DockerHub()

	base, err := config.RepositoryPath(cfg.BaseImage, dockerHub)
	if err != nil {
		return config.Target{}, err
	}

	image, err := config.RepositoryPath(cfg.Image, dockerHub)
	if err != nil {
		return config.Target{}, err
	}

	return config.Target{Name: image, BaseImage: base, Image: image}, nil
}

func newChecker(target config.Target, cfg Config) (*checker.Checker, error) {
	tokens, err := cache.New[registry.Token](cfg.Registry.TokenTTL, cfg.Registry.TokenCacheSize)
	if err != nil {
		return nil, err
	}

	auth, err := registry.NewAuth(cfg.Registry, http.DefaultClient, tokens)
	if err != nil {
		return nil, err
	}

	client, err := registry.NewClient(cfg.Registry, http.DefaultClient, auth)
	if err != nil {
		return nil, err
	}

	return checker.New(target, client, dryRun{}, checker.WithMaxConcurrency(cfg.Check.MaxConcurrency)), nil
}
