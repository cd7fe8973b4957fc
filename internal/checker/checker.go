package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/chinmina/imagedrift/internal/cache"
	"github.com/chinmina/imagedrift/internal/config"
	"github.com/chinmina/imagedrift/internal/registry"
	"github.com/chinmina/imagedrift/internal/trigger"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/chinmina/imagedrift/internal/checker"

var (
	metricsOnce sync.Once
	tagChecks   metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		tagChecks, err = otel.Meter(instrumentationName).Int64Counter(
			"drift.checks",
			metric.WithDescription("Tags checked for drift, by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Registry lists tags and fetches manifest digests.
type Registry interface {
	Tags(ctx context.Context, image string) ([]string, error)
	ManifestDigest(ctx context.Context, image, tag string) (digest.Digest, error)
}

// Trigger requests a rebuild of a tag of the derived image.
type Trigger interface {
	Trigger(ctx context.Context, tag string) (string, error)
}

// Checker compares every tag of a derived image with the same tag of its
// base image, and requests a rebuild of each tag whose manifests differ.
type Checker struct {
	target         config.Target
	registry       Registry
	trigger        Trigger
	maxConcurrency int
	closer         io.Closer
}

type Option func(*Checker)

// WithMaxConcurrency caps the number of tags checked at once. Values below 1
// are ignored.
func WithMaxConcurrency(n int) Option {
	return func(c *Checker) {
		if n >= 1 {
			c.maxConcurrency = n
		}
	}
}

// New creates a checker for target using the given collaborators.
func New(target config.Target, reg Registry, trig Trigger, opts ...Option) *Checker {
	initMetrics()

	c := &Checker{
		target:         target,
		registry:       reg,
		trigger:        trig,
		maxConcurrency: 8,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Build creates a checker for target with its own token cache, registry
// client and trigger client. Close the checker to release the token cache.
func Build(target config.Target, regCfg config.RegistryConfig, checkCfg config.CheckConfig, client *http.Client) (*Checker, error) {
	tokens, err := cache.New[registry.Token](regCfg.TokenTTL, regCfg.TokenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("token cache configuration failed: %w", err)
	}

	auth, err := registry.NewAuth(regCfg, client, tokens)
	if err != nil {
		_ = tokens.Close()
		return nil, fmt.Errorf("registry auth configuration failed: %w", err)
	}

	reg, err := registry.NewClient(regCfg, client, auth)
	if err != nil {
		_ = tokens.Close()
		return nil, fmt.Errorf("registry client configuration failed: %w", err)
	}

	trig := trigger.New(target.TriggerURL, client, regCfg.RequestTimeout)

	c := New(target, reg, trig, WithMaxConcurrency(checkCfg.MaxConcurrency))
	c.closer = tokens

	return c, nil
}

// Target returns the image pair this checker was created for.
func (c *Checker) Target() config.Target {
	return c.target
}

// Close releases the checker's token cache, if it owns one.
func (c *Checker) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// CheckAll checks every tag of the derived image. The error is non-nil only
// when the tag list could not be retrieved; failures of individual tags are
// reported in their Result and never affect other tags. Results are returned
// once every tag has settled.
func (c *Checker) CheckAll(ctx context.Context) ([]Result, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "check_target",
		trace.WithAttributes(
			attribute.String("drift.target", c.target.Name),
			attribute.String("drift.image", c.target.Image),
			attribute.String("drift.base_image", c.target.BaseImage),
		),
	)
	defer span.End()

	logger := log.Ctx(ctx).With().
		Str("target", c.target.Name).
		Str("image", c.target.Image).
		Str("base_image", c.target.BaseImage).
		Logger()
	ctx = logger.WithContext(ctx)

	tags, err := c.registry.Tags(ctx, c.target.Image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tag listing failed")
		return nil, err
	}

	logger.Debug().Int("tags", len(tags)).Msg("checking tags")

	results := make([]Result, len(tags))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for i, tag := range tags {
		g.Go(func() error {
			results[i] = c.checkTagSafely(ctx, tag)
			return nil
		})
	}
	_ = g.Wait() // tag checks never return errors

	summary := Summarize(results)
	span.SetAttributes(
		attribute.Int("drift.tags", len(tags)),
		attribute.Int("drift.triggered", summary.Triggered),
		attribute.Int("drift.failed", summary.Failed),
	)
	if summary.Failed > 0 {
		span.SetStatus(codes.Error, "one or more tags failed")
	}

	return results, nil
}

// checkTagSafely converts a panic in a tag check into a failed result, so
// one tag cannot take down the rest of the batch.
func (c *Checker) checkTagSafely(ctx context.Context, tag string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Warn().Str("tag", tag).Interface("panic", r).Msg("tag check panicked, recovered")
			result = Result{
				Tag:     tag,
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("panic during check of tag %q: %v", tag, r),
			}
		}
	}()

	return c.CheckTag(ctx, tag)
}

// CheckTag compares the base and derived manifests of tag and triggers a
// rebuild when their digests differ. The two manifests are fetched
// concurrently; if either fetch fails the trigger is not invoked.
func (c *Checker) CheckTag(ctx context.Context, tag string) Result {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "check_tag",
		trace.WithAttributes(attribute.String("drift.tag", tag)),
	)
	defer span.End()

	result := c.checkTag(ctx, tag)

	span.SetAttributes(attribute.String("drift.outcome", result.Outcome.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "tag check failed")
	}

	if tagChecks != nil {
		tagChecks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("drift.outcome", result.Outcome.String()),
		))
	}

	logResult(ctx, result)

	return result
}

func (c *Checker) checkTag(ctx context.Context, tag string) Result {
	result := Result{Tag: tag}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := c.registry.ManifestDigest(gctx, c.target.BaseImage, tag)
		result.BaseDigest = d
		return err
	})
	g.Go(func() error {
		d, err := c.registry.ManifestDigest(gctx, c.target.Image, tag)
		result.Digest = d
		return err
	})
	if err := g.Wait(); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	if result.BaseDigest == result.Digest {
		result.Outcome = OutcomeUnchanged
		return result
	}

	response, err := c.trigger.Trigger(ctx, tag)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	result.Outcome = OutcomeTriggered
	result.Response = response

	return result
}

func logResult(ctx context.Context, result Result) {
	logger := zerolog.Ctx(ctx)

	switch result.Outcome {
	case OutcomeUnchanged:
		logger.Debug().Str("tag", result.Tag).Str("digest", result.Digest.String()).Msg("tag up to date")
	case OutcomeTriggered:
		logger.Info().Str("tag", result.Tag).
			Str("base_digest", result.BaseDigest.String()).
			Str("digest", result.Digest.String()).
			Msg("base image changed, rebuild triggered")
	case OutcomeFailed:
		ev := logger.Warn().Str("tag", result.Tag).Err(result.Err)
		var regErr *registry.RegistryError
		if errors.As(result.Err, &regErr) && regErr.NotFound() {
			ev = ev.Bool("not_found", true)
		}
		ev.Msg("tag check failed")
	}
}
