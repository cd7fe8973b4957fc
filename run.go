package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chinmina/imagedrift/internal/checker"
	"github.com/chinmina/imagedrift/internal/config"
	"github.com/chinmina/imagedrift/internal/report"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type targetChecker interface {
	Target() config.Target
	CheckAll(ctx context.Context) ([]checker.Result, error)
	Close() error
}

// checkFunc performs one complete drift check run.
type checkFunc func(ctx context.Context) (report.Run, error)

// runChecks performs one complete run over targets. Checkers, and with them
// their token caches, are built for the run and released when it completes,
// so every run requests its own tokens.
func runChecks(ctx context.Context, targets []config.Target, cfg config.Config, client *http.Client) (report.Run, error) {
	checkers, err := buildCheckers(ctx, targets, cfg, client)
	if err != nil {
		return report.Run{}, err
	}
	defer closeCheckers(ctx, checkers)

	return checkTargets(ctx, checkers), nil
}

func buildCheckers(ctx context.Context, targets []config.Target, cfg config.Config, client *http.Client) ([]targetChecker, error) {
	checkers := make([]targetChecker, 0, len(targets))
	for _, target := range targets {
		c, err := checker.Build(target, cfg.Registry, cfg.Check, client)
		if err != nil {
			closeCheckers(ctx, checkers)
			return nil, fmt.Errorf("checker configuration for target %q failed: %w", target.Name, err)
		}
		checkers = append(checkers, c)
	}

	log.Ctx(ctx).Debug().Int("targets", len(checkers)).Msg("checkers configured")

	return checkers, nil
}

func closeCheckers(ctx context.Context, checkers []targetChecker) {
	for _, c := range checkers {
		if err := c.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("target", c.Target().Name).Msg("checker close failed")
		}
	}
}

// checkTargets checks every target concurrently. A target whose tags cannot
// be listed is reported as failed without affecting the others.
func checkTargets(ctx context.Context, checkers []targetChecker) report.Run {
	run := report.Run{
		Started: time.Now(),
		Targets: make([]report.Target, len(checkers)),
	}

	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results, err := c.CheckAll(ctx)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("target", c.Target().Name).Msg("tag listing failed")
			}
			run.Targets[i] = report.NewTarget(c.Target(), results, err)
			return nil
		})
	}
	_ = g.Wait()

	run.Finished = time.Now()

	return run
}

// runPeriodically calls fn immediately and then every interval until ctx is
// cancelled. Runs never overlap: a run that overruns the interval delays the
// next one.
func runPeriodically(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}

		if ctx.Err() != nil {
			log.Ctx(ctx).Info().Msg("periodic checks stopping")
			return
		}
	}
}
