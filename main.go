package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/chinmina/imagedrift/internal/config"
	"github.com/chinmina/imagedrift/internal/observe"
	"github.com/chinmina/imagedrift/internal/report"
	"github.com/chinmina/imagedrift/internal/server"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// errChecksFailed is returned by a one-shot run in which a target or tag
// failed. Failures have already been logged.
var errChecksFailed = errors.New("one or more checks failed")

func configureServerRoutes(store *report.Store) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	mux := observe.NewMux(http.NewServeMux())

	// no route accepts a body
	requestLimiter := maxRequestSize(1 << 10) // 1 KB
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /status", standardRouteMiddleware.Then(handleGetStatus(store)))

	// healthchecks are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launch()
	if errors.Is(err, errChecksFailed) {
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("drift check failed to run")
	}
}

func launch() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	targets, err := config.LoadTargets(cfg.Targets, cfg.Registry)
	if err != nil {
		return fmt.Errorf("target configuration failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}
	defer func() {
		if err := hooks.Execute(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	// configure telemetry, including wrapping the outgoing HTTP transport
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.Add("telemetry", shutdownTelemetry)

	client := &http.Client{
		Transport: observe.HTTPTransport(configureHTTPTransport(cfg.Server), cfg.Observe),
	}

	check := func(ctx context.Context) (report.Run, error) {
		return runChecks(ctx, targets, cfg, client)
	}

	if cfg.Check.Interval == 0 {
		run, err := check(ctx)
		if err != nil {
			return err
		}
		run.Log(ctx)
		if run.Failed() {
			return errChecksFailed
		}
		return nil
	}

	return runDaemon(ctx, cfg, check)
}

// runDaemon serves the status endpoints and checks every target each
// interval until ctx is cancelled.
func runDaemon(ctx context.Context, cfg config.Config, check checkFunc) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("status server listen failed: %w", err)
	}

	return serveAndCheck(ctx, cfg, listener, check)
}

// serveAndCheck serves the status endpoints on listener while running check
// every interval, publishing each completed run. Both stop when ctx is
// cancelled.
func serveAndCheck(ctx context.Context, cfg config.Config, listener net.Listener, check checkFunc) error {
	store := &report.Store{}

	srv := &http.Server{
		Handler:           configureServerRoutes(store),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, srv, listener, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	})
	g.Go(func() error {
		runPeriodically(gctx, cfg.Check.Interval, func(ctx context.Context) {
			run, err := check(ctx)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("drift check run could not start")
				return
			}
			run.Log(ctx)
			store.Update(run)
		})
		return nil
	})

	return g.Wait()
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
