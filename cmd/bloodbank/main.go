// Command bloodbank serves the blood bank allocation API.
package main

import (
	"bloodbank/internal/adapters/httpapi"
	"bloodbank/internal/archive"
	"bloodbank/internal/archive/objectstore"
	"bloodbank/internal/config"
	"bloodbank/internal/core"
	"bloodbank/internal/infra/logging"
	"bloodbank/internal/infra/metrics"
	"bloodbank/internal/infra/tracing"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

var (
	exitFunc = os.Exit
	version  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bloodbank:", err)
		exitFunc(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("bloodbank", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	checkOnly := fs.Bool("check", false, "validate configuration, open backends and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	a, err := build(ctx, cfg, stdout)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	if *checkOnly {
		a.logger.Info("configuration ok", "storage", cfg.Storage.Driver, "archive", cfg.Archive.Driver)
		return nil
	}
	return a.serve(ctx)
}

type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	service *core.Service
	server  *http.Server
	closers []func(context.Context) error
}

func build(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
		Output: logOut,
	})
	a := &app{cfg: cfg, logger: logger}

	store, err := core.OpenPersistentStore(core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    "bloodbank",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, provider.Shutdown)

	recorder := metrics.NewRecorder()
	opts := []core.ServiceOption{
		core.WithLogger(logger.With("component", "core")),
		core.WithMetricsRecorder(recorder),
		core.WithTracer(tracing.New(provider)),
		core.WithAuditRecorder(logging.NewAuditRecorder(logger)),
		core.WithBatchSize(cfg.Allocation.BatchSize),
		core.WithMaxAttempts(cfg.Allocation.MaxAttempts),
		core.WithRetryBackoff(cfg.Allocation.RetryBackoff),
		core.WithSingleRequestRejections(cfg.Allocation.SingleRejectionSummaries),
	}

	objects, err := archive.Open(ctx, archive.Config{
		Driver: objectstore.Driver(cfg.Archive.Driver),
		Prefix: cfg.Archive.Prefix,
		S3: archive.S3Config{
			Region:          cfg.Archive.S3.Region,
			Bucket:          cfg.Archive.S3.Bucket,
			Endpoint:        cfg.Archive.S3.Endpoint,
			AccessKeyID:     cfg.Archive.S3.AccessKeyID,
			SecretAccessKey: cfg.Archive.S3.SecretAccessKey,
			PathStyle:       cfg.Archive.S3.PathStyle,
		},
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if objects != nil {
		opts = append(opts, core.WithRejectionArchive(archive.NewRejectionArchive(objects, cfg.Archive.Prefix)))
	}

	a.service = core.NewService(store, opts...)

	routerOpts := []httpapi.Option{httpapi.WithLogger(logger.With("component", "http"))}
	if cfg.Metrics.Enabled {
		routerOpts = append(routerOpts, httpapi.WithMetricsHandler(cfg.Metrics.Path, recorder.Handler()))
	}
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(a.service, routerOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// serve blocks until ctx is cancelled or the listener fails.
func (a *app) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
