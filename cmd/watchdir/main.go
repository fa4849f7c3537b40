package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/watchdir/internal/cleanup"
	"github.com/italolelis/watchdir/internal/config"
	"github.com/italolelis/watchdir/internal/dc/putio"
	"github.com/italolelis/watchdir/internal/dc/transmission"
	"github.com/italolelis/watchdir/internal/downloader"
	"github.com/italolelis/watchdir/internal/http/rest"
	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/notifier"
	"github.com/italolelis/watchdir/internal/storage"
	"github.com/italolelis/watchdir/internal/storage/sqlite"
	"github.com/italolelis/watchdir/internal/telemetry"
	"github.com/italolelis/watchdir/internal/transfer"
	"github.com/italolelis/watchdir/internal/watcher"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// paths holds the positional command line arguments.
type paths struct {
	watchDirs   []string
	downloadDir string
	extraArgs   []string
}

func main() {
	app := &cli.App{
		Name:      "watchdir",
		Usage:     "hand torrent files dropped into watch directories to a download client",
		ArgsUsage: "WATCHDIR DESTINATION [EXTRA...]",
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "additional directory to watch, may be repeated",
			},
		},
		Action: action,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func action(c *cli.Context) error {
	if c.NArg() < 2 {
		_ = cli.ShowAppHelp(c)

		return fmt.Errorf("expected WATCHDIR and DESTINATION, got %d argument(s)", c.NArg())
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := slog.New(logctx.NewHandler(os.Stdout, cfg.LogFormat, cfg.SlogLevel()))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := c.Args().Slice()
	p := paths{
		watchDirs:   append([]string{args[0]}, c.StringSlice("watch")...),
		downloadDir: args[1],
		extraArgs:   args[2:],
	}

	logger.Info("watchdir starting...", "version", version, "log_level", cfg.LogLevel, "worker", cfg.Worker)

	return run(logctx.WithLogger(ctx, logger), cfg, p)
}

func run(ctx context.Context, cfg *config.Config, p paths) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start History Ledger
	var history storage.HandoffRepository

	if cfg.HistoryDBPath != "" {
		database, err := sqlite.InitDB(cfg.HistoryDBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer database.Close()

		history = sqlite.NewInstrumentedHandoffRepository(database, tel)
	}

	// =========================================================================
	// Start Worker
	worker, err := buildWorker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build worker: %w", err)
	}

	invoker := transfer.NewInvoker(transfer.NewInstrumentedWorker(worker, tel), cfg.MaxRetries, cfg.RetryDelay)

	// =========================================================================
	// Start Watcher
	backend, err := watcher.NewBackend(cfg.WatchBackend, cfg.SettleDelay)
	if err != nil {
		return fmt.Errorf("failed to start watch backend: %w", err)
	}

	w := watcher.New(backend, tel)
	defer w.Close()

	post, err := cleanup.New(cfg.PostProcess, cfg.ProcessedSuffix, cfg.ProcessedDir)
	if err != nil {
		return fmt.Errorf("failed to build post-processor: %w", err)
	}

	// =========================================================================
	// Start Downloader
	d := downloader.NewDownloader(p.watchDirs, p.downloadDir, p.extraArgs, w, invoker, post, downloader.Options{
		History:   history,
		Notifier:  buildNotifier(cfg),
		Telemetry: tel,
	})

	if err := d.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	// =========================================================================
	// Start Main Loop
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		return d.Run(ctx)
	})

	// =========================================================================
	// Start Status API
	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, cfg, history, w, tel)

		g.Go(func() error {
			logger.Info("Initializing status API", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		})
	}

	return g.Wait()
}

// This is an abstract factory for the worker.
func buildWorker(ctx context.Context, cfg *config.Config) (transfer.Worker, error) {
	switch cfg.Worker {
	case "transmission":
		return transmission.NewClient(cfg.TransmissionBin, cfg.TransmissionHost, cfg.UseStoredAuth()), nil
	case "putio":
		if cfg.PutioToken == "" {
			return nil, errors.New("PUTIO_TOKEN is required for the putio worker")
		}

		client := putio.NewClient(cfg.PutioToken, cfg.PutioParentDir)
		if err := client.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return client, nil
	}

	return nil, fmt.Errorf("invalid worker: %s", cfg.Worker)
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return nil
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, history storage.HandoffReadRepository, w *watcher.Watcher, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewStatusHandler(history, w.Dirs, tel)

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      handler.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
