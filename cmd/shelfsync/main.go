package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avbaker/shelfsync/internal/config"
	"github.com/avbaker/shelfsync/internal/crypto"
	"github.com/avbaker/shelfsync/internal/logging"
	"github.com/avbaker/shelfsync/internal/remote"
	"github.com/avbaker/shelfsync/internal/state"
	"github.com/avbaker/shelfsync/internal/store"
	"github.com/avbaker/shelfsync/internal/sync"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// drainTimeout bounds the final push-queue flush on shutdown.
const drainTimeout = 10 * time.Second

func main() {
	// Handle the one-off migration subcommand before the daemon path.
	if len(os.Args) > 1 && os.Args[1] == "migrate-legacy" {
		if err := migrateLegacy(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired daemon components and their teardown.
type app struct {
	cfg   *config.Config
	coord *sync.Coordinator
	close func()
}

func build(logger *slog.Logger, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	appState, err := state.Open(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	recovered, err := appState.RecoverStaleSync()
	if err != nil {
		appState.Close()
		return nil, fmt.Errorf("recovering sync state: %w", err)
	}

	if recovered {
		logger.Warn("cleared stale syncing flag from a previous crash")
	}

	deviceKey, err := appState.EnsureDeviceKey()
	if err != nil {
		appState.Close()
		return nil, fmt.Errorf("loading device key: %w", err)
	}

	deviceBox, err := crypto.NewDeviceBox(deviceKey)
	crypto.ZeroKey(deviceKey)
	if err != nil {
		appState.Close()
		return nil, fmt.Errorf("initializing device cipher: %w", err)
	}

	docs, err := store.Open(cfg.StorePath(), deviceBox)
	if err != nil {
		appState.Close()
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	idKey, err := crypto.DeriveIdentityKey(cfg.UserID)
	if err != nil {
		docs.Close()
		appState.Close()
		return nil, fmt.Errorf("deriving identity key: %w", err)
	}

	syncBox, err := crypto.NewIdentityBox(idKey)
	crypto.ZeroKey(idKey)
	if err != nil {
		docs.Close()
		appState.Close()
		return nil, fmt.Errorf("initializing identity cipher: %w", err)
	}

	var tokens remote.TokenProvider = remote.StaticToken(cfg.AccessToken)
	if cfg.AccessTokenFile != "" {
		tokens = remote.NewFileToken(cfg.AccessTokenFile)
	}

	client := remote.NewClient(cfg.RemoteURL, tokens, cfg.DeviceName, nil)
	coord := sync.NewCoordinator(client, docs, appState, syncBox, cfg.LegacyPassphrase, logger)

	return &app{
		cfg:   cfg,
		coord: coord,
		close: func() {
			docs.Close()
			appState.Close()
		},
	}, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("shelfsync starting",
		slog.String("version", Version),
		slog.String("device", cfg.DeviceName),
		slog.Duration("interval", cfg.SyncInterval),
	)

	a, err := build(logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.RunPushWorker(gctx)
	})

	g.Go(func() error {
		return runPullLoop(gctx, a.coord, cfg.SyncInterval, logger)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	flushQueue(a.coord, logger)
	logger.Info("shelfsync stopped")

	return nil
}

// runPullLoop runs one pull on cold start, then one per interval.
// Individual pull failures are logged and retried on the next tick;
// only context cancellation stops the loop.
func runPullLoop(ctx context.Context, coord *sync.Coordinator, interval time.Duration, logger *slog.Logger) error {
	if err := coord.Pull(ctx); err != nil {
		logger.Error("initial pull failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := coord.Pull(ctx); err != nil {
				logger.Error("pull failed", "error", err)
			}
		}
	}
}

// flushQueue gives queued push intents one bounded chance to reach the
// remote before exit. Anything left over is re-discovered by the
// reconciler on the next run.
func flushQueue(coord *sync.Coordinator, logger *slog.Logger) {
	if coord.QueueLen() == 0 {
		return
	}

	logger.Info("flushing push queue", "pending", coord.QueueLen())

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	coord.DrainQueue(ctx)
}

// migrateLegacy rewrites every legacy-passphrase payload in the remote
// folder under the identity key, then exits.
func migrateLegacy() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.LegacyPassphrase == "" {
		return fmt.Errorf("SHELF_LEGACY_PASSPHRASE must be set for migrate-legacy")
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	a, err := build(logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrated, err := a.coord.MigrateLegacy(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("migrated %d payloads\n", migrated)

	return nil
}
