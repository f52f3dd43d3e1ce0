// Package main is the entry point for the KPTV stream sync pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kptv/streamsync/internal/cache"
	"github.com/kptv/streamsync/internal/config"
	"github.com/kptv/streamsync/internal/fetcher"
	"github.com/kptv/streamsync/internal/store"
	syncengine "github.com/kptv/streamsync/internal/sync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	log = logrus.New()

	configPath string
	userID     int64
	providerID int64
	ignoreList string
	debug      bool
	queueFixup bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streamsync",
		Short: "Synchronize IPTV provider catalogs into the KPTV stream tables",
		Long: `streamsync fetches channel/VOD/series catalogs from configured providers
(Xtream-Codes API or M3U playlists), applies the user's include/exclude
filters, stages the result, and reconciles it into the live stream table.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	pf.Int64Var(&userID, "user-id", 0, "Limit to one user (0 = all)")
	pf.Int64Var(&providerID, "provider-id", 0, "Limit to one provider (0 = all)")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, filter, stage and reconcile all providers in scope",
		RunE:  runSync,
	}
	syncCmd.Flags().StringVar(&ignoreList, "ignore", "", "Comma-separated stream fields to leave untouched on update")
	syncCmd.Flags().BoolVar(&queueFixup, "queue-fixup", false, "Enqueue a fixup job after a successful sync (requires REDIS_URL)")

	missingCmd := &cobra.Command{
		Use:   "testmissing",
		Short: "Flag active streams absent from a fresh fetch (read-only, appends to the missing log)",
		RunE:  runMissing,
	}

	fixupCmd := &cobra.Command{
		Use:   "fixup",
		Short: "Consolidate channel number / TVG id / logo across same-named streams",
		RunE:  runFixup,
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the Redis fixup job queue (runs until interrupted)",
		RunE:  runWorker,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Invoke the CleanupStreams procedure (orphan removal, URI dedup)",
		RunE:  runCleanup,
	}

	resetCmd := &cobra.Command{
		Use:   "resetids",
		Short: "Invoke the ResetStreamIDs procedure (sequential renumbering)",
		RunE:  runResetIDs,
	}

	rootCmd.AddCommand(syncCmd, missingCmd, fixupCmd, workerCmd, cleanupCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired dependencies for one invocation.
type app struct {
	cfg    *config.Config
	store  *store.Postgres
	rds    *cache.Redis // nil when REDIS_URL is not set
	engine *syncengine.Engine
}

func setup(ctx context.Context) (*app, func(), error) {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+migrationsDir()); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, cfg.BatchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	cleanup := func() { pg.Close() }

	var rds *cache.Redis
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		if err := rds.Ping(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		prev := cleanup
		cleanup = func() { _ = rds.Close(); prev() }
		log.Debug("Redis connected (run locking enabled)")
	}

	f := fetcher.New(cfg, log)
	engine := syncengine.NewEngine(pg, f, log)
	return &app{cfg: cfg, store: pg, rds: rds, engine: engine}, cleanup, nil
}

// migrationsDir finds the migrations directory next to the working
// directory or the executable.
func migrationsDir() string {
	abs, err := filepath.Abs("migrations")
	if err != nil {
		abs = "migrations"
	}
	if _, err := os.Stat(abs); err != nil {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return abs
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	ignore, err := syncengine.ParseIgnore(ignoreList)
	if err != nil {
		return err
	}

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.rds != nil {
		unlock, err := cache.TryLock(ctx, a.rds, cache.SyncLockKey(userID), 30*time.Minute)
		if err != nil {
			return err
		}
		defer unlock()
	}

	summary, err := a.engine.Run(ctx, store.Scope{UserID: userID, ProviderID: providerID}, ignore)
	if err != nil {
		return err
	}

	for _, r := range summary.Results {
		if r.State == syncengine.StateFailed {
			fmt.Printf("provider %q (id %d): FAILED: %v\n", r.Provider.Name, r.Provider.ID, r.Err)
			continue
		}
		fmt.Printf("provider %q (id %d): fetched %d, kept %d, new %d, changed %d, unchanged %d\n",
			r.Provider.Name, r.Provider.ID, r.Fetched, r.Filtered, r.New, r.Changed, r.Unchanged)
	}
	failed := summary.Failed()
	fmt.Printf("sync complete: %d providers, %d failed\n", len(summary.Results), failed)

	if queueFixup && failed < len(summary.Results) {
		if a.rds == nil {
			log.Warn("--queue-fixup requires REDIS_URL, skipping")
		} else if err := cache.Enqueue(ctx, a.rds, cache.FixupQueue, cache.FixupJob{UserID: userID, ProviderID: providerID}); err != nil {
			log.WithError(err).Warn("Could not enqueue fixup job")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed", failed, len(summary.Results))
	}
	return nil
}

func runMissing(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := a.engine.CheckMissing(ctx, store.Scope{UserID: userID, ProviderID: providerID})
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("provider %q (id %d): FAILED: %v\n", r.Provider.Name, r.Provider.ID, r.Err)
			continue
		}
		fmt.Printf("provider %q (id %d): %d active, %d missing\n",
			r.Provider.Name, r.Provider.ID, r.Active, r.Missing)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed", failed, len(results))
	}
	return nil
}

func runFixup(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.engine.Fixup(ctx, store.Scope{UserID: userID, ProviderID: providerID})
	if err != nil {
		return err
	}
	fmt.Printf("fixup complete: %d groups, %d patched, %d skipped\n", res.Groups, res.Patched, res.Skipped)
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.rds == nil {
		return fmt.Errorf("worker requires REDIS_URL")
	}

	log.Info("Fixup worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Fixup worker stopping")
			return nil
		default:
		}

		job, err := cache.Dequeue(ctx, a.rds, cache.FixupQueue, 5*time.Second)
		if err != nil {
			log.WithError(err).Error("Dequeue failed")
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		log.WithFields(logrus.Fields{
			"user":     job.UserID,
			"provider": job.ProviderID,
		}).Info("Processing fixup job")
		if _, err := a.engine.Fixup(ctx, store.Scope{UserID: job.UserID, ProviderID: job.ProviderID}); err != nil {
			log.WithError(err).Error("Fixup job failed")
		}
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.store.CallCleanupStreams(ctx); err != nil {
		return err
	}
	fmt.Println("cleanup complete")
	return nil
}

func runResetIDs(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.store.CallResetStreamIDs(ctx); err != nil {
		return err
	}
	fmt.Println("stream ids reset")
	return nil
}
