package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skald/internal/cache"
	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/leadership"
	"github.com/friendsincode/skald/internal/objectstore"
	"github.com/friendsincode/skald/internal/opuscache"
	"github.com/friendsincode/skald/internal/transcode"
	"github.com/friendsincode/skald/internal/version"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a transcode worker",
	Long:  "Start a worker that drains the opus transcode queue and maintains the artifact cache tiers. Any number of workers can share one database.",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Skald worker starting")

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("database close failed")
		}
	}()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register database callbacks: %w", err)
	}

	artifacts := opuscache.New(cfg.CacheDir, cfg.CacheTTL, logger)
	if err := artifacts.EnsureDir(); err != nil {
		return err
	}
	logger.Info().Str("path", artifacts.Dir()).Msg("opus cache directory ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var storage transcode.ObjectStorage
	if cfg.StorageEnabled() {
		store, err := objectstore.New(ctx, objectstore.Options{
			Bucket:          cfg.StorageBucket,
			Prefix:          cfg.StoragePrefix,
			Region:          cfg.StorageRegion,
			EndpointURL:     cfg.StorageEndpointURL,
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretAccessKey,
			PublicBaseURL:   cfg.StoragePublicBaseURL,
			SignedURLTTL:    cfg.StorageSignedURLTTL,
			ObjectTTL:       cfg.StorageObjectTTL,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize object storage: %w", err)
		}
		if err := store.CheckAccess(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.StorageBucket).Msg("object storage access check failed")
		}
		storage = store
	}

	// Read cache handle, used only to drop stale job-status entries after
	// terminal transitions.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Enabled = cfg.ReadCacheEnabled
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	readCache, err := cache.New(cacheCfg, logger)
	if err != nil {
		return fmt.Errorf("create read cache: %w", err)
	}
	defer readCache.Close()

	store := transcode.NewStore(database)
	worker := transcode.NewWorker(store, artifacts, storage, transcode.WorkerConfig{
		FFmpegPath:   cfg.FFmpegPath,
		PollInterval: cfg.JobPollInterval,
	}, logger, transcode.WithStatusInvalidator(readCache))

	var election *leadership.Election
	if cfg.LeaderElectionEnabled {
		election, err = leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:       cfg.RedisAddr,
			RedisPassword:   cfg.RedisPassword,
			RedisDB:         cfg.RedisDB,
			LeaseDuration:   15 * time.Second,
			RenewalInterval: 5 * time.Second,
			RetryInterval:   2 * time.Second,
			InstanceID:      cfg.InstanceID,
		}, logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		if err := election.Start(ctx); err != nil {
			return fmt.Errorf("start leader election: %w", err)
		}
		defer func() {
			if err := election.Stop(); err != nil {
				logger.Error().Err(err).Msg("leader election stop failed")
			}
		}()
	}

	// Without an election the janitor sweeps unconditionally; with one it
	// only sweeps while this instance holds the lease.
	var lease opuscache.LeaseHolder
	if election != nil {
		lease = election
	}
	janitor := opuscache.NewJanitor(artifacts, lease, 0, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("transcode worker exited")
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("cache janitor exited")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully...")
	cancel()
	wg.Wait()

	logger.Info().Msg("Skald worker stopped")
	return nil
}
