/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/models"
)

var (
	resetForce      bool
	resetPurgeCache bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database and optionally purge the opus cache",
	Long: `Reset Skald to a fresh state.

This command will:
- Drop all tables from the database (tracks, queue entries, opus jobs)
- Re-create empty tables
- Optionally delete all cached opus artifacts

WARNING: This action is irreversible! All data will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  skald reset

  # Force reset without confirmation
  skald reset --force

  # Reset and purge cached opus artifacts
  skald reset --force --purge-cache
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetPurgeCache, "purge-cache", false, "Also delete all cached opus artifacts")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Println()
		fmt.Println("WARNING: this will DELETE ALL DATA from Skald:")
		fmt.Println("  - all tracks and their transcode state")
		fmt.Println("  - all community queue entries")
		fmt.Println("  - all opus transcode jobs")
		if resetPurgeCache {
			fmt.Println("  - ALL CACHED OPUS ARTIFACTS")
		}
		fmt.Println()
		fmt.Println("This action CANNOT be undone!")
		fmt.Println()

		fmt.Print("Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().
		Bool("purge_cache", resetPurgeCache).
		Msg("starting database reset")

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("database close failed")
		}
	}()

	// Drop in reverse dependency order.
	tables := []interface{}{
		&models.OpusJob{},
		&models.QueueEntry{},
		&models.Track{},
	}

	logger.Info().Msg("dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			// Table might not exist on a fresh database.
			logger.Debug().Err(err).Msg("drop table (may not exist)")
		}
	}

	if resetPurgeCache && cfg.CacheDir != "" {
		logger.Info().Str("path", cfg.CacheDir).Msg("purging opus cache")
		entries, err := os.ReadDir(cfg.CacheDir)
		if err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("error reading cache directory")
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".opus") {
				continue
			}
			path := filepath.Join(cfg.CacheDir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to delete artifact")
			}
		}
	}

	logger.Info().Msg("creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	logger.Info().Msg("reset complete")
	return nil
}
