/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/skald/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Track{},
		&models.QueueEntry{},
		&models.OpusJob{},
	); err != nil {
		return err
	}

	if err := applyPostgresQueuedJobIndex(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresQueuedJobIndex creates a partial index over queued jobs so the
// worker's oldest-first claim query stays cheap as completed jobs accumulate.
func applyPostgresQueuedJobIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE INDEX IF NOT EXISTS idx_opus_jobs_queued_created_at
ON opus_jobs (created_at)
WHERE status = 'queued'
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres queued job index: %w", err)
	}

	return nil
}
