/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transcode owns the durable opus job queue and the worker that
// drains it. The queue is a database table; claims are arbitrated by row
// locks, so any number of workers can poll concurrently.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/skald/internal/models"
)

// ArtifactUpdate is the track-side record of a finished transcode.
// Exactly one of URL or Path is set depending on the destination tier.
type ArtifactUpdate struct {
	URL          string
	Path         string
	TranscodedAt time.Time
}

// Store is the durable transcode job queue.
type Store struct {
	db *gorm.DB
}

// NewStore creates a job store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Enqueue registers transcode work for a track. At most one job row
// exists per track: a missing row is created queued; a processing row is
// left untouched so an in-flight worker is never yanked; any other row is
// reset to queued with the new source URL and a cleared error.
func (s *Store) Enqueue(ctx context.Context, trackID, sourceURL string) (*models.OpusJob, error) {
	var job *models.OpusJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.OpusJob
		err := tx.Where("track_id = ?", trackID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created := models.NewOpusJob(trackID, sourceURL)
			if err := tx.Create(created).Error; err != nil {
				return err
			}
			job = created
			return nil
		}
		if err != nil {
			return err
		}

		if existing.Status != models.TranscodeProcessing {
			updates := map[string]any{
				"source_url": sourceURL,
				"status":     models.TranscodeQueued,
				"error":      "",
				"updated_at": time.Now(),
			}
			if err := tx.Model(&models.OpusJob{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
			existing.SourceURL = sourceURL
			existing.Status = models.TranscodeQueued
			existing.Error = ""
		}
		job = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByTrack returns the track's job, or nil when none exists.
func (s *Store) GetByTrack(ctx context.Context, trackID string) (*models.OpusJob, error) {
	var job models.OpusJob
	err := s.db.WithContext(ctx).Where("track_id = ?", trackID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FetchNextPending claims the oldest queued job and flips it to
// processing in one transaction. The row lock skips rows already claimed
// by another worker; the status-guarded update re-checks the claim so the
// flip stays atomic on dialects without row locks. Returns (nil, nil)
// when there is nothing to claim.
func (s *Store) FetchNextPending(ctx context.Context) (*models.OpusJob, error) {
	var claimed *models.OpusJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ?", models.TranscodeQueued).Order("created_at ASC")
		if supportsRowLocking(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.OpusJob
		err := query.First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.OpusJob{}).
			Where("id = ? AND status = ?", job.ID, models.TranscodeQueued).
			Updates(map[string]any{"status": models.TranscodeProcessing, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another claimant won between select and update.
			return nil
		}

		job.Status = models.TranscodeProcessing
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions a job to its completed terminal state.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).Model(&models.OpusJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"status": models.TranscodeCompleted, "error": "", "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("opus job not found: %s", jobID)
	}
	return nil
}

// MarkFailed transitions a job to its failed terminal state. A failed job
// is only retried by a fresh Enqueue.
func (s *Store) MarkFailed(ctx context.Context, jobID, message string) error {
	res := s.db.WithContext(ctx).Model(&models.OpusJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"status": models.TranscodeFailed, "error": message, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("opus job not found: %s", jobID)
	}
	return nil
}

// CompleteWithTrack records the artifact on the track and completes the
// job in one transaction, so a completed job is never visible alongside a
// track that still looks pending.
func (s *Store) CompleteWithTrack(ctx context.Context, jobID, trackID string, artifact ArtifactUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trackUpdates := map[string]any{
			"opus_url":           artifact.URL,
			"opus_path":          artifact.Path,
			"opus_status":        models.TranscodeCompleted,
			"opus_transcoded_at": artifact.TranscodedAt,
			"updated_at":         time.Now(),
		}
		res := tx.Model(&models.Track{}).Where("id = ?", trackID).Updates(trackUpdates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("track not found: %s", trackID)
		}

		res = tx.Model(&models.OpusJob{}).
			Where("id = ?", jobID).
			Updates(map[string]any{"status": models.TranscodeCompleted, "error": "", "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("opus job not found: %s", jobID)
		}
		return nil
	})
}

// QueueDepth counts jobs still waiting for a claim.
func (s *Store) QueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.OpusJob{}).
		Where("status = ?", models.TranscodeQueued).
		Count(&count).Error
	return count, err
}

func supportsRowLocking(tx *gorm.DB) bool {
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
