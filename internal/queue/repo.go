/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue is the durable request-queue history. The live in-memory
// session queue drives playback; these rows are what survives a restart
// and feeds the queue API.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/models"
)

// Repo stores queue entries per community.
type Repo struct {
	db *gorm.DB
}

// NewRepo creates a repo over db.
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Enqueue appends a queued entry at the community's next position.
func (r *Repo) Enqueue(ctx context.Context, communityID, trackID, requestedBy string) (*models.QueueEntry, error) {
	entry := models.NewQueueEntry(communityID, trackID, requestedBy)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos *int
		err := tx.Model(&models.QueueEntry{}).
			Where("community_id = ?", communityID).
			Select("MAX(position)").
			Scan(&maxPos).Error
		if err != nil {
			return err
		}
		if maxPos != nil {
			entry.Position = *maxPos + 1
		} else {
			entry.Position = 1
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// NextUnplayed returns the community's lowest-position queued entry with
// its track loaded, or nil when the queue is drained.
func (r *Repo) NextUnplayed(ctx context.Context, communityID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := r.db.WithContext(ctx).
		Preload("Track").
		Where("community_id = ? AND status = ?", communityID, models.QueueStatusQueued).
		Order("position ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkPlayed transitions an entry to played.
func (r *Repo) MarkPlayed(ctx context.Context, communityID, entryID string) error {
	return r.setStatus(ctx, communityID, entryID, models.QueueStatusPlayed)
}

// MarkSkipped transitions an entry to skipped.
func (r *Repo) MarkSkipped(ctx context.Context, communityID, entryID string) error {
	return r.setStatus(ctx, communityID, entryID, models.QueueStatusSkipped)
}

func (r *Repo) setStatus(ctx context.Context, communityID, entryID string, status models.QueueStatus) error {
	res := r.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("community_id = ? AND id = ?", communityID, entryID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue entry not found: %s", entryID)
	}
	return nil
}

// Preview returns up to limit queued entries in position order, tracks
// loaded.
func (r *Repo) Preview(ctx context.Context, communityID string, limit int) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := r.db.WithContext(ctx).
		Preload("Track").
		Where("community_id = ? AND status = ?", communityID, models.QueueStatusQueued).
		Order("position ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Clear removes every entry the community has, regardless of status.
func (r *Repo) Clear(ctx context.Context, communityID string) error {
	return r.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Delete(&models.QueueEntry{}).Error
}

// Size counts entries still waiting to play.
func (r *Repo) Size(ctx context.Context, communityID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("community_id = ? AND status = ?", communityID, models.QueueStatusQueued).
		Count(&count).Error
	return count, err
}
