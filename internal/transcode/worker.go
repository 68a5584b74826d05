/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/opuscache"
	"github.com/friendsincode/skald/internal/telemetry"
)

// ObjectStorage is the durable artifact tier the worker places results
// in when one is configured.
type ObjectStorage interface {
	Enabled() bool
	ObjectKey(trackID string) string
	IsFresh(ctx context.Context, objectKey string) (bool, error)
	Upload(ctx context.Context, localPath, objectKey string) error
	AccessURL(ctx context.Context, objectKey string) (string, error)
}

// StatusInvalidator drops cached job-status entries after terminal
// transitions so pollers see the new state immediately instead of after
// the cache TTL.
type StatusInvalidator interface {
	InvalidateJobStatus(ctx context.Context, trackID string) error
}

// WorkerConfig tunes a transcode worker.
type WorkerConfig struct {
	FFmpegPath   string
	PollInterval time.Duration
}

// Worker drains the transcode queue: claim, check freshness, download,
// encode, place, record. Classified failures end the job; anything else
// is logged and the loop sleeps and retries, never exits.
type Worker struct {
	store      *Store
	cache      *opuscache.Cache
	storage    ObjectStorage
	cfg        WorkerConfig
	logger     zerolog.Logger
	invalidate StatusInvalidator

	download func(ctx context.Context, sourceURL, destPath string) error
	encode   func(ctx context.Context, ffmpegPath, inputPath, outputPath string) error
}

// WorkerOption customizes worker construction.
type WorkerOption func(*Worker)

// WithStatusInvalidator wires the hook run after terminal job transitions.
func WithStatusInvalidator(inv StatusInvalidator) WorkerOption {
	return func(w *Worker) { w.invalidate = inv }
}

// NewWorker builds a worker over the job store and artifact tiers.
// storage may be nil when no durable tier is configured.
func NewWorker(store *Store, cache *opuscache.Cache, storage ObjectStorage, cfg WorkerConfig, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	w := &Worker{
		store:    store,
		cache:    cache,
		storage:  storage,
		cfg:      cfg,
		logger:   logger.With().Str("component", "transcode_worker").Logger(),
		download: DownloadSource,
		encode:   EncodeOpus,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the queue until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("transcode worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("transcode worker stopped")
			return ctx.Err()
		default:
		}

		processed, err := w.processOne(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker loop error")
			w.sleep(ctx)
			continue
		}
		if !processed {
			w.sleep(ctx)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

// processOne claims and runs a single job. It reports whether a job was
// claimed; a claim miss is not an error, just nothing to do.
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.store.FetchNextPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if depth, err := w.store.QueueDepth(ctx); err == nil {
		telemetry.TranscodeQueueDepth.Set(float64(depth))
	}

	start := time.Now()
	if err := w.processJob(ctx, job); err != nil {
		message, classified := failureMessage(err)
		if !classified {
			return true, err
		}

		w.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("track_id", job.TrackID).
			Msg("transcode job failed")
		if markErr := w.store.MarkFailed(ctx, job.ID, message); markErr != nil {
			return true, markErr
		}
		w.invalidateStatus(ctx, job.TrackID)
		telemetry.TranscodeJobsTotal.WithLabelValues(string(models.TranscodeFailed)).Inc()
		return true, nil
	}

	w.invalidateStatus(ctx, job.TrackID)
	telemetry.TranscodeJobsTotal.WithLabelValues(string(models.TranscodeCompleted)).Inc()
	telemetry.TranscodeJobDuration.Observe(time.Since(start).Seconds())
	w.logger.Info().
		Str("job_id", job.ID).
		Str("track_id", job.TrackID).
		Dur("took", time.Since(start)).
		Msg("transcode job completed")
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *models.OpusJob) error {
	logger := w.logger.With().Str("job_id", job.ID).Str("track_id", job.TrackID).Logger()

	// A fresh artifact in the destination tier means a crashed or
	// duplicate job: complete without re-encoding.
	if w.storageEnabled() {
		key := w.storage.ObjectKey(job.TrackID)
		fresh, err := w.storage.IsFresh(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Msg("storage freshness check failed, re-encoding")
		}
		if fresh {
			logger.Info().Str("key", key).Msg("storage artifact already fresh")
			url, err := w.storage.AccessURL(ctx, key)
			if err != nil {
				return &StorageError{Op: "resolve access url", Err: err}
			}
			return w.store.CompleteWithTrack(ctx, job.ID, job.TrackID, ArtifactUpdate{
				URL:          url,
				TranscodedAt: time.Now().UTC(),
			})
		}
	} else if w.cache.IsCached(job.TrackID) {
		logger.Info().Msg("local artifact already fresh")
		return w.store.CompleteWithTrack(ctx, job.ID, job.TrackID, ArtifactUpdate{
			Path:         w.cache.Path(job.TrackID),
			TranscodedAt: time.Now().UTC(),
		})
	}

	tmpDir, err := os.MkdirTemp("", "skald-opus-")
	if err != nil {
		return &StorageError{Op: "create temp dir", Err: err}
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "input.mp3")
	outputPath := filepath.Join(tmpDir, "output.opus")

	logger.Info().Str("source_url", job.SourceURL).Msg("downloading source audio")
	if err := w.download(ctx, job.SourceURL, inputPath); err != nil {
		return err
	}

	logger.Info().Msg("transcoding to opus")
	if err := w.encode(ctx, w.cfg.FFmpegPath, inputPath, outputPath); err != nil {
		return err
	}

	artifact, err := w.place(ctx, job.TrackID, outputPath)
	if err != nil {
		return err
	}
	return w.store.CompleteWithTrack(ctx, job.ID, job.TrackID, artifact)
}

// place moves the finished artifact into its tier: upload to durable
// storage when configured (the temp copy dies with the temp dir),
// otherwise into the local cache.
func (w *Worker) place(ctx context.Context, trackID, outputPath string) (ArtifactUpdate, error) {
	now := time.Now().UTC()

	if w.storageEnabled() {
		key := w.storage.ObjectKey(trackID)
		if err := w.storage.Upload(ctx, outputPath, key); err != nil {
			return ArtifactUpdate{}, &StorageError{Op: "upload artifact", Err: err}
		}
		url, err := w.storage.AccessURL(ctx, key)
		if err != nil {
			return ArtifactUpdate{}, &StorageError{Op: "resolve access url", Err: err}
		}
		return ArtifactUpdate{URL: url, TranscodedAt: now}, nil
	}

	path, err := w.cache.Place(outputPath, trackID)
	if err != nil {
		return ArtifactUpdate{}, &StorageError{Op: "place artifact", Err: err}
	}
	return ArtifactUpdate{Path: path, TranscodedAt: now}, nil
}

func (w *Worker) storageEnabled() bool {
	return w.storage != nil && w.storage.Enabled()
}

func (w *Worker) invalidateStatus(ctx context.Context, trackID string) {
	if w.invalidate == nil {
		return
	}
	if err := w.invalidate.InvalidateJobStatus(ctx, trackID); err != nil {
		w.logger.Debug().Err(err).Str("track_id", trackID).Msg("status cache invalidation failed")
	}
}
