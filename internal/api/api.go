/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/skald/internal/broadcast"
	"github.com/friendsincode/skald/internal/cache"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/relay"
	"github.com/friendsincode/skald/internal/session"
	"github.com/friendsincode/skald/internal/telemetry"
	"github.com/friendsincode/skald/internal/transcode"
)

// Job status values reported by the polling endpoint. Internal job states
// collapse to these three: callers only care whether the artifact is usable.
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusFailed   = "failed"
)

const queuePreviewLimit = 5

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jobs      *transcode.Store
	queue     *queue.Repo
	sessions  *session.Registry
	readCache *cache.Cache
	relay     *relay.Relay
	events    *broadcast.Broadcaster
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jobs *transcode.Store, queueRepo *queue.Repo, sessions *session.Registry, readCache *cache.Cache, eventRelay *relay.Relay, events *broadcast.Broadcaster, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jobs:      jobs,
		queue:     queueRepo,
		sessions:  sessions,
		readCache: readCache,
		relay:     eventRelay,
		events:    events,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all API endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/tracks/{trackID}/opus", func(r chi.Router) {
			r.Post("/", a.handleOpusEnqueue)
			r.Get("/status", a.handleOpusStatus)
		})

		r.Get("/communities/{communityID}/queue", a.handleCommunityQueue)

		// Event ingest from the command layer (bot), fanned out to
		// subscribed websockets on every node.
		r.Post("/internal/events", a.handleEventIngest)
		r.Get("/sessions/{sessionID}/events", a.handleEvents)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type opusEnqueueRequest struct {
	SourceURL string `json:"source_url"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
}

// handleOpusEnqueue upserts the track row and enqueues a transcode job for
// it. Repeats are cheap: the job store is idempotent per track.
func (a *API) handleOpusEnqueue(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	var req opusEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "missing_source_url")
		return
	}

	ctx := r.Context()

	if err := a.upsertTrack(ctx, trackID, req); err != nil {
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("track upsert failed")
		writeError(w, http.StatusInternalServerError, "track_upsert_failed")
		return
	}

	job, err := a.jobs.Enqueue(ctx, trackID, req.SourceURL)
	if err != nil {
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	if err := a.readCache.InvalidateJobStatus(ctx, trackID); err != nil {
		a.logger.Debug().Err(err).Str("track_id", trackID).Msg("job status cache invalidation failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"track_id":   job.TrackID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	})
}

func (a *API) upsertTrack(ctx context.Context, trackID string, req opusEnqueueRequest) error {
	var track models.Track
	err := a.db.WithContext(ctx).First(&track, "id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		track = models.Track{
			ID:        trackID,
			Title:     req.Title,
			Artist:    req.Artist,
			SourceURL: req.SourceURL,
		}
		return a.db.WithContext(ctx).Create(&track).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]any{"source_url": req.SourceURL}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Artist != "" {
		updates["artist"] = req.Artist
	}
	return a.db.WithContext(ctx).Model(&track).Updates(updates).Error
}

// handleOpusStatus maps the job's internal state to the three-valued signal
// pollers act on. Results are cached briefly in Redis.
func (a *API) handleOpusStatus(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	ctx := r.Context()

	if cached, ok := a.readCache.GetJobStatus(ctx, trackID); ok {
		writeJSON(w, http.StatusOK, statusResponse(cached))
		return
	}

	job, err := a.jobs.GetByTrack(ctx, trackID)
	if err != nil {
		a.logger.Error().Err(err).Str("track_id", trackID).Msg("job lookup failed")
		writeError(w, http.StatusInternalServerError, "job_lookup_failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}

	status := &cache.CachedJobStatus{TrackID: trackID, Status: StatusNotReady}
	switch job.Status {
	case models.TranscodeCompleted:
		status.Status = StatusReady
		var track models.Track
		if err := a.db.WithContext(ctx).Select("opus_url").First(&track, "id = ?", trackID).Error; err == nil {
			status.OpusURL = track.OpusURL
		}
	case models.TranscodeFailed:
		status.Status = StatusFailed
		status.Error = job.Error
	}

	if err := a.readCache.SetJobStatus(ctx, status); err != nil {
		a.logger.Debug().Err(err).Str("track_id", trackID).Msg("job status cache store failed")
	}

	writeJSON(w, http.StatusOK, statusResponse(status))
}

func statusResponse(status *cache.CachedJobStatus) map[string]any {
	resp := map[string]any{
		"track_id": status.TrackID,
		"status":   status.Status,
	}
	if status.OpusURL != "" {
		resp["opus_url"] = status.OpusURL
	}
	if status.Error != "" {
		resp["error"] = status.Error
	}
	return resp
}

// handleCommunityQueue returns the durable queue preview plus the live
// session's now-playing track when one exists.
func (a *API) handleCommunityQueue(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	ctx := r.Context()

	if cached, ok := a.readCache.GetQueuePayload(ctx, communityID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	entries, err := a.queue.Preview(ctx, communityID, queuePreviewLimit)
	if err != nil {
		a.logger.Error().Err(err).Str("community_id", communityID).Msg("queue preview failed")
		writeError(w, http.StatusInternalServerError, "queue_preview_failed")
		return
	}
	size, err := a.queue.Size(ctx, communityID)
	if err != nil {
		a.logger.Error().Err(err).Str("community_id", communityID).Msg("queue size failed")
		writeError(w, http.StatusInternalServerError, "queue_size_failed")
		return
	}

	preview := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"track_id":     entry.TrackID,
			"requested_by": entry.RequestedBy,
			"position":     entry.Position,
		}
		if entry.Track != nil {
			item["title"] = entry.Track.Title
		}
		preview = append(preview, item)
	}

	payload := map[string]any{
		"community_id":  communityID,
		"queue_size":    size,
		"queue_preview": preview,
		"now_playing":   nil,
	}
	if live, ok := a.sessions.Peek(communityID); ok {
		if track, startedAt, playing := live.NowPlaying(); playing {
			nowPlaying := track.Fields()
			nowPlaying["started_at"] = startedAt.UTC()
			payload["now_playing"] = nowPlaying
		}
	}

	if err := a.readCache.SetQueuePayload(ctx, communityID, payload); err != nil {
		a.logger.Debug().Err(err).Str("community_id", communityID).Msg("queue cache store failed")
	}

	writeJSON(w, http.StatusOK, payload)
}

type eventIngestRequest struct {
	SessionID string            `json:"session_id"`
	EventType string            `json:"event_type"`
	Data      broadcast.Payload `json:"data"`
}

// handleEventIngest accepts an event from the command layer and publishes
// it to local subscribers and the relay.
func (a *API) handleEventIngest(w http.ResponseWriter, r *http.Request) {
	var req eventIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "missing_event_type")
		return
	}

	a.relay.Publish(req.SessionID, broadcast.NewEnvelope(broadcast.EventType(req.EventType), req.Data))

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

// handleEvents streams a session's broadcaster events over a websocket.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Track WebSocket connection
	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	sub := a.events.Subscribe(sessionID)
	defer sub.Close()

	a.logger.Debug().Str("session_id", sessionID).Msg("websocket subscriber attached")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		case env, ok := <-sub.Events():
			if !ok {
				conn.Close(ws.StatusNormalClosure, "subscription closed")
				return
			}
			if err := a.writeEvent(ctx, conn, sessionID, env); err != nil {
				a.logger.Error().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// wireEvent is the frame shape shared with the NATS relay and the ingest
// endpoint: the broadcaster envelope plus the session it belongs to.
type wireEvent struct {
	SchemaVersion string              `json:"schema_version"`
	SessionID     string              `json:"session_id"`
	EventType     broadcast.EventType `json:"event_type"`
	Data          broadcast.Payload   `json:"data,omitempty"`
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, sessionID string, env broadcast.Envelope) error {
	bytes, err := json.Marshal(wireEvent{
		SchemaVersion: env.SchemaVersion,
		SessionID:     sessionID,
		EventType:     env.EventType,
		Data:          env.Data,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
