package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscodeStatus tracks opus artifact progress for tracks and jobs.
type TranscodeStatus string

const (
	TranscodeQueued     TranscodeStatus = "queued"
	TranscodeProcessing TranscodeStatus = "processing"
	TranscodeCompleted  TranscodeStatus = "completed"
	TranscodeFailed     TranscodeStatus = "failed"
)

// QueueStatus tracks a queue entry through its lifecycle.
type QueueStatus string

const (
	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusPlaying QueueStatus = "playing"
	QueueStatusPlayed  QueueStatus = "played"
	QueueStatusSkipped QueueStatus = "skipped"
)

// Track is an audio asset known to the jukebox.
type Track struct {
	ID               string          `gorm:"type:uuid;primaryKey" json:"id"`
	Title            string          `gorm:"index" json:"title"`
	Artist           string          `gorm:"index" json:"artist"`
	SourceURL        string          `gorm:"type:varchar(1024)" json:"source_url"`
	OpusURL          string          `gorm:"type:varchar(1024)" json:"opus_url,omitempty"`
	OpusPath         string          `gorm:"type:varchar(512)" json:"-"`
	OpusStatus       TranscodeStatus `gorm:"type:varchar(16);index" json:"opus_status,omitempty"`
	OpusTranscodedAt *time.Time      `json:"opus_transcoded_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Track) TableName() string {
	return "tracks"
}

// NewTrack creates a track for a source URL.
func NewTrack(title, artist, sourceURL string) *Track {
	return &Track{
		ID:        uuid.NewString(),
		Title:     title,
		Artist:    artist,
		SourceURL: sourceURL,
	}
}

// PlayableURL prefers the transcoded opus artifact over the raw source.
func (t *Track) PlayableURL() string {
	if t.OpusStatus == TranscodeCompleted && t.OpusURL != "" {
		return t.OpusURL
	}
	return t.SourceURL
}

// QueueEntry is one requested track in a community's queue.
type QueueEntry struct {
	ID          string      `gorm:"type:uuid;primaryKey" json:"id"`
	CommunityID string      `gorm:"type:varchar(64);index;not null" json:"community_id"`
	SessionID   *string     `gorm:"type:uuid;index" json:"session_id,omitempty"`
	TrackID     string      `gorm:"type:uuid;index;not null" json:"track_id"`
	RequestedBy string      `gorm:"type:varchar(64)" json:"requested_by"`
	Status      QueueStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Position    int         `json:"position"`

	Track *Track `gorm:"foreignKey:TrackID" json:"track,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (QueueEntry) TableName() string {
	return "queue_entries"
}

// NewQueueEntry creates a queued entry for a community.
func NewQueueEntry(communityID, trackID, requestedBy string) *QueueEntry {
	return &QueueEntry{
		ID:          uuid.NewString(),
		CommunityID: communityID,
		TrackID:     trackID,
		RequestedBy: requestedBy,
		Status:      QueueStatusQueued,
	}
}

// OpusJob is a durable transcode work item. At most one job exists per track.
type OpusJob struct {
	ID        string          `gorm:"type:uuid;primaryKey" json:"id"`
	TrackID   string          `gorm:"type:uuid;uniqueIndex;not null" json:"track_id"`
	SourceURL string          `gorm:"type:varchar(1024);not null" json:"source_url"`
	Status    TranscodeStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Error     string          `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (OpusJob) TableName() string {
	return "opus_jobs"
}

// NewOpusJob creates a queued job for a track.
func NewOpusJob(trackID, sourceURL string) *OpusJob {
	return &OpusJob{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		SourceURL: sourceURL,
		Status:    TranscodeQueued,
	}
}
