package store

import "time"

// State is a track's position in the ingestion state machine.
type State string

const (
	StatePending     State = "PENDING"
	StateDownloading State = "DOWNLOADING"
	StateValidating  State = "VALIDATING"
	StateExtracting  State = "EXTRACTING"
	StateUploading   State = "UPLOADING"
	StateRecording   State = "RECORDING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// Track is one row of the audio_tracks table.
type Track struct {
	ID              string     `json:"id"`
	SourceURL       *string    `json:"source_url,omitempty"`
	AudioPath       string     `json:"audio_path"`
	ThumbnailPath   *string    `json:"thumbnail_path,omitempty"`
	Artist          *string    `json:"artist,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Album           *string    `json:"album,omitempty"`
	Genre           *string    `json:"genre,omitempty"`
	Year            *int       `json:"year,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Channels        int        `json:"channels"`
	SampleRate      int        `json:"sample_rate"`
	BitrateKbps     *int       `json:"bitrate_kbps,omitempty"`
	BitDepth        *int       `json:"bit_depth,omitempty"`
	Format          string     `json:"format"`
	State           State      `json:"state"`
	Attempts        int        `json:"attempts"`
	IngestedAt      time.Time  `json:"ingested_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	QuarantinedAt   *time.Time `json:"quarantined_at,omitempty"`
}

// InsertParams is the set of fields supplied when a new track row is first
// recorded. The orchestrator records with State == StateCompleted for the
// UPLOADING -> RECORDING single-step transition; an empty State is stored
// as StatePending.
type InsertParams struct {
	ID              string
	SourceURL       *string
	AudioPath       string
	ThumbnailPath   *string
	Artist          *string
	Title           *string
	Album           *string
	Genre           *string
	Year            *int
	DurationSeconds float64
	Channels        int
	SampleRate      int
	BitrateKbps     *int
	BitDepth        *int
	Format          string
	State           State
}

// SearchFilters narrows a search() call with conjunctive predicates, all optional.
type SearchFilters struct {
	Genre       *string
	Year        *int
	MinDuration *float64
	MaxDuration *float64
	Format      *string
}

// SearchParams bundles the inputs to search().
type SearchParams struct {
	Query   string
	Filters SearchFilters
	Limit   int
	Offset  int
}

// SearchResult is one ranked hit from search().
type SearchResult struct {
	Track Track
	Rank  float64
}
