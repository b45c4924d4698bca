package content

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// MediaType is the broad category of a content item, derived
	// from its declared MIME type.
	MediaType string

	// Stage is one named step in a content item's processing state machine.
	Stage string

	// Item represents one user-submitted media asset and all of its derived
	// data. An item is owned exclusively by the processing orchestrator until
	// it is persisted, and is immutable (aside from verification metadata such
	// as face confirmation) once its stage reaches StageComplete.
	Item struct {
		ID               uuid.UUID     `db:"id" json:"id"`
		LibraryID        uuid.UUID     `db:"library_id" json:"libraryId"`
		DeclaredMimeType string        `db:"declared_mime_type" json:"declaredMimeType"`
		MediaType        MediaType     `db:"media_type" json:"mediaType"`
		StorageKey       string        `db:"storage_key" json:"storageKey"`
		Metadata         *Metadata     `json:"metadata"`
		Analysis         *AIAnalysis   `json:"aiAnalysis"`
		Renditions       *RenditionSet `json:"renditions"`
		Status           Status        `json:"processingStatus"`
		CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
		UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
	}

	// Metadata is the structural metadata derived from the raw bytes of an
	// item. Width/Height must be positive when present; Checksum is a
	// content-addressed hash (SHA-256, hex) used for dedup and cache keys.
	Metadata struct {
		Filename     string      `json:"filename" validate:"required"`
		SizeBytes    int64       `json:"sizeBytes" validate:"required,gt=0"`
		MimeType     string      `json:"mimeType" validate:"required"`
		Width        int         `json:"width" validate:"gte=0"`
		Height       int         `json:"height" validate:"gte=0"`
		AspectRatio  float64     `json:"aspectRatio"`
		Orientation  Orientation `json:"orientation"`
		DurationSecs *float64    `json:"durationSecs,omitempty"`
		CapturedAt   *time.Time  `json:"capturedAt,omitempty"`
		Location     *Location   `json:"location,omitempty"`
		Device       *DeviceInfo `json:"deviceInfo,omitempty"`
		Checksum     string      `json:"checksum" validate:"required,len=64"`
	}

	Orientation string

	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	DeviceInfo struct {
		Make     string `json:"make,omitempty"`
		Model    string `json:"model,omitempty"`
		Software string `json:"software,omitempty"`
	}

	// Status tracks where an item currently sits within the processing
	// state machine, along with diagnostics retained on failure.
	Status struct {
		Stage           Stage            `json:"stage"`
		IsProcessed     bool             `json:"isProcessed"`
		StartedAt       *time.Time       `json:"startedAt,omitempty"`
		CompletedAt     *time.Time       `json:"completedAt,omitempty"`
		RetryCount      int              `json:"retryCount"`
		ActiveProvider  string           `json:"activeProvider,omitempty"`
		LastError       *ProcessingError `json:"lastError,omitempty"`
		Progress        int              `json:"progress"`
		RemainingStages []Stage          `json:"remainingStages"`
	}

	// ProcessingError is the persisted form of a pipeline failure: the error
	// kind, the stage at which it occurred and a sanitized message. Raw
	// provider internals and credentials must never appear here.
	ProcessingError struct {
		Kind    string `json:"kind"`
		Stage   Stage  `json:"stage"`
		Message string `json:"message"`
	}

	// Tag is one AI-derived label. Tags on an analysis are ordered by
	// provider priority first, then confidence descending.
	Tag struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		Provider   string  `json:"provider"`
	}

	FaceBounds struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	// Face is a single detected face. MatchedPersonID is a weak reference
	// by ID to a person record, never an ownership link.
	Face struct {
		Bounds          FaceBounds `json:"bounds"`
		Confidence      float64    `json:"confidence"`
		MatchedPersonID *uuid.UUID `json:"matchedPersonId,omitempty"`
	}

	Scene struct {
		Description string   `json:"description"`
		Categories  []string `json:"categories,omitempty"`
		Objects     []string `json:"objects,omitempty"`
	}

	// ProviderMetrics records the observed behaviour of one analysis
	// provider over the lifetime of this item's processing.
	ProviderMetrics struct {
		Calls          int   `json:"calls"`
		Failures       int   `json:"failures"`
		TotalLatencyMs int64 `json:"totalLatencyMs"`
	}

	AIAnalysis struct {
		Tags      []Tag                      `json:"tags"`
		Faces     []Face                     `json:"faces"`
		Scene     Scene                      `json:"scene"`
		Metrics   map[string]ProviderMetrics `json:"metrics,omitempty"`
		UpdatedAt time.Time                  `json:"updatedAt"`
	}

	// Variant is one quality/resolution rendition of the original media.
	Variant struct {
		Name       string `json:"name"`
		StorageKey string `json:"storageKey"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Bitrate    int    `json:"bitrate,omitempty"`
		Quality    int    `json:"quality,omitempty"`
	}

	Thumbnail struct {
		SizeTag    string `json:"sizeTag"`
		StorageKey string `json:"storageKey"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	}

	// RenditionSet holds the full output of a transcode: the quality
	// variants plus the thumbnail set. Generated once per item; regenerated
	// only on explicit reprocessing.
	RenditionSet struct {
		Variants   []Variant   `json:"variants"`
		Thumbnails []Thumbnail `json:"thumbnails"`
	}
)

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"

	StageQueued     Stage = "queued"
	StageUploaded   Stage = "uploaded"
	StageAnalyzing  Stage = "analyzing"
	StageProcessing Stage = "processing"
	StageRetrying   Stage = "retrying"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"

	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
	OrientationSquare    Orientation = "square"
)

// New constructs a freshly submitted item in the StageQueued state with the
// full set of pipeline stages still remaining.
func New(libraryID uuid.UUID, declaredMimeType string, mediaType MediaType, storageKey string) *Item {
	now := time.Now()
	return &Item{
		ID:               uuid.New(),
		LibraryID:        libraryID,
		DeclaredMimeType: declaredMimeType,
		MediaType:        mediaType,
		StorageKey:       storageKey,
		Status: Status{
			Stage:           StageQueued,
			Progress:        0,
			RemainingStages: []Stage{StageUploaded, StageAnalyzing, StageProcessing, StageComplete},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal returns true for the two stages from which no further
// transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// SetProgress advances the status progress percentage. Progress is clamped
// to [0, 100] and is monotonically non-decreasing within a run; attempts to
// lower it are ignored.
func (status *Status) SetProgress(progress int) {
	if progress < status.Progress {
		return
	}
	if progress > 100 {
		progress = 100
	}

	status.Progress = progress
}

// CompleteStage removes the provided stage from the remaining-stages list.
func (status *Status) CompleteStage(stage Stage) {
	for i, s := range status.RemainingStages {
		if s == stage {
			status.RemainingStages = append(status.RemainingStages[:i], status.RemainingStages[i+1:]...)
			return
		}
	}
}

// Orient derives the orientation category for the given dimensions.
func Orient(width int, height int) Orientation {
	switch {
	case width > height:
		return OrientationLandscape
	case height > width:
		return OrientationPortrait
	default:
		return OrientationSquare
	}
}

func (item *Item) String() string {
	return fmt.Sprintf("ContentItem{ID=%s stage=%s}", item.ID, item.Status.Stage)
}
