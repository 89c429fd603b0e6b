package model

import (
	"database/sql"
	"strings"
	"time"
)

// Asset processing states. An asset is created pending, moves to
// processing (or detecting) while remote work is in flight, and ends in
// exactly one terminal state per operation. Terminal states are never
// left again; a new upload creates a new asset.
const (
	AssetStatePending         = "pending"
	AssetStateProcessing      = "processing"
	AssetStateDetecting       = "detecting"
	AssetStateCompleted       = "completed"
	AssetStateFailed          = "failed"
	AssetStateDetectionFailed = "detection_failed"
)

// AllowedFormats 支持的音频格式
var AllowedFormats = []string{"mp3", "wav", "flac", "mp4", "m4a"}

// IsAllowedFormat reports whether format is one of the supported audio formats.
func IsAllowedFormat(format string) bool {
	format = strings.ToLower(format)
	for _, f := range AllowedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether state is one the asset never leaves.
func IsTerminalState(state string) bool {
	switch state {
	case AssetStateCompleted, AssetStateFailed, AssetStateDetectionFailed:
		return true
	}
	return false
}

// AudioAsset represents one uploaded audio file and its watermark
// processing state. UserID is immutable after creation. Location points
// at the blob store and is replaced by the watermarked variant after a
// successful embed. WatermarkID is the carrier token minted at embedding
// time; once set it never changes.
type AudioAsset struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"userId"`
	FileName         string          `json:"fileName"`
	OriginalLocation string          `json:"-"` // Pre-watermark blob, kept for cleanup
	Location         string          `json:"location"`
	SizeBytes        int64           `json:"sizeBytes"`
	Format           string          `json:"format"`
	WatermarkID      sql.NullString  `json:"-"` // Carrier token, never exposed raw in API responses
	WatermarkMessage sql.NullString  `json:"-"` // Intended human message, access-controlled at DTO level
	IsWatermarked    bool            `json:"isWatermarked"`
	ProcessingState  string          `json:"processingState"`
	Confidence       sql.NullFloat64 `json:"-"` // Detector confidence of the last decision on this asset
	ErrorMessage     sql.NullString  `json:"-"` // Set only when ProcessingState is failed
	SampleRate       sql.NullInt64   `json:"-"`
	Channels         sql.NullInt64   `json:"-"`
	Duration         sql.NullFloat64 `json:"-"` // Seconds
	ProcessedAt      sql.NullTime    `json:"-"` // Set exactly once, on entering completed or failed
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}
