package watermark

import (
	"time"

	"EchoMark/core/auth"
	"EchoMark/model"
)

// AssetDTO is the API shape of an audio asset. Carrier tokens never
// appear here; the watermark message and failure details only appear
// for the owner or an admin.
type AssetDTO struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"userId"`
	FileName         string     `json:"fileName"`
	Format           string     `json:"format"`
	SizeBytes        int64      `json:"sizeBytes"`
	URL              string     `json:"url"`
	IsWatermarked    bool       `json:"isWatermarked"`
	ProcessingState  string     `json:"processingState"`
	WatermarkMessage string     `json:"watermarkMessage,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	DetectionCount   *int64     `json:"detectionCount,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty"`
	SampleRate       *int64     `json:"sampleRate,omitempty"`
	Channels         *int64     `json:"channels,omitempty"`
	Duration         *float64   `json:"duration,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
}

// NewAssetDTO shapes an asset for the given access level.
func NewAssetDTO(asset *model.AudioAsset, access auth.Access) *AssetDTO {
	dto := &AssetDTO{
		ID:              asset.ID,
		UserID:          asset.UserID,
		FileName:        asset.FileName,
		Format:          asset.Format,
		SizeBytes:       asset.SizeBytes,
		URL:             asset.Location,
		IsWatermarked:   asset.IsWatermarked,
		ProcessingState: asset.ProcessingState,
		CreatedAt:       asset.CreatedAt,
	}
	if asset.Confidence.Valid {
		v := asset.Confidence.Float64
		dto.Confidence = &v
	}
	if asset.SampleRate.Valid {
		v := asset.SampleRate.Int64
		dto.SampleRate = &v
	}
	if asset.Channels.Valid {
		v := asset.Channels.Int64
		dto.Channels = &v
	}
	if asset.Duration.Valid {
		v := asset.Duration.Float64
		dto.Duration = &v
	}
	if asset.ProcessedAt.Valid {
		v := asset.ProcessedAt.Time
		dto.ProcessedAt = &v
	}
	if access == auth.AccessOwner || access == auth.AccessAdmin {
		dto.WatermarkMessage = asset.WatermarkMessage.String
		dto.ErrorMessage = asset.ErrorMessage.String
	}
	return dto
}

// NewAssetDTOList shapes a slice of assets for the given access level.
func NewAssetDTOList(assets []*model.AudioAsset, access auth.Access) []*AssetDTO {
	dtos := make([]*AssetDTO, 0, len(assets))
	for _, a := range assets {
		dtos = append(dtos, NewAssetDTO(a, access))
	}
	return dtos
}

// DetectionResponse is the API shape of one detection outcome. What it
// discloses depends on who is asking: the registered owner sees the
// message content, its registration time and the running detection
// count; everyone else sees only the owner's name and a generic notice.
type DetectionResponse struct {
	Detected       bool       `json:"detected"`
	Conclusive     bool       `json:"conclusive"`
	Confidence     float64    `json:"confidence"`
	Registered     bool       `json:"registered"`
	Owned          bool       `json:"owned"`
	Message        string     `json:"message,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	DetectionCount int64      `json:"detectionCount,omitempty"`
	OwnerName      string     `json:"ownerName,omitempty"`
	Notice         string     `json:"notice,omitempty"`
}
