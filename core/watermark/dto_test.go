package watermark

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"EchoMark/core/auth"
	"EchoMark/model"
)

func TestNewAssetDTOHidesDetailsFromNonOwners(t *testing.T) {
	asset := &model.AudioAsset{
		ID:               7,
		UserID:           1,
		FileName:         "song.mp3",
		Location:         "http://blobs/audio_files/a.mp3",
		IsWatermarked:    true,
		ProcessingState:  model.AssetStateCompleted,
		WatermarkID:      sql.NullString{String: "0110100111010001", Valid: true},
		WatermarkMessage: sql.NullString{String: "property of bob", Valid: true},
		ErrorMessage:     sql.NullString{String: "old failure", Valid: true},
		Confidence:       sql.NullFloat64{Float64: 0.97, Valid: true},
	}

	owner := NewAssetDTO(asset, auth.AccessOwner)
	assert.Equal(t, "property of bob", owner.WatermarkMessage)
	assert.Equal(t, "old failure", owner.ErrorMessage)

	admin := NewAssetDTO(asset, auth.AccessAdmin)
	assert.Equal(t, "property of bob", admin.WatermarkMessage)

	denied := NewAssetDTO(asset, auth.AccessDenied)
	assert.Empty(t, denied.WatermarkMessage)
	assert.Empty(t, denied.ErrorMessage)

	// 载体token在任何访问级别下都不出现
	assert.NotContains(t, owner.URL, "0110100111010001")
}

func TestNewAssetDTONullableFields(t *testing.T) {
	asset := &model.AudioAsset{ID: 8, ProcessingState: model.AssetStatePending}

	dto := NewAssetDTO(asset, auth.AccessOwner)
	assert.Nil(t, dto.Confidence)
	assert.Nil(t, dto.SampleRate)
	assert.Nil(t, dto.Duration)
	assert.Nil(t, dto.ProcessedAt)

	asset.SampleRate = sql.NullInt64{Int64: 44100, Valid: true}
	dto = NewAssetDTO(asset, auth.AccessOwner)
	assert.Equal(t, int64(44100), *dto.SampleRate)
}
