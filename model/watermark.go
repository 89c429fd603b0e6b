package model

import (
	"database/sql"
	"time"
)

// MaxWatermarkMessageLen 水印消息最大长度
const MaxWatermarkMessageLen = 500

// Watermark message provenance.
const (
	MessageTypeOwnerDefault = "owner_default"
	MessageTypeUserProvided = "user_provided"
)

// WatermarkRecord is one entry of the ownership ledger. The record is
// keyed by the carrier token embedded into the audio, not by a separate
// generated id: the engine's decoded payload is looked up here directly.
// Only DetectionCount and the approval metadata ever change after
// creation; the record lives at least as long as its AudioAsset.
type WatermarkRecord struct {
	WatermarkID    string       `json:"watermarkId"`
	AssetID        int64        `json:"assetId"`
	Message        string       `json:"message"` // Human payload, distinct from the carrier token
	UserID         int64        `json:"userId"`
	MessageType    string       `json:"messageType"`
	Approved       bool         `json:"approved"`
	ApprovedAt     sql.NullTime `json:"-"`
	DetectionCount int64        `json:"detectionCount"`
	LastDetectedAt sql.NullTime `json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
}
