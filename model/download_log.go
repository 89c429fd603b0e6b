package model

import "time"

// Download types.
const (
	DownloadTypeSingle = "single"
	DownloadTypeBulk   = "bulk"
)

// DownloadLog records one download of a completed asset. Writes are
// best-effort; a failed log entry never fails the download itself.
// Managed through GORM (see db.AutoMigrateModels).
type DownloadLog struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AssetID      int64     `json:"assetId" gorm:"index;not null"`
	UserID       int64     `json:"userId" gorm:"index;not null"`
	DownloadType string    `json:"downloadType" gorm:"size:16;default:single"`
	IPAddress    string    `json:"ipAddress" gorm:"size:64"`
	UserAgent    string    `json:"userAgent" gorm:"size:255"`
	DownloadedAt time.Time `json:"downloadedAt" gorm:"autoCreateTime"`
}

// TableName 指定GORM表名
func (DownloadLog) TableName() string {
	return "download_logs"
}
