package repository

import (
	"fmt"

	"gorm.io/gorm"

	"EchoMark/model"
)

// DownloadLogRepository defines the interface for download audit records.
type DownloadLogRepository interface {
	LogDownload(entry *model.DownloadLog) error
	CountByAsset(assetID int64) (int64, error)
}

// gormDownloadLogRepository implements DownloadLogRepository using GORM.
// 下载日志是新模块，直接用gorm开发。
type gormDownloadLogRepository struct {
	db *gorm.DB
}

// NewGormDownloadLogRepository creates a new gormDownloadLogRepository.
func NewGormDownloadLogRepository(db *gorm.DB) DownloadLogRepository {
	return &gormDownloadLogRepository{db: db}
}

// LogDownload records one download of an asset.
func (r *gormDownloadLogRepository) LogDownload(entry *model.DownloadLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log download for asset ID %d: %w", entry.AssetID, err)
	}
	return nil
}

// CountByAsset returns the number of recorded downloads for an asset.
func (r *gormDownloadLogRepository) CountByAsset(assetID int64) (int64, error) {
	var count int64
	if err := r.db.Model(&model.DownloadLog{}).Where("asset_id = ?", assetID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count downloads for asset ID %d: %w", assetID, err)
	}
	return count, nil
}
