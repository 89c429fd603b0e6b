package repository

import (
	"database/sql"
	"fmt"

	"EchoMark/model"
)

// AssetRepository defines the interface for audio asset data operations.
type AssetRepository interface {
	CreateAsset(asset *model.AudioAsset) (int64, error)
	GetAssetByID(id int64) (*model.AudioAsset, error)
	GetAssetsByUserID(userID int64) ([]*model.AudioAsset, error)
	ListAssets(offset, limit int, includeFailed bool) ([]*model.AudioAsset, error)
	CountAssets(includeFailed bool) (int64, error)
	GetAssetByUserIDAndFileName(userID int64, fileName string) (*model.AudioAsset, error)
	MarkAssetState(id int64, state string) error
	MarkAssetFailed(id int64, errorMessage string) error
	MarkDetectionFailedByLocation(location, errorMessage string) error
	FinalizeAsset(asset *model.AudioAsset) error
	UpdateAssetFileName(id int64, fileName string) error
	DeleteAsset(id int64) error
}

// mysqlAssetRepository implements AssetRepository for MySQL.
type mysqlAssetRepository struct {
	db *sql.DB
}

// NewMySQLAssetRepository creates a new mysqlAssetRepository.
func NewMySQLAssetRepository(db *sql.DB) AssetRepository {
	return &mysqlAssetRepository{db: db}
}

const assetColumns = "id, user_id, file_name, format, size_bytes, original_location, location, is_watermarked, watermark_id, watermark_message, processing_state, error_message, confidence, sample_rate, channels, duration, processed_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*model.AudioAsset, error) {
	asset := &model.AudioAsset{}
	err := row.Scan(
		&asset.ID, &asset.UserID, &asset.FileName, &asset.Format, &asset.SizeBytes,
		&asset.OriginalLocation, &asset.Location, &asset.IsWatermarked,
		&asset.WatermarkID, &asset.WatermarkMessage, &asset.ProcessingState,
		&asset.ErrorMessage, &asset.Confidence, &asset.SampleRate, &asset.Channels,
		&asset.Duration, &asset.ProcessedAt, &asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// CreateAsset inserts a new asset row and returns its ID.
func (r *mysqlAssetRepository) CreateAsset(asset *model.AudioAsset) (int64, error) {
	query := `INSERT INTO audio_assets
		(user_id, file_name, format, size_bytes, original_location, location, is_watermarked, processing_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create asset statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(asset.UserID, asset.FileName, asset.Format, asset.SizeBytes,
		asset.OriginalLocation, asset.Location, asset.IsWatermarked, asset.ProcessingState)
	if err != nil {
		return 0, fmt.Errorf("failed to execute create asset statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for asset: %w", err)
	}
	return id, nil
}

// GetAssetByID retrieves an asset by its ID. Returns nil, nil when not found.
func (r *mysqlAssetRepository) GetAssetByID(id int64) (*model.AudioAsset, error) {
	query := fmt.Sprintf("SELECT %s FROM audio_assets WHERE id = ?", assetColumns)
	asset, err := scanAsset(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan asset row for ID %d: %w", id, err)
	}
	return asset, nil
}

// GetAssetsByUserID retrieves all assets belonging to a user, newest first.
func (r *mysqlAssetRepository) GetAssetsByUserID(userID int64) ([]*model.AudioAsset, error) {
	query := fmt.Sprintf("SELECT %s FROM audio_assets WHERE user_id = ? ORDER BY created_at DESC", assetColumns)
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets for user ID %d: %w", userID, err)
	}
	defer rows.Close()

	var assets []*model.AudioAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset rows: %w", err)
	}
	return assets, nil
}

// ListAssets retrieves a page of assets across all users, newest first.
// 管理端列表可以选择隐藏失败状态的资源。
func (r *mysqlAssetRepository) ListAssets(offset, limit int, includeFailed bool) ([]*model.AudioAsset, error) {
	query := fmt.Sprintf("SELECT %s FROM audio_assets", assetColumns)
	if !includeFailed {
		query += " WHERE processing_state NOT IN (?, ?)"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"

	var args []interface{}
	if !includeFailed {
		args = append(args, model.AssetStateFailed, model.AssetStateDetectionFailed)
	}
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset list: %w", err)
	}
	defer rows.Close()

	var assets []*model.AudioAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset rows: %w", err)
	}
	return assets, nil
}

// CountAssets returns the total number of assets, matching ListAssets filtering.
func (r *mysqlAssetRepository) CountAssets(includeFailed bool) (int64, error) {
	query := "SELECT COUNT(*) FROM audio_assets"
	var args []interface{}
	if !includeFailed {
		query += " WHERE processing_state NOT IN (?, ?)"
		args = append(args, model.AssetStateFailed, model.AssetStateDetectionFailed)
	}

	var count int64
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return count, nil
}

// GetAssetByUserIDAndFileName finds a user's asset by display name. Returns nil, nil when not found.
func (r *mysqlAssetRepository) GetAssetByUserIDAndFileName(userID int64, fileName string) (*model.AudioAsset, error) {
	query := fmt.Sprintf("SELECT %s FROM audio_assets WHERE user_id = ? AND file_name = ?", assetColumns)
	asset, err := scanAsset(r.db.QueryRow(query, userID, fileName))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan asset row for user ID %d file %s: %w", userID, fileName, err)
	}
	return asset, nil
}

// MarkAssetState updates the processing state of an asset.
func (r *mysqlAssetRepository) MarkAssetState(id int64, state string) error {
	query := "UPDATE audio_assets SET processing_state = ?, updated_at = NOW() WHERE id = ?"
	if _, err := r.db.Exec(query, state, id); err != nil {
		return fmt.Errorf("failed to mark asset ID %d as %s: %w", id, state, err)
	}
	return nil
}

// MarkAssetFailed records a terminal failure with its cause on the asset row.
func (r *mysqlAssetRepository) MarkAssetFailed(id int64, errorMessage string) error {
	query := "UPDATE audio_assets SET processing_state = ?, error_message = ?, processed_at = NOW(), updated_at = NOW() WHERE id = ?"
	if _, err := r.db.Exec(query, model.AssetStateFailed, errorMessage, id); err != nil {
		return fmt.Errorf("failed to mark asset ID %d as failed: %w", id, err)
	}
	return nil
}

// MarkDetectionFailedByLocation flags the asset stored at the given location as
// detection_failed. 按存储地址定位，找不到时静默返回。
func (r *mysqlAssetRepository) MarkDetectionFailedByLocation(location, errorMessage string) error {
	query := "UPDATE audio_assets SET processing_state = ?, error_message = ?, updated_at = NOW() WHERE location = ?"
	if _, err := r.db.Exec(query, model.AssetStateDetectionFailed, errorMessage, location); err != nil {
		return fmt.Errorf("failed to mark asset at %s as detection failed: %w", location, err)
	}
	return nil
}

// FinalizeAsset writes the outcome of processing back to the asset row.
func (r *mysqlAssetRepository) FinalizeAsset(asset *model.AudioAsset) error {
	query := `UPDATE audio_assets SET
		location = ?, is_watermarked = ?, watermark_id = ?, watermark_message = ?,
		processing_state = ?, error_message = NULL, confidence = ?,
		sample_rate = ?, channels = ?, duration = ?,
		processed_at = NOW(), updated_at = NOW()
		WHERE id = ?`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare finalize asset statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(asset.Location, asset.IsWatermarked, asset.WatermarkID, asset.WatermarkMessage,
		asset.ProcessingState, asset.Confidence, asset.SampleRate, asset.Channels, asset.Duration, asset.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize asset ID %d: %w", asset.ID, err)
	}
	return nil
}

// UpdateAssetFileName renames an asset's display name.
func (r *mysqlAssetRepository) UpdateAssetFileName(id int64, fileName string) error {
	query := "UPDATE audio_assets SET file_name = ?, updated_at = NOW() WHERE id = ?"
	if _, err := r.db.Exec(query, fileName, id); err != nil {
		return fmt.Errorf("failed to rename asset ID %d: %w", id, err)
	}
	return nil
}

// DeleteAsset removes an asset row.
func (r *mysqlAssetRepository) DeleteAsset(id int64) error {
	query := "DELETE FROM audio_assets WHERE id = ?"
	if _, err := r.db.Exec(query, id); err != nil {
		return fmt.Errorf("failed to delete asset ID %d: %w", id, err)
	}
	return nil
}
