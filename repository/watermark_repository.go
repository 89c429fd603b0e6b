package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"EchoMark/model"
)

// ErrDuplicateWatermarkID is returned when the carrier token is already
// registered in the ledger. 调用方据此换一个token重试。
var ErrDuplicateWatermarkID = errors.New("watermark id already exists")

// WatermarkRepository defines the interface for ownership ledger operations.
type WatermarkRepository interface {
	CreateRecord(rec *model.WatermarkRecord) error
	GetRecordByID(watermarkID string) (*model.WatermarkRecord, error)
	IncrementDetectionCount(watermarkID string) (int64, error)
}

// mysqlWatermarkRepository implements WatermarkRepository for MySQL.
type mysqlWatermarkRepository struct {
	db *sql.DB
}

// NewMySQLWatermarkRepository creates a new mysqlWatermarkRepository.
func NewMySQLWatermarkRepository(db *sql.DB) WatermarkRepository {
	return &mysqlWatermarkRepository{db: db}
}

// CreateRecord registers a carrier token in the ledger. The primary key on
// watermark_id is what guarantees token uniqueness under concurrent inserts.
func (r *mysqlWatermarkRepository) CreateRecord(rec *model.WatermarkRecord) error {
	approved := rec.Approved
	messageType := rec.MessageType
	if messageType == "" {
		messageType = model.MessageTypeOwnerDefault
	}

	query := `INSERT INTO watermark_records
		(watermark_id, asset_id, message, user_id, message_type, approved, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare create watermark record statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(rec.WatermarkID, rec.AssetID, rec.Message, rec.UserID, messageType, approved, rec.ApprovedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate entry") {
			return ErrDuplicateWatermarkID
		}
		return fmt.Errorf("failed to execute create watermark record statement: %w", err)
	}
	return nil
}

// GetRecordByID looks up a ledger record by carrier token. Returns nil, nil
// when the token is not registered.
func (r *mysqlWatermarkRepository) GetRecordByID(watermarkID string) (*model.WatermarkRecord, error) {
	query := `SELECT watermark_id, asset_id, message, user_id, message_type, approved, approved_at,
		detection_count, last_detected_at, created_at
		FROM watermark_records WHERE watermark_id = ?`
	rec := &model.WatermarkRecord{}
	err := r.db.QueryRow(query, watermarkID).Scan(
		&rec.WatermarkID, &rec.AssetID, &rec.Message, &rec.UserID, &rec.MessageType,
		&rec.Approved, &rec.ApprovedAt, &rec.DetectionCount, &rec.LastDetectedAt, &rec.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan watermark record for ID %s: %w", watermarkID, err)
	}
	return rec, nil
}

// IncrementDetectionCount bumps the detection counter for a token and returns
// the new count.
func (r *mysqlWatermarkRepository) IncrementDetectionCount(watermarkID string) (int64, error) {
	query := "UPDATE watermark_records SET detection_count = detection_count + 1, last_detected_at = NOW() WHERE watermark_id = ?"
	if _, err := r.db.Exec(query, watermarkID); err != nil {
		return 0, fmt.Errorf("failed to increment detection count for ID %s: %w", watermarkID, err)
	}

	var count int64
	if err := r.db.QueryRow("SELECT detection_count FROM watermark_records WHERE watermark_id = ?", watermarkID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read detection count for ID %s: %w", watermarkID, err)
	}
	return count, nil
}
