package db

import (
	"database/sql"
	"fmt"
	"log"

	"EchoMark/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createUsersTable(); err != nil {
		return err
	}
	if err := createAudioAssetsTable(); err != nil {
		return err
	}
	if err := createWatermarkRecordsTable(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(100) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		used_storage BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	log.Println("Users table initialized successfully (or already exists).")
	return nil
}

func createAudioAssetsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audio_assets (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		file_name VARCHAR(255) NOT NULL,
		original_location VARCHAR(767) NOT NULL,
		location VARCHAR(767) NOT NULL,
		size_bytes BIGINT NOT NULL,
		format VARCHAR(8) NOT NULL,
		watermark_id VARCHAR(16),
		watermark_message VARCHAR(500),
		is_watermarked BOOLEAN NOT NULL DEFAULT FALSE,
		processing_state VARCHAR(32) NOT NULL DEFAULT 'pending',
		confidence FLOAT,
		error_message TEXT,
		sample_rate INT,
		channels INT,
		duration FLOAT,
		processed_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_user_assets FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		INDEX idx_assets_user_created (user_id, created_at),
		INDEX idx_assets_state (processing_state),
		INDEX idx_assets_location (location)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create audio_assets table: %w", err)
	}
	log.Println("Audio assets table initialized successfully (or already exists).")
	return nil
}

func createWatermarkRecordsTable() error {
	// watermark_id is the carrier token itself. The PRIMARY KEY is the
	// only concurrency control the mint-and-retry strategy relies on:
	// inserting a duplicate must fail, never overwrite.
	query := `
	CREATE TABLE IF NOT EXISTS watermark_records (
		watermark_id VARCHAR(16) PRIMARY KEY,
		asset_id INT NOT NULL,
		message VARCHAR(500) NOT NULL,
		user_id INT NOT NULL,
		message_type VARCHAR(16) NOT NULL DEFAULT 'user_provided',
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		approved_at TIMESTAMP NULL DEFAULT NULL,
		detection_count BIGINT NOT NULL DEFAULT 0,
		last_detected_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT fk_user_watermarks FOREIGN KEY (user_id) REFERENCES users(id),
		INDEX idx_watermarks_asset (asset_id),
		INDEX idx_watermarks_user (user_id)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create watermark_records table: %w", err)
	}
	log.Println("Watermark records table initialized successfully (or already exists).")
	return nil
}
