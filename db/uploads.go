package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type UploadStatus string

const (
	UploadInitiated UploadStatus = "initiated"
	UploadCompleted UploadStatus = "completed"
	UploadAborted   UploadStatus = "aborted"
	UploadExpired   UploadStatus = "expired"
)

// UploadSession tracks an open multipart session so abandoned ones can be swept.
type UploadSession struct {
	ID        uint         `gorm:"primaryKey"`
	UploadID  string       `gorm:"size:255;uniqueIndex;not null"`
	Key       string       `gorm:"size:500;index"`
	FileName  string       `gorm:"size:255"`
	FileSize  int64
	PartSize  int64
	Status    UploadStatus `gorm:"size:20;default:initiated;index"`
	ExpiresAt time.Time    `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UploadSession) TableName() string { return "upload_sessions" }

func CreateUploadSession(ctx context.Context, dbConn *gorm.DB, s *UploadSession) error {
	if s.Status == "" {
		s.Status = UploadInitiated
	}
	if err := dbConn.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("insert upload session: %w", err)
	}
	return nil
}

// MarkUpload moves an initiated session to status. It returns the number of
// rows changed; sessions that already left the initiated state are untouched.
func MarkUpload(ctx context.Context, dbConn *gorm.DB, uploadID string, status UploadStatus) (int64, error) {
	res := dbConn.WithContext(ctx).
		Model(&UploadSession{}).
		Where("upload_id = ? AND status = ?", uploadID, UploadInitiated).
		Update("status", status)
	if res.Error != nil {
		return 0, fmt.Errorf("mark upload %s %s: %w", uploadID, status, res.Error)
	}
	return res.RowsAffected, nil
}

func ExpiredUploads(ctx context.Context, dbConn *gorm.DB, now time.Time) ([]UploadSession, error) {
	var sessions []UploadSession
	err := dbConn.WithContext(ctx).
		Where("status = ? AND expires_at < ?", UploadInitiated, now).
		Order("expires_at").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("find expired uploads: %w", err)
	}
	return sessions, nil
}

func GetUploadSession(ctx context.Context, dbConn *gorm.DB, uploadID string) (*UploadSession, error) {
	var s UploadSession
	err := dbConn.WithContext(ctx).Where("upload_id = ?", uploadID).First(&s).Error
	if err != nil {
		return nil, fmt.Errorf("get upload session %s: %w", uploadID, err)
	}
	return &s, nil
}
