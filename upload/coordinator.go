// Package upload drives the start / part / complete multipart protocol
// against a db.MultipartStore.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vidprompt/apperr"
	"vidprompt/db"
)

const (
	MB          = 1024 * 1024
	MinFileSize = 10 * MB
	PartSize    = 5 * MB
	ContentType = "video/mp4"
)

var unsafeChars = regexp.MustCompile(`[^\w.\-]+`)

// SafeFilename keeps word characters, dots and dashes and collapses every
// other run into an underscore.
func SafeFilename(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "video.mp4"
	}
	return unsafeChars.ReplaceAllString(base, "_")
}

func MakeVideoKey(filename string) string {
	return fmt.Sprintf("uploads/%s/%s", uuid.NewString(), SafeFilename(filename))
}

type Session struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
	PartSize int64  `json:"partSize"`
}

type Part struct {
	ETag       string `json:"etag"`
	PartNumber int    `json:"partNumber"`
}

type Coordinator struct {
	Store db.MultipartStore
	DB    *gorm.DB
	TTL   time.Duration
	Now   func() time.Time
}

func NewCoordinator(store db.MultipartStore, dbConn *gorm.DB, ttl time.Duration) *Coordinator {
	return &Coordinator{Store: store, DB: dbConn, TTL: ttl, Now: time.Now}
}

// Begin validates the announced file and opens a multipart session for it.
func (c *Coordinator) Begin(ctx context.Context, filename string, size float64) (*Session, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) || size < MinFileSize {
		return nil, apperr.Validation("file must be at least 10MB")
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".mp4") {
		return nil, apperr.Validation("format must be .mp4")
	}

	key := MakeVideoKey(filename)
	uploadID, err := c.Store.CreateMultipartUpload(ctx, key, ContentType)
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	if c.DB != nil {
		err = db.CreateUploadSession(ctx, c.DB, &db.UploadSession{
			UploadID:  uploadID,
			Key:       key,
			FileName:  filename,
			FileSize:  int64(size),
			PartSize:  PartSize,
			ExpiresAt: c.Now().Add(c.TTL),
		})
		if err != nil {
			// the session is usable without its tracking row
			slog.Warn("Upload: could not record session", "upload_id", uploadID, "error", err)
		}
	}

	slog.Info("Upload: started", "key", key, "upload_id", uploadID, "size", int64(size))
	return &Session{Key: key, UploadID: uploadID, PartSize: PartSize}, nil
}

func (c *Coordinator) PutPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader) (*Part, error) {
	if key == "" || uploadID == "" || partNumber < 1 {
		return nil, apperr.Validation("missing key/uploadId/partNumber")
	}
	etag, err := c.Store.UploadPart(ctx, key, uploadID, partNumber, body)
	if err != nil {
		return nil, fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	slog.Debug("Upload: part stored", "key", key, "part", partNumber, "etag", etag)
	return &Part{ETag: etag, PartNumber: partNumber}, nil
}

// NormalizeParts drops entries without a positive part number or an etag and
// orders the rest by part number.
func NormalizeParts(parts []db.CompletedPart) []db.CompletedPart {
	out := make([]db.CompletedPart, 0, len(parts))
	for _, p := range parts {
		if p.PartNumber >= 1 && p.ETag != "" {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

func (c *Coordinator) Complete(ctx context.Context, key, uploadID string, parts []db.CompletedPart) (string, error) {
	if key == "" || uploadID == "" || len(parts) == 0 {
		return "", apperr.Validation("missing key/uploadId/parts")
	}
	normalized := NormalizeParts(parts)
	if len(normalized) == 0 {
		return "", apperr.Validation("invalid parts")
	}
	for i := 1; i < len(normalized); i++ {
		if normalized[i].PartNumber == normalized[i-1].PartNumber {
			return "", apperr.Validation("duplicate partNumber %d", normalized[i].PartNumber)
		}
	}

	if err := c.Store.CompleteMultipartUpload(ctx, key, uploadID, normalized); err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	c.mark(ctx, uploadID, db.UploadCompleted)
	slog.Info("Upload: completed", "key", key, "parts", len(normalized))
	return key, nil
}

func (c *Coordinator) Abort(ctx context.Context, key, uploadID string) error {
	if key == "" || uploadID == "" {
		return apperr.Validation("missing key/uploadId")
	}
	if err := c.Store.AbortMultipartUpload(ctx, key, uploadID); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	c.mark(ctx, uploadID, db.UploadAborted)
	slog.Info("Upload: aborted", "key", key, "upload_id", uploadID)
	return nil
}

// Sweep aborts sessions that were opened but never finished before their
// expiry and reports how many were cleaned up.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	if c.DB == nil {
		return 0, nil
	}
	expired, err := db.ExpiredUploads(ctx, c.DB, c.Now())
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, s := range expired {
		if err := c.Store.AbortMultipartUpload(ctx, s.Key, s.UploadID); err != nil {
			slog.Warn("Upload: sweep abort failed", "upload_id", s.UploadID, "error", err)
		}
		if _, err := db.MarkUpload(ctx, c.DB, s.UploadID, db.UploadExpired); err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		slog.Info("Upload: swept expired sessions", "count", swept)
	}
	return swept, nil
}

func (c *Coordinator) mark(ctx context.Context, uploadID string, status db.UploadStatus) {
	if c.DB == nil {
		return
	}
	n, err := db.MarkUpload(ctx, c.DB, uploadID, status)
	if err != nil {
		slog.Warn("Upload: could not update session", "upload_id", uploadID, "status", status, "error", err)
		return
	}
	if n == 0 {
		slog.Debug("Upload: no tracked session", "upload_id", uploadID)
	}
}
