package db

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNoSuchUpload = errors.New("no such multipart upload")
	ErrInvalidPart  = errors.New("invalid multipart part")
)

// CompletedPart pairs a part number with the etag returned when it was written.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// MultipartStore is an object store that assembles one object from
// independently written parts.
type MultipartStore interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// checkPartList rejects an empty completion list and repeated part numbers.
func checkPartList(parts []CompletedPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidPart)
	}
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		if seen[p.PartNumber] {
			return fmt.Errorf("%w: part %d listed twice", ErrInvalidPart, p.PartNumber)
		}
		seen[p.PartNumber] = true
	}
	return nil
}
