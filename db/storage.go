package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// maxComposeSources is the GCS limit on sources per compose request.
const maxComposeSources = 32

// Storage is a GCS bucket used as a multipart store. GCS has no native
// multipart session in the Go client, so each part is its own object and
// completion composes them into the final key.
type Storage struct {
	Client *storage.Client
	Bucket string
}

func NewStorage(ctx context.Context, bucket string) (*Storage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Storage{Client: client, Bucket: bucket}, nil
}

func (s *Storage) Close() error {
	return s.Client.Close()
}

func partsPrefix(key, uploadID string) string {
	return fmt.Sprintf("%s.parts/%s/", key, uploadID)
}

func partObject(key, uploadID string, partNumber int) string {
	return fmt.Sprintf("%s%05d", partsPrefix(key, uploadID), partNumber)
}

func (s *Storage) marker(key, uploadID string) *storage.ObjectHandle {
	return s.Client.Bucket(s.Bucket).Object(partsPrefix(key, uploadID) + "upload")
}

func (s *Storage) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	uploadID := uuid.NewString()
	w := s.marker(key, uploadID).NewWriter(ctx)
	w.Metadata = map[string]string{"content-type": contentType, "key": key}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("create upload marker: %w", err)
	}
	slog.Debug("Storage: multipart created", "bucket", s.Bucket, "key", key, "upload_id", uploadID)
	return uploadID, nil
}

func (s *Storage) session(ctx context.Context, key, uploadID string) (*storage.ObjectAttrs, error) {
	attrs, err := s.marker(key, uploadID).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	if err != nil {
		return nil, fmt.Errorf("read upload marker: %w", err)
	}
	return attrs, nil
}

func (s *Storage) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader) (string, error) {
	if _, err := s.session(ctx, key, uploadID); err != nil {
		return "", err
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.Client.Bucket(s.Bucket).Object(partObject(key, uploadID, partNumber)).NewWriter(wctx)
	copied, err := commitPart(w, cancel, body)
	if err != nil {
		return "", fmt.Errorf("write part %d to GCS: %w", partNumber, err)
	}
	slog.Debug("Storage: part written", "upload_id", uploadID, "part", partNumber, "bytes", copied)
	return w.Attrs().Etag, nil
}

// commitPart copies body into w and closes it. A failed copy cancels the
// write instead, since closing a GCS writer commits whatever it holds.
func commitPart(w io.WriteCloser, cancel context.CancelFunc, body io.Reader) (int64, error) {
	n, err := io.Copy(w, body)
	if err != nil {
		cancel()
		return n, fmt.Errorf("copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer: %w", err)
	}
	return n, nil
}

func (s *Storage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	if err := checkPartList(parts); err != nil {
		return err
	}
	marker, err := s.session(ctx, key, uploadID)
	if err != nil {
		return err
	}

	bkt := s.Client.Bucket(s.Bucket)
	srcs := make([]*storage.ObjectHandle, len(parts))
	for i, p := range parts {
		obj := bkt.Object(partObject(key, uploadID, p.PartNumber))
		attrs, err := obj.Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: part %d was never uploaded", ErrInvalidPart, p.PartNumber)
		}
		if err != nil {
			return fmt.Errorf("stat part %d: %w", p.PartNumber, err)
		}
		if attrs.Etag != p.ETag {
			return fmt.Errorf("%w: etag mismatch for part %d", ErrInvalidPart, p.PartNumber)
		}
		srcs[i] = obj.If(storage.Conditions{GenerationMatch: attrs.Generation})
	}

	contentType := marker.Metadata["content-type"]
	if err := s.compose(ctx, key, uploadID, srcs, contentType, 0); err != nil {
		return err
	}
	if err := s.deletePrefix(ctx, partsPrefix(key, uploadID)); err != nil {
		slog.Warn("Storage: could not remove parts", "upload_id", uploadID, "error", err)
	}
	slog.Info("Storage: multipart completed", "uri", fmt.Sprintf("gs://%s/%s", s.Bucket, key), "parts", len(parts))
	return nil
}

// compose writes srcs into key, going through intermediate composites when
// there are more sources than one request accepts.
func (s *Storage) compose(ctx context.Context, key, uploadID string, srcs []*storage.ObjectHandle, contentType string, level int) error {
	bkt := s.Client.Bucket(s.Bucket)
	if len(srcs) <= maxComposeSources {
		c := bkt.Object(key).ComposerFrom(srcs...)
		c.ContentType = contentType
		if _, err := c.Run(ctx); err != nil {
			return fmt.Errorf("compose %s: %w", key, err)
		}
		return nil
	}

	batches := composeBatches(len(srcs), maxComposeSources)
	next := make([]*storage.ObjectHandle, 0, len(batches))
	for i, b := range batches {
		name := fmt.Sprintf("%scompose-%d-%05d", partsPrefix(key, uploadID), level, i)
		c := bkt.Object(name).ComposerFrom(srcs[b[0]:b[1]]...)
		if _, err := c.Run(ctx); err != nil {
			return fmt.Errorf("compose intermediate %s: %w", name, err)
		}
		next = append(next, bkt.Object(name))
	}
	return s.compose(ctx, key, uploadID, next, contentType, level+1)
}

// composeBatches splits n sources into [start, end) ranges of at most size.
func composeBatches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}

func (s *Storage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if _, err := s.session(ctx, key, uploadID); err != nil {
		return err
	}
	return s.deletePrefix(ctx, partsPrefix(key, uploadID))
}

func (s *Storage) deletePrefix(ctx context.Context, prefix string) error {
	bkt := s.Client.Bucket(s.Bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
	}
}
