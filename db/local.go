package db

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage keeps multipart uploads on the local filesystem. Parts live
// under <Dir>/.multipart/<uploadID>/ until the upload is completed or aborted.
type LocalStorage struct {
	Dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStorage{Dir: dir}, nil
}

func (s *LocalStorage) partsDir(uploadID string) string {
	return filepath.Join(s.Dir, ".multipart", uploadID)
}

func partFile(dir string, partNumber int) string {
	return filepath.Join(dir, fmt.Sprintf("%05d.part", partNumber))
}

// sessionDir resolves the parts directory and checks it belongs to key.
func (s *LocalStorage) sessionDir(key, uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	dir := s.partsDir(uploadID)
	owner, err := os.ReadFile(filepath.Join(dir, "key"))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNoSuchUpload, uploadID)
	}
	if err != nil {
		return "", fmt.Errorf("read upload owner: %w", err)
	}
	if string(owner) != key {
		return "", fmt.Errorf("%w: %s is not an upload of %s", ErrNoSuchUpload, uploadID, key)
	}
	return dir, nil
}

func (s *LocalStorage) objectPath(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) || strings.HasPrefix(rel, ".multipart") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.Dir, rel), nil
}

func (s *LocalStorage) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if _, err := s.objectPath(key); err != nil {
		return "", err
	}
	uploadID := uuid.NewString()
	dir := s.partsDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create parts dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "key"), []byte(key), 0644); err != nil {
		return "", fmt.Errorf("write upload owner: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "content-type"), []byte(contentType), 0644); err != nil {
		return "", fmt.Errorf("write content type: %w", err)
	}
	slog.Debug("LocalStorage: multipart created", "key", key, "upload_id", uploadID)
	return uploadID, nil
}

func (s *LocalStorage) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader) (string, error) {
	dir, err := s.sessionDir(key, uploadID)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "incoming-*")
	if err != nil {
		return "", fmt.Errorf("create temp part: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), body)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("write part %d: %w", partNumber, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close part %d: %w", partNumber, err)
	}
	etag := hex.EncodeToString(h.Sum(nil))

	// a re-sent part replaces the previous one, as object stores do
	dst := partFile(dir, partNumber)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store part %d: %w", partNumber, err)
	}
	if err := os.WriteFile(dst+".etag", []byte(etag), 0644); err != nil {
		return "", fmt.Errorf("store etag %d: %w", partNumber, err)
	}
	slog.Debug("LocalStorage: part stored", "upload_id", uploadID, "part", partNumber, "bytes", n)
	return etag, nil
}

func (s *LocalStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	dir, err := s.sessionDir(key, uploadID)
	if err != nil {
		return err
	}
	if err := checkPartList(parts); err != nil {
		return err
	}

	for _, p := range parts {
		stored, err := os.ReadFile(partFile(dir, p.PartNumber) + ".etag")
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: part %d was never uploaded", ErrInvalidPart, p.PartNumber)
		}
		if err != nil {
			return fmt.Errorf("read etag %d: %w", p.PartNumber, err)
		}
		if string(stored) != p.ETag {
			return fmt.Errorf("%w: etag mismatch for part %d", ErrInvalidPart, p.PartNumber)
		}
	}

	dstPath, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	for _, p := range parts {
		if err := appendFile(dst, partFile(dir, p.PartNumber)); err != nil {
			dst.Close()
			os.Remove(dstPath)
			return fmt.Errorf("append part %d: %w", p.PartNumber, err)
		}
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("LocalStorage: could not remove parts", "upload_id", uploadID, "error", err)
	}
	slog.Info("LocalStorage: multipart completed", "key", key, "parts", len(parts))
	return nil
}

func (s *LocalStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	dir, err := s.sessionDir(key, uploadID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
