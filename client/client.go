// Package client talks to the vidprompt HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"vidprompt/db"
	"vidprompt/prompt"
	"vidprompt/upload"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
		Logger:  slog.Default(),
	}
}

// APIError is a response with ok=false.
type APIError struct {
	Status  int
	Message string
	Detail  json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("api error (status %d): %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

type envelope struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if !env.OK || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: env.Error, Detail: env.Detail}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(raw), "application/json", out)
}

func (c *Client) StartUpload(ctx context.Context, filename string, size int64) (*upload.Session, error) {
	var s upload.Session
	err := c.postJSON(ctx, "/api/upload/start", map[string]any{"filename": filename, "size": size}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) PutPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader) (*upload.Part, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("uploadId", uploadID)
	q.Set("partNumber", strconv.Itoa(partNumber))
	var p upload.Part
	if err := c.do(ctx, http.MethodPut, "/api/upload/part?"+q.Encode(), body, "application/octet-stream", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CompleteUpload(ctx context.Context, key, uploadID string, parts []db.CompletedPart) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	err := c.postJSON(ctx, "/api/upload/complete", map[string]any{"key": key, "uploadId": uploadID, "parts": parts}, &out)
	return out.Key, err
}

func (c *Client) AbortUpload(ctx context.Context, key, uploadID string) error {
	return c.postJSON(ctx, "/api/upload/abort", map[string]any{"key": key, "uploadId": uploadID}, nil)
}

// CheckVideo applies the server's upload rules locally before any bytes move.
func CheckVideo(path string, size int64) error {
	if !strings.HasSuffix(strings.ToLower(path), ".mp4") {
		return fmt.Errorf("format must be .mp4")
	}
	if size < upload.MinFileSize {
		return fmt.Errorf("file must be at least 10MB")
	}
	return nil
}

// UploadFile sends path in partSize chunks, one at a time, and completes the
// session. A failed part aborts the session.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if err := CheckVideo(path, info.Size()); err != nil {
		return "", err
	}

	session, err := c.StartUpload(ctx, filepath.Base(path), info.Size())
	if err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}
	partSize := session.PartSize
	if partSize <= 0 {
		partSize = upload.PartSize
	}
	total := int((info.Size() + partSize - 1) / partSize)
	c.Logger.Info("UploadFile: started", "key", session.Key, "parts", total)

	parts := make([]db.CompletedPart, 0, total)
	for i := 0; i < total; i++ {
		chunk := io.NewSectionReader(f, int64(i)*partSize, partSize)
		p, err := c.PutPart(ctx, session.Key, session.UploadID, i+1, chunk)
		if err != nil {
			if abortErr := c.AbortUpload(context.WithoutCancel(ctx), session.Key, session.UploadID); abortErr != nil {
				c.Logger.Warn("UploadFile: abort failed", "key", session.Key, "error", abortErr)
			}
			return "", fmt.Errorf("upload part %d/%d: %w", i+1, total, err)
		}
		parts = append(parts, db.CompletedPart{PartNumber: p.PartNumber, ETag: strings.Trim(p.ETag, `"`)})
		c.Logger.Debug("UploadFile: part done", "part", i+1, "of", total)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	key, err := c.CompleteUpload(ctx, session.Key, session.UploadID, parts)
	if err != nil {
		return "", fmt.Errorf("complete upload: %w", err)
	}
	c.Logger.Info("UploadFile: completed", "key", key)
	return key, nil
}

type PromptRequest struct {
	Frames    []string `json:"frames"`
	Template  string   `json:"template,omitempty"`
	Goal      string   `json:"goal,omitempty"`
	Language  string   `json:"language,omitempty"`
	Style     string   `json:"style,omitempty"`
	VideoKey  string   `json:"video_key,omitempty"`
	VideoName string   `json:"video_name,omitempty"`
	VideoSize int64    `json:"video_size,omitempty"`
}

type PromptResponse struct {
	ID     uint          `json:"id"`
	Result prompt.Result `json:"result"`
}

func (c *Client) MakePrompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	var out PromptResponse
	if err := c.postJSON(ctx, "/api/make-prompt", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type HistoryPage struct {
	Items  []db.PromptRun `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (c *Client) ListHistory(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var page HistoryPage
	if err := c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetHistory(ctx context.Context, id uint) (*db.PromptRun, error) {
	var out struct {
		Item db.PromptRun `json:"item"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/history/%d", id), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) DeleteHistory(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/history/%d", id), nil, "", nil)
}
