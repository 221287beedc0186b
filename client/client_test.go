package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidprompt/api"
	"vidprompt/db"
	"vidprompt/prompt"
	"vidprompt/upload"
)

type stubGenerator struct {
	text string
}

func (s stubGenerator) Generate(ctx context.Context, in prompt.Input) (*prompt.Response, error) {
	return &prompt.Response{Text: s.text, Raw: json.RawMessage(`{}`)}, nil
}

func newTestAPI(t *testing.T, gen prompt.Generator) (*Client, string) {
	t.Helper()
	dbConn, err := db.GetOrCreateDB(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	storeDir := t.TempDir()
	store, err := db.NewLocalStorage(storeDir)
	require.NoError(t, err)

	s := api.NewServer(upload.NewCoordinator(store, dbConn, time.Hour), prompt.NewBuilder(gen), dbConn)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL), storeDir
}

func TestUploadFile(t *testing.T) {
	c, storeDir := newTestAPI(t, nil)

	data := make([]byte, 11*upload.MB+123)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "my clip.mp4")
	require.NoError(t, os.WriteFile(path, data, 0644))

	key, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, key, "my_clip.mp4")

	got, err := os.ReadFile(filepath.Join(storeDir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "assembled object matches the source file")
}

func TestUploadFileRejectsLocally(t *testing.T) {
	c, _ := newTestAPI(t, nil)

	small := filepath.Join(t.TempDir(), "small.mp4")
	require.NoError(t, os.WriteFile(small, []byte("tiny"), 0644))
	_, err := c.UploadFile(context.Background(), small)
	assert.EqualError(t, err, "file must be at least 10MB")

	assert.EqualError(t, CheckVideo("clip.avi", 20*upload.MB), "format must be .mp4")
	assert.NoError(t, CheckVideo("CLIP.MP4", upload.MinFileSize))
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	c, _ := newTestAPI(t, nil)

	_, err := c.StartUpload(context.Background(), "clip.mp4", 1024)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "file must be at least 10MB", apiErr.Message)
}

func TestPromptAndHistory(t *testing.T) {
	c, _ := newTestAPI(t, stubGenerator{text: `{"summary":"s","prompt":"p","tags":["x","y"]}`})
	ctx := context.Background()

	resp, err := c.MakePrompt(ctx, PromptRequest{
		Frames:    []string{"data:image/jpeg;base64,/9j/"},
		Template:  prompt.TemplateVideo,
		VideoName: "clip.mp4",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.ID)
	assert.Equal(t, "p", resp.Result.Prompt)
	assert.Equal(t, []string{"x", "y"}, resp.Result.Tags)

	page, err := c.ListHistory(ctx, 20, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, "video", page.Items[0].Template)

	run, err := c.GetHistory(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", *run.VideoName)
	assert.Equal(t, []string{"x", "y"}, []string(run.Tags))

	require.NoError(t, c.DeleteHistory(ctx, resp.ID))

	_, err = c.GetHistory(ctx, resp.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	err = c.DeleteHistory(ctx, resp.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
