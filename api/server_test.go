package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidprompt/apperr"
	"vidprompt/db"
	"vidprompt/prompt"
	"vidprompt/upload"
)

type fakeGenerator struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, in prompt.Input) (*prompt.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	text := "{}"
	if len(f.texts) > 0 {
		text = f.texts[0]
		f.texts = f.texts[1:]
	}
	return &prompt.Response{Text: text, Raw: json.RawMessage(`{"model":"fake"}`)}, nil
}

func newTestServer(t *testing.T, gen prompt.Generator) *httptest.Server {
	t.Helper()
	dbConn, err := db.GetOrCreateDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	store, err := db.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	s := NewServer(upload.NewCoordinator(store, dbConn, time.Hour), prompt.NewBuilder(gen), dbConn)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func testFrames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, byte(i)})
	}
	return out
}

func TestUploadFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, "POST", ts.URL+"/api/upload/start", map[string]any{"filename": "clip.mp4", "size": 12_000_000})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])
	key := body["key"].(string)
	uploadID := body["uploadId"].(string)
	assert.Contains(t, key, "clip.mp4")
	assert.NotEmpty(t, uploadID)
	assert.Equal(t, float64(upload.PartSize), body["partSize"])

	var parts []map[string]any
	etags := map[string]bool{}
	for n := 1; n <= 3; n++ {
		q := url.Values{"key": {key}, "uploadId": {uploadID}, "partNumber": {fmt.Sprint(n)}}
		req, err := http.NewRequest("PUT", ts.URL+"/api/upload/part?"+q.Encode(), strings.NewReader(strings.Repeat(fmt.Sprint(n), 1000)))
		require.NoError(t, err)
		status, body := send(t, req)
		require.Equal(t, http.StatusOK, status, body)
		etag := body["etag"].(string)
		assert.False(t, etags[etag])
		etags[etag] = true
		assert.Equal(t, float64(n), body["partNumber"])
		parts = append(parts, map[string]any{"partNumber": n, "etag": etag})
	}

	status, body = doJSON(t, "POST", ts.URL+"/api/upload/complete", map[string]any{"key": key, "uploadId": uploadID, "parts": parts})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, key, body["key"])
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, "POST", ts.URL+"/api/upload/start", map[string]any{"filename": "clip.mp4", "size": 1024})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "file must be at least 10MB", body["error"])

	status, body = doJSON(t, "POST", ts.URL+"/api/upload/start", map[string]any{"filename": "clip.mov", "size": 20 << 20})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "format must be .mp4", body["error"])

	req, err := http.NewRequest("POST", ts.URL+"/api/upload/start", strings.NewReader(`{"filename":"clip.mp4","size":20000000}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	status, _ = send(t, req)
	assert.Equal(t, http.StatusBadRequest, status)

	req, err = http.NewRequest("PUT", ts.URL+"/api/upload/part?key=k&partNumber=1", strings.NewReader("x"))
	require.NoError(t, err)
	status, body = send(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing key/uploadId/partNumber", body["error"])

	status, body = doJSON(t, "POST", ts.URL+"/api/upload/complete", map[string]any{"key": "k", "uploadId": "u", "parts": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing key/uploadId/parts", body["error"])

	status, body = doJSON(t, "POST", ts.URL+"/api/upload/complete", map[string]any{"key": "k", "uploadId": "u", "parts": []any{map[string]any{"partNumber": 0, "etag": "x"}, "junk"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid parts", body["error"])
}

func TestUploadAbort(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := doJSON(t, "POST", ts.URL+"/api/upload/start", map[string]any{"filename": "clip.mp4", "size": 12_000_000})
	key, uploadID := body["key"].(string), body["uploadId"].(string)

	status, body := doJSON(t, "POST", ts.URL+"/api/upload/abort", map[string]any{"key": key, "uploadId": uploadID})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["aborted"])

	q := url.Values{"key": {key}, "uploadId": {uploadID}, "partNumber": {"1"}}
	req, err := http.NewRequest("PUT", ts.URL+"/api/upload/part?"+q.Encode(), strings.NewReader("late"))
	require.NoError(t, err)
	status, _ = send(t, req)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestMakePromptStoresRun(t *testing.T) {
	gen := &fakeGenerator{texts: []string{`{"summary":"a beach","prompt":"sunset beach","negative_prompt":"blur","tags":["beach"],"notes":"n"}`}}
	ts := newTestServer(t, gen)

	status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{
		"frames":     testFrames(4),
		"template":   "sdxl",
		"video_key":  "uploads/abc/clip.mp4",
		"video_name": "clip.mp4",
		"video_size": 12_000_000,
	})
	require.Equal(t, http.StatusOK, status, body)
	id := body["id"].(float64)
	result := body["result"].(map[string]any)
	assert.Equal(t, "sunset beach", result["prompt"])
	assert.Equal(t, []any{"beach"}, result["tags"])

	status, body = doJSON(t, "GET", fmt.Sprintf("%s/api/history/%d", ts.URL, int(id)), nil)
	require.Equal(t, http.StatusOK, status, body)
	item := body["item"].(map[string]any)
	assert.Equal(t, "sdxl", item["template"])
	assert.Equal(t, float64(4), item["frames_count"])
	assert.Equal(t, "clip.mp4", item["video_name"])
	assert.Equal(t, float64(12_000_000), item["video_size"])
	assert.Equal(t, prompt.DefaultGoal, item["goal"])
	assert.Equal(t, map[string]any{"model": "fake"}, item["raw_json"])
}

func TestMakePromptMalformedOutputIsStored(t *testing.T) {
	gen := &fakeGenerator{texts: []string{"no json here, just a cat"}}
	ts := newTestServer(t, gen)

	status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": testFrames(1)})
	require.Equal(t, http.StatusOK, status, body)
	result := body["result"].(map[string]any)
	assert.Equal(t, "no json here, just a cat", result["prompt"])
	assert.Equal(t, "", result["summary"])
	assert.Equal(t, []any{}, result["tags"])

	_, body = doJSON(t, "GET", ts.URL+"/api/history", nil)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "no json here, just a cat", items[0].(map[string]any)["prompt"])
}

func TestMakePromptFrameCount(t *testing.T) {
	gen := &fakeGenerator{}
	ts := newTestServer(t, gen)

	for _, n := range []int{0, 17} {
		status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": testFrames(n)})
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, false, body["ok"])
	}
	status, _ := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": "not-a-list"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": []any{1, 2}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, gen.calls)

	_, body := doJSON(t, "GET", ts.URL+"/api/history", nil)
	assert.Empty(t, body["items"])
}

func TestMakePromptWithoutGenerator(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["error"], "GEMINI_API_KEY")
}

func TestMakePromptUpstreamFailure(t *testing.T) {
	gen := &fakeGenerator{err: &apperr.UpstreamError{Status: 429, Detail: map[string]any{"message": "quota exceeded"}}}
	ts := newTestServer(t, gen)

	status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": testFrames(2)})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "model error", body["error"])
	assert.Equal(t, map[string]any{"message": "quota exceeded"}, body["detail"])

	_, body = doJSON(t, "GET", ts.URL+"/api/history", nil)
	assert.Empty(t, body["items"])
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(ctx context.Context, in prompt.Input) (*prompt.Response, error) {
	panic("generator exploded")
}

func TestMakePromptPanicKeepsEnvelope(t *testing.T) {
	ts := newTestServer(t, panickingGenerator{})

	raw, err := json.Marshal(map[string]any{"frames": testFrames(1)})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/make-prompt", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "generator exploded", body["error"])

	status, health := doJSON(t, "GET", ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, health["ok"])
}

func TestHistoryNewestFirstAndPaging(t *testing.T) {
	gen := &fakeGenerator{texts: []string{`{"summary":"one"}`, `{"summary":"two"}`, `{"summary":"three"}`}}
	ts := newTestServer(t, gen)

	for range 3 {
		status, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": testFrames(1)})
		require.Equal(t, http.StatusOK, status, body)
	}

	status, body := doJSON(t, "GET", ts.URL+"/api/history?limit=20&offset=0", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 3)
	var summaries []string
	for _, it := range items {
		m := it.(map[string]any)
		summaries = append(summaries, m["summary"].(string))
		_, hasRaw := m["raw_json"]
		assert.False(t, hasRaw)
	}
	assert.Equal(t, []string{"three", "two", "one"}, summaries)

	for query, want := range map[string][2]float64{
		"limit=500&offset=-5":  {100, 0},
		"limit=abc&offset=xyz": {20, 0},
		"limit=0&offset=99999": {1, 10000},
		"limit=2.9&offset=1.5": {2, 1},
	} {
		_, body := doJSON(t, "GET", ts.URL+"/api/history?"+query, nil)
		assert.Equal(t, want[0], body["limit"], query)
		assert.Equal(t, want[1], body["offset"], query)
	}

	_, body = doJSON(t, "GET", ts.URL+"/api/history?limit=1&offset=1", nil)
	items = body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "two", items[0].(map[string]any)["summary"])
}

func TestHistoryDelete(t *testing.T) {
	gen := &fakeGenerator{}
	ts := newTestServer(t, gen)

	_, body := doJSON(t, "POST", ts.URL+"/api/make-prompt", map[string]any{"frames": testFrames(1)})
	itemURL := fmt.Sprintf("%s/api/history/%d", ts.URL, int(body["id"].(float64)))

	status, body := doJSON(t, "DELETE", itemURL, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["deleted"])

	status, body = doJSON(t, "DELETE", itemURL, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["ok"])

	status, _ = doJSON(t, "GET", itemURL, nil)
	assert.Equal(t, http.StatusNotFound, status)

	for _, id := range []string{"0", "-4", "abc"} {
		status, body := doJSON(t, "GET", ts.URL+"/api/history/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, status, id)
		assert.Equal(t, "invalid id", body["error"])
	}
}

func TestPreflightAndCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest("OPTIONS", ts.URL+"/api/upload/part", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,PUT,DELETE,OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type,authorization", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))

	resp, err = http.Get(ts.URL + "/api/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNotFoundAndOps(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body := doJSON(t, "GET", ts.URL+"/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not found", body["error"])

	status, _ = doJSON(t, "GET", ts.URL+"/api/upload/start", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doJSON(t, "GET", ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "vidprompt_http_requests_total")
}
