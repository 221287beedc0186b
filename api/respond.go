package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"vidprompt/apperr"
)

const maxJSONBody = 32 << 20

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Server: could not write response", "error", err)
	}
}

func ok(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeError maps err onto a status code. Upstream failures carry the
// backend detail along.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		fail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	status := apperr.HTTPStatus(err)
	body := map[string]any{"ok": false}
	var ve *apperr.ValidationError
	var ue *apperr.UpstreamError
	switch {
	case errors.As(err, &ve):
		body["error"] = ve.Msg
	case errors.Is(err, apperr.ErrNotFound):
		body["error"] = "not found"
	case errors.As(err, &ue):
		body["error"] = "model error"
		body["detail"] = ue.Detail
	default:
		body["error"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Server: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON object. The content type must be JSON; a body that
// does not decode to an object is treated as empty.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil, apperr.Validation("expected application/json")
	}
	body := map[string]any{}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		slog.Debug("Server: ignoring undecodable body", "path", r.URL.Path, "error", err)
		return map[string]any{}, nil
	}
	return body, nil
}

// stringField returns body[key] as text. Missing, empty, false and zero
// values give def.
func stringField(body map[string]any, key, def string) string {
	switch v := body[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		if v != 0 && !math.IsNaN(v) {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	case bool:
		if v {
			return "true"
		}
	}
	return def
}

// numberField returns body[key] as a number, accepting numeric strings.
func numberField(body map[string]any, key string) (float64, bool) {
	switch v := body[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// queryInt truncates a numeric query value; anything else gives fallback.
func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return fallback
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

func clamp(n, lo, hi int) int {
	return max(lo, min(hi, n))
}
