package api

import (
	"io"
	"math"
	"net/http"

	"vidprompt/db"
)

const maxPartBody = 64 << 20

func (s *Server) startUpload(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filename := stringField(body, "filename", "video.mp4")
	size, _ := numberField(body, "size")

	session, err := s.Uploads.Begin(r.Context(), filename, size)
	s.Metrics.uploadsTotal.WithLabelValues("start", outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]any{"key": session.Key, "uploadId": session.UploadID, "partSize": session.PartSize})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *Server) putPart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := &countingReader{r: http.MaxBytesReader(w, r.Body, maxPartBody)}

	part, err := s.Uploads.PutPart(r.Context(), q.Get("key"), q.Get("uploadId"), queryInt(q.Get("partNumber"), 0), body)
	s.Metrics.uploadsTotal.WithLabelValues("part", outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Metrics.uploadBytes.Add(float64(body.n))
	w.Header().Set("ETag", part.ETag)
	ok(w, map[string]any{"etag": part.ETag, "partNumber": part.PartNumber})
}

// completedParts reads the parts list leniently. Entries that are not objects
// become empty parts, which normalization drops.
func completedParts(body map[string]any) []db.CompletedPart {
	list, _ := body["parts"].([]any)
	parts := make([]db.CompletedPart, 0, len(list))
	for _, item := range list {
		entry, _ := item.(map[string]any)
		var p db.CompletedPart
		if n, isNum := numberField(entry, "partNumber"); isNum && n == math.Trunc(n) && n <= math.MaxInt32 {
			p.PartNumber = int(n)
		}
		p.ETag = stringField(entry, "etag", "")
		parts = append(parts, p)
	}
	return parts
}

func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := s.Uploads.Complete(r.Context(), stringField(body, "key", ""), stringField(body, "uploadId", ""), completedParts(body))
	s.Metrics.uploadsTotal.WithLabelValues("complete", outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]any{"key": key})
}

func (s *Server) abortUpload(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = s.Uploads.Abort(r.Context(), stringField(body, "key", ""), stringField(body, "uploadId", ""))
	s.Metrics.uploadsTotal.WithLabelValues("abort", outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, map[string]any{"aborted": true})
}
