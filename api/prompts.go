package api

import (
	"log/slog"
	"net/http"
	"time"

	"gorm.io/datatypes"

	"vidprompt/apperr"
	"vidprompt/db"
	"vidprompt/prompt"
)

func frameList(body map[string]any) ([]string, error) {
	list, _ := body["frames"].([]any)
	frames := make([]string, 0, len(list))
	for i, item := range list {
		f, isString := item.(string)
		if !isString {
			return nil, apperr.Validation("frame %d: not a string", i+1)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func optionalString(body map[string]any, key string) *string {
	if v := stringField(body, key, ""); v != "" {
		return &v
	}
	return nil
}

func (s *Server) makePrompt(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Prompts.Check(); err != nil {
		writeError(w, r, err)
		return
	}
	frames, err := frameList(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	out, err := s.Prompts.Generate(r.Context(), prompt.Request{
		Frames:   frames,
		Template: stringField(body, "template", ""),
		Goal:     stringField(body, "goal", ""),
		Language: stringField(body, "language", ""),
		Style:    stringField(body, "style", ""),
	})
	s.Metrics.promptRuns.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Metrics.promptDuration.Observe(time.Since(start).Seconds())

	run := &db.PromptRun{
		VideoKey:       optionalString(body, "video_key"),
		VideoName:      optionalString(body, "video_name"),
		Template:       out.Request.Template,
		Goal:           out.Request.Goal,
		Language:       out.Request.Language,
		Style:          out.Request.Style,
		FramesCount:    len(frames),
		Summary:        out.Result.Summary,
		Prompt:         out.Result.Prompt,
		NegativePrompt: out.Result.NegativePrompt,
		Tags:           datatypes.JSONSlice[string](out.Result.Tags),
		Notes:          out.Result.Notes,
		RawJSON:        datatypes.JSON(out.Raw),
	}
	if size, isNum := numberField(body, "video_size"); isNum && size != 0 {
		n := int64(size)
		run.VideoSize = &n
	}
	if err := db.CreateRun(r.Context(), s.DB, run); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Server: prompt run stored", "id", run.ID, "template", run.Template, "frames", run.FramesCount)
	ok(w, map[string]any{"id": run.ID, "result": out.Result})
}
