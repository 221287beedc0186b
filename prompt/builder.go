// Package prompt turns a set of video frames into a structured prompt using a
// multimodal model.
package prompt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"

	"vidprompt/apperr"
)

const MaxFrames = 16

type Request struct {
	Frames   []string
	Template string
	Goal     string
	Language string
	Style    string
}

// Image is one frame handed to the model, either inline bytes or a URI the
// backend fetches itself.
type Image struct {
	MIMEType string
	Data     []byte
	URI      string
}

type Input struct {
	System string
	Text   string
	Images []Image
}

type Response struct {
	Text string
	Raw  json.RawMessage
}

type Generator interface {
	Generate(ctx context.Context, in Input) (*Response, error)
}

type Output struct {
	Request Request
	Result  Result
	Raw     json.RawMessage
}

type Builder struct {
	Generator Generator
}

func NewBuilder(gen Generator) *Builder {
	return &Builder{Generator: gen}
}

// WithDefaults fills empty fields with the default template, goal, language
// and style.
func (r Request) WithDefaults() Request {
	if r.Template == "" {
		r.Template = TemplateGeneral
	}
	if r.Goal == "" {
		r.Goal = DefaultGoal
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	return r
}

// Check reports a configuration error when no model backend is wired.
func (b *Builder) Check() error {
	if b == nil || b.Generator == nil {
		return apperr.ConfigError("GEMINI_API_KEY is not set")
	}
	return nil
}

func (b *Builder) Generate(ctx context.Context, req Request) (*Output, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	req = req.WithDefaults()
	if len(req.Frames) == 0 {
		return nil, apperr.Validation("frames is empty")
	}
	if len(req.Frames) > MaxFrames {
		return nil, apperr.Validation("at most %d frames", MaxFrames)
	}

	images := make([]Image, 0, len(req.Frames))
	for i, f := range req.Frames {
		img, err := DecodeFrame(f)
		if err != nil {
			return nil, apperr.Validation("frame %d: %v", i+1, err)
		}
		images = append(images, img)
	}

	slog.Info("Builder: generating", "template", req.Template, "frames", len(images), "language", req.Language)
	resp, err := b.Generator.Generate(ctx, Input{
		System: SystemInstruction(),
		Text:   InstructionText(req),
		Images: images,
	})
	if err != nil {
		return nil, fmt.Errorf("generate prompt: %w", err)
	}

	result := ParseResult(resp.Text)
	slog.Debug("Builder: parsed result", "tags", len(result.Tags), "prompt_len", len(result.Prompt))
	return &Output{Request: req, Result: result, Raw: resp.Raw}, nil
}

// DecodeFrame accepts a base64 data URL or a gs:// / https:// image URI.
func DecodeFrame(frame string) (Image, error) {
	switch {
	case strings.HasPrefix(frame, "data:"):
		meta, payload, ok := strings.Cut(strings.TrimPrefix(frame, "data:"), ",")
		if !ok {
			return Image{}, fmt.Errorf("malformed data URL")
		}
		mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return Image{}, fmt.Errorf("data URL is not base64")
		}
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Image{}, fmt.Errorf("decode data URL: %w", err)
		}
		if len(data) == 0 {
			return Image{}, fmt.Errorf("empty image")
		}
		return Image{MIMEType: mimeType, Data: data}, nil
	case strings.HasPrefix(frame, "gs://"), strings.HasPrefix(frame, "https://"):
		mimeType := mime.TypeByExtension(path.Ext(frame))
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
		return Image{MIMEType: mimeType, URI: frame}, nil
	default:
		return Image{}, fmt.Errorf("not a data URL or image URI")
	}
}
