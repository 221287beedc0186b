package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"vidprompt/apperr"
	"vidprompt/config"
)

// Gemini is a Generator backed by the Gemini API or Vertex AI.
type Gemini struct {
	Client *genai.Client
	Model  string
}

func NewGemini(ctx context.Context, cfg config.Config) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBackend == "vertex" {
		cc = &genai.ClientConfig{
			Project:  cfg.GCPProject,
			Location: cfg.GeminiLocation, // preview models need the global region
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{Client: client, Model: cfg.GeminiModel}, nil
}

func resultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":         {Type: genai.TypeString},
			"prompt":          {Type: genai.TypeString},
			"negative_prompt": {Type: genai.TypeString},
			"tags": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"notes": {Type: genai.TypeString},
		},
		Required: []string{"summary", "prompt", "negative_prompt", "tags", "notes"},
	}
}

func contents(in Input) []*genai.Content {
	parts := make([]*genai.Part, 0, len(in.Images)+1)
	parts = append(parts, &genai.Part{Text: in.Text})
	for _, img := range in.Images {
		if img.URI != "" {
			parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: img.URI, MIMEType: img.MIMEType}})
			continue
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}})
	}
	return []*genai.Content{{Role: "user", Parts: parts}}
}

func (g *Gemini) Generate(ctx context.Context, in Input) (*Response, error) {
	contentCfg := genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   resultSchema(),
	}
	if in.System != "" {
		contentCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: in.System}},
		}
	}

	response, err := g.Client.Models.GenerateContent(ctx, g.Model, contents(in), &contentCfg)
	if err != nil {
		slog.Error("Gemini: generate failed", "model", g.Model, "error", err)
		return nil, upstreamError(err)
	}

	raw, err := json.Marshal(response)
	if err != nil {
		slog.Warn("Gemini: could not encode response", "error", err)
		raw = []byte("{}")
	}
	return &Response{Text: response.Text(), Raw: raw}, nil
}

func upstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &apperr.UpstreamError{Status: apiErr.Code, Detail: apiErrorDetail(apiErr), Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &apperr.UpstreamError{Status: apiErrPtr.Code, Detail: apiErrorDetail(*apiErrPtr), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &apperr.UpstreamError{Status: http.StatusBadGateway, Detail: err.Error(), Err: err}
}

func apiErrorDetail(e genai.APIError) map[string]any {
	return map[string]any{
		"code":    e.Code,
		"message": e.Message,
		"status":  e.Status,
		"details": e.Details,
	}
}
