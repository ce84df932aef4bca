// Package vertex extracts form fields with a Gemini model on Vertex AI. The
// model is asked for JSON in the same shape the HTTP engine returns.
package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr"
)

const systemPrompt = `You read scanned legal documents and forms.
Return a JSON object {"fields": [...], "lines": [...]}.
"fields" lists every fillable or labelled field in reading order as
{"key": label, "type": one of text|number|date|select|textarea, "value": filled value or "",
 "placeholder": hint text or "", "required": true|false, "options": [choices] for select}.
"lines" holds the document text, one entry per printed line.`

const userPrompt = "Extract the fields and text lines of this document."

// Config configures the Vertex engine.
type Config struct {
	Project string
	Region  string
	Model   string
}

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Engine implements ocr.Engine with a Gemini model. It has no job API and
// runs synchronously.
type Engine struct {
	client *genai.Client
	model  generator
	loader ocr.Loader
	logger *slog.Logger
}

// New creates a Vertex client and configures the extraction model.
func New(ctx context.Context, cfg Config, loader ocr.Loader) (*Engine, error) {
	if cfg.Project == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex engine: project and region are required")
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = "gemini-1.5-pro"
	}
	m := client.GenerativeModel(name)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	return &Engine{
		client: client,
		model:  m,
		loader: loader,
		logger: slog.Default().With("component", "ocr-vertex", "model", name),
	}, nil
}

func (e *Engine) Name() string { return "vertex" }

// ExtractSync references gs:// objects directly and inlines anything else.
func (e *Engine) ExtractSync(ctx context.Context, src ocr.Source) (model.RawExtraction, error) {
	var doc genai.Part
	if strings.HasPrefix(src.URI, "gs://") {
		doc = genai.FileData{MIMEType: src.ContentType, FileURI: src.URI}
	} else {
		data, err := e.loader.Get(ctx, src.Key)
		if err != nil {
			return model.RawExtraction{}, fmt.Errorf("loading %s: %w", src.Key, err)
		}
		doc = genai.Blob{MIMEType: src.ContentType, Data: data}
	}

	resp, err := e.model.GenerateContent(ctx, doc, genai.Text(userPrompt))
	if err != nil {
		return model.RawExtraction{}, fmt.Errorf("generating content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return model.RawExtraction{}, fmt.Errorf("model returned an empty response")
	}
	var raw model.RawExtraction
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		e.logger.Warn("unparseable model response", "key", src.Key, "error", err)
		return model.RawExtraction{}, fmt.Errorf("decoding model response: %w", err)
	}
	return raw, nil
}

// Close releases the Vertex client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}
