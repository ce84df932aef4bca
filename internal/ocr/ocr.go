// Package ocr defines the OCR engine boundary and an HTTP engine client.
// Engines return raw, unvalidated extraction output; validation happens in
// the extractor.
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
)

// ErrAsyncUnsupported is returned by engines that only run synchronously.
var ErrAsyncUnsupported = errors.New("ocr engine does not support asynchronous jobs")

// ErrJobNotReady is returned by FetchResult while a job is still running.
var ErrJobNotReady = errors.New("ocr job not finished")

// Source identifies the payload to recognise.
type Source struct {
	Key         string
	URL         string
	URI         string
	ContentType string
}

// Engine runs OCR synchronously.
type Engine interface {
	Name() string
	ExtractSync(ctx context.Context, src Source) (model.RawExtraction, error)
}

// AsyncEngine can also submit jobs whose completion is announced through the
// notification channel.
type AsyncEngine interface {
	Engine
	SubmitAsync(ctx context.Context, src Source, tag string) (string, error)
	FetchResult(ctx context.Context, jobID string) (model.RawExtraction, error)
}

// Async returns e as an AsyncEngine when it supports jobs.
func Async(e Engine) (AsyncEngine, bool) {
	a, ok := e.(AsyncEngine)
	return a, ok
}

// Loader reads stored payload bytes for engines that run locally.
type Loader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// FieldsFromLines turns "Label: value" lines into raw field entries in line
// order. Lines without a separator are kept as text only.
func FieldsFromLines(lines []string) []json.RawMessage {
	var out []json.RawMessage
	for _, line := range lines {
		label, value, ok := strings.Cut(line, ":")
		label = strings.TrimSpace(label)
		if !ok || label == "" || len(label) > 80 {
			continue
		}
		entry, err := json.Marshal(map[string]string{
			"key":   label,
			"value": strings.TrimSpace(value),
		})
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// SplitLines splits recognised text into trimmed, non-empty lines.
func SplitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
