// Package tesseract runs OCR locally through gosseract. It reads the stored
// image directly, so it works with every object store backend, but it has
// no job queue and only runs synchronously.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ocr"
	"github.com/otiai10/gosseract/v2"
)

// client is the subset of *gosseract.Client the engine uses.
type client interface {
	SetImageFromBytes(data []byte) error
	SetLanguage(langs ...string) error
	Text() (string, error)
	Close() error
}

// Engine implements ocr.Engine with Tesseract.
type Engine struct {
	loader        ocr.Loader
	languages     []string
	clientFactory func() client
	logger        *slog.Logger
}

// New creates a Tesseract engine reading payloads through loader.
func New(loader ocr.Loader, languages []string) *Engine {
	return &Engine{
		loader:        loader,
		languages:     languages,
		clientFactory: func() client { return gosseract.NewClient() },
		logger:        slog.Default().With("component", "ocr-tesseract"),
	}
}

func (e *Engine) Name() string { return "tesseract" }

// ExtractSync recognises an image and derives fields from "Label: value"
// lines.
func (e *Engine) ExtractSync(ctx context.Context, src ocr.Source) (model.RawExtraction, error) {
	if !strings.HasPrefix(src.ContentType, "image/") {
		return model.RawExtraction{}, fmt.Errorf("tesseract cannot read %s payloads", src.ContentType)
	}
	data, err := e.loader.Get(ctx, src.Key)
	if err != nil {
		return model.RawExtraction{}, fmt.Errorf("loading %s: %w", src.Key, err)
	}
	if err := ctx.Err(); err != nil {
		return model.RawExtraction{}, err
	}

	c := e.clientFactory()
	defer c.Close()
	if err := c.SetImageFromBytes(data); err != nil {
		return model.RawExtraction{}, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return model.RawExtraction{}, fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return model.RawExtraction{}, fmt.Errorf("recognize text: %w", err)
	}
	lines := ocr.SplitLines(text)
	e.logger.Debug("recognised image", "key", src.Key, "lines", len(lines))
	return model.RawExtraction{Fields: ocr.FieldsFromLines(lines), Lines: lines}, nil
}
