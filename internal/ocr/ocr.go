// Package ocr defines the text-recognition capability used by field
// detection and the engines behind it. An Engine is a scoped resource:
// obtain one with Open, use it for one detection run, then Close it.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// Engine names accepted by Open
const (
	EngineTesseract = "tesseract"
	EngineAzure     = "azure"
	EngineNone      = "none"
)

// DefaultLanguage is the Tesseract code for Polish
const DefaultLanguage = "pol"

var (
	// ErrUnknownEngine is returned by Open for an unrecognized engine name
	ErrUnknownEngine = errors.New("ocr: unknown engine")
	// ErrClosed is returned by Recognize after Close
	ErrClosed = errors.New("ocr: engine is closed")
	// ErrOCRNotEnabled is returned when Tesseract support was not compiled
	// in. Rebuild with -tags ocr (requires tesseract-ocr and its headers).
	ErrOCRNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags ocr")
)

// Word is one recognized word. Box is in the pixel space of the image that
// was recognized; Confidence is the engine's 0-100 score.
type Word struct {
	Text       string               `json:"text"`
	Box        geometry.BoundingBox `json:"box"`
	Confidence float64              `json:"confidence"`
}

// Engine recognizes words in a page image. Implementations must be safe for
// concurrent Recognize calls until Close.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, lang string) ([]Word, error)
	Close() error
}

// Config selects and configures an engine
type Config struct {
	Engine        string
	Language      string
	AzureEndpoint string
	AzureKey      string
}

// Open constructs the configured engine. The caller owns the engine and
// must Close it on every path.
func Open(cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", EngineTesseract:
		t, err := NewTesseract()
		if err != nil {
			return nil, err
		}
		return t, nil
	case EngineAzure:
		a, err := NewAzure(cfg.AzureEndpoint, cfg.AzureKey)
		if err != nil {
			return nil, err
		}
		return a, nil
	case EngineNone:
		return Nop(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// EngineFunc adapts a function to the Engine interface. Close is a no-op.
type EngineFunc func(ctx context.Context, img image.Image, lang string) ([]Word, error)

// Recognize calls f
func (f EngineFunc) Recognize(ctx context.Context, img image.Image, lang string) ([]Word, error) {
	return f(ctx, img, lang)
}

// Close does nothing
func (f EngineFunc) Close() error {
	return nil
}

// Nop returns an engine that recognizes nothing. Detection with it still
// finds boxes and reads interactive fields.
func Nop() Engine {
	return EngineFunc(func(ctx context.Context, _ image.Image, _ string) ([]Word, error) {
		return nil, ctx.Err()
	})
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("ocr: failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
