//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/otiai10/gosseract/v2"

	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// Tesseract recognizes words with a local Tesseract installation. A fresh
// gosseract client is created for each image and closed before Recognize
// returns, so no native state outlives a call.
type Tesseract struct {
	closed atomic.Bool
}

// NewTesseract creates a Tesseract engine
func NewTesseract() (*Tesseract, error) {
	return &Tesseract{}, nil
}

// Recognize runs word-level recognition on img
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, lang string) ([]Word, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if lang == "" {
		lang = DefaultLanguage
	}
	if err := client.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("tesseract: set language %s: %w", lang, err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("tesseract: set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognize: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		words = append(words, Word{
			Text: b.Word,
			Box: geometry.NewBoundingBox(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			),
			Confidence: b.Confidence,
		})
	}
	return words, nil
}

// Close marks the engine closed. Per-call clients are already released.
func (t *Tesseract) Close() error {
	t.closed.Store(true)
	return nil
}
