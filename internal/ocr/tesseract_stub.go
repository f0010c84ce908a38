//go:build !ocr

package ocr

import (
	"context"
	"image"
)

// Tesseract is the stub engine used without the ocr build tag
type Tesseract struct{}

// NewTesseract returns ErrOCRNotEnabled
func NewTesseract() (*Tesseract, error) {
	return nil, ErrOCRNotEnabled
}

// Recognize returns ErrOCRNotEnabled
func (t *Tesseract) Recognize(context.Context, image.Image, string) ([]Word, error) {
	return nil, ErrOCRNotEnabled
}

// Close is a no-op. It is safe to call on a nil engine.
func (t *Tesseract) Close() error {
	return nil
}
