package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"

	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// AzureWordConfidence is reported for every Azure word. The printed-text
// endpoint returns no per-word score.
const AzureWordConfidence = 80.0

// azureLanguages maps Tesseract language codes to Azure OCR codes
var azureLanguages = map[string]computervision.OcrLanguages{
	"pol": computervision.OcrLanguagesPl,
	"eng": computervision.OcrLanguagesEn,
	"deu": computervision.OcrLanguagesDe,
	"fra": computervision.OcrLanguagesFr,
	"ces": computervision.OcrLanguagesCs,
	"slk": computervision.OcrLanguagesSk,
}

// recognizer is the part of the Azure client the engine uses
type recognizer interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, image io.ReadCloser,
		language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// Azure recognizes words with the Azure Computer Vision OCR API
type Azure struct {
	client recognizer
	closed atomic.Bool
}

// NewAzure creates an engine for endpoint authenticated with key
func NewAzure(endpoint, key string) (*Azure, error) {
	if endpoint == "" || key == "" {
		return nil, errors.New("ocr: azure engine needs an endpoint and a key")
	}

	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(key)

	return &Azure{client: &client}, nil
}

// Recognize sends img to the OCR endpoint and flattens regions and lines
// into words.
func (a *Azure) Recognize(ctx context.Context, img image.Image, lang string) ([]Word, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}

	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	language, ok := azureLanguages[strings.ToLower(lang)]
	if !ok {
		language = computervision.OcrLanguagesUnk
	}

	result, err := a.client.RecognizePrintedTextInStream(ctx, true, io.NopCloser(bytes.NewReader(data)), language)
	if err != nil {
		return nil, fmt.Errorf("azure: recognize: %w", err)
	}

	return azureWords(result), nil
}

// Close marks the engine closed
func (a *Azure) Close() error {
	a.closed.Store(true)
	return nil
}

func azureWords(result computervision.OcrResult) []Word {
	if result.Regions == nil {
		return nil
	}

	var words []Word
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			for _, w := range *line.Words {
				if w.Text == nil || w.BoundingBox == nil {
					continue
				}
				box, ok := parseAzureBox(*w.BoundingBox)
				if !ok {
					continue
				}
				words = append(words, Word{Text: *w.Text, Box: box, Confidence: AzureWordConfidence})
			}
		}
	}
	return words
}

// parseAzureBox parses the "left,top,width,height" pixel box format
func parseAzureBox(s string) (geometry.BoundingBox, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.BoundingBox{}, false
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geometry.BoundingBox{}, false
		}
		v[i] = float64(n)
	}
	return geometry.NewBoundingBox(v[0], v[1], v[0]+v[2], v[1]+v[3]), true
}
