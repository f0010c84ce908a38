package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/pdftest"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/raster"
)

func blankPage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func fill(img *image.NRGBA, x0, y0, x1, y1 int) {
	draw.Draw(img, image.Rect(x0, y0, x1+1, y1+1), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
}

func assertBox(t *testing.T, want, got geometry.BoundingBox, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X0, got.X0, delta, "x0 of %s", got)
	assert.InDelta(t, want.Y0, got.Y0, delta, "y0 of %s", got)
	assert.InDelta(t, want.X1, got.X1, delta, "x1 of %s", got)
	assert.InDelta(t, want.Y1, got.Y1, delta, "y1 of %s", got)
}

func TestDetectBoxes_RectangleAndUnderline(t *testing.T) {
	img := blankPage(400, 200)
	// closed rectangle, 2px strokes
	fill(img, 100, 40, 300, 41)
	fill(img, 100, 79, 300, 80)
	fill(img, 100, 40, 101, 80)
	fill(img, 299, 40, 300, 80)
	// underline
	fill(img, 60, 150, 260, 151)

	boxes := DetectBoxes(img, 2.0, DefaultBoxOptions())
	require.Len(t, boxes, 2)

	assertBox(t, geometry.BoundingBox{X0: 50, Y0: 20.25, X1: 150, Y1: 39.75}, boxes[0], 0.5)
	assertBox(t, geometry.BoundingBox{X0: 30, Y0: 61.25, X1: 130, Y1: 75.25}, boxes[1], 0.5)
}

func TestDetectBoxes_IgnoresShortStrokes(t *testing.T) {
	img := blankPage(200, 100)
	fill(img, 10, 10, 30, 11) // 10pt at 2x, below the rule minimum
	fill(img, 50, 10, 51, 60) // lone vertical

	assert.Empty(t, DetectBoxes(img, 2.0, DefaultBoxOptions()))
	assert.Nil(t, DetectBoxes(nil, 2.0, DefaultBoxOptions()))
}

func TestDetectBoxes_ClosesSmallGaps(t *testing.T) {
	img := blankPage(400, 100)
	for x := 20; x <= 320; x += 3 {
		fill(img, x, 50, x+1, 50) // 2px dash, 1px gap
	}

	boxes := DetectBoxes(img, 2.0, DefaultBoxOptions())
	require.Len(t, boxes, 1)
	assert.InDelta(t, 10, boxes[0].X0, 0.5)
	assert.InDelta(t, 160.5, boxes[0].X1, 0.5)
}

func TestDetectBoxes_RenderedForm(t *testing.T) {
	page, err := raster.New(false).Render(context.Background(), pdftest.LabelledFormPDF(t), 1, raster.DefaultScale)
	require.NoError(t, err)

	boxes := DetectBoxes(page.Image, page.Scale, DefaultBoxOptions())
	require.Len(t, boxes, 3)

	assertBox(t, geometry.BoundingBox{X0: 150, Y0: 86, X1: 350, Y1: 106}, boxes[0], 2)
	assertBox(t, geometry.BoundingBox{X0: 150, Y0: 136, X1: 350, Y1: 156}, boxes[1], 2)
	assertBox(t, geometry.BoundingBox{X0: 150, Y0: 192, X1: 350, Y1: 206}, boxes[2], 2)
}

func word(text string, x0, y0, x1, y1 float64) Word {
	return Word{Text: text, Box: geometry.NewBoundingBox(x0, y0, x1, y1), Confidence: 0.9}
}

func TestClassify(t *testing.T) {
	d := New(ocr.Nop(), nil)

	words := []Word{
		word("Lorem", 200, 30, 240, 40),
		word("PESEL:", 50, 30, 90, 40),
		word("Mocodawca", 50, 10, 110, 20),
		word("urodzenia:", 78, 50, 130, 60),
		word("Data", 50, 50, 75, 60),
		word("Czy", 50, 70, 65, 80),
		word("jest", 68, 70, 85, 80),
		word("rezydentem?", 88, 70, 150, 80),
	}

	labels, sections := d.Classify(words)

	require.Len(t, sections, 1)
	assert.Equal(t, "principal", sections[0].Prefix)
	assert.Equal(t, "Mocodawca", sections[0].Text)

	require.Len(t, labels, 3)
	assert.Equal(t, "PESEL:", labels[0].Text)
	assert.Equal(t, "Data urodzenia:", labels[1].Text)
	assertBox(t, geometry.BoundingBox{X0: 50, Y0: 50, X1: 130, Y1: 60}, labels[1].Box, 0.001)
	assert.Equal(t, "Czy jest rezydentem?", labels[2].Text)
}

func TestClassify_FarWordsAreNotAPhrase(t *testing.T) {
	d := New(ocr.Nop(), nil)

	// "Data" and "urodzenia" on one line but far apart read as two tokens
	labels, _ := d.Classify([]Word{
		word("Data", 50, 50, 75, 60),
		word("urodzenia", 300, 50, 350, 60),
	})

	require.Len(t, labels, 1)
	assert.Equal(t, "Data", labels[0].Text)
}

func TestDetect_ConvertsPixelsToPoints(t *testing.T) {
	engine := ocr.EngineFunc(func(_ context.Context, _ image.Image, lang string) ([]ocr.Word, error) {
		assert.Equal(t, "pol", lang)
		return []ocr.Word{
			{Text: "PESEL:", Box: geometry.NewBoundingBox(300, 400, 360, 420), Confidence: 90},
			{Text: "szum", Box: geometry.NewBoundingBox(600, 400, 660, 420), Confidence: 40},
			{Text: "  ", Box: geometry.NewBoundingBox(0, 0, 1, 1), Confidence: 99},
		}, nil
	})

	page := &raster.Page{Number: 2, Scale: 2.0, Size: geometry.PageSize{Width: 500, Height: 500}, Image: blankPage(1000, 1000)}

	result, err := New(engine, nil).Detect(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Page)
	assert.Equal(t, 2, result.WordCount)
	assert.Equal(t, 1, result.Discarded)
	require.Len(t, result.Labels, 1)
	assert.Equal(t, geometry.BoundingBox{X0: 150, Y0: 200, X1: 180, Y1: 210}, result.Labels[0].Box)
	assert.InDelta(t, 0.9, float64(result.Labels[0].Confidence), 1e-9)
	assert.Empty(t, result.Boxes)
}

func TestDetect_OCRFailure(t *testing.T) {
	engine := ocr.EngineFunc(func(context.Context, image.Image, string) ([]ocr.Word, error) {
		return nil, errors.New("engine crashed")
	})
	page := &raster.Page{Number: 3, Scale: 2.0, Image: blankPage(10, 10)}

	_, err := New(engine, nil).Detect(context.Background(), page)
	require.Error(t, err)

	var fe *formerrors.FormError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, formerrors.ErrorTypeDetectionFailure, fe.Type)
	assert.Equal(t, 3, fe.Page)
}

func TestDetect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ocr.Nop(), nil).Detect(ctx, &raster.Page{Number: 1, Scale: 2, Image: blankPage(10, 10)})
	assert.ErrorIs(t, err, context.Canceled)
}
