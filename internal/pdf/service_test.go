package pdf

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync/atomic"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/pdftest"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// countingEngine wraps a recognizer and counts Close calls
type countingEngine struct {
	recognize func(ctx context.Context, img image.Image, lang string) ([]ocr.Word, error)
	closed    atomic.Int32
}

func (e *countingEngine) Recognize(ctx context.Context, img image.Image, lang string) ([]ocr.Word, error) {
	return e.recognize(ctx, img, lang)
}

func (e *countingEngine) Close() error {
	e.closed.Add(1)
	return nil
}

// labelledFormWords are the words of pdftest.LabelledFormPDF in pixels at
// scale 2
func labelledFormWords(ctx context.Context, _ image.Image, _ string) ([]ocr.Word, error) {
	return []ocr.Word{
		{Text: "Nazwisko:", Box: geometry.NewBoundingBox(100, 182, 200, 202), Confidence: 95},
		{Text: "PESEL:", Box: geometry.NewBoundingBox(100, 282, 164, 302), Confidence: 93},
		{Text: "Data:", Box: geometry.NewBoundingBox(100, 382, 150, 402), Confidence: 91},
	}, ctx.Err()
}

type fixture struct {
	service   *Service
	mappings  *mapping.Repository
	documents *storage.FileStore
	engine    *countingEngine
	opened    atomic.Int32
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	newStore := func() *storage.FileStore {
		store, err := storage.NewFileStore(t.TempDir())
		require.NoError(t, err)
		return store
	}

	f := &fixture{
		mappings:  mapping.NewRepository(newStore(), false),
		documents: newStore(),
		engine:    &countingEngine{recognize: labelledFormWords},
	}
	if opts.OpenEngine == nil {
		opts.OpenEngine = func(ocr.Config) (ocr.Engine, error) {
			f.opened.Add(1)
			return f.engine, nil
		}
	}

	service, err := NewService(opts, fill.DefaultRegistry(), newStore(), f.mappings, f.documents)
	require.NoError(t, err)
	f.service = service
	return f
}

func requireFormError(t *testing.T, err error, want formerrors.ErrorType) *formerrors.FormError {
	t.Helper()
	var fe *formerrors.FormError
	require.True(t, errors.As(err, &fe), "expected FormError, got %v", err)
	assert.Equal(t, want, fe.Type)
	return fe
}

func TestNewService(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	repo := mapping.NewRepository(store, false)
	registry := fill.DefaultRegistry()

	tests := []struct {
		name      string
		opts      Options
		registry  *fill.Registry
		templates storage.BlobStore
		mappings  *mapping.Repository
		wantErr   bool
	}{
		{"defaults", Options{}, registry, store, repo, false},
		{"no registry", Options{}, nil, store, repo, true},
		{"no templates", Options{}, registry, nil, repo, true},
		{"no mappings", Options{}, registry, store, nil, true},
		{"scale below one", Options{Scale: 0.5}, registry, store, repo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewService(tt.opts, tt.registry, tt.templates, tt.mappings, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(DefaultMaxInputSize), s.GetMaxFileSize())
			assert.Equal(t, "pol", s.ocrConfig.Language)
			assert.Positive(t, s.workers)
		})
	}
}

func TestService_Inspect(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	result, err := f.service.Inspect(ctx, pdftest.AcroFormPDF())
	require.NoError(t, err)
	assert.True(t, result.Interactive)
	assert.Equal(t, 1, result.PageCount)
	var names []string
	for _, field := range result.Fields {
		names = append(names, field.Name)
	}
	assert.Contains(t, names, "principalName")

	flat, err := f.service.Inspect(ctx, pdftest.LabelledFormPDF(t))
	require.NoError(t, err)
	assert.False(t, flat.Interactive)

	_, err = f.service.Inspect(ctx, pdftest.NotAPDF())
	requireFormError(t, err, formerrors.ErrorTypeMalformedDocument)
}

func TestService_InspectTooLarge(t *testing.T) {
	f := newFixture(t, Options{MaxFileSize: 64})

	_, err := f.service.Inspect(context.Background(), pdftest.AcroFormPDF())
	requireFormError(t, err, formerrors.ErrorTypeFileTooLarge)
}

func TestService_DetectInteractive(t *testing.T) {
	f := newFixture(t, Options{})

	result, err := f.service.Detect(context.Background(), FormDetectRequest{PDF: pdftest.AcroFormPDF()})
	require.NoError(t, err)

	assert.True(t, result.Interactive)
	assert.Equal(t, DetectedFormType, result.Mapping.FormType)
	assert.Contains(t, result.Mapping.Names(), "principalName")
	assert.NotContains(t, result.Mapping.Names(), "reset", "push buttons hold no value")
	assert.True(t, result.Mapping.IsInteractive())
	assert.Zero(t, f.opened.Load(), "interactive documents need no OCR")
}

func TestService_DetectFlat(t *testing.T) {
	f := newFixture(t, Options{Workers: 2})

	result, err := f.service.Detect(context.Background(), FormDetectRequest{PDF: pdftest.LabelledFormPDF(t)})
	require.NoError(t, err)

	assert.False(t, result.Interactive)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, []string{"date", "pesel", "surname"}, result.Mapping.Names())
	assert.Len(t, result.Fields, 3)
	assert.True(t, result.Diagnostics.Empty())
	assert.NoError(t, mapping.Validate(result.Mapping, []geometry.PageSize{{Width: pdftest.A4Width, Height: pdftest.A4Height}}))

	assert.Equal(t, mapping.TypeNumber, result.Mapping.Fields["pesel"].Type)
	assert.Equal(t, mapping.TypeDate, result.Mapping.Fields["date"].Type)

	assert.Equal(t, int32(1), f.opened.Load())
	assert.Equal(t, int32(1), f.engine.closed.Load(), "engine is closed after detection")
}

func TestService_DetectPageFailureIsDiagnostic(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.recognize = func(context.Context, image.Image, string) ([]ocr.Word, error) {
		return nil, errors.New("engine crashed")
	}

	pdfBytes := pdftest.FlatPDF(t, 2, nil)
	result, err := f.service.Detect(context.Background(), FormDetectRequest{PDF: pdfBytes})
	require.NoError(t, err)

	assert.Empty(t, result.Mapping.Fields)
	_, warnings := result.Diagnostics.Count()
	assert.Equal(t, 2, warnings)
	assert.Len(t, result.Diagnostics.ForPage(2), 1)
	assert.Equal(t, int32(1), f.engine.closed.Load())
}

func TestService_DetectEngineUnavailable(t *testing.T) {
	f := newFixture(t, Options{
		OCR:        ocr.Config{Engine: ocr.EngineTesseract},
		OpenEngine: func(ocr.Config) (ocr.Engine, error) { return nil, ocr.ErrOCRNotEnabled },
	})

	result, err := f.service.Detect(context.Background(), FormDetectRequest{
		PDF: pdftest.FlatPDF(t, 2, nil),
	})
	require.NoError(t, err)

	assert.False(t, result.Interactive)
	assert.Equal(t, 2, result.PageCount)
	require.NotNil(t, result.Mapping)
	assert.Empty(t, result.Mapping.Fields)

	require.Len(t, result.Diagnostics.Warnings, 2)
	for i, w := range result.Diagnostics.Warnings {
		assert.Equal(t, formerrors.ErrorTypeDetectionFailure, w.Type)
		assert.Equal(t, i+1, w.Page)
		assert.ErrorIs(t, w, ocr.ErrOCRNotEnabled)
	}
}

func TestService_DetectEngineUnavailableSaves(t *testing.T) {
	f := newFixture(t, Options{OpenEngine: func(ocr.Config) (ocr.Engine, error) {
		return nil, ocr.ErrOCRNotEnabled
	}})

	result, err := f.service.Detect(context.Background(), FormDetectRequest{
		PDF: pdftest.LabelledFormPDF(t), FormType: "PIT-X", Year: "2024", Save: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Saved)
	assert.Equal(t, 1, result.Saved.Version)
	assert.Len(t, result.Diagnostics.Warnings, 1)
}

func TestService_DetectCancelled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Detect(ctx, FormDetectRequest{PDF: pdftest.LabelledFormPDF(t)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), f.engine.closed.Load(), "engine is closed on every path")
}

func TestService_DetectAndSave(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Detect(ctx, FormDetectRequest{PDF: pdftest.LabelledFormPDF(t), Save: true})
	requireFormError(t, err, formerrors.ErrorTypeUnsafeInput)

	result, err := f.service.Detect(ctx, FormDetectRequest{
		PDF: pdftest.LabelledFormPDF(t), FormType: "PIT-X", Year: "2024", Save: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Saved)
	assert.Equal(t, 1, result.Saved.Version)

	stored, err := f.service.Mapping(ctx, "PIT-X", "2024")
	require.NoError(t, err)
	assert.Equal(t, result.Mapping.Names(), stored.Names())

	mappings, err := f.service.Mappings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PIT-X/2024"}, mappings)
}

func TestService_MappingVersions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	m := &mapping.FieldMapping{
		FormType: "PIT-X", Year: "2024", PageCount: 1,
		Fields: map[string]mapping.FieldSpec{"surname": {X: 150, Y: 700, Width: 200, Height: 20, Page: 1}},
	}
	_, err := f.service.SaveMapping(ctx, m)
	require.NoError(t, err)

	m2 := m.Clone()
	m2.Fields["pesel"] = mapping.FieldSpec{X: 150, Y: 650, Width: 200, Height: 20, Page: 1, Type: mapping.TypeNumber}
	saved, err := f.service.SaveMapping(ctx, m2)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)

	versions, err := f.service.MappingVersions(ctx, "PIT-X", "2024")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions.Versions)

	first, err := f.service.MappingVersion(ctx, "PIT-X", "2024", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"surname"}, first.Names())
}

func TestService_FillWithMapping(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	pdfBytes := pdftest.FlatPDF(t, 1, func(pdf *fpdf.Fpdf, _ int) {
		pdf.Text(50, 100, "Nazwisko:")
	})

	_, err := f.service.FillWithMapping(ctx, FormFillMappingRequest{
		PDF: pdfBytes, FormType: "PIT-X", Year: "2024", Data: formdata.New("surname", "Nowak"),
	})
	requireFormError(t, err, formerrors.ErrorTypeTemplateNotFound)

	_, err = f.service.SaveMapping(ctx, &mapping.FieldMapping{
		FormType: "PIT-X", Year: "2024", PageCount: 1,
		Fields: map[string]mapping.FieldSpec{"surname": {X: 150, Y: 736, Width: 200, Height: 20, Page: 1, Required: true}},
	})
	require.NoError(t, err)

	result, err := f.service.FillWithMapping(ctx, FormFillMappingRequest{
		PDF: pdfBytes, FormType: "PIT-X", Year: "2024", Data: formdata.New("surname", "Nowak"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"surname"}, result.Report.Written)

	pages, err := inspect.PageText(result.PDF)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(pages, " "), "Nowak")
}

func TestService_FillUniversal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	t.Run("interactive", func(t *testing.T) {
		result, err := f.service.FillUniversal(ctx, FormFillUniversalRequest{
			PDF:  pdftest.AcroFormPDF(),
			Data: formdata.New("principal_name", "Jan Kowalski"),
		})
		require.NoError(t, err)
		assert.Equal(t, fill.KindInteractive, result.Report.Kind)
		assert.Equal(t, []string{"principalName"}, result.Report.Written)
	})

	t.Run("flat without stored mapping", func(t *testing.T) {
		_, err := f.service.FillUniversal(ctx, FormFillUniversalRequest{
			PDF: pdftest.LabelledFormPDF(t), FormType: "NONE", Year: "2024",
			Data: formdata.New("surname", "Nowak"),
		})
		requireFormError(t, err, formerrors.ErrorTypeTemplateNotFound)
	})

	t.Run("flat with stored mapping", func(t *testing.T) {
		_, err := f.service.Detect(ctx, FormDetectRequest{
			PDF: pdftest.LabelledFormPDF(t), FormType: "PIT-Y", Year: "2024", Save: true,
		})
		require.NoError(t, err)

		result, err := f.service.FillUniversal(ctx, FormFillUniversalRequest{
			PDF: pdftest.LabelledFormPDF(t), FormType: "PIT-Y", Year: "2024",
			Data: formdata.New("Surname", "Nowak"),
		})
		require.NoError(t, err)
		assert.Equal(t, fill.KindCoordinate, result.Report.Kind)
		assert.Equal(t, []string{"surname"}, result.Report.Written)
	})
}

func TestService_FillUnknownTemplate(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.service.Fill(context.Background(), FormFillRequest{
		FormType: "PIT-37", Year: "2024", Data: formdata.New(),
	})
	fe := requireFormError(t, err, formerrors.ErrorTypeTemplateNotFound)
	assert.Equal(t, []string{"PPS-1/2024", "UPL-1/2024"}, fe.Available)
}

func TestService_Templates(t *testing.T) {
	f := newFixture(t, Options{})

	result := f.service.Templates()
	require.Len(t, result.Templates, 2)
	assert.Equal(t, "PPS-1/2024", result.Templates[0].ID)
	assert.Equal(t, "coordinate", result.Templates[0].Kind)
	assert.Contains(t, result.Templates[1].Required, "principalNIP")
}

func TestService_LoadDocument(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.documents.SaveBytes(ctx, "in/form.pdf", pdftest.AcroFormPDF()))
	require.NoError(t, f.documents.SaveBytes(ctx, "in/notes.pdf", pdftest.NotAPDF()))

	data, err := f.service.LoadDocument(ctx, "in/form.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdftest.AcroFormPDF(), data)

	_, err = f.service.LoadDocument(ctx, "../etc/passwd")
	requireFormError(t, err, formerrors.ErrorTypeUnsafeInput)

	_, err = f.service.LoadDocument(ctx, "in/notes.pdf")
	requireFormError(t, err, formerrors.ErrorTypeMalformedDocument)

	_, err = f.service.LoadDocument(ctx, "in/missing.pdf")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
