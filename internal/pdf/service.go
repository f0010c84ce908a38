package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/detect"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/match"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// Default identity given to detected mappings that are not saved
const (
	DetectedFormType = "detected"
	DetectedYear     = "0000"
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	MaxFileSize   int64
	Locale        *locale.Locale
	OCR           ocr.Config
	Scale         float64
	Workers       int
	MaxTextLength int
	FontSize      float64
	Debug         bool

	// OpenEngine constructs the OCR engine for one detection run. It
	// defaults to ocr.Open.
	OpenEngine func(ocr.Config) (ocr.Engine, error)
}

// Service handles form operations by orchestrating the inspection,
// detection, mapping and filling components
type Service struct {
	validator  *Validator
	inspector  *inspect.Inspector
	rasterizer *raster.Rasterizer
	matcher    *match.Matcher
	filler     *fill.Filler
	mappings   *mapping.Repository
	documents  storage.BlobStore
	locale     *locale.Locale
	ocrConfig  ocr.Config
	openEngine func(ocr.Config) (ocr.Engine, error)
	scale      float64
	workers    int
	debugMode  bool

	documentList documentCache
}

// NewService creates a form service. templates holds the blank PDFs of the
// registered templates, mappings persists detected mappings and documents,
// when non-nil, is where LoadDocument reads caller PDFs from.
func NewService(opts Options, registry *fill.Registry, templates storage.BlobStore,
	mappings *mapping.Repository, documents storage.BlobStore,
) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("template registry cannot be nil")
	}
	if templates == nil {
		return nil, fmt.Errorf("template store cannot be nil")
	}
	if mappings == nil {
		return nil, fmt.Errorf("mapping repository cannot be nil")
	}

	loc := opts.Locale
	if loc == nil {
		loc = locale.Default()
	}
	scale := opts.Scale
	if scale == 0 {
		scale = raster.DefaultScale
	}
	if scale < 1.0 {
		return nil, fmt.Errorf("%w: got %v", raster.ErrInvalidScale, scale)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	openEngine := opts.OpenEngine
	if openEngine == nil {
		openEngine = ocr.Open
	}
	ocrConfig := opts.OCR
	if ocrConfig.Language == "" {
		ocrConfig.Language = loc.Language
	}

	return &Service{
		validator:  NewValidator(opts.MaxFileSize),
		inspector:  inspect.NewInspector(opts.Debug),
		rasterizer: raster.New(opts.Debug),
		matcher:    match.New(loc, match.DefaultOptions()),
		filler: fill.New(registry, templates,
			fill.WithLocale(loc),
			fill.WithFontSize(opts.FontSize),
			fill.WithMaxTextLength(opts.MaxTextLength),
			fill.WithDebug(opts.Debug),
		),
		mappings:   mappings,
		documents:  documents,
		locale:     loc,
		ocrConfig:  ocrConfig,
		openEngine: openEngine,
		scale:      scale,
		workers:    workers,
		debugMode:  opts.Debug,

		documentList: documentCache{ttl: documentListTTL},
	}, nil
}

// GetMaxFileSize returns the maximum input size in bytes
func (s *Service) GetMaxFileSize() int64 {
	return s.validator.MaxFileSize()
}

// Locale returns the vocabulary in use
func (s *Service) Locale() *locale.Locale {
	return s.locale
}

// LoadDocument reads a caller PDF from the document store and validates it
func (s *Service) LoadDocument(ctx context.Context, key string) ([]byte, error) {
	if s.documents == nil {
		return nil, fmt.Errorf("no document store configured")
	}
	data, err := s.documents.LoadBytes(ctx, key)
	if errors.Is(err, storage.ErrUnsafeKey) {
		return nil, formerrors.UnsafeInput(fmt.Sprintf("document path %q is not allowed", key))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	if err := s.validator.ValidateBytes(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Inspect reports the page geometry and interactive fields of a document
func (s *Service) Inspect(ctx context.Context, pdfBytes []byte) (*FormInspectResult, error) {
	if err := s.validator.ValidateBytes(pdfBytes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	insp, err := s.inspector.Inspect(pdfBytes)
	if err != nil {
		return nil, err
	}
	return &FormInspectResult{
		PageCount:   insp.PageCount,
		Interactive: !insp.IsFlat(),
		Fields:      insp.InteractiveFields,
		Inspection:  insp,
	}, nil
}

// Detect discovers the fields of a document and builds a mapping. An
// interactive document is mapped from its AcroForm fields; a flat one is
// rendered and OCR'd page by page. Per-page failures are reported in the
// result diagnostics and do not fail the call.
func (s *Service) Detect(ctx context.Context, req FormDetectRequest) (*FormDetectResult, error) {
	formType, year := req.FormType, req.Year
	if formType == "" && year == "" && !req.Save {
		formType, year = DetectedFormType, DetectedYear
	}
	if _, err := mapping.Key(formType, year); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateBytes(req.PDF); err != nil {
		return nil, err
	}

	insp, err := s.inspector.Inspect(req.PDF)
	if err != nil {
		return nil, err
	}

	result := &FormDetectResult{
		PageCount:   insp.PageCount,
		Interactive: !insp.IsFlat(),
		Diagnostics: formerrors.NewErrorCollection(),
	}

	if result.Interactive {
		result.Mapping = mapping.FromInteractive(insp.InteractiveFields, formType, year, insp.PageSizes)
	} else {
		fields, err := s.detectFlat(ctx, req.PDF, result.Diagnostics)
		if err != nil {
			return nil, err
		}
		result.Fields = fields
		result.LowConfidence = match.CountLowConfidence(fields)
		result.Mapping = mapping.Generate(fields, formType, year, insp.PageSizes)
	}

	if s.debugMode {
		log.Printf("detect: %d field(s) on %d page(s), %s",
			len(result.Mapping.Fields), result.PageCount, result.Diagnostics.Summary())
	}

	if req.Save {
		saved, err := s.mappings.MergeAndSave(ctx, result.Mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to save mapping: %w", err)
		}
		result.Saved = saved
	}
	return result, nil
}

// detectFlat renders, OCRs and matches every page in a bounded pool. The
// OCR engine lives for exactly this call. An engine that cannot be opened
// fails each page with a DetectionFailure instead of the whole call.
func (s *Service) detectFlat(ctx context.Context, pdfBytes []byte, diags *formerrors.ErrorCollection) ([]match.DetectedField, error) {
	engine, err := s.openEngine(s.ocrConfig)
	if err != nil {
		log.Printf("detect: OCR engine unavailable: %v", err)
		engine = unavailableEngine(err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("detect: failed to close OCR engine: %v", err)
		}
	}()

	doc, err := s.rasterizer.Open(pdfBytes)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	detector := detect.New(engine, s.locale, detect.WithDebug(s.debugMode))

	pages := doc.NumPage()
	perPage := make([][]match.DetectedField, pages)
	failures := make([]*formerrors.FormError, pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range pages {
		g.Go(func() error {
			fields, failure, err := s.detectPage(gctx, doc, detector, i+1)
			if err != nil {
				return err
			}
			perPage[i] = fields
			failures[i] = failure
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fields []match.DetectedField
	for i := range pages {
		if failures[i] != nil {
			log.Printf("detect: page %d: %v", i+1, failures[i])
			diags.Add(failures[i])
			continue
		}
		fields = append(fields, perPage[i]...)
	}
	return fields, nil
}

// unavailableEngine fails every recognition with err
func unavailableEngine(err error) ocr.Engine {
	return ocr.EngineFunc(func(ctx context.Context, _ image.Image, _ string) ([]ocr.Word, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	})
}

// detectPage handles one page. Cancellation is returned as an error; any
// other failure becomes a DetectionFailure diagnostic for the page.
func (s *Service) detectPage(ctx context.Context, doc *raster.Document, detector *detect.Detector, page int) ([]match.DetectedField, *formerrors.FormError, error) {
	rendered, err := doc.Render(ctx, page, s.scale)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, formerrors.DetectionFailure(page, "render", err), nil
	}

	res, err := detector.Detect(ctx, rendered)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		var fe *formerrors.FormError
		if errors.As(err, &fe) {
			return nil, fe, nil
		}
		return nil, formerrors.DetectionFailure(page, "detect", err), nil
	}

	return s.matcher.MatchResult(res), nil, nil
}

// Fill fills a registered template
func (s *Service) Fill(ctx context.Context, req FormFillRequest) (*FormFillResult, error) {
	out, report, err := s.filler.Fill(ctx, req.FormType, req.Year, req.Data)
	if err != nil {
		return nil, err
	}
	return &FormFillResult{PDF: out, Report: report}, nil
}

// FillUniversal fills a caller document through its AcroForm fields, or
// through the stored mapping for FormType/Year when the document is flat.
func (s *Service) FillUniversal(ctx context.Context, req FormFillUniversalRequest) (*FormFillResult, error) {
	if err := s.validator.ValidateBytes(req.PDF); err != nil {
		return nil, err
	}

	var m *mapping.FieldMapping
	if req.FormType != "" || req.Year != "" {
		loaded, err := s.mappings.Load(ctx, req.FormType, req.Year)
		switch {
		case errors.Is(err, mapping.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			m = loaded
		}
	}

	out, report, err := s.filler.FillUniversal(ctx, req.PDF, req.Data, m)
	if err != nil {
		return nil, err
	}
	return &FormFillResult{PDF: out, Report: report}, nil
}

// FillWithMapping fills a caller document with the stored mapping for
// FormType/Year
func (s *Service) FillWithMapping(ctx context.Context, req FormFillMappingRequest) (*FormFillResult, error) {
	if err := s.validator.ValidateBytes(req.PDF); err != nil {
		return nil, err
	}

	m, err := s.mappings.Load(ctx, req.FormType, req.Year)
	if errors.Is(err, mapping.ErrNotFound) {
		return nil, formerrors.Wrap(formerrors.ErrorTypeTemplateNotFound,
			fmt.Sprintf("no stored mapping for %s/%s", req.FormType, req.Year), err)
	}
	if err != nil {
		return nil, err
	}

	out, report, err := s.filler.FillWithMapping(ctx, req.PDF, m, req.Data)
	if err != nil {
		return nil, err
	}
	return &FormFillResult{PDF: out, Report: report}, nil
}

// Templates lists the registered templates
func (s *Service) Templates() *FormTemplatesResult {
	tpls := s.filler.Registry().Templates()
	result := &FormTemplatesResult{Templates: make([]TemplateInfo, 0, len(tpls))}
	for _, t := range tpls {
		result.Templates = append(result.Templates, TemplateInfo{
			ID:        t.ID(),
			FormType:  t.FormType,
			Year:      t.Year,
			Title:     t.Title,
			Kind:      t.Kind.String(),
			PageCount: t.PageCount,
			Fields:    t.Mapping().Names(),
			Required:  t.RequiredFields(),
		})
	}
	return result
}

// Mapping returns the current stored mapping for formType and year
func (s *Service) Mapping(ctx context.Context, formType, year string) (*mapping.FieldMapping, error) {
	return s.mappings.Load(ctx, formType, year)
}

// MappingVersion returns one stored version of a mapping
func (s *Service) MappingVersion(ctx context.Context, formType, year string, version int) (*mapping.FieldMapping, error) {
	return s.mappings.LoadVersion(ctx, formType, year, version)
}

// MappingVersions lists the stored versions of a mapping
func (s *Service) MappingVersions(ctx context.Context, formType, year string) (*MappingVersionsResult, error) {
	versions, err := s.mappings.ListVersions(ctx, formType, year)
	if err != nil {
		return nil, err
	}
	return &MappingVersionsResult{FormType: formType, Year: year, Versions: versions}, nil
}

// SaveMapping stores a reviewed mapping, archiving the previous version
func (s *Service) SaveMapping(ctx context.Context, m *mapping.FieldMapping) (*mapping.FieldMapping, error) {
	return s.mappings.Save(ctx, m)
}

// Mappings lists the stored mappings as "formType/year"
func (s *Service) Mappings(ctx context.Context) ([]string, error) {
	return s.mappings.List(ctx)
}
