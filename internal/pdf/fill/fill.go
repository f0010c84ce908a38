// Package fill writes caller data into PDF forms. Curated templates are
// filled by form type and year; unknown forms are filled through their
// AcroForm fields or a detected mapping.
//
// Every call runs the same stages: validate inputs, resolve the template,
// load the PDF, sanitize data, write fields, serialize. The first failing
// stage aborts the call and no bytes are returned.
package fill

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/resolve"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// reservedKeys are data keys rejected outright
var reservedKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// Report describes what a fill call did besides producing bytes
type Report struct {
	FormType string                  `json:"form_type,omitempty"`
	Year     string                  `json:"year,omitempty"`
	Kind     Kind                    `json:"kind"`
	Written  []string                `json:"written"`
	Ignored  []string                `json:"ignored,omitempty"`
	Resolved []resolve.Assignment    `json:"resolved,omitempty"`
	Warnings []*formerrors.FormError `json:"warnings,omitempty"`
	Pages    int                     `json:"pages"`
}

// Filler fills forms
type Filler struct {
	registry    *Registry
	templates   storage.BlobStore
	locale      *locale.Locale
	resolver    *resolve.Resolver
	sanitizer   *Sanitizer
	inspector   *inspect.Inspector
	coordinate  *coordinateWriter
	interactive *interactiveWriter
	debugMode   bool
}

// Option configures a Filler
type Option func(*Filler)

// WithLocale sets the locale used for date display and option matching
func WithLocale(loc *locale.Locale) Option {
	return func(f *Filler) {
		if loc != nil {
			f.locale = loc
		}
	}
}

// WithFontSize sets the text size for coordinate templates
func WithFontSize(size float64) Option {
	return func(f *Filler) {
		if size > 0 {
			f.coordinate.fontSize = size
		}
	}
}

// WithMaxTextLength sets the global free text bound
func WithMaxTextLength(n int) Option {
	return func(f *Filler) {
		f.sanitizer = NewSanitizer(n)
	}
}

// WithDebug enables per-field logging
func WithDebug(debug bool) Option {
	return func(f *Filler) {
		f.debugMode = debug
	}
}

// New creates a filler resolving templates in registry and loading their
// blank PDFs from templates
func New(registry *Registry, templates storage.BlobStore, opts ...Option) *Filler {
	f := &Filler{
		registry:   registry,
		templates:  templates,
		locale:     locale.Default(),
		sanitizer:  NewSanitizer(DefaultMaxTextLength),
		coordinate: &coordinateWriter{fontSize: DefaultFontSize},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.resolver = resolve.New(f.locale)
	f.inspector = inspect.NewInspector(f.debugMode)
	f.coordinate.locale = f.locale
	f.coordinate.debugMode = f.debugMode
	f.interactive = &interactiveWriter{locale: f.locale, debugMode: f.debugMode}
	return f
}

// Registry returns the template registry
func (f *Filler) Registry() *Registry {
	return f.registry
}

// ValidateInputs rejects requests before any document work: bad form type
// or year, missing data, reserved keys and non-scalar values.
func ValidateInputs(formType, year string, data *formdata.Data) error {
	if formType == "" || !mapping.ValidFormType(formType) {
		return formerrors.UnsafeInput("formType must be a non-empty form identifier")
	}
	if !mapping.ValidYear(year) {
		return formerrors.UnsafeInput("year must be four digits")
	}
	return validateData(data)
}

func validateData(data *formdata.Data) error {
	if data == nil {
		return formerrors.UnsafeInput("data must be an object")
	}
	for _, e := range data.Entries() {
		if reservedKeys[e.Key] {
			return formerrors.UnsafeInput(fmt.Sprintf("data key %q is not allowed", e.Key))
		}
		if e.Value != nil && !formdata.IsScalar(e.Value) {
			return formerrors.UnsafeInput(fmt.Sprintf("data key %q must be a string, number or boolean", e.Key))
		}
	}
	return nil
}

// Fill fills the registered template for formType and year
func (f *Filler) Fill(ctx context.Context, formType, year string, data *formdata.Data) ([]byte, *Report, error) {
	if err := ValidateInputs(formType, year, data); err != nil {
		return nil, nil, err
	}

	tpl, err := f.registry.Lookup(formType, year)
	if err != nil {
		return nil, nil, err
	}

	pdfBytes, err := f.loadTemplate(ctx, tpl)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{FormType: formType, Year: year, Kind: tpl.Kind}
	out, err := f.fillMapping(ctx, pdfBytes, tpl.Mapping(), tpl.Kind, data, report)
	if err != nil {
		return nil, nil, err
	}
	if report.Pages != tpl.PageCount {
		return nil, nil, formerrors.MalformedDocument(
			fmt.Sprintf("filled document has %d page(s), template declares %d", report.Pages, tpl.PageCount), nil)
	}
	return out, report, nil
}

// FillWithMapping fills pdfBytes using a stored or detected mapping. Data
// keys must equal mapping field names.
func (f *Filler) FillWithMapping(ctx context.Context, pdfBytes []byte, m *mapping.FieldMapping, data *formdata.Data) ([]byte, *Report, error) {
	if m == nil {
		return nil, nil, formerrors.InvalidMapping("", "mapping is required")
	}
	if err := validateData(data); err != nil {
		return nil, nil, err
	}

	kind := KindCoordinate
	if m.IsInteractive() {
		kind = KindInteractive
	}
	report := &Report{FormType: m.FormType, Year: m.Year, Kind: kind}
	out, err := f.fillMapping(ctx, pdfBytes, m, kind, data, report)
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}

// FillUniversal fills a form without a registered template. AcroForm
// fields are matched to data keys by fuzzy name resolution. A flat document
// needs a detected mapping m, whose field names are resolved the same way;
// without one the call fails.
func (f *Filler) FillUniversal(ctx context.Context, pdfBytes []byte, data *formdata.Data, m *mapping.FieldMapping) ([]byte, *Report, error) {
	if err := validateData(data); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	insp, err := f.inspector.Inspect(pdfBytes)
	if err != nil {
		return nil, nil, err
	}

	if insp.IsFlat() && m == nil {
		return nil, nil, formerrors.New(formerrors.ErrorTypeTemplateNotFound,
			"document has no interactive fields; detect a mapping first and fill with it")
	}

	target := m
	kind := KindCoordinate
	if !insp.IsFlat() {
		target = mapping.FromInteractive(insp.InteractiveFields, "universal", "0000", insp.PageSizes)
		kind = KindInteractive
	}

	report := &Report{Kind: kind}
	report.Resolved = f.resolver.ResolveAll(target.Names(), data)
	resolved := formdata.New()
	for _, a := range report.Resolved {
		v, _ := data.Get(a.Key)
		resolved.Set(a.Field, v)
	}

	used := make(map[string]bool, len(report.Resolved))
	for _, a := range report.Resolved {
		used[a.Key] = true
	}
	for _, key := range data.Keys() {
		if !used[key] {
			report.Ignored = append(report.Ignored, key)
		}
	}

	// Every field in the universal path is optional.
	relaxed := target.Clone()
	for name, spec := range relaxed.Fields {
		spec.Required = false
		relaxed.Fields[name] = spec
	}

	out, err := f.fillMapping(ctx, pdfBytes, relaxed, kind, resolved, report)
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}

// fillMapping runs the load, sanitize, write and serialize stages
func (f *Filler) fillMapping(ctx context.Context, pdfBytes []byte, m *mapping.FieldMapping, kind Kind, data *formdata.Data, report *Report) ([]byte, error) {
	pdfCtx, err := inspect.ReadContext(pdfBytes)
	if err != nil {
		return nil, err
	}
	sizes, err := inspect.PageSizes(pdfCtx)
	if err != nil {
		return nil, err
	}
	if err := mapping.Validate(m, sizes); err != nil {
		return nil, err
	}

	values, ignored, err := f.sanitizer.Sanitize(m.Fields, data)
	if err != nil {
		return nil, err
	}
	for _, key := range ignored {
		if f.debugMode || kind == KindCoordinate {
			log.Printf("fill: ignoring unknown field %q", key)
		}
	}
	report.Ignored = append(report.Ignored, ignored...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	switch kind {
	case KindCoordinate:
		placed, err := f.coordinate.placements(m.Fields, values)
		if err != nil {
			return nil, err
		}
		out, err = f.coordinate.write(pdfBytes, sizes, placed)
		if err != nil {
			return nil, err
		}
		for _, p := range placed {
			report.Written = append(report.Written, p.Field)
		}
	case KindInteractive:
		nodes, err := f.inspector.Fields(pdfCtx)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*inspect.FieldNode, len(nodes))
		for _, n := range nodes {
			byName[n.Name] = n
		}

		for _, name := range values.Keys() {
			spec := m.Fields[name]
			node, ok := byName[spec.AcroField]
			if !ok {
				return nil, formerrors.InvalidMapping(name,
					fmt.Sprintf("AcroForm field %q not found in document", spec.AcroField))
			}
			v, _ := values.Get(name)
			warning, err := f.interactive.setValue(node, name, v)
			if err != nil {
				return nil, err
			}
			if warning != nil {
				log.Printf("fill: %v", warning)
				report.Warnings = append(report.Warnings, warning)
				continue
			}
			report.Written = append(report.Written, name)
		}

		out, err = serialize(pdfCtx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown template kind %d", kind)
	}

	pages, err := verify(out)
	if err != nil {
		return nil, err
	}
	report.Pages = pages
	return out, nil
}

// loadTemplate reads a template's blank PDF from the template store
func (f *Filler) loadTemplate(ctx context.Context, tpl *FormTemplate) ([]byte, error) {
	data, err := f.templates.LoadBytes(ctx, tpl.TemplatePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, formerrors.Wrap(formerrors.ErrorTypeTemplateNotFound,
			fmt.Sprintf("template document for %s is not installed", tpl.ID()), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", tpl.ID(), err)
	}
	return data, nil
}

// verify re-parses the output and returns its page count
func verify(out []byte) (int, error) {
	ctx, err := inspect.ReadContext(out)
	if err != nil {
		return 0, formerrors.MalformedDocument("filled document failed verification", err)
	}
	return ctx.PageCount, nil
}
