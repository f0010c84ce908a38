package mapping

import (
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/inspect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/match"
)

// Generate turns detected fields into a first-version mapping. Detected
// coordinates are top-down page points; they are flipped to the PDF
// bottom-left origin using each field's page height. Fields whose page is
// outside pageSizes are kept unflipped so Validate can report them.
func Generate(fields []match.DetectedField, formType, year string, pageSizes []geometry.PageSize) *FieldMapping {
	m := &FieldMapping{
		Version:   1,
		FormType:  formType,
		Year:      year,
		PageCount: len(pageSizes),
		Fields:    make(map[string]FieldSpec, len(fields)),
	}

	for _, f := range fields {
		box := f.Coordinates
		if f.Page >= 1 && f.Page <= len(pageSizes) {
			box = geometry.FlipY(box, pageSizes[f.Page-1].Height)
		}

		m.Fields[f.Name] = FieldSpec{
			X:             box.X0,
			Y:             box.Y0,
			Width:         box.Width(),
			Height:        box.Height(),
			Page:          f.Page,
			Type:          detectedType(f),
			Label:         f.Label,
			Confidence:    float64(f.Confidence),
			LowConfidence: f.LowConfidence,
		}
	}
	return m
}

func detectedType(f match.DetectedField) FieldType {
	if f.Type == match.TypeCheckbox {
		return TypeBoolean
	}
	switch f.Format {
	case locale.FormatNumber:
		return TypeNumber
	case locale.FormatDate:
		return TypeDate
	default:
		return TypeText
	}
}

// FromInteractive builds a mapping straight from AcroForm fields: every
// writable field maps to itself by name. Buttons and signatures are left
// out since nothing can be filled into them.
func FromInteractive(fields []inspect.InteractiveField, formType, year string, pageSizes []geometry.PageSize) *FieldMapping {
	m := &FieldMapping{
		Version:   1,
		FormType:  formType,
		Year:      year,
		PageCount: len(pageSizes),
		Fields:    make(map[string]FieldSpec, len(fields)),
	}

	for _, f := range fields {
		if !f.Kind.Writable() {
			continue
		}
		spec := FieldSpec{
			X:          f.Rect.X0,
			Y:          f.Rect.Y0,
			Width:      f.Rect.Width(),
			Height:     f.Rect.Height(),
			Page:       f.Page,
			MaxLength:  f.MaxLength,
			Required:   f.Required,
			Type:       TypeText,
			AcroField:  f.Name,
			Confidence: 1,
		}
		if spec.Page == 0 {
			spec.Page = 1
		}
		if f.Kind == inspect.KindCheckbox {
			spec.Type = TypeBoolean
		}
		m.Fields[f.Name] = spec
	}
	return m
}

// Merge combines a curated mapping with a fresh detection. Every field in
// existing is kept exactly as is; fields only present in detected are
// added; nothing is removed. The result's version is one past existing's.
// A nil existing yields a copy of detected.
func Merge(existing, detected *FieldMapping) *FieldMapping {
	if existing == nil {
		out := detected.Clone()
		if out != nil && out.Version < 1 {
			out.Version = 1
		}
		return out
	}

	out := existing.Clone()
	out.Version = existing.Version + 1
	if detected == nil {
		return out
	}

	for name, spec := range detected.Fields {
		if _, ok := out.Fields[name]; !ok {
			out.Fields[name] = spec
		}
	}
	out.PageCount = max(out.PageCount, detected.PageCount)
	if out.TemplatePath == "" {
		out.TemplatePath = detected.TemplatePath
	}
	return out
}
