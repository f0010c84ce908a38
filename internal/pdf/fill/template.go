package fill

import (
	"fmt"
	"sort"
	"sync"

	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
)

// Kind selects the write path for a template
type Kind int

const (
	// KindCoordinate draws values as text at absolute page positions
	KindCoordinate Kind = iota
	// KindInteractive sets AcroForm field values
	KindInteractive
)

func (k Kind) String() string {
	switch k {
	case KindCoordinate:
		return "coordinate"
	case KindInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON output
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FormTemplate is a curated, trusted mapping compiled into the binary.
// TemplatePath is the key of the blank form in the template store.
type FormTemplate struct {
	FormType     string                       `json:"formType"`
	Year         string                       `json:"year"`
	Title        string                       `json:"title"`
	Kind         Kind                         `json:"kind"`
	TemplatePath string                       `json:"templatePath"`
	PageCount    int                          `json:"pageCount"`
	Fields       map[string]mapping.FieldSpec `json:"fields"`
}

// ID returns "formType/year"
func (t *FormTemplate) ID() string {
	return t.FormType + "/" + t.Year
}

// Mapping returns the template as a FieldMapping
func (t *FormTemplate) Mapping() *mapping.FieldMapping {
	m := &mapping.FieldMapping{
		Version:      1,
		FormType:     t.FormType,
		Year:         t.Year,
		PageCount:    t.PageCount,
		TemplatePath: t.TemplatePath,
		Fields:       make(map[string]mapping.FieldSpec, len(t.Fields)),
	}
	for k, v := range t.Fields {
		m.Fields[k] = v
	}
	return m
}

// RequiredFields returns the names of required fields in lexical order
func (t *FormTemplate) RequiredFields() []string {
	var out []string
	for name, spec := range t.Fields {
		if spec.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TemplateFromMapping compiles a stored mapping into a template. Mappings
// whose fields all name AcroForm fields become interactive templates.
func TemplateFromMapping(m *mapping.FieldMapping, title string) *FormTemplate {
	kind := KindCoordinate
	if m.IsInteractive() {
		kind = KindInteractive
	}
	fields := make(map[string]mapping.FieldSpec, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	return &FormTemplate{
		FormType:     m.FormType,
		Year:         m.Year,
		Title:        title,
		Kind:         kind,
		TemplatePath: m.TemplatePath,
		PageCount:    m.PageCount,
		Fields:       fields,
	}
}

// Registry holds the known templates by form type and year
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*FormTemplate
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*FormTemplate)}
}

// Register validates and adds a template, replacing any with the same ID
func (r *Registry) Register(t *FormTemplate) error {
	if t == nil {
		return fmt.Errorf("template cannot be nil")
	}
	if err := mapping.Validate(t.Mapping(), nil); err != nil {
		return fmt.Errorf("template %s: %w", t.ID(), err)
	}
	if t.TemplatePath == "" {
		return fmt.Errorf("template %s: template path cannot be empty", t.ID())
	}
	if t.Kind == KindInteractive {
		for name, spec := range t.Fields {
			if spec.AcroField == "" {
				return fmt.Errorf("template %s: field %s has no AcroForm field", t.ID(), name)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID()] = t
	return nil
}

// Lookup returns the template for formType and year, or TemplateNotFound
// listing what is available
func (r *Registry) Lookup(formType, year string) (*FormTemplate, error) {
	r.mu.RLock()
	t, ok := r.templates[formType+"/"+year]
	r.mu.RUnlock()
	if !ok {
		return nil, formerrors.TemplateNotFound(formType, year, r.Available())
	}
	return t, nil
}

// Available returns the registered "formType/year" IDs in lexical order
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.templates))
	for id := range r.templates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Templates returns every registered template ordered by ID
func (r *Registry) Templates() []*FormTemplate {
	ids := r.Available()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*FormTemplate, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.templates[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// DefaultRegistry returns a registry with the built-in templates
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range builtinTemplates() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func spec(x, y float64, maxLen int, required bool, typ mapping.FieldType) mapping.FieldSpec {
	return mapping.FieldSpec{X: x, Y: y, Width: 240, Height: 14, Page: 1, MaxLength: maxLen, Required: required, Type: typ}
}

// builtinTemplates are the curated A4 forms. Coordinates are the lower-left
// corner of each answer box in PDF points.
func builtinTemplates() []*FormTemplate {
	return []*FormTemplate{
		{
			FormType:     "UPL-1",
			Year:         "2024",
			Title:        "Pełnomocnictwo do podpisywania deklaracji",
			Kind:         KindCoordinate,
			TemplatePath: "UPL-1/2024/template.pdf",
			PageCount:    1,
			Fields: map[string]mapping.FieldSpec{
				"principalNIP":     spec(60, 742, 10, true, mapping.TypeNumber),
				"principalPESEL":   spec(320, 742, 11, false, mapping.TypeNumber),
				"principalName":    spec(60, 700, 120, true, mapping.TypeText),
				"principalAddress": spec(60, 660, 200, false, mapping.TypeText),
				"attorneyName":     spec(60, 560, 120, true, mapping.TypeText),
				"attorneyPESEL":    spec(320, 520, 11, true, mapping.TypeNumber),
				"attorneyAddress":  spec(60, 480, 200, false, mapping.TypeText),
				"scope":            spec(60, 380, 300, false, mapping.TypeText),
				"date":             spec(60, 120, 10, true, mapping.TypeDate),
			},
		},
		{
			FormType:     "PPS-1",
			Year:         "2024",
			Title:        "Pełnomocnictwo szczególne w sprawach podatkowych",
			Kind:         KindCoordinate,
			TemplatePath: "PPS-1/2024/template.pdf",
			PageCount:    2,
			Fields: map[string]mapping.FieldSpec{
				"principalName":  spec(60, 720, 120, true, mapping.TypeText),
				"principalNIP":   spec(320, 720, 10, false, mapping.TypeNumber),
				"attorneyName":   spec(60, 620, 120, true, mapping.TypeText),
				"attorneyPESEL":  spec(320, 620, 11, false, mapping.TypeNumber),
				"taxOffice":      spec(60, 520, 120, false, mapping.TypeText),
				"electronicOnly": {X: 60, Y: 420, Width: 10, Height: 10, Page: 1, Type: mapping.TypeBoolean},
				"date": {
					X: 60, Y: 700, Width: 120, Height: 14, Page: 2, MaxLength: 10, Required: true, Type: mapping.TypeDate,
				},
			},
		},
	}
}
