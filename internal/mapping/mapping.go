// Package mapping holds the persisted contract between detection and
// filling: a versioned FieldMapping per (form type, year), plus the
// repository that generates, validates, merges and stores it.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// FieldType is the value type a field accepts at fill time
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeDate    FieldType = "date"
	TypeBoolean FieldType = "boolean"
)

// Valid reports whether t is a known type. The empty type means text.
func (t FieldType) Valid() bool {
	switch t {
	case "", TypeText, TypeNumber, TypeDate, TypeBoolean:
		return true
	}
	return false
}

// Normalize maps the empty type to text
func (t FieldType) Normalize() FieldType {
	if t == "" {
		return TypeText
	}
	return t
}

// PageTolerance is how far, in points, a field may overhang the page edge
// before validation rejects it.
const PageTolerance = 1.0

// FieldSpec places one logical field. X and Y are the lower-left corner in
// PDF points (origin bottom-left). Interactive mappings set AcroField to the
// fully qualified AcroForm field name.
type FieldSpec struct {
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Width         float64   `json:"width,omitempty"`
	Height        float64   `json:"height,omitempty"`
	Page          int       `json:"page"`
	MaxLength     int       `json:"maxLength,omitempty"`
	Required      bool      `json:"required,omitempty"`
	Type          FieldType `json:"type"`
	AcroField     string    `json:"acroField,omitempty"`
	Label         string    `json:"label,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	LowConfidence bool      `json:"lowConfidence,omitempty"`
}

// Box returns the field rectangle in PDF points
func (s FieldSpec) Box() geometry.BoundingBox {
	return geometry.NewBoundingBox(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// FieldMapping is the authoritative description of one form type and year
type FieldMapping struct {
	Version      int                  `json:"version"`
	FormType     string               `json:"formType"`
	Year         string               `json:"year"`
	PageCount    int                  `json:"pageCount"`
	TemplatePath string               `json:"templatePath,omitempty"`
	Fields       map[string]FieldSpec `json:"fields"`
}

// Names returns the field names in lexical order
func (m *FieldMapping) Names() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy
func (m *FieldMapping) Clone() *FieldMapping {
	if m == nil {
		return nil
	}
	out := *m
	out.Fields = make(map[string]FieldSpec, len(m.Fields))
	for k, v := range m.Fields {
		out.Fields[k] = v
	}
	return &out
}

// SameFields reports whether both mappings have the same field names and
// identical specs.
func (m *FieldMapping) SameFields(other *FieldMapping) bool {
	if len(m.Fields) != len(other.Fields) {
		return false
	}
	for name, spec := range m.Fields {
		if o, ok := other.Fields[name]; !ok || o != spec {
			return false
		}
	}
	return true
}

// IsInteractive reports whether every field targets an AcroForm field
func (m *FieldMapping) IsInteractive() bool {
	if len(m.Fields) == 0 {
		return false
	}
	for _, spec := range m.Fields {
		if spec.AcroField == "" {
			return false
		}
	}
	return true
}

var (
	formTypePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
	yearPattern     = regexp.MustCompile(`^\d{4}$`)
)

// ValidFormType reports whether s can name a form type on disk
func ValidFormType(s string) bool {
	return formTypePattern.MatchString(s) && s != "." && s != ".."
}

// ValidYear reports whether s is a four digit year
func ValidYear(s string) bool {
	return yearPattern.MatchString(s)
}

// Validate checks the structural invariants of m. When pageSizes is given,
// the page count must agree and every field must lie inside its page.
func Validate(m *FieldMapping, pageSizes []geometry.PageSize) error {
	if m == nil {
		return formerrors.InvalidMapping("", "mapping is empty")
	}
	if !ValidFormType(m.FormType) {
		return formerrors.InvalidMapping("", fmt.Sprintf("invalid form type %q", m.FormType))
	}
	if !ValidYear(m.Year) {
		return formerrors.InvalidMapping("", fmt.Sprintf("invalid year %q", m.Year))
	}
	if m.PageCount < 1 {
		return formerrors.InvalidMapping("", "page count must be at least 1")
	}
	if m.Version < 0 {
		return formerrors.InvalidMapping("", "version cannot be negative")
	}
	if len(pageSizes) > 0 && len(pageSizes) != m.PageCount {
		return formerrors.InvalidMapping("",
			fmt.Sprintf("page count %d does not match document with %d page(s)", m.PageCount, len(pageSizes)))
	}

	for _, name := range m.Names() {
		spec := m.Fields[name]
		if name == "" {
			return formerrors.InvalidMapping(name, "field name cannot be empty")
		}
		if spec.Page < 1 || spec.Page > m.PageCount {
			return formerrors.InvalidMapping(name,
				fmt.Sprintf("page %d outside 1..%d", spec.Page, m.PageCount))
		}
		if !spec.Type.Valid() {
			return formerrors.InvalidMapping(name, fmt.Sprintf("unknown type %q", spec.Type))
		}
		if spec.MaxLength < 0 {
			return formerrors.InvalidMapping(name, "maxLength cannot be negative")
		}
		if !finite(spec.X, spec.Y, spec.Width, spec.Height) {
			return formerrors.InvalidMapping(name, "coordinates must be finite")
		}
		if spec.Width < 0 || spec.Height < 0 {
			return formerrors.InvalidMapping(name, "width and height cannot be negative")
		}
		if spec.X < -PageTolerance || spec.Y < -PageTolerance {
			return formerrors.InvalidMapping(name, "coordinates outside page bounds")
		}
		if len(pageSizes) > 0 && !spec.Box().Within(pageSizes[spec.Page-1], PageTolerance) {
			return formerrors.InvalidMapping(name,
				fmt.Sprintf("box %s outside page %d bounds", spec.Box(), spec.Page))
		}
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Decode parses a mapping document. Duplicate field names are rejected
// because a JSON object with repeated keys would silently keep only the last.
func Decode(data []byte) (*FieldMapping, error) {
	var m FieldMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, formerrors.Wrap(formerrors.ErrorTypeInvalidMapping, "mapping is not valid JSON", err)
	}

	var raw struct {
		Fields json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, formerrors.Wrap(formerrors.ErrorTypeInvalidMapping, "mapping is not valid JSON", err)
	}
	if dup, ok := duplicateKey(raw.Fields); ok {
		return nil, formerrors.InvalidMapping(dup, "duplicate field name")
	}

	if m.Fields == nil {
		m.Fields = make(map[string]FieldSpec)
	}
	return &m, nil
}

// duplicateKey returns the first repeated top-level key of a JSON object
func duplicateKey(raw json.RawMessage) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return "", false
	}

	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		key, _ := tok.(string)
		if seen[key] {
			return key, true
		}
		seen[key] = true

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return "", false
		}
	}
	return "", false
}

// Encode writes m as indented JSON with fields in lexical order
func Encode(w io.Writer, m *FieldMapping) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// Marshal returns the encoded bytes of m
func Marshal(m *FieldMapping) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
