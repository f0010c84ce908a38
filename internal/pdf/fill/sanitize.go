package fill

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
)

// DefaultMaxTextLength bounds free text fields without their own maxLength
const DefaultMaxTextLength = 500

// Validation rule names reported in FieldValidation errors
const (
	RuleNumber        = "number"
	RuleDate          = "date"
	RuleBoolean       = "boolean"
	RuleMaxTextLength = "maxTextLength"
	RuleOption        = "option"
	RuleType          = "type"
)

var (
	numberPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
	datePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// SanitizedFormData is caller data after cleaning and type checks. Keys are
// field names of the target mapping in lexical order.
type SanitizedFormData struct {
	keys   []string
	values map[string]string
}

// Get returns the sanitized value of a field
func (s *SanitizedFormData) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Keys returns the field names with a value
func (s *SanitizedFormData) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of values
func (s *SanitizedFormData) Len() int {
	return len(s.keys)
}

func (s *SanitizedFormData) set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.values[name] = value
}

// Clean strips control characters (C0, DEL and C1) and the markup
// characters < > ' " &, trims surrounding whitespace and truncates to
// maxLen runes when maxLen is positive. Clean(Clean(s)) == Clean(s).
func Clean(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r <= 0x1F, r >= 0x7F && r <= 0x9F:
			return -1
		case r == '<', r == '>', r == '\'', r == '"', r == '&':
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
		s = strings.TrimSpace(s)
	}
	return s
}

// Sanitizer cleans and type-checks values against field specs
type Sanitizer struct {
	maxText int
}

// NewSanitizer creates a sanitizer; maxText <= 0 means DefaultMaxTextLength
func NewSanitizer(maxText int) *Sanitizer {
	if maxText <= 0 {
		maxText = DefaultMaxTextLength
	}
	return &Sanitizer{maxText: maxText}
}

// Value coerces raw to a string, cleans it and checks it against spec's
// type. Booleans are normalized to "true" or "false".
func (s *Sanitizer) Value(name string, spec mapping.FieldSpec, raw any) (string, error) {
	str, err := formdata.Stringify(raw)
	if err != nil {
		return "", formerrors.FieldValidation(name, RuleType, err.Error())
	}

	v := Clean(str, spec.MaxLength)
	if v == "" {
		return "", nil
	}

	switch spec.Type.Normalize() {
	case mapping.TypeNumber:
		if !numberPattern.MatchString(v) {
			return "", formerrors.FieldValidation(name, RuleNumber, "value must be a non-negative decimal number").WithValue(v)
		}
	case mapping.TypeDate:
		if !datePattern.MatchString(v) || !locale.ValidDate(v) {
			return "", formerrors.FieldValidation(name, RuleDate, "value must be a date in YYYY-MM-DD form").WithValue(v)
		}
	case mapping.TypeBoolean:
		b, ok := parseBool(v)
		if !ok {
			return "", formerrors.FieldValidation(name, RuleBoolean, "value must be true, false, 1, 0, tak or nie").WithValue(v)
		}
		v = fmt.Sprint(b)
	default:
		if utf8.RuneCountInString(v) > s.maxText {
			return "", formerrors.FieldValidation(name, RuleMaxTextLength,
				fmt.Sprintf("text longer than %d characters", s.maxText))
		}
	}
	return v, nil
}

// Sanitize builds the sanitized data for fields from data. Required fields
// that are absent or empty after cleaning fail with MissingRequiredField,
// checked in lexical field order. Keys in data that name no field are
// returned as ignored.
func (s *Sanitizer) Sanitize(fields map[string]mapping.FieldSpec, data *formdata.Data) (*SanitizedFormData, []string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &SanitizedFormData{values: make(map[string]string)}
	for _, name := range names {
		spec := fields[name]
		raw, ok := data.Get(name)
		if !ok || raw == nil {
			if spec.Required {
				return nil, nil, formerrors.MissingRequiredField(name)
			}
			continue
		}

		v, err := s.Value(name, spec, raw)
		if err != nil {
			return nil, nil, err
		}
		if v == "" {
			if spec.Required {
				return nil, nil, formerrors.MissingRequiredField(name)
			}
			continue
		}
		out.set(name, v)
	}

	var ignored []string
	for _, key := range data.Keys() {
		if _, ok := fields[key]; !ok {
			ignored = append(ignored, key)
		}
	}
	return out, ignored, nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "tak":
		return true, true
	case "false", "0", "nie":
		return false, true
	}
	return false, false
}
