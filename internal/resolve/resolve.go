// Package resolve matches unknown form field names to caller data keys for
// forms without a registered template. Matching is by normalized substring
// overlap.
package resolve

import (
	"strings"

	"github.com/a3tai/mcp-pdf-forms/internal/formdata"
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
)

// Resolver finds the data value for a field name
type Resolver struct {
	locale *locale.Locale
}

// New creates a resolver normalizing through loc (the embedded default when
// nil).
func New(loc *locale.Locale) *Resolver {
	if loc == nil {
		loc = locale.Default()
	}
	return &Resolver{locale: loc}
}

// Resolve returns the value of the first data key, in insertion order, whose
// normalized form is a substring of the normalized field name or contains
// it. Empty normalized keys never match.
func (r *Resolver) Resolve(fieldName string, data *formdata.Data) (any, bool) {
	key, ok := r.ResolveKey(fieldName, data)
	if !ok {
		return nil, false
	}
	return data.Get(key)
}

// ResolveKey is Resolve returning the matched data key
func (r *Resolver) ResolveKey(fieldName string, data *formdata.Data) (string, bool) {
	field := r.locale.KeyForm(fieldName)
	if field == "" {
		return "", false
	}

	for _, key := range data.Keys() {
		k := r.locale.KeyForm(key)
		if k == "" {
			continue
		}
		if strings.Contains(field, k) || strings.Contains(k, field) {
			return key, true
		}
	}
	return "", false
}

// Assignment pairs a field with the data key that resolved it
type Assignment struct {
	Field string `json:"field"`
	Key   string `json:"key"`
}

// ResolveAll resolves every field name and returns the matches in field order
func (r *Resolver) ResolveAll(fieldNames []string, data *formdata.Data) []Assignment {
	var out []Assignment
	for _, f := range fieldNames {
		if key, ok := r.ResolveKey(f, data); ok {
			out = append(out, Assignment{Field: f, Key: key})
		}
	}
	return out
}
