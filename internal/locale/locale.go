// Package locale holds the data-driven form vocabulary: label keywords and
// their canonical field keys, section headings, checkbox and signature
// keywords, the diacritic transliteration table and the date display layout.
// The field matcher and the fuzzy resolver both normalize through it.
package locale

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/anyascii/go"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed pl.yaml
var defaultYAML []byte

// Value formats a detected field may carry
const (
	FormatText   = "text"
	FormatNumber = "number"
	FormatDate   = "date"
)

// isoDate is the layout callers submit dates in
const isoDate = "2006-01-02"

// maxPhraseWords caps how many OCR words are joined when looking up a label
const maxPhraseWords = 3

// FieldKeyword maps label keywords to one canonical field key
type FieldKeyword struct {
	Key      string   `yaml:"key"`
	Format   string   `yaml:"format"`
	Keywords []string `yaml:"keywords"`
}

// Section maps heading keywords to the name prefix of the fields below them
type Section struct {
	Prefix   string   `yaml:"prefix"`
	Keywords []string `yaml:"keywords"`
}

// BoxSize is the size in points of a synthesized answer box
type BoxSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Locale is a compiled vocabulary. It is immutable after Parse and safe for
// concurrent use.
type Locale struct {
	Language          string            `yaml:"language"`
	DateLayout        string            `yaml:"date_layout"`
	SyntheticBox      BoxSize           `yaml:"synthetic_box"`
	Fields            []FieldKeyword    `yaml:"fields"`
	Sections          []Section         `yaml:"sections"`
	CheckboxKeywords  []string          `yaml:"checkbox_keywords"`
	SignatureKeywords []string          `yaml:"signature_keywords"`
	Transliteration   map[string]string `yaml:"transliteration"`

	fieldIndex   map[string]*FieldKeyword
	sectionIndex map[string]string
	checkboxSet  map[string]bool
	signatureSet map[string]bool
	replacer     *strings.Replacer
	phraseWords  int
}

var (
	defaultOnce   sync.Once
	defaultLocale *Locale
)

// Default returns the embedded Polish vocabulary
func Default() *Locale {
	defaultOnce.Do(func() {
		l, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded locale is invalid: %v", err))
		}
		defaultLocale = l
	})
	return defaultLocale
}

// LoadFile reads a vocabulary from a YAML file. An empty path returns the
// embedded default.
func LoadFile(path string) (*Locale, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML vocabulary
func Parse(data []byte) (*Locale, error) {
	var l Locale
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse locale: %w", err)
	}
	if err := l.compile(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Locale) compile() error {
	if l.Language == "" {
		return fmt.Errorf("locale: language is required")
	}
	if l.DateLayout == "" {
		return fmt.Errorf("locale: date_layout is required")
	}
	if l.SyntheticBox.Width <= 0 || l.SyntheticBox.Height <= 0 {
		return fmt.Errorf("locale: synthetic_box must have a positive size")
	}

	pairs := make([]string, 0, 2*len(l.Transliteration))
	for from, to := range l.Transliteration {
		pairs = append(pairs, from, to)
	}
	l.replacer = strings.NewReplacer(pairs...)

	l.fieldIndex = make(map[string]*FieldKeyword)
	for i := range l.Fields {
		f := &l.Fields[i]
		if f.Key == "" || len(f.Keywords) == 0 {
			return fmt.Errorf("locale: field entry %d needs a key and keywords", i)
		}
		switch f.Format {
		case "":
			f.Format = FormatText
		case FormatText, FormatNumber, FormatDate:
		default:
			return fmt.Errorf("locale: field %s has unknown format %q", f.Key, f.Format)
		}
		for _, kw := range f.Keywords {
			nk := l.LabelForm(kw)
			if prev, dup := l.fieldIndex[nk]; dup {
				return fmt.Errorf("locale: keyword %q used by both %s and %s", kw, prev.Key, f.Key)
			}
			l.fieldIndex[nk] = f
			l.notePhrase(nk)
		}
	}

	l.sectionIndex = make(map[string]string)
	for _, s := range l.Sections {
		if s.Prefix == "" {
			return fmt.Errorf("locale: section entry needs a prefix")
		}
		for _, kw := range s.Keywords {
			nk := l.LabelForm(kw)
			l.sectionIndex[nk] = s.Prefix
			l.notePhrase(nk)
		}
	}

	l.checkboxSet = l.keywordSet(l.CheckboxKeywords)
	l.signatureSet = l.keywordSet(l.SignatureKeywords)
	return nil
}

func (l *Locale) keywordSet(keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		nk := l.LabelForm(kw)
		set[nk] = true
		l.notePhrase(nk)
	}
	return set
}

func (l *Locale) notePhrase(nk string) {
	n := len(strings.Fields(nk))
	if n > maxPhraseWords {
		n = maxPhraseWords
	}
	if n > l.phraseWords {
		l.phraseWords = n
	}
}

// MaxPhraseWords is the longest keyword phrase, in words
func (l *Locale) MaxPhraseWords() int {
	return l.phraseWords
}

// Fold lowercases s and transliterates it to ASCII: first through the
// locale table, then by stripping combining marks, then through anyascii for
// whatever is left.
func (l *Locale) Fold(s string) string {
	s = l.replacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	return strings.ToLower(anyascii.Transliterate(s))
}

// KeyForm is the resolver's comparison form: folded, with underscores,
// hyphens and whitespace removed.
func (l *Locale) KeyForm(s string) string {
	folded := l.Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LabelForm is the matcher's comparison form: folded, punctuation replaced by
// spaces, whitespace collapsed.
func (l *Locale) LabelForm(s string) string {
	folded := l.Fold(s)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

// Lookup returns the field keyword entry a label names
func (l *Locale) Lookup(label string) (FieldKeyword, bool) {
	f, ok := l.fieldIndex[l.LabelForm(label)]
	if !ok {
		return FieldKeyword{}, false
	}
	return *f, true
}

// Section returns the name prefix if label is a section heading
func (l *Locale) Section(label string) (string, bool) {
	prefix, ok := l.sectionIndex[l.LabelForm(label)]
	return prefix, ok
}

// IsCheckbox reports whether a label asks a yes/no question
func (l *Locale) IsCheckbox(label string) bool {
	if strings.HasSuffix(strings.TrimSpace(label), "?") {
		return true
	}
	return l.checkboxSet[l.LabelForm(label)]
}

// IsSignature reports whether a label asks for a signature
func (l *Locale) IsSignature(label string) bool {
	return l.signatureSet[l.LabelForm(label)]
}

// Known reports whether a label is any vocabulary term
func (l *Locale) Known(label string) bool {
	nk := l.LabelForm(label)
	if nk == "" {
		return false
	}
	_, field := l.fieldIndex[nk]
	_, section := l.sectionIndex[nk]
	return field || section || l.checkboxSet[nk] || l.signatureSet[nk]
}

// FieldName builds the logical field name for key under a section prefix:
// ("principal", "PESEL") is "principalPESEL", ("", "PESEL") is "pesel" and
// ("", "BirthDate") is "birthDate".
func FieldName(prefix, key string) string {
	if prefix != "" {
		return prefix + key
	}
	if strings.ToUpper(key) == key {
		return strings.ToLower(key)
	}
	r := []rune(key)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// FormatDate converts an ISO date (YYYY-MM-DD) to the display layout
func (l *Locale) FormatDate(iso string) (string, error) {
	t, err := time.Parse(isoDate, iso)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", iso, err)
	}
	return t.Format(l.DateLayout), nil
}

// ValidDate reports whether iso is a real calendar date in YYYY-MM-DD form
func ValidDate(iso string) bool {
	_, err := time.Parse(isoDate, iso)
	return err == nil
}
