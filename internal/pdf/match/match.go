// Package match pairs detected labels with answer boxes and turns each pair
// into a named, typed and scored field candidate.
package match

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/detect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// FieldType is the guessed kind of a detected field
type FieldType string

const (
	TypeText      FieldType = "text"
	TypeCheckbox  FieldType = "checkbox"
	TypeSignature FieldType = "signature"
)

// DetectedField is one field candidate. Coordinates are top-down page
// points. Values are never modified after Match returns them.
type DetectedField struct {
	Label         string               `json:"label"`
	Name          string               `json:"name"`
	Coordinates   geometry.BoundingBox `json:"coordinates"`
	Page          int                  `json:"page"`
	Confidence    geometry.Confidence  `json:"confidence"`
	Type          FieldType            `json:"type"`
	Format        string               `json:"format,omitempty"`
	LowConfidence bool                 `json:"low_confidence"`
	Synthesized   bool                 `json:"synthesized"`
}

// Options tunes pairing and scoring. Distances are in points.
type Options struct {
	// VerticalTolerance is the slack when testing whether a box spans the
	// label's baseline or starts below it.
	VerticalTolerance float64
	// BelowReach is how far under a label a box may start.
	BelowReach float64
	// ReferenceDistance sets the distance at which the distance score
	// halves: score = 1/(1+d/ReferenceDistance).
	ReferenceDistance float64
	// SyntheticScore is the distance score given to synthesized boxes.
	SyntheticScore float64
	// SyntheticGap separates a synthesized box from its label.
	SyntheticGap float64
	// LowConfidence flags fields scoring below it. Nothing is dropped.
	LowConfidence float64
}

// DefaultOptions returns the tuning used for printed forms
func DefaultOptions() Options {
	return Options{
		VerticalTolerance: 6,
		BelowReach:        30,
		ReferenceDistance: 50,
		SyntheticScore:    0.5,
		SyntheticGap:      4,
		LowConfidence:     0.5,
	}
}

// Matcher assigns boxes, names, types and confidences to labels
type Matcher struct {
	locale *locale.Locale
	opts   Options
}

// New creates a matcher normalizing through loc (the embedded default when
// nil)
func New(loc *locale.Locale, opts Options) *Matcher {
	if loc == nil {
		loc = locale.Default()
	}
	return &Matcher{locale: loc, opts: opts}
}

// MatchResult matches one page of detection output and clamps the field
// geometry to the page.
func (m *Matcher) MatchResult(r *detect.Result) []DetectedField {
	fields := m.Match(r.Page, r.Labels, r.Sections, r.Boxes)
	if r.Size.Width <= 0 || r.Size.Height <= 0 {
		return fields
	}
	for i := range fields {
		fields[i].Coordinates = clamp(fields[i].Coordinates, r.Size)
	}
	return fields
}

// Match pairs every label with a box. Labels claim boxes in reading order;
// a claimed box is not offered to later labels. When no box is in reach a
// fixed-size box is synthesized right of the label. Names repeated on a page
// get _2, _3 suffixes in reading order.
func (m *Matcher) Match(page int, labels []detect.Word, sections []detect.Section, boxes []geometry.BoundingBox) []DetectedField {
	ordered := make([]detect.Word, len(labels))
	copy(ordered, labels)
	sort.SliceStable(ordered, func(i, j int) bool {
		return readingLess(ordered[i].Box, ordered[j].Box)
	})

	candidates := make([]geometry.BoundingBox, len(boxes))
	copy(candidates, boxes)
	detect.SortReadingOrder(candidates)
	claimed := make([]bool, len(candidates))

	seen := make(map[string]int)
	fields := make([]DetectedField, 0, len(ordered))

	for _, label := range ordered {
		field := DetectedField{
			Label: label.Text,
			Page:  page,
		}

		idx, dist := m.nearestBox(label.Box, candidates, claimed)
		var distanceScore float64
		if idx >= 0 {
			claimed[idx] = true
			field.Coordinates = candidates[idx]
			distanceScore = 1 / (1 + dist/m.opts.ReferenceDistance)
		} else {
			field.Coordinates = m.synthesize(label.Box)
			field.Synthesized = true
			distanceScore = m.opts.SyntheticScore
		}

		field.Confidence = geometry.GeometricMean(label.Confidence, geometry.NewConfidence(distanceScore))
		field.LowConfidence = float64(field.Confidence) < m.opts.LowConfidence

		key, format := m.key(label.Text)
		field.Type = m.fieldType(label.Text)
		if field.Type == TypeText {
			field.Format = format
		}

		name := locale.FieldName(m.sectionPrefix(label.Box, sections), key)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		field.Name = name

		fields = append(fields, field)
	}

	return fields
}

// nearestBox returns the index of the closest eligible unclaimed box, or -1.
// Candidates are in reading order, so the strict comparison keeps the
// earliest box on equal distance.
func (m *Matcher) nearestBox(label geometry.BoundingBox, boxes []geometry.BoundingBox, claimed []bool) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, b := range boxes {
		if claimed[i] || !m.eligible(label, b) {
			continue
		}
		if d := gap(label, b); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// eligible reports whether box visually continues label: to its right with
// its top edge on the label's line, or starting just below it with
// horizontal overlap. A right box's top may sit between the label's top and
// its baseline, each widened by VerticalTolerance, so boxes framing the
// label text qualify while taller boxes opening further up do not.
func (m *Matcher) eligible(label, box geometry.BoundingBox) bool {
	tol := m.opts.VerticalTolerance
	baseline := label.Y1

	right := box.X0 >= label.X1-tol &&
		box.Y0 >= label.Y0-tol && box.Y0 <= baseline+tol &&
		box.Y1 >= baseline-tol
	if right {
		return true
	}

	below := box.Y0 >= label.Y1-tol &&
		box.Y0-label.Y1 <= m.opts.BelowReach &&
		label.HorizontalOverlap(box) > 0
	return below
}

func (m *Matcher) synthesize(label geometry.BoundingBox) geometry.BoundingBox {
	size := m.locale.SyntheticBox
	x0 := label.X1 + m.opts.SyntheticGap
	// Sit the box on the label's baseline
	y1 := label.Y1 + m.opts.VerticalTolerance/3
	return geometry.NewBoundingBox(x0, y1-size.Height, x0+size.Width, y1)
}

// key returns the canonical field key for a label. Labels outside the field
// table (questions, bare checkbox words) are camel-cased from their words.
func (m *Matcher) key(label string) (string, string) {
	if kw, ok := m.locale.Lookup(label); ok {
		return kw.Key, kw.Format
	}

	words := strings.Fields(m.locale.LabelForm(label))
	var b strings.Builder
	for _, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	if b.Len() == 0 {
		return "Field", locale.FormatText
	}
	return b.String(), locale.FormatText
}

func (m *Matcher) fieldType(label string) FieldType {
	switch {
	case m.locale.IsSignature(label):
		return TypeSignature
	case m.locale.IsCheckbox(label):
		return TypeCheckbox
	default:
		return TypeText
	}
}

// sectionPrefix returns the prefix of the nearest section marker at or above
// the label
func (m *Matcher) sectionPrefix(label geometry.BoundingBox, sections []detect.Section) string {
	prefix := ""
	var best geometry.BoundingBox
	found := false
	for _, s := range sections {
		if s.Box.Y0 > label.Y0+m.opts.VerticalTolerance/2 {
			continue
		}
		if !found || readingLess(best, s.Box) {
			best, prefix, found = s.Box, s.Prefix, true
		}
	}
	return prefix
}

func readingLess(a, b geometry.BoundingBox) bool {
	if a.Y0 != b.Y0 {
		return a.Y0 < b.Y0
	}
	return a.X0 < b.X0
}

// gap is the shortest distance between two boxes, zero when they touch
func gap(a, b geometry.BoundingBox) float64 {
	dx := math.Max(0, math.Max(b.X0-a.X1, a.X0-b.X1))
	dy := math.Max(0, math.Max(b.Y0-a.Y1, a.Y0-b.Y1))
	return math.Hypot(dx, dy)
}

func clamp(b geometry.BoundingBox, size geometry.PageSize) geometry.BoundingBox {
	return geometry.NewBoundingBox(
		math.Max(0, math.Min(b.X0, size.Width)),
		math.Max(0, math.Min(b.Y0, size.Height)),
		math.Max(0, math.Min(b.X1, size.Width)),
		math.Max(0, math.Min(b.Y1, size.Height)),
	)
}

// CountLowConfidence returns how many fields are flagged
func CountLowConfidence(fields []DetectedField) int {
	n := 0
	for _, f := range fields {
		if f.LowConfidence {
			n++
		}
	}
	return n
}
