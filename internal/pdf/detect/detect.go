// Package detect finds label candidates and answer boxes on a rendered page.
// OCR words are converted to page points first, then filtered against the
// locale vocabulary: field keywords become labels, section headings become
// section markers and everything else is dropped.
package detect

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/raster"
)

// maxQuestionWords bounds how far back a label ending in "?" extends
const maxQuestionWords = 6

// Word is recognized text in top-down page points
type Word struct {
	Text       string               `json:"text"`
	Box        geometry.BoundingBox `json:"box"`
	Confidence geometry.Confidence  `json:"confidence"`
}

// Section is a heading that prefixes the names of the fields below it
type Section struct {
	Word
	Prefix string `json:"prefix"`
}

// Result is the detection output for one page
type Result struct {
	Page      int                    `json:"page"`
	Size      geometry.PageSize      `json:"size"`
	Labels    []Word                 `json:"labels"`
	Sections  []Section              `json:"sections"`
	Boxes     []geometry.BoundingBox `json:"boxes"`
	WordCount int                    `json:"word_count"`
	Discarded int                    `json:"discarded"`
}

// Detector runs OCR and box detection on rendered pages. It holds no
// per-page state and may be shared across goroutines.
type Detector struct {
	engine    ocr.Engine
	locale    *locale.Locale
	boxOpts   BoxOptions
	debugMode bool
}

// Option configures a Detector
type Option func(*Detector)

// WithBoxOptions overrides box detection tuning
func WithBoxOptions(opts BoxOptions) Option {
	return func(d *Detector) { d.boxOpts = opts }
}

// WithDebug enables per-page logging
func WithDebug(debug bool) Option {
	return func(d *Detector) { d.debugMode = debug }
}

// New creates a detector using engine for OCR and loc for the vocabulary
// (the embedded default when nil).
func New(engine ocr.Engine, loc *locale.Locale, opts ...Option) *Detector {
	if loc == nil {
		loc = locale.Default()
	}
	d := &Detector{
		engine:  engine,
		locale:  loc,
		boxOpts: DefaultBoxOptions(),
	}
	d.boxOpts.UnderlineHeightPt = loc.SyntheticBox.Height
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect finds labels, section markers and boxes on page. An OCR failure is
// returned as a DetectionFailure for that page.
func (d *Detector) Detect(ctx context.Context, page *raster.Page) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Page:  page.Number,
		Size:  page.Size,
		Boxes: DetectBoxes(page.Image, page.Scale, d.boxOpts),
	}

	raw, err := d.engine.Recognize(ctx, page.Image, d.locale.Language)
	if err != nil {
		return nil, formerrors.DetectionFailure(page.Number, "ocr", err)
	}

	words := make([]Word, 0, len(raw))
	for _, w := range raw {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		words = append(words, Word{
			Text:       text,
			Box:        geometry.PixelToPoint(w.Box, page.Scale),
			Confidence: geometry.FromPercent(w.Confidence),
		})
	}
	result.WordCount = len(words)

	result.Labels, result.Sections = d.Classify(words)
	result.Discarded = result.WordCount - consumed(result.Labels, result.Sections)

	if d.debugMode {
		log.Printf("detect: page %d: %d words, %d labels, %d sections, %d boxes",
			page.Number, result.WordCount, len(result.Labels), len(result.Sections), len(result.Boxes))
	}

	return result, nil
}

// Classify groups words into lines and keeps only vocabulary phrases. The
// longest matching phrase (up to the locale's phrase length) wins at each
// position; a word ending in "?" becomes a question label covering the
// preceding words of its line.
func (d *Detector) Classify(words []Word) ([]Word, []Section) {
	var labels []Word
	var sections []Section

	maxWords := max(1, d.locale.MaxPhraseWords())

	for _, line := range groupLines(words) {
		start := 0
		for i := 0; i < len(line); {
			n, phrase, kind := d.longestPhrase(line, i, maxWords)
			switch kind {
			case phraseSection:
				prefix, _ := d.locale.Section(phrase.Text)
				sections = append(sections, Section{Word: phrase, Prefix: prefix})
			case phraseLabel:
				labels = append(labels, phrase)
			}
			if kind != phraseNone {
				i += n
				start = i
				continue
			}

			if strings.HasSuffix(line[i].Text, "?") {
				from := max(start, i-maxQuestionWords+1)
				labels = append(labels, join(line[from:i+1]))
				i++
				start = i
				continue
			}
			i++
		}
	}

	return labels, sections
}

type phraseKind int

const (
	phraseNone phraseKind = iota
	phraseLabel
	phraseSection
)

func (d *Detector) longestPhrase(line []Word, i, maxWords int) (int, Word, phraseKind) {
	for n := min(maxWords, len(line)-i); n >= 1; n-- {
		if !adjacent(line[i : i+n]) {
			continue
		}
		phrase := join(line[i : i+n])
		if _, ok := d.locale.Section(phrase.Text); ok {
			return n, phrase, phraseSection
		}
		if d.locale.Known(phrase.Text) {
			return n, phrase, phraseLabel
		}
	}
	return 0, Word{}, phraseNone
}

// adjacent reports whether consecutive words are close enough to read as
// one phrase
func adjacent(words []Word) bool {
	for k := 1; k < len(words); k++ {
		gap := words[k].Box.X0 - words[k-1].Box.X1
		if gap > 2.5*max(words[k].Box.Height(), words[k-1].Box.Height()) {
			return false
		}
	}
	return true
}

// join merges words into one phrase: text joined by spaces, union box and
// the lowest word confidence.
func join(words []Word) Word {
	out := words[0]
	for _, w := range words[1:] {
		out.Text += " " + w.Text
		out.Box = out.Box.Union(w.Box)
		if w.Confidence < out.Confidence {
			out.Confidence = w.Confidence
		}
	}
	return out
}

func consumed(labels []Word, sections []Section) int {
	n := 0
	for _, l := range labels {
		n += len(strings.Fields(l.Text))
	}
	for _, s := range sections {
		n += len(strings.Fields(s.Text))
	}
	return n
}

// groupLines clusters words whose vertical extents overlap by at least half
// the smaller height, then orders each line left to right.
func groupLines(words []Word) [][]Word {
	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci := sorted[i].Box.Y0 + sorted[i].Box.Height()/2
		cj := sorted[j].Box.Y0 + sorted[j].Box.Height()/2
		if ci != cj {
			return ci < cj
		}
		return sorted[i].Box.X0 < sorted[j].Box.X0
	})

	var lines [][]Word
	var lineBox geometry.BoundingBox
	for _, w := range sorted {
		if len(lines) > 0 {
			ov := lineBox.VerticalOverlap(w.Box)
			if ov >= 0.5*min(lineBox.Height(), w.Box.Height()) && ov > 0 {
				last := len(lines) - 1
				lines[last] = append(lines[last], w)
				lineBox = lineBox.Union(w.Box)
				continue
			}
		}
		lines = append(lines, []Word{w})
		lineBox = w.Box
	}

	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.X0 < line[j].Box.X0 })
	}
	return lines
}
