package detect

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

// BoxOptions tunes rule and rectangle extraction. Lengths are in page points
// and are multiplied by the render scale internally.
type BoxOptions struct {
	Threshold         uint8   // luminance at or below which a pixel is ink
	Contrast          float64 // imaging.AdjustContrast percentage applied first
	GapPixels         int     // ink gaps this wide are closed inside a run
	MinRulePt         float64 // shortest horizontal rule considered
	MinBoxHeightPt    float64
	MaxBoxHeightPt    float64
	EdgeTolerancePt   float64 // slack when joining vertical rules to corners
	MinUnderlinePt    float64 // shortest unpaired rule reported as an open box
	UnderlineHeightPt float64 // height of the box above an underline
}

// DefaultBoxOptions suit printed forms rendered at 2x
func DefaultBoxOptions() BoxOptions {
	return BoxOptions{
		Threshold:         200,
		Contrast:          20,
		GapPixels:         1,
		MinRulePt:         20,
		MinBoxHeightPt:    8,
		MaxBoxHeightPt:    60,
		EdgeTolerancePt:   3,
		MinUnderlinePt:    40,
		UnderlineHeightPt: 14,
	}
}

// rule is a merged run of ink along one axis. For horizontal rules a0..a1 is
// the x extent and b0..b1 the rows it covers; for vertical rules the roles
// swap.
type rule struct {
	a0, a1 int
	b0, b1 int
}

func (r rule) length() int { return r.a1 - r.a0 + 1 }
func (r rule) pos() float64 { return float64(r.b0+r.b1) / 2 }

// DetectBoxes finds candidate answer areas in a rendered page: closed
// rectangles assembled from ruled lines, plus long unpaired horizontal rules
// reported as open boxes sitting on the rule. Boxes are returned in top-down
// page points in reading order.
func DetectBoxes(img image.Image, scale float64, opts BoxOptions) []geometry.BoundingBox {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	if scale <= 0 {
		scale = 1
	}

	ink, w, h := binarize(img, opts)

	px := func(pt float64) int { return int(math.Round(pt * scale)) }
	tol := float64(px(opts.EdgeTolerancePt))

	horizontal := extractRules(w, h, func(a, b int) bool { return ink[b*w+a] }, opts.GapPixels, px(opts.MinRulePt))
	vertical := extractRules(h, w, func(a, b int) bool { return ink[a*w+b] }, opts.GapPixels,
		int(0.8*float64(px(opts.MinBoxHeightPt))))

	sort.Slice(horizontal, func(i, j int) bool {
		if horizontal[i].pos() != horizontal[j].pos() {
			return horizontal[i].pos() < horizontal[j].pos()
		}
		return horizontal[i].a0 < horizontal[j].a0
	})

	minH := float64(px(opts.MinBoxHeightPt))
	maxH := float64(px(opts.MaxBoxHeightPt))

	var pixelBoxes []geometry.BoundingBox
	used := make([]bool, len(horizontal))

	for i, top := range horizontal {
		for j := i + 1; j < len(horizontal); j++ {
			bottom := horizontal[j]
			dh := bottom.pos() - top.pos()
			if dh < minH {
				continue
			}
			if dh > maxH {
				break
			}

			x0 := max(top.a0, bottom.a0)
			x1 := min(top.a1, bottom.a1)
			if float64(x1-x0) < 0.8*float64(min(top.length(), bottom.length())) {
				continue
			}

			// The nearest overlapping rule below decides: it either closes
			// a rectangle or blocks this top edge.
			if hasVertical(vertical, float64(x0), top.pos(), bottom.pos(), tol) &&
				hasVertical(vertical, float64(x1), top.pos(), bottom.pos(), tol) {
				pixelBoxes = append(pixelBoxes, geometry.NewBoundingBox(
					float64(x0), top.pos(), float64(x1), bottom.pos()))
				used[i], used[j] = true, true
			}
			break
		}
	}

	minUnderline := px(opts.MinUnderlinePt)
	underlineH := float64(px(opts.UnderlineHeightPt))
	for i, r := range horizontal {
		if used[i] || r.length() < minUnderline {
			continue
		}
		y := r.pos()
		pixelBoxes = append(pixelBoxes, geometry.NewBoundingBox(
			float64(r.a0), math.Max(0, y-underlineH), float64(r.a1), y))
	}

	boxes := make([]geometry.BoundingBox, len(pixelBoxes))
	for i, b := range pixelBoxes {
		boxes[i] = geometry.PixelToPoint(b, scale)
	}
	SortReadingOrder(boxes)
	return boxes
}

// SortReadingOrder orders boxes top-to-bottom, then left-to-right
func SortReadingOrder(boxes []geometry.BoundingBox) {
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Y0 != boxes[j].Y0 {
			return boxes[i].Y0 < boxes[j].Y0
		}
		return boxes[i].X0 < boxes[j].X0
	})
}

// binarize converts img to an ink mask after grayscale and contrast
// adjustment.
func binarize(img image.Image, opts BoxOptions) ([]bool, int, int) {
	gray := imaging.Grayscale(img)
	if opts.Contrast != 0 {
		gray = imaging.AdjustContrast(gray, opts.Contrast)
	}

	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	ink := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			// NRGBA after Grayscale: R == G == B
			ink[y*w+x] = row[x*4] <= opts.Threshold && row[x*4+3] > 0
		}
	}
	return ink, w, h
}

// extractRules scans lines b = 0..nb-1 along axis a = 0..na-1, collects ink
// runs at least minLen long (closing gaps up to gap) and merges runs on
// adjacent lines into thick rules.
func extractRules(na, nb int, inkAt func(a, b int) bool, gap, minLen int) []rule {
	if minLen < 1 {
		minLen = 1
	}

	var done, open []rule
	for b := 0; b < nb; b++ {
		runs := scanRuns(na, func(a int) bool { return inkAt(a, b) }, gap, minLen)

		var next []rule
		for _, r := range runs {
			merged := false
			for k := range open {
				o := &open[k]
				if overlap(o.a0, o.a1, r[0], r[1]) >= min(o.length(), r[1]-r[0]+1)/2 {
					o.a0 = min(o.a0, r[0])
					o.a1 = max(o.a1, r[1])
					o.b1 = b
					merged = true
					break
				}
			}
			if !merged {
				next = append(next, rule{a0: r[0], a1: r[1], b0: b, b1: b})
			}
		}

		// Rules not extended on this line are finished.
		var still []rule
		for _, o := range open {
			if o.b1 == b {
				still = append(still, o)
			} else {
				done = append(done, o)
			}
		}
		open = append(still, next...)
	}
	return append(done, open...)
}

func scanRuns(n int, inkAt func(int) bool, gap, minLen int) [][2]int {
	var runs [][2]int
	start, last := -1, -1
	for i := 0; i < n; i++ {
		if !inkAt(i) {
			continue
		}
		if start >= 0 && i-last-1 <= gap {
			last = i
			continue
		}
		if start >= 0 && last-start+1 >= minLen {
			runs = append(runs, [2]int{start, last})
		}
		start, last = i, i
	}
	if start >= 0 && last-start+1 >= minLen {
		runs = append(runs, [2]int{start, last})
	}
	return runs
}

func hasVertical(vertical []rule, x, yTop, yBottom, tol float64) bool {
	for _, v := range vertical {
		if math.Abs(v.pos()-x) > tol {
			continue
		}
		if float64(v.a0) <= yTop+tol && float64(v.a1) >= yBottom-tol {
			return true
		}
	}
	return false
}

func overlap(a0, a1, b0, b1 int) int {
	return max(0, min(a1, b1)-max(a0, b0)+1)
}
