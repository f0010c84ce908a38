package match

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/pdf/detect"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/geometry"
)

func label(text string, conf float64, x0, y0, x1, y1 float64) detect.Word {
	return detect.Word{
		Text:       text,
		Box:        geometry.NewBoundingBox(x0, y0, x1, y1),
		Confidence: geometry.NewConfidence(conf),
	}
}

func box(x0, y0, x1, y1 float64) geometry.BoundingBox {
	return geometry.NewBoundingBox(x0, y0, x1, y1)
}

func TestMatch_NearestBoxWins(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.Match(1, []detect.Word{label("PESEL:", 0.9, 50, 30, 90, 40)}, nil, []geometry.BoundingBox{
		box(300, 28, 400, 42),
		box(100, 28, 250, 42),
	})

	require.Len(t, fields, 1)
	f := fields[0]
	assert.Equal(t, box(100, 28, 250, 42), f.Coordinates)
	assert.Equal(t, "pesel", f.Name)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, TypeText, f.Type)
	assert.Equal(t, "number", f.Format)
	assert.False(t, f.Synthesized)

	// distance 10 against reference 50 scores 1/1.2
	want := math.Sqrt(0.9 * (1 / 1.2))
	assert.InDelta(t, want, float64(f.Confidence), 1e-9)
	assert.False(t, f.LowConfidence)
}

func TestMatch_TieBreakByReadingOrder(t *testing.T) {
	m := New(nil, DefaultOptions())

	tests := []struct {
		name  string
		boxes []geometry.BoundingBox
		want  geometry.BoundingBox
	}{
		{
			name:  "right box above equally distant box below",
			boxes: []geometry.BoundingBox{box(50, 50, 200, 60), box(100, 30, 200, 40)},
			want:  box(100, 30, 200, 40),
		},
		{
			name:  "left box of two below",
			boxes: []geometry.BoundingBox{box(80, 50, 100, 60), box(40, 50, 60, 60)},
			want:  box(40, 50, 60, 60),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := m.Match(1, []detect.Word{label("PESEL:", 1, 50, 30, 90, 40)}, nil, tt.boxes)
			require.Len(t, fields, 1)
			assert.Equal(t, tt.want, fields[0].Coordinates)
		})
	}
}

func TestMatch_IneligibleBoxesIgnored(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.Match(1, []detect.Word{label("NIP:", 1, 200, 100, 230, 110)}, nil, []geometry.BoundingBox{
		box(20, 98, 150, 112),  // left of the label
		box(240, 20, 400, 40),  // right but far above the baseline
		box(200, 200, 300, 215), // below but out of reach
	})

	require.Len(t, fields, 1)
	assert.True(t, fields[0].Synthesized)
}

func TestMatch_RightBoxTopEdge(t *testing.T) {
	m := New(nil, DefaultOptions())

	tests := []struct {
		name      string
		box       geometry.BoundingBox
		wantMatch bool
	}{
		{"framing the label text", box(100, 26, 250, 46), true},
		{"top on the baseline", box(100, 39, 250, 53), true},
		{"tall box opening well above", box(100, 0, 250, 45), false},
		{"top below the baseline tolerance", box(100, 47, 250, 60), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := m.Match(1, []detect.Word{label("PESEL:", 1, 50, 30, 90, 40)}, nil, []geometry.BoundingBox{tt.box})
			require.Len(t, fields, 1)
			assert.Equal(t, !tt.wantMatch, fields[0].Synthesized)
			if tt.wantMatch {
				assert.Equal(t, tt.box, fields[0].Coordinates)
			}
		})
	}
}

func TestMatch_ClaimedBoxNotReused(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.Match(1, []detect.Word{
		label("Imię:", 1, 50, 60, 80, 70),
		label("Nazwisko:", 1, 50, 30, 100, 40),
	}, nil, []geometry.BoundingBox{box(50, 45, 200, 58)})

	require.Len(t, fields, 2)
	assert.Equal(t, "surname", fields[0].Name)
	assert.Equal(t, box(50, 45, 200, 58), fields[0].Coordinates)
	assert.Equal(t, "firstName", fields[1].Name)
	assert.True(t, fields[1].Synthesized)
}

func TestMatch_SynthesizedBox(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.Match(2, []detect.Word{
		label("Adres:", 1, 50, 30, 90, 40),
		label("Miasto:", 0.4, 50, 300, 90, 310),
	}, nil, nil)

	require.Len(t, fields, 2)

	f := fields[0]
	assert.True(t, f.Synthesized)
	assert.Equal(t, box(94, 28, 244, 42), f.Coordinates)
	assert.InDelta(t, math.Sqrt(0.5), float64(f.Confidence), 1e-9)
	assert.False(t, f.LowConfidence)

	low := fields[1]
	assert.InDelta(t, math.Sqrt(0.2), float64(low.Confidence), 1e-9)
	assert.True(t, low.LowConfidence, "low-confidence fields are flagged and kept")
	assert.Equal(t, 1, CountLowConfidence(fields))
}

func TestMatch_SectionPrefixes(t *testing.T) {
	m := New(nil, DefaultOptions())

	sections := []detect.Section{
		{Word: label("Pełnomocnik", 1, 50, 100, 150, 110), Prefix: "attorney"},
		{Word: label("Mocodawca", 1, 50, 10, 150, 20), Prefix: "principal"},
	}
	fields := m.Match(1, []detect.Word{
		label("PESEL:", 1, 50, 30, 90, 40),
		label("PESEL:", 1, 50, 120, 90, 130),
	}, sections, nil)

	require.Len(t, fields, 2)
	assert.Equal(t, "principalPESEL", fields[0].Name)
	assert.Equal(t, "attorneyPESEL", fields[1].Name)
}

func TestMatch_DuplicateNamesSuffixed(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.Match(1, []detect.Word{
		label("PESEL:", 1, 50, 30, 90, 40),
		label("PESEL:", 1, 50, 60, 90, 70),
		label("PESEL:", 1, 50, 90, 90, 100),
	}, nil, nil)

	require.Len(t, fields, 3)
	assert.Equal(t, []string{"pesel", "pesel_2", "pesel_3"},
		[]string{fields[0].Name, fields[1].Name, fields[2].Name})
}

func TestMatch_TypeInference(t *testing.T) {
	m := New(nil, DefaultOptions())

	tests := []struct {
		label    string
		wantType FieldType
		wantName string
		format   string
	}{
		{"Podpis", TypeSignature, "signature", ""},
		{"Czy jest rezydentem?", TypeCheckbox, "czyJestRezydentem", ""},
		{"Zgoda", TypeCheckbox, "consent", ""},
		{"Data:", TypeText, "date", "date"},
		{"Nazwisko", TypeText, "surname", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			fields := m.Match(1, []detect.Word{label(tt.label, 1, 50, 30, 150, 40)}, nil, nil)
			require.Len(t, fields, 1)
			assert.Equal(t, tt.wantType, fields[0].Type)
			assert.Equal(t, tt.wantName, fields[0].Name)
			assert.Equal(t, tt.format, fields[0].Format)
		})
	}
}

func TestMatchResult_ClampsToPage(t *testing.T) {
	m := New(nil, DefaultOptions())

	fields := m.MatchResult(&detect.Result{
		Page:   1,
		Size:   geometry.PageSize{Width: 595, Height: 842},
		Labels: []detect.Word{label("Kraj:", 1, 500, 30, 540, 40)},
	})

	require.Len(t, fields, 1)
	assert.Equal(t, 595.0, fields[0].Coordinates.X1)
	assert.True(t, fields[0].Coordinates.Within(geometry.PageSize{Width: 595, Height: 842}, 0))
}
