package engine

import (
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func litCount(frame Frame) int {
	n := 0
	for _, c := range frame {
		if !c.IsOff() {
			n++
		}
	}
	return n
}

func litColors(frame Frame) []RGB {
	var out []RGB
	for _, c := range frame {
		if !c.IsOff() {
			out = append(out, c)
		}
	}
	return out
}

func sortedColors(colors []RGB) []string {
	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = fmt.Sprintf("%d/%d/%d", c.R, c.G, c.B)
	}
	sort.Strings(out)
	return out
}

func TestGauge_FillCount(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGaugeRenderer(cfg)

	for _, numLeds := range []int{1, 10, 30, 61} {
		for _, tt := range []float64{0, 0.1, 0.25, 0.5, 0.77, 1} {
			frame := g.Render(tt*100, numLeds, 0)
			assert.Len(t, frame, numLeds)

			want := int(math.Round(tt * float64(numLeds)))
			assert.Equal(t, want, litCount(frame),
				"numLeds=%d t=%v: fill count must be round(t*numLeds)", numLeds, tt)
		}
	}
}

func TestGauge_LeftToRightAndRightToLeftAreMirrors(t *testing.T) {
	cfg := DefaultConfig()
	ltr := NewGaugeRenderer(cfg)
	cfg.FillDirection = FillRightToLeft
	rtl := NewGaugeRenderer(cfg)

	a := ltr.Render(60, 12, 0)
	b := rtl.Render(60, 12, 0)

	// Same multiset of lit colors, reversed in position.
	assert.Equal(t, sortedColors(litColors(a)), sortedColors(litColors(b)))
	for i := range a {
		assert.Equal(t, a[i], b[len(b)-1-i], "position %d should mirror", i)
	}
}

func TestGauge_LitCountInvariantAcrossDirections(t *testing.T) {
	directions := []string{FillLeftToRight, FillRightToLeft, FillCenterOut, FillEdgesIn}

	for _, numLeds := range []int{10, 11, 30} {
		for _, value := range []float64{0, 20, 50, 80, 100} {
			counts := map[string]int{}
			for _, dir := range directions {
				cfg := DefaultConfig()
				cfg.FillDirection = dir
				frame := NewGaugeRenderer(cfg).Render(value, numLeds, 0)
				assert.Len(t, frame, numLeds)
				counts[dir] = litCount(frame)
			}
			// center_out and edges_in may land filled LEDs on already-lit
			// indices only when they would overflow the strip; for in-range
			// fills all four directions light the same number of pixels.
			assert.Equal(t, counts[FillLeftToRight], counts[FillRightToLeft],
				"numLeds=%d value=%v", numLeds, value)
			if value == 0 || value == 100 {
				assert.Equal(t, counts[FillLeftToRight], counts[FillCenterOut])
			}
		}
	}
}

func TestGauge_EndToEndScenario(t *testing.T) {
	// floor=0, ceiling=100, green→red, 10 LEDs, value 50.
	cfg := DefaultConfig()
	g := NewGaugeRenderer(cfg)

	frame := g.Render(50, 10, 0)
	assert.Len(t, frame, 10)

	for i := 0; i < 5; i++ {
		assert.False(t, frame[i].IsOff(), "LED %d should be lit", i)
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, RGB{}, frame[i], "LED %d should be off", i)
	}

	// Entry 4 sits at position 4/9 of the full strip: color is the
	// gradient there, not at the midpoint of the filled region.
	want := Gradient(4.0/9.0, cfg.ColorLow, cfg.ColorHigh, nil)
	assert.Equal(t, want, frame[4])
	assert.InDelta(t, 127, int(frame[4].R), 15, "entry[4] is approximately the midpoint color")
	assert.InDelta(t, 141, int(frame[4].G), 15)
}

func TestGauge_CenterOutPlacement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillDirection = FillCenterOut
	g := NewGaugeRenderer(cfg)

	// 4 lit LEDs on a 10-LED strip: indices 5, 4, 6, 3.
	frame := g.Render(40, 10, 0)
	for _, idx := range []int{3, 4, 5, 6} {
		assert.False(t, frame[idx].IsOff(), "index %d should be lit", idx)
	}
	for _, idx := range []int{0, 1, 2, 7, 8, 9} {
		assert.True(t, frame[idx].IsOff(), "index %d should be off", idx)
	}
}

func TestGauge_EdgesInPlacement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillDirection = FillEdgesIn
	g := NewGaugeRenderer(cfg)

	// 4 lit LEDs on a 10-LED strip: two per edge.
	frame := g.Render(40, 10, 0)
	for _, idx := range []int{0, 1, 8, 9} {
		assert.False(t, frame[idx].IsOff(), "index %d should be lit", idx)
	}
	for _, idx := range []int{2, 3, 4, 5, 6, 7} {
		assert.True(t, frame[idx].IsOff(), "index %d should be off", idx)
	}
	// Mirrored colors.
	assert.Equal(t, frame[0], frame[9])
	assert.Equal(t, frame[1], frame[8])
}

func TestGauge_EmptyAndFull(t *testing.T) {
	cfg := DefaultConfig()
	g := NewGaugeRenderer(cfg)

	empty := g.Render(0, 10, 0)
	assert.Equal(t, 0, litCount(empty))

	full := g.Render(100, 10, 0)
	assert.Equal(t, 10, litCount(full))
	assert.Equal(t, cfg.ColorLow, full[0])
	assert.Equal(t, cfg.ColorHigh, full[9])
}
