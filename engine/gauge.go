package engine

import "math"

// GaugeRenderer draws a static fill bar: the normalized value decides how
// many LEDs are lit, the gradient decides their colors. For the
// left-to-right and right-to-left directions a lit LED's color depends on
// its absolute strip position, so a half-filled strip always shows the
// same color band regardless of the current fill level.
type GaugeRenderer struct {
	base
}

func NewGaugeRenderer(cfg Config) *GaugeRenderer {
	return &GaugeRenderer{base: newBase(cfg)}
}

func (g *GaugeRenderer) Render(value float64, numLeds int, _ float64) Frame {
	cfg := g.config()
	t := normalize(value, cfg.Floor, cfg.Ceiling)
	fillCount := int(math.Round(t * float64(numLeds)))

	filled := make(Frame, fillCount)
	for i := range filled {
		pos := float64(i) / float64(max(numLeds-1, 1))
		filled[i] = cfg.gradientAt(pos)
	}

	switch cfg.FillDirection {
	case FillRightToLeft:
		return rightToLeft(filled, numLeds)
	case FillCenterOut:
		return centerOut(cfg, fillCount, numLeds)
	case FillEdgesIn:
		return edgesIn(cfg, fillCount, numLeds)
	default: // left_to_right
		return append(filled, make(Frame, numLeds-fillCount)...)
	}
}

// rightToLeft places the unfilled run first, then the filled colors in
// reverse so the bar grows from the right edge.
func rightToLeft(filled Frame, numLeds int) Frame {
	frame := make(Frame, numLeds-len(filled), numLeds)
	for i := len(filled) - 1; i >= 0; i-- {
		frame = append(frame, filled[i])
	}
	return frame
}

// centerOut alternates lit LEDs right then left of the midpoint. Color
// position is relative to the index within the filled region here, not
// the absolute strip position.
func centerOut(cfg *Config, fillCount, numLeds int) Frame {
	frame := make(Frame, numLeds)
	center := numLeds / 2

	for i := 0; i < fillCount; i++ {
		half := i / 2
		var idx int
		if i%2 == 0 {
			idx = center + half
		} else {
			idx = center - 1 - half
		}
		if idx >= 0 && idx < numLeds {
			pos := float64(i) / float64(max(fillCount-1, 1))
			frame[idx] = cfg.gradientAt(pos)
		}
	}
	return frame
}

// edgesIn mirrors the fill, growing inward from both ends at once.
func edgesIn(cfg *Config, fillCount, numLeds int) Frame {
	frame := make(Frame, numLeds)
	halfFill := fillCount / 2
	remainder := fillCount % 2

	for i := 0; i < halfFill+remainder; i++ {
		pos := float64(i) / float64(max(halfFill, 1))
		color := cfg.gradientAt(pos)
		if i < numLeds {
			frame[i] = color
		}
		if right := numLeds - 1 - i; right >= 0 {
			frame[right] = color
		}
	}
	return frame
}
