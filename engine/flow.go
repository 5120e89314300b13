package engine

import "math"

// FlowRenderer animates repeating pulses traveling along the strip. The
// travel speed is proportional to the normalized value, which makes it a
// natural fit for throughput-style readings. At or below the floor the
// strip falls back to a uniform dim background.
type FlowRenderer struct {
	base
}

func NewFlowRenderer(cfg Config) *FlowRenderer {
	return &FlowRenderer{base: newBase(cfg)}
}

func (f *FlowRenderer) Render(value float64, numLeds int, timestamp float64) Frame {
	cfg := f.config()
	t := normalize(value, cfg.Floor, cfg.Ceiling)

	if t <= 0 {
		return backgroundFrame(cfg, numLeds)
	}

	speed := cfg.MinSpeed + (cfg.MaxSpeed-cfg.MinSpeed)*t
	direction := 1.0
	if cfg.FlowDirection == "backward" {
		direction = -1.0
	}

	current := cfg.gradientAt(t)
	patternLen := cfg.PulseWidth + cfg.PulseGap
	offset := math.Mod(timestamp*speed*direction, patternLen)

	frame := make(Frame, numLeds)
	for i := range frame {
		pos := math.Mod(float64(i)+offset, patternLen)
		if pos < 0 {
			pos += patternLen
		}

		if pos < cfg.PulseWidth {
			// Inside a pulse: bell-curve falloff from the pulse center,
			// scaled up with the value so stronger readings glow brighter.
			center := cfg.PulseWidth / 2
			dist := math.Abs(pos-center) / center
			intensity := math.Pow(math.Cos(dist*math.Pi/2), 2)
			intensity *= 0.3 + 0.7*t
			frame[i] = Lerp(RGB{}, current, intensity)
		} else {
			frame[i] = current.scale(cfg.BgBrightness * t)
		}
	}
	return frame
}

// backgroundFrame is the uniform dim strip shown when the value sits at
// or below the floor.
func backgroundFrame(cfg *Config, numLeds int) Frame {
	bg := cfg.gradientAt(0.01).scale(cfg.BgBrightness)
	frame := make(Frame, numLeds)
	for i := range frame {
		frame[i] = bg
	}
	return frame
}
