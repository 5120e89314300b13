package engine

import "math"

// AlertRenderer flashes the entire strip while its value is positive.
// An empty frame signals "inactive, do not override"; a non-empty frame
// tells the coordinator to take over the whole strip.
type AlertRenderer struct {
	base
	// lastActive is only touched from the render loop.
	lastActive bool
}

func NewAlertRenderer(cfg Config) *AlertRenderer {
	return &AlertRenderer{base: newBase(cfg)}
}

// IsActive reports the activation computed by the most recent Render.
func (a *AlertRenderer) IsActive() bool {
	return a.lastActive
}

func (a *AlertRenderer) Render(value float64, numLeds int, timestamp float64) Frame {
	a.lastActive = value > 0
	if !a.lastActive {
		return nil
	}

	cfg := a.config()
	switch cfg.FlashStyle {
	case StyleStrobe:
		// 50% duty square wave at FlashSpeed Hz.
		phase := math.Mod(timestamp*cfg.FlashSpeed, 1.0)
		if phase < 0.5 {
			return uniformFrame(cfg.FlashColor, numLeds)
		}
		return uniformFrame(RGB{}, numLeds)

	case StyleSolid:
		return uniformFrame(cfg.FlashColor, numLeds)

	default: // pulse
		// Sinusoidal with a 15% floor so the strip never goes fully dark.
		phase := math.Sin(timestamp * cfg.FlashSpeed * 2 * math.Pi)
		brightness := 0.15 + 0.85*((phase+1)/2)
		return uniformFrame(cfg.FlashColor.scale(brightness), numLeds)
	}
}

func uniformFrame(color RGB, numLeds int) Frame {
	frame := make(Frame, numLeds)
	for i := range frame {
		frame[i] = color
	}
	return frame
}
