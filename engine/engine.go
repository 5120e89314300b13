// Package engine computes LED frames and native device effect parameters
// from normalized sensor values. Four renderer variants share one
// contract: Gauge (fill bar), Flow (traveling pulse), Alert (full-strip
// flasher), and Effect (bridge to the device's own animation engine).
package engine

import (
	"fmt"
	"sync/atomic"
)

// RGB is a single LED color.
type RGB struct {
	R, G, B uint8
}

// Frame is one tick's worth of per-pixel colors for a region.
type Frame []RGB

// Renderer type names as they appear in configuration.
const (
	TypeGauge  = "gauge"
	TypeFlow   = "flow"
	TypeAlert  = "alert"
	TypeEffect = "effect"
)

// Gauge fill directions.
const (
	FillLeftToRight = "left_to_right"
	FillRightToLeft = "right_to_left"
	FillCenterOut   = "center_out"
	FillEdgesIn     = "edges_in"
)

// Alert flash styles.
const (
	StylePulse  = "pulse"
	StyleStrobe = "strobe"
	StyleSolid  = "solid"
)

// Config holds every tunable a renderer variant can bind. It is treated
// as an immutable value: UpdateConfig swaps the whole thing atomically,
// so the render loop never observes a half-applied live update.
type Config struct {
	Floor     float64
	Ceiling   float64
	ColorLow  RGB
	ColorHigh RGB
	ColorMid  *RGB

	// Gauge
	FillDirection string

	// Flow
	MinSpeed      float64 // LED positions per second at floor
	MaxSpeed      float64 // LED positions per second at ceiling
	PulseWidth    float64
	PulseGap      float64
	FlowDirection string // "forward" or "backward"
	BgBrightness  float64

	// Alert
	FlashColor RGB
	FlashSpeed float64 // Hz
	FlashStyle string

	// Effect
	FX           int
	Palette      int
	SpeedMin     int
	SpeedMax     int
	IntensityMin int
	IntensityMax int
	Mirror       bool
	Reverse      bool
}

// DefaultConfig returns the renderer defaults shared by all variants.
func DefaultConfig() Config {
	return Config{
		Floor:         0,
		Ceiling:       100,
		ColorLow:      RGB{0, 255, 0},
		ColorHigh:     RGB{255, 0, 0},
		FillDirection: FillLeftToRight,
		MinSpeed:      1,
		MaxSpeed:      30,
		PulseWidth:    5,
		PulseGap:      8,
		FlowDirection: "forward",
		BgBrightness:  0.05,
		FlashColor:    RGB{255, 0, 0},
		FlashSpeed:    2,
		FlashStyle:    StylePulse,
		FX:            2, // Breathe
		Palette:       0,
		SpeedMin:      60,
		SpeedMax:      240,
		IntensityMin:  80,
		IntensityMax:  255,
	}
}

// Renderer is the shared contract all variants fulfill. Render returns
// one color per LED of the addressed range; for the alert variant an
// empty frame means "inactive, do not override", and for the effect
// variant Render is a no-op (ComputeEffectState is its entry point).
type Renderer interface {
	Render(value float64, numLeds int, timestamp float64) Frame
	Normalize(value float64) float64
	UpdateConfig(cfg Config)
}

// New constructs a renderer of the given type. An unknown type is a
// configuration error and fails immediately.
func New(rendererType string, cfg Config) (Renderer, error) {
	switch rendererType {
	case TypeGauge:
		return NewGaugeRenderer(cfg), nil
	case TypeFlow:
		return NewFlowRenderer(cfg), nil
	case TypeAlert:
		return NewAlertRenderer(cfg), nil
	case TypeEffect:
		return NewEffectRenderer(cfg), nil
	}
	return nil, fmt.Errorf("unknown renderer type %q", rendererType)
}

// base carries the atomically swapped config shared by all variants.
type base struct {
	cfg atomic.Pointer[Config]
}

func newBase(cfg Config) base {
	var b base
	b.cfg.Store(&cfg)
	return b
}

// config returns the current immutable config snapshot.
func (b *base) config() *Config {
	return b.cfg.Load()
}

// UpdateConfig swaps in a new configuration value.
func (b *base) UpdateConfig(cfg Config) {
	b.cfg.Store(&cfg)
}

// Normalize maps a raw value into [0,1] using the floor/ceiling window.
// A degenerate window (ceiling == floor) yields 0.
func (b *base) Normalize(raw float64) float64 {
	cfg := b.config()
	return normalize(raw, cfg.Floor, cfg.Ceiling)
}

func normalize(raw, floor, ceiling float64) float64 {
	if ceiling == floor {
		return 0
	}
	t := (raw - floor) / (ceiling - floor)
	return clamp01(t)
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Lerp interpolates per channel between a and b; t is clamped to [0,1]
// and the channel result is truncated to an integer.
func Lerp(a, b RGB, t float64) RGB {
	t = clamp01(t)
	return RGB{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
	}
}

// Gradient evaluates a two-stop (low→high) or, when mid is non-nil, a
// three-stop (low→mid→high) gradient at position t.
func Gradient(t float64, low, high RGB, mid *RGB) RGB {
	if mid == nil {
		return Lerp(low, high, t)
	}
	if t <= 0.5 {
		return Lerp(low, *mid, t*2)
	}
	return Lerp(*mid, high, (t-0.5)*2)
}

// gradientAt evaluates the config's gradient at position t.
func (c *Config) gradientAt(t float64) RGB {
	return Gradient(t, c.ColorLow, c.ColorHigh, c.ColorMid)
}

// scale multiplies each channel by f (truncating), f expected in [0,1].
func (c RGB) scale(f float64) RGB {
	return RGB{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
	}
}

// IsOff reports whether all channels are zero.
func (c RGB) IsOff() bool {
	return c.R == 0 && c.G == 0 && c.B == 0
}
