package engine

import (
	"math"
	"sync"
)

// EffectState is the set of native animation parameters pushed to the
// device for one segment: effect and palette ids, speed and intensity,
// and three color slots forming a local palette around the current value.
type EffectState struct {
	FX        int
	Palette   int
	Speed     int // 0-255
	Intensity int // 0-255
	Colors    [3]RGB
	Mirror    bool
	Reverse   bool
}

// EffectRenderer bridges a normalized value to the device's own animation
// engine instead of computing per-pixel frames. Change detection with a
// small hysteresis keeps imperceptible deltas off the control channel.
type EffectRenderer struct {
	base

	// mu guards lastState: the render loop reads/accepts it while the
	// live-update path may reset it.
	mu        sync.Mutex
	lastState *EffectState
}

func NewEffectRenderer(cfg Config) *EffectRenderer {
	return &EffectRenderer{base: newBase(cfg)}
}

// ComputeEffectState derives the parameter set for the current raw value.
func (e *EffectRenderer) ComputeEffectState(value float64) EffectState {
	cfg := e.config()
	t := normalize(value, cfg.Floor, cfg.Ceiling)

	// Companion stops 0.15 to either side of the value position give the
	// device's three color slots a cohesive local palette.
	primary := cfg.gradientAt(t)
	secondary := cfg.gradientAt(math.Max(0, t-0.15))
	tertiary := cfg.gradientAt(math.Min(1, t+0.15))

	sx := int(float64(cfg.SpeedMin) + float64(cfg.SpeedMax-cfg.SpeedMin)*t)
	ix := int(float64(cfg.IntensityMin) + float64(cfg.IntensityMax-cfg.IntensityMin)*t)

	return EffectState{
		FX:        cfg.FX,
		Palette:   cfg.Palette,
		Speed:     clampByte(sx),
		Intensity: clampByte(ix),
		Colors:    [3]RGB{primary, secondary, tertiary},
		Mirror:    cfg.Mirror,
		Reverse:   cfg.Reverse,
	}
}

// HasChanged reports whether state differs enough from the last accepted
// one to warrant a push: a different effect or palette id, a speed or
// intensity delta of at least 3, or any color channel moving by at least 5.
func (e *EffectRenderer) HasChanged(state EffectState) bool {
	e.mu.Lock()
	old := e.lastState
	e.mu.Unlock()

	if old == nil {
		return true
	}
	if old.FX != state.FX || old.Palette != state.Palette {
		return true
	}
	if absInt(old.Speed-state.Speed) >= 3 || absInt(old.Intensity-state.Intensity) >= 3 {
		return true
	}
	for i := range state.Colors {
		if channelDelta(old.Colors[i].R, state.Colors[i].R) >= 5 ||
			channelDelta(old.Colors[i].G, state.Colors[i].G) >= 5 ||
			channelDelta(old.Colors[i].B, state.Colors[i].B) >= 5 {
			return true
		}
	}
	return false
}

// AcceptState commits state as the new change-detection baseline after a
// successful push.
func (e *EffectRenderer) AcceptState(state EffectState) {
	e.mu.Lock()
	e.lastState = &state
	e.mu.Unlock()
}

// ResetBaseline clears the baseline so the next state always pushes.
// Called when an alert override ends, so the first post-alert push is
// never suppressed.
func (e *EffectRenderer) ResetBaseline() {
	e.mu.Lock()
	e.lastState = nil
	e.mu.Unlock()
}

// UpdateConfig swaps the config and invalidates the baseline: a live
// parameter change must reach the device on the next tick.
func (e *EffectRenderer) UpdateConfig(cfg Config) {
	e.base.UpdateConfig(cfg)
	e.ResetBaseline()
}

// Render exists to satisfy the shared contract; the coordinator drives
// this variant through ComputeEffectState.
func (e *EffectRenderer) Render(float64, int, float64) Frame {
	return nil
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func channelDelta(a, b uint8) int {
	return absInt(int(a) - int(b))
}
