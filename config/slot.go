package config

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"lautenbacher.net/infraglow/engine"
)

// Visualization modes. A mode is a convenience preset: it picks the
// renderer type and fills in floor/ceiling and effect defaults when the
// slot does not set them explicitly.
const (
	ModeSystemLoad  = "system_load"
	ModeTemperature = "temperature"
	ModeThroughput  = "throughput"
	ModeAlert       = "alert"
	ModeGrafana     = "grafana"
)

type modePreset struct {
	renderer       string
	floor, ceiling float64
	fx             int
	speedMin       int
	speedMax       int
}

var modePresets = map[string]modePreset{
	ModeSystemLoad:  {engine.TypeEffect, 0, 100, 2, 60, 240},   // Breathe
	ModeTemperature: {engine.TypeEffect, 20, 90, 46, 30, 200},  // Gradient
	ModeThroughput:  {engine.TypeEffect, 0, 1000, 15, 20, 255}, // Running
	ModeAlert:       {engine.TypeAlert, 0, 1, 2, 60, 240},
	ModeGrafana:     {engine.TypeEffect, 0, 100, 2, 60, 240},
}

// SlotConfig is one visualization definition: the binding of a value
// source to a renderer and a device segment, plus the renderer tunables.
type SlotConfig struct {
	SlotID   string `yaml:"SlotID" json:"slot_id"`
	Name     string `yaml:"Name" json:"name"`
	EntityID string `yaml:"EntityID" json:"entity_id"`

	SegmentID int    `yaml:"SegmentID" json:"segment_id"`
	NumLeds   int    `yaml:"NumLeds" json:"num_leds"`
	Mode      string `yaml:"Mode" json:"mode"`
	Renderer  string `yaml:"Renderer" json:"renderer_type"`
	Enabled   bool   `yaml:"Enabled" json:"enabled"`

	// UpdateInterval gates how often the slot recomputes and pushes.
	// Negative means "use the per-renderer default".
	UpdateInterval Duration `yaml:"UpdateInterval" json:"update_interval"`

	Floor     float64 `yaml:"Floor" json:"floor"`
	Ceiling   float64 `yaml:"Ceiling" json:"ceiling"`
	ColorLow  Color   `yaml:"ColorLow" json:"color_low"`
	ColorHigh Color   `yaml:"ColorHigh" json:"color_high"`
	ColorMid  *Color  `yaml:"ColorMid,omitempty" json:"color_mid,omitempty"`

	FillDirection string `yaml:"FillDirection" json:"fill_direction"`

	MinSpeed      float64 `yaml:"MinSpeed" json:"min_speed"`
	MaxSpeed      float64 `yaml:"MaxSpeed" json:"max_speed"`
	PulseWidth    float64 `yaml:"PulseWidth" json:"pulse_width"`
	PulseGap      float64 `yaml:"PulseGap" json:"pulse_gap"`
	FlowDirection string  `yaml:"FlowDirection" json:"flow_direction"`
	BgBrightness  float64 `yaml:"BgBrightness" json:"bg_brightness"`

	FlashColor Color   `yaml:"FlashColor" json:"flash_color"`
	FlashSpeed float64 `yaml:"FlashSpeed" json:"flash_speed"`
	FlashStyle string  `yaml:"FlashStyle" json:"flash_style"`

	FX           int  `yaml:"FX" json:"wled_fx"`
	Palette      int  `yaml:"Palette" json:"wled_pal"`
	SpeedMin     int  `yaml:"SpeedMin" json:"speed_min"`
	SpeedMax     int  `yaml:"SpeedMax" json:"speed_max"`
	IntensityMin int  `yaml:"IntensityMin" json:"intensity_min"`
	IntensityMax int  `yaml:"IntensityMax" json:"intensity_max"`
	Mirror       bool `yaml:"Mirror" json:"mirror"`
	Reverse      bool `yaml:"Reverse" json:"reverse"`
}

// DefaultSlotConfig returns a slot with the static defaults pre-filled
// and mode-dependent fields left as sentinels for ApplyModeDefaults.
func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		NumLeds:        30,
		Enabled:        true,
		UpdateInterval: Duration(-1),
		Floor:          nanFloat(),
		Ceiling:        nanFloat(),
		ColorLow:       Color{0, 255, 0},
		ColorHigh:      Color{255, 0, 0},
		FillDirection:  engine.FillLeftToRight,
		MinSpeed:       1,
		MaxSpeed:       30,
		PulseWidth:     5,
		PulseGap:       8,
		FlowDirection:  "forward",
		BgBrightness:   0.05,
		FlashColor:     Color{255, 0, 0},
		FlashSpeed:     2,
		FlashStyle:     engine.StylePulse,
		FX:             -1,
		SpeedMin:       -1,
		SpeedMax:       -1,
		IntensityMin:   80,
		IntensityMax:   255,
	}
}

func (s *SlotConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawSlot SlotConfig
	raw := rawSlot(DefaultSlotConfig())
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = SlotConfig(raw)
	s.ApplyModeDefaults()
	return nil
}

func (s *SlotConfig) UnmarshalJSON(data []byte) error {
	type rawSlot SlotConfig
	raw := rawSlot(DefaultSlotConfig())
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SlotConfig(raw)
	s.ApplyModeDefaults()
	return nil
}

// ApplyModeDefaults resolves the sentinel fields from the slot's mode.
func (s *SlotConfig) ApplyModeDefaults() {
	preset, ok := modePresets[s.Mode]
	if !ok {
		preset = modePresets[ModeGrafana]
	}
	if s.Renderer == "" {
		s.Renderer = preset.renderer
	}
	if math.IsNaN(s.Floor) {
		s.Floor = preset.floor
	}
	if math.IsNaN(s.Ceiling) {
		s.Ceiling = preset.ceiling
	}
	if s.FX < 0 {
		s.FX = preset.fx
	}
	if s.SpeedMin < 0 {
		s.SpeedMin = preset.speedMin
	}
	if s.SpeedMax < 0 {
		s.SpeedMax = preset.speedMax
	}
	if s.UpdateInterval < 0 {
		s.UpdateInterval = defaultInterval(s.Renderer)
	}
}

// defaultInterval is the per-renderer cadence: gauges refresh slowly,
// effect parameters a bit faster, and animated renderers every tick.
func defaultInterval(renderer string) Duration {
	switch renderer {
	case engine.TypeGauge:
		return Duration(time.Second)
	case engine.TypeEffect:
		return Duration(500 * time.Millisecond)
	default:
		return 0
	}
}

// Validate rejects definitions that cannot safely run.
func (s *SlotConfig) Validate() error {
	if s.EntityID == "" {
		return fmt.Errorf("EntityID is required")
	}
	if s.NumLeds <= 0 {
		return fmt.Errorf("NumLeds must be positive, got %d", s.NumLeds)
	}
	if s.SegmentID < 0 {
		return fmt.Errorf("SegmentID must not be negative, got %d", s.SegmentID)
	}
	switch s.Renderer {
	case engine.TypeGauge, engine.TypeFlow, engine.TypeAlert, engine.TypeEffect:
	default:
		return fmt.Errorf("unknown renderer type %q", s.Renderer)
	}
	switch s.FillDirection {
	case engine.FillLeftToRight, engine.FillRightToLeft, engine.FillCenterOut, engine.FillEdgesIn:
	default:
		return fmt.Errorf("unknown fill direction %q", s.FillDirection)
	}
	switch s.FlashStyle {
	case engine.StylePulse, engine.StyleStrobe, engine.StyleSolid:
	default:
		return fmt.Errorf("unknown flash style %q", s.FlashStyle)
	}
	if s.FlowDirection != "forward" && s.FlowDirection != "backward" {
		return fmt.Errorf("flow direction must be forward or backward, got %q", s.FlowDirection)
	}
	if s.BgBrightness < 0 || s.BgBrightness > 1 {
		return fmt.Errorf("BgBrightness must be within [0,1], got %v", s.BgBrightness)
	}
	if s.PulseWidth <= 0 || s.PulseGap < 0 {
		return fmt.Errorf("PulseWidth must be positive and PulseGap non-negative")
	}
	if s.SpeedMin > s.SpeedMax {
		return fmt.Errorf("SpeedMin %d exceeds SpeedMax %d", s.SpeedMin, s.SpeedMax)
	}
	if s.IntensityMin > s.IntensityMax {
		return fmt.Errorf("IntensityMin %d exceeds IntensityMax %d", s.IntensityMin, s.IntensityMax)
	}
	return nil
}

// EngineConfig converts the slot definition into the renderer's
// immutable configuration value.
func (s *SlotConfig) EngineConfig() engine.Config {
	cfg := engine.Config{
		Floor:         s.Floor,
		Ceiling:       s.Ceiling,
		ColorLow:      s.ColorLow.RGB(),
		ColorHigh:     s.ColorHigh.RGB(),
		FillDirection: s.FillDirection,
		MinSpeed:      s.MinSpeed,
		MaxSpeed:      s.MaxSpeed,
		PulseWidth:    s.PulseWidth,
		PulseGap:      s.PulseGap,
		FlowDirection: s.FlowDirection,
		BgBrightness:  s.BgBrightness,
		FlashColor:    s.FlashColor.RGB(),
		FlashSpeed:    s.FlashSpeed,
		FlashStyle:    s.FlashStyle,
		FX:            s.FX,
		Palette:       s.Palette,
		SpeedMin:      s.SpeedMin,
		SpeedMax:      s.SpeedMax,
		IntensityMin:  s.IntensityMin,
		IntensityMax:  s.IntensityMax,
		Mirror:        s.Mirror,
		Reverse:       s.Reverse,
	}
	if s.ColorMid != nil {
		mid := s.ColorMid.RGB()
		cfg.ColorMid = &mid
	}
	return cfg
}
