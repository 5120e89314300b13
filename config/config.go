// Package config loads and validates the InfraGlow YAML configuration,
// including the visualization slot definitions handed to the coordinator.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"lautenbacher.net/infraglow/engine"
)

// Config is the full on-disk configuration.
type Config struct {
	WLED           WLEDConfig     `yaml:"WLED" json:"wled"`
	Render         RenderConfig   `yaml:"Render" json:"render"`
	Logging        LoggingConfig  `yaml:"Logging" json:"logging"`
	Web            WebConfig      `yaml:"Web" json:"web"`
	HomeAssistant  HAConfig       `yaml:"HomeAssistant" json:"home_assistant"`
	Audio          AudioConfig    `yaml:"Audio" json:"audio"`
	NightDim       NightDimConfig `yaml:"NightDim" json:"night_dim"`
	Visualizations []SlotConfig   `yaml:"Visualizations" json:"visualizations"`
}

// WLEDConfig locates the device. TotalLeds is the fallback used when the
// device cannot be queried at startup.
type WLEDConfig struct {
	Host      string `yaml:"Host" json:"host"`
	Port      int    `yaml:"Port" json:"port"`
	TotalLeds int    `yaml:"TotalLeds" json:"total_leds"`
}

type RenderConfig struct {
	FrameRate int `yaml:"FrameRate" json:"frame_rate"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level" json:"level"`
	Format string `yaml:"Format" json:"format"`
	File   string `yaml:"File" json:"file"`
}

type WebConfig struct {
	Listen string `yaml:"Listen" json:"listen"`
}

// HAConfig enables the Home Assistant websocket value source.
type HAConfig struct {
	Enabled bool   `yaml:"Enabled" json:"enabled"`
	URL     string `yaml:"URL" json:"url"`
	Token   string `yaml:"Token" json:"token"`
}

// AudioConfig enables the local audio loudness value source.
type AudioConfig struct {
	Enabled         bool     `yaml:"Enabled" json:"enabled"`
	Device          string   `yaml:"Device" json:"device"`
	SampleRate      int      `yaml:"SampleRate" json:"sample_rate"`
	FramesPerBuffer int      `yaml:"FramesPerBuffer" json:"frames_per_buffer"`
	UpdatePeriod    Duration `yaml:"UpdatePeriod" json:"update_period"`
	MinDB           float64  `yaml:"MinDB" json:"min_db"`
	MaxDB           float64  `yaml:"MaxDB" json:"max_db"`
}

// NightDimConfig scales normal pixel frames between sunset and sunrise.
type NightDimConfig struct {
	Enabled   bool    `yaml:"Enabled" json:"enabled"`
	Latitude  float64 `yaml:"Latitude" json:"latitude"`
	Longitude float64 `yaml:"Longitude" json:"longitude"`
	Factor    float64 `yaml:"Factor" json:"factor"`
}

// ReadConfig loads, defaults, and validates a configuration file.
func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	conf := defaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&conf); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &conf, nil
}

func defaultConfig() Config {
	return Config{
		WLED:    WLEDConfig{Port: 80, TotalLeds: 60},
		Render:  RenderConfig{FrameRate: 15},
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
		Web:     WebConfig{Listen: ":8321"},
		Audio: AudioConfig{
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			UpdatePeriod:    Duration(100 * time.Millisecond),
			MinDB:           -60,
			MaxDB:           -10,
		},
		NightDim: NightDimConfig{Factor: 0.3},
	}
}

// Validate checks the whole configuration, including every slot.
func (c *Config) Validate() error {
	if c.Render.FrameRate <= 0 {
		return fmt.Errorf("Render.FrameRate must be positive, got %d", c.Render.FrameRate)
	}
	if c.WLED.TotalLeds <= 0 {
		return fmt.Errorf("WLED.TotalLeds must be positive, got %d", c.WLED.TotalLeds)
	}
	if c.NightDim.Enabled && (c.NightDim.Factor < 0 || c.NightDim.Factor > 1) {
		return fmt.Errorf("NightDim.Factor must be within [0,1], got %v", c.NightDim.Factor)
	}
	if c.HomeAssistant.Enabled && c.HomeAssistant.URL == "" {
		return fmt.Errorf("HomeAssistant.URL is required when the source is enabled")
	}

	seen := make(map[string]bool, len(c.Visualizations))
	for i := range c.Visualizations {
		s := &c.Visualizations[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("visualization %d (%s): %w", i, s.SlotID, err)
		}
		if s.SlotID != "" {
			if seen[s.SlotID] {
				return fmt.Errorf("duplicate SlotID %q", s.SlotID)
			}
			seen[s.SlotID] = true
		}
	}
	return nil
}

// Duration wraps time.Duration with YAML/JSON support: YAML uses the
// "500ms" notation, JSON accepts either that or a float in seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration value %s", data)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

// Color is an RGB triple that unmarshals from either a [r, g, b] list or
// a "#rrggbb" hex string.
type Color [3]uint8

func (c Color) RGB() engine.RGB {
	return engine.RGB{R: c[0], G: c[1], B: c[2]}
}

func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	var hex string
	if err := node.Decode(&hex); err == nil {
		return c.fromHex(hex)
	}
	var list []int
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("color must be [r, g, b] or \"#rrggbb\"")
	}
	return c.fromList(list)
}

func (c Color) MarshalYAML() (interface{}, error) {
	return []int{int(c[0]), int(c[1]), int(c[2])}, nil
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var hex string
	if err := json.Unmarshal(data, &hex); err == nil {
		return c.fromHex(hex)
	}
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("color must be [r, g, b] or \"#rrggbb\"")
	}
	return c.fromList(list)
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{int(c[0]), int(c[1]), int(c[2])})
}

func (c *Color) fromHex(s string) error {
	col, err := colorful.Hex(s)
	if err != nil {
		return fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	r, g, b := col.RGB255()
	*c = Color{r, g, b}
	return nil
}

func (c *Color) fromList(list []int) error {
	if len(list) != 3 {
		return fmt.Errorf("color list must have exactly 3 entries, got %d", len(list))
	}
	for i, v := range list {
		if v < 0 || v > 255 {
			return fmt.Errorf("color channel %d out of range: %d", i, v)
		}
		c[i] = uint8(v)
	}
	return nil
}

// nanFloat marks "not configured" for mode-dependent numeric defaults.
func nanFloat() float64 { return math.NaN() }
