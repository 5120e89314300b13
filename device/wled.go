// Package device talks to a WLED controller over its JSON HTTP API. All
// frame and effect pushes go through the Sink interface so a terminal
// preview can stand in for real hardware.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lautenbacher.net/infraglow/engine"
)

// Sink is the device-facing side of the coordinator. Implementations
// must tolerate being called from a single goroutine at frame rate.
type Sink interface {
	// Info queries the device for its identity and LED count.
	Info() (DeviceInfo, error)
	// PrepareForControl switches the device on with transitions disabled
	// so per-frame pushes apply instantly.
	PrepareForControl() error
	// SetSegmentColors pushes a pixel frame to one segment.
	SetSegmentColors(segmentID int, frame engine.Frame) error
	// SetAllLeds paints the entire strip as a single segment, overriding
	// any configured segment layout. Used for alert takeover.
	SetAllLeds(frame engine.Frame) error
	// SetSegmentEffect applies native effect parameters to one segment.
	SetSegmentEffect(segmentID int, params EffectParams) error
	Close() error
}

// DeviceInfo is the subset of /json/info the coordinator cares about.
type DeviceInfo struct {
	Name     string
	Version  string
	LedCount int
}

// EffectParams carries a native effect update. Nil fields are omitted
// from the payload and leave the device's current value untouched.
type EffectParams struct {
	FX        *int
	Palette   *int
	Speed     *int
	Intensity *int
	Colors    *[3]engine.RGB
	Mirror    *bool
	Reverse   *bool
}

// WLED is an HTTP client for a single WLED device.
type WLED struct {
	baseURL string
	client  *http.Client
}

// NewWLED builds a client for host:port. Port 0 means the default HTTP
// port.
func NewWLED(host string, port int) *WLED {
	base := "http://" + host
	if port > 0 && port != 80 {
		base = fmt.Sprintf("http://%s:%d", host, port)
	}
	return &WLED{
		baseURL: base,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type infoResponse struct {
	Name    string `json:"name"`
	Version string `json:"ver"`
	Leds    struct {
		Count int `json:"count"`
	} `json:"leds"`
}

func (w *WLED) Info() (DeviceInfo, error) {
	resp, err := w.client.Get(w.baseURL + "/json/info")
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("querying device info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DeviceInfo{}, fmt.Errorf("device info returned status %d", resp.StatusCode)
	}

	var info infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return DeviceInfo{}, fmt.Errorf("decoding device info: %w", err)
	}
	return DeviceInfo{Name: info.Name, Version: info.Version, LedCount: info.Leds.Count}, nil
}

// PrepareForControl turns the device on and sets the crossfade
// transition to zero. Without this, WLED blends consecutive frames and
// animations smear.
func (w *WLED) PrepareForControl() error {
	return w.postState(map[string]any{"on": true, "transition": 0})
}

func (w *WLED) SetSegmentColors(segmentID int, frame engine.Frame) error {
	seg := map[string]any{"id": segmentID, "i": flattenFrame(frame)}
	return w.postState(map[string]any{"seg": []any{seg}})
}

func (w *WLED) SetAllLeds(frame engine.Frame) error {
	seg := map[string]any{
		"id":    0,
		"start": 0,
		"stop":  len(frame),
		"i":     flattenFrame(frame),
	}
	return w.postState(map[string]any{"seg": []any{seg}})
}

func (w *WLED) SetSegmentEffect(segmentID int, params EffectParams) error {
	seg := map[string]any{"id": segmentID}
	if params.FX != nil {
		seg["fx"] = *params.FX
	}
	if params.Palette != nil {
		seg["pal"] = *params.Palette
	}
	if params.Speed != nil {
		seg["sx"] = *params.Speed
	}
	if params.Intensity != nil {
		seg["ix"] = *params.Intensity
	}
	if params.Colors != nil {
		cols := make([][]int, 0, 3)
		for _, c := range params.Colors {
			cols = append(cols, []int{int(c.R), int(c.G), int(c.B)})
		}
		seg["col"] = cols
	}
	if params.Mirror != nil {
		seg["mi"] = *params.Mirror
	}
	if params.Reverse != nil {
		seg["rev"] = *params.Reverse
	}
	return w.postState(map[string]any{"seg": []any{seg}})
}

// SetPower switches the whole device on or off.
func (w *WLED) SetPower(on bool) error {
	return w.postState(map[string]any{"on": on})
}

// SetBrightness sets the global brightness (0-255).
func (w *WLED) SetBrightness(bri uint8) error {
	return w.postState(map[string]any{"bri": int(bri)})
}

func (w *WLED) Close() error { return nil }

func (w *WLED) postState(payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding state payload: %w", err)
	}
	resp, err := w.client.Post(w.baseURL+"/json/state", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting device state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		slog.Debug("Device rejected state payload", "status", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("device state returned status %d", resp.StatusCode)
	}
	return nil
}

// flattenFrame converts a frame to the flat [r,g,b,r,g,b,...] array the
// JSON API expects for per-pixel updates.
func flattenFrame(frame engine.Frame) []int {
	flat := make([]int, 0, len(frame)*3)
	for _, c := range frame {
		flat = append(flat, int(c.R), int(c.G), int(c.B))
	}
	return flat
}

// IntPtr and friends make EffectParams literals readable at call sites.
func IntPtr(v int) *int                        { return &v }
func BoolPtr(v bool) *bool                     { return &v }
func ColorsPtr(c [3]engine.RGB) *[3]engine.RGB { return &c }
