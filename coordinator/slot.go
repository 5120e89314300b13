package coordinator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lautenbacher.net/infraglow/config"
	"lautenbacher.net/infraglow/engine"
)

// slot is one running visualization: a renderer bound to an entity and
// a device segment. The value and push bookkeeping are owned by the
// render loop; enabled is flipped from API goroutines.
type slot struct {
	id       string
	cfg      config.SlotConfig
	renderer engine.Renderer
	effect   *engine.EffectRenderer // non-nil for the effect variant
	isAlert  bool
	enabled  atomic.Bool
	unsub    func()

	// loop-owned
	value    float64
	lastPush time.Time
}

func newSlot(def config.SlotConfig) (*slot, error) {
	def.ApplyModeDefaults()
	if def.SlotID == "" {
		def.SlotID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("slot %s: %w", def.SlotID, err)
	}

	renderer, err := engine.New(def.Renderer, def.EngineConfig())
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", def.SlotID, err)
	}

	s := &slot{
		id:       def.SlotID,
		cfg:      def,
		renderer: renderer,
		isAlert:  def.Renderer == engine.TypeAlert,
	}
	if e, ok := renderer.(*engine.EffectRenderer); ok {
		s.effect = e
	}
	s.enabled.Store(def.Enabled)
	return s, nil
}

// due reports whether the slot's cadence allows a push at now. An
// interval of zero means every tick.
func (s *slot) due(now time.Time) bool {
	interval := s.cfg.UpdateInterval.Std()
	if interval <= 0 {
		return true
	}
	return s.lastPush.IsZero() || now.Sub(s.lastPush) >= interval
}

// patched returns a copy of the slot's definition with one parameter
// replaced. The patch goes through the JSON form so every API-exposed
// field is reachable under its wire name.
func (s *slot) patched(key string, value any) (config.SlotConfig, error) {
	if !slotParamKeys[key] {
		return config.SlotConfig{}, fmt.Errorf("unknown parameter %q", key)
	}

	data, err := json.Marshal(s.cfg)
	if err != nil {
		return config.SlotConfig{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return config.SlotConfig{}, err
	}
	fields[key] = value

	merged, err := json.Marshal(fields)
	if err != nil {
		return config.SlotConfig{}, err
	}
	var next config.SlotConfig
	if err := json.Unmarshal(merged, &next); err != nil {
		return config.SlotConfig{}, fmt.Errorf("parameter %q: %w", key, err)
	}
	if next.SlotID != s.id {
		return config.SlotConfig{}, fmt.Errorf("slot_id cannot be changed")
	}
	if next.Renderer != s.cfg.Renderer {
		return config.SlotConfig{}, fmt.Errorf("renderer type cannot be changed, remove and re-add the slot")
	}
	if err := next.Validate(); err != nil {
		return config.SlotConfig{}, err
	}
	return next, nil
}

// slotParamKeys is the set of JSON field names of SlotConfig, built
// once so patched can reject typos instead of silently ignoring them.
var slotParamKeys = jsonFieldNames(reflect.TypeOf(config.SlotConfig{}))

func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}
