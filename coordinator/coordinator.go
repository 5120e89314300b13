// Package coordinator runs the frame loop: it drains value updates,
// evaluates alert takeover, and pushes frames and effect parameters to
// the device at a fixed rate.
package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/infraglow/config"
	"lautenbacher.net/infraglow/device"
	"lautenbacher.net/infraglow/source"
	"lautenbacher.net/infraglow/util"
)

// Options tunes the frame loop. Now is injectable so tests can drive
// the clock; a nil Now means time.Now.
type Options struct {
	FrameRate int
	TotalLeds int
	NightDim  config.NightDimConfig
	Now       func() time.Time
}

// Coordinator owns the visualization slots and the single render loop
// goroutine. Slots may be added, removed, and tuned while running.
type Coordinator struct {
	sink device.Sink
	src  source.Source
	opts Options
	now  func() time.Time

	updates *util.Mailbox[string]

	mu    sync.RWMutex
	slots []*slot

	totalLeds int
	start     time.Time
	dimmer    *nightDimmer

	// loop-owned
	alertActive bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(sink device.Sink, src source.Source, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 15
	}
	return &Coordinator{
		sink:    sink,
		src:     src,
		opts:    opts,
		now:     now,
		updates: util.NewMailbox[string](),
		dimmer:  newNightDimmer(opts.NightDim, now),
		stop:    make(chan struct{}),
	}
}

// Setup queries the device, builds the slots, subscribes to their
// entities, and starts the render loop. An unreachable device is not
// fatal: the configured LED count is used and pushes are retried every
// tick.
func (c *Coordinator) Setup(defs []config.SlotConfig) error {
	info, err := c.sink.Info()
	if err != nil {
		slog.Warn("Device not reachable at startup, using configured LED count",
			"error", err, "leds", c.opts.TotalLeds)
		c.totalLeds = c.opts.TotalLeds
	} else {
		slog.Info("Connected to device", "name", info.Name, "version", info.Version, "leds", info.LedCount)
		c.totalLeds = info.LedCount
		if c.opts.TotalLeds != 0 && c.opts.TotalLeds != info.LedCount {
			slog.Warn("Configured LED count differs from device",
				"configured", c.opts.TotalLeds, "device", info.LedCount)
		}
	}
	if c.totalLeds <= 0 {
		return fmt.Errorf("no usable LED count: device unreachable and none configured")
	}

	if err := c.sink.PrepareForControl(); err != nil {
		slog.Warn("Failed to prepare device for control", "error", err)
	}

	for _, def := range defs {
		if err := c.addSlotLocked(def); err != nil {
			c.teardownSlots()
			return err
		}
	}

	c.start = c.now()
	c.wg.Add(1)
	go c.runLoop()
	slog.Info("Coordinator started", "slots", len(defs), "framerate", c.opts.FrameRate)
	return nil
}

// Shutdown stops the loop and drops all subscriptions. The sink and
// source are left open for their owner to close.
func (c *Coordinator) Shutdown() {
	close(c.stop)
	c.wg.Wait()
	c.teardownSlots()
	slog.Info("Coordinator stopped")
}

// AddSlot registers and starts a new visualization at runtime.
func (c *Coordinator) AddSlot(def config.SlotConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.id == def.SlotID && def.SlotID != "" {
			return fmt.Errorf("slot %s already exists", def.SlotID)
		}
	}
	return c.addSlot(def)
}

// RemoveSlot stops and drops a visualization.
func (c *Coordinator) RemoveSlot(slotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.slots {
		if s.id == slotID {
			if s.unsub != nil {
				s.unsub()
			}
			c.slots = append(c.slots[:i], c.slots[i+1:]...)
			slog.Info("Removed visualization slot", "slot", slotID)
			return nil
		}
	}
	return fmt.Errorf("no slot %s", slotID)
}

// UpdateSlotParam changes one parameter of a running slot. The key is
// the JSON field name; the new configuration is validated before the
// renderer sees it.
func (c *Coordinator) UpdateSlotParam(slotID, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.id != slotID {
			continue
		}
		next, err := s.patched(key, value)
		if err != nil {
			return err
		}
		s.cfg = next
		s.enabled.Store(next.Enabled)
		s.renderer.UpdateConfig(next.EngineConfig())
		slog.Info("Updated slot parameter", "slot", slotID, "key", key, "value", value)
		return nil
	}
	return fmt.Errorf("no slot %s", slotID)
}

// Slots returns the current definitions, for the HTTP API.
func (c *Coordinator) Slots() []config.SlotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]config.SlotConfig, 0, len(c.slots))
	for _, s := range c.slots {
		defs = append(defs, s.cfg)
	}
	return defs
}

func (c *Coordinator) addSlotLocked(def config.SlotConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addSlot(def)
}

func (c *Coordinator) addSlot(def config.SlotConfig) error {
	s, err := newSlot(def)
	if err != nil {
		return err
	}

	entity := s.cfg.EntityID
	unsub, err := c.src.Subscribe([]string{entity}, func(id, state string) {
		c.updates.Put(id, state)
	})
	if err != nil {
		return fmt.Errorf("subscribing slot %s to %s: %w", s.id, entity, err)
	}
	s.unsub = unsub

	// Seed with the last known state so the slot does not stay dark
	// until the entity changes.
	if state := c.src.CurrentState(entity); state != "" {
		c.updates.Put(entity, state)
	}

	c.slots = append(c.slots, s)
	slog.Info("Added visualization slot",
		"slot", s.id, "entity", entity, "renderer", s.cfg.Renderer, "segment", s.cfg.SegmentID)
	return nil
}

func (c *Coordinator) teardownSlots() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.unsub != nil {
			s.unsub()
		}
	}
	c.slots = nil
}

func (c *Coordinator) runLoop() {
	defer c.wg.Done()
	interval := time.Second / time.Duration(c.opts.FrameRate)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		tickStart := c.now()
		c.safeTick(tickStart)
		elapsed := c.now().Sub(tickStart)

		sleep := interval - elapsed
		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}
		select {
		case <-c.stop:
			return
		case <-time.After(sleep):
		}
	}
}

// safeTick keeps a panicking renderer from killing the loop. After a
// panic the loop backs off for a second so a persistent fault does not
// spin the log.
func (c *Coordinator) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in render tick", "panic", r)
			time.Sleep(time.Second)
		}
	}()
	c.runTick(now)
}

// runTick is one frame: drain updates, evaluate alerts, then render the
// normal slots. Alert slots are evaluated first in configuration order;
// the first active one takes over the whole strip and short-circuits
// everything else.
func (c *Coordinator) runTick(now time.Time) {
	ts := now.Sub(c.start).Seconds()

	c.mu.RLock()
	slots := make([]*slot, len(c.slots))
	copy(slots, c.slots)
	c.mu.RUnlock()

	c.applyUpdates(slots)

	if c.renderAlerts(slots, ts) {
		return
	}

	for _, s := range slots {
		if s.isAlert || !s.enabled.Load() {
			continue
		}
		if !s.due(now) {
			continue
		}
		if s.effect != nil {
			c.pushEffect(s, now)
		} else {
			c.pushFrame(s, now, ts)
		}
	}
}

// applyUpdates drains the mailbox once per tick so every slot sees the
// same consistent snapshot of entity states.
func (c *Coordinator) applyUpdates(slots []*slot) {
	pending := c.updates.Drain()
	if pending == nil {
		return
	}
	for _, s := range slots {
		if state, ok := pending[s.cfg.EntityID]; ok {
			s.value = source.ParseState(state)
		}
	}
}

// renderAlerts returns true when an alert took over the strip this
// tick. The takeover latches even when the push fails, so the clearing
// transition still runs once the device is reachable again.
func (c *Coordinator) renderAlerts(slots []*slot, ts float64) bool {
	for _, s := range slots {
		if !s.isAlert || !s.enabled.Load() {
			continue
		}
		frame := s.renderer.Render(s.value, c.totalLeds, ts)
		if len(frame) == 0 {
			continue
		}
		c.alertActive = true
		if err := c.sink.SetAllLeds(frame); err != nil {
			slog.Warn("Failed to push alert frame", "slot", s.id, "error", err)
		}
		return true
	}

	if c.alertActive {
		slog.Info("Alert cleared, resuming normal rendering")
		c.alertActive = false
		// Force the next effect push so stale native parameters left by
		// the takeover cannot linger.
		for _, s := range slots {
			if s.effect != nil {
				s.effect.ResetBaseline()
			}
		}
	}
	return false
}

func (c *Coordinator) pushEffect(s *slot, now time.Time) {
	state := s.effect.ComputeEffectState(s.value)
	// The cadence gate advances even when the state is unchanged, so a
	// noisy sensor cannot force device writes faster than the interval.
	s.lastPush = now
	if !s.effect.HasChanged(state) {
		return
	}

	params := device.EffectParams{
		FX:        device.IntPtr(state.FX),
		Palette:   device.IntPtr(state.Palette),
		Speed:     device.IntPtr(state.Speed),
		Intensity: device.IntPtr(state.Intensity),
		Colors:    device.ColorsPtr(state.Colors),
		Mirror:    device.BoolPtr(state.Mirror),
		Reverse:   device.BoolPtr(state.Reverse),
	}
	if err := c.sink.SetSegmentEffect(s.cfg.SegmentID, params); err != nil {
		slog.Warn("Failed to push effect parameters", "slot", s.id, "error", err)
		return
	}
	s.effect.AcceptState(state)
}

func (c *Coordinator) pushFrame(s *slot, now time.Time, ts float64) {
	frame := s.renderer.Render(s.value, s.cfg.NumLeds, ts)
	if len(frame) == 0 {
		return
	}
	frame = c.dimmer.Apply(frame)
	s.lastPush = now
	if err := c.sink.SetSegmentColors(s.cfg.SegmentID, frame); err != nil {
		slog.Warn("Failed to push frame", "slot", s.id, "error", err)
	}
}

// TotalLeds reports the strip length in use, for status endpoints.
func (c *Coordinator) TotalLeds() int { return c.totalLeds }
