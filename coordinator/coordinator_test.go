package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/infraglow/config"
	"lautenbacher.net/infraglow/device"
	"lautenbacher.net/infraglow/engine"
	"lautenbacher.net/infraglow/source"
)

// fakeSink records every push so tests can assert the exact device
// traffic a tick produced.
type fakeSink struct {
	mu        sync.Mutex
	info      device.DeviceInfo
	infoErr   error
	pushErr   error
	prepared  int
	segFrames []segPush
	allFrames []engine.Frame
	effects   []effectPush
}

type segPush struct {
	segment int
	frame   engine.Frame
}

type effectPush struct {
	segment int
	params  device.EffectParams
}

func (f *fakeSink) Info() (device.DeviceInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeSink) PrepareForControl() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared++
	return nil
}

func (f *fakeSink) SetSegmentColors(segmentID int, frame engine.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.segFrames = append(f.segFrames, segPush{segmentID, frame})
	return nil
}

func (f *fakeSink) SetAllLeds(frame engine.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.allFrames = append(f.allFrames, frame)
	return nil
}

func (f *fakeSink) SetSegmentEffect(segmentID int, params device.EffectParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.effects = append(f.effects, effectPush{segmentID, params})
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) counts() (seg, all, fx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segFrames), len(f.allFrames), len(f.effects)
}

// testClock drives the coordinator deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func slotDef(id, entity, renderer string) config.SlotConfig {
	def := config.DefaultSlotConfig()
	def.SlotID = id
	def.EntityID = entity
	def.Renderer = renderer
	def.ApplyModeDefaults()
	return def
}

// harness wires a coordinator without starting the background loop, so
// tests step ticks by hand.
func harness(t *testing.T, defs ...config.SlotConfig) (*Coordinator, *fakeSink, *source.PushSource, *testClock) {
	t.Helper()
	sink := &fakeSink{info: device.DeviceInfo{Name: "test", LedCount: 60}}
	src := source.NewPushSource()
	clock := newTestClock()

	c := New(sink, src, Options{FrameRate: 15, TotalLeds: 60, Now: clock.Now})
	c.totalLeds = 60
	c.start = clock.Now()
	for _, def := range defs {
		require.NoError(t, c.addSlotLocked(def))
	}
	t.Cleanup(c.teardownSlots)
	return c, sink, src, clock
}

func tick(c *Coordinator, clock *testClock) {
	c.runTick(clock.Now())
}

func TestTick_GaugePushesToItsSegment(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	def.SegmentID = 2
	def.NumLeds = 20
	c, sink, src, clock := harness(t, def)

	src.Publish("sensor.load", "50")
	tick(c, clock)

	require.Len(t, sink.segFrames, 1)
	assert.Equal(t, 2, sink.segFrames[0].segment)
	assert.Len(t, sink.segFrames[0].frame, 20)
	assert.Empty(t, sink.allFrames)
}

func TestTick_CadenceGateSkipsEarlyTicks(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	def.UpdateInterval = config.Duration(time.Second)
	c, sink, src, clock := harness(t, def)

	src.Publish("sensor.load", "50")
	tick(c, clock)
	seg, _, _ := sink.counts()
	require.Equal(t, 1, seg)

	clock.Advance(100 * time.Millisecond)
	tick(c, clock)
	seg, _, _ = sink.counts()
	assert.Equal(t, 1, seg, "a tick inside the interval must not push")

	clock.Advance(time.Second)
	tick(c, clock)
	seg, _, _ = sink.counts()
	assert.Equal(t, 2, seg)
}

func TestTick_FlowRendersEveryTick(t *testing.T) {
	c, sink, src, clock := harness(t, slotDef("f", "sensor.rate", engine.TypeFlow))

	src.Publish("sensor.rate", "10")
	for i := 0; i < 3; i++ {
		tick(c, clock)
		clock.Advance(66 * time.Millisecond)
	}
	seg, _, _ := sink.counts()
	assert.Equal(t, 3, seg)
}

func TestTick_DisabledSlotIsSkipped(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	def.Enabled = false
	c, sink, src, clock := harness(t, def)

	src.Publish("sensor.load", "50")
	tick(c, clock)
	seg, all, fx := sink.counts()
	assert.Equal(t, 0, seg+all+fx)
}

func TestTick_AlertTakesOverWholeStrip(t *testing.T) {
	alert := slotDef("a", "binary_sensor.alarm", engine.TypeAlert)
	gauge := slotDef("g", "sensor.load", engine.TypeGauge)
	c, sink, src, clock := harness(t, gauge, alert)

	src.Publish("sensor.load", "50")
	src.Publish("binary_sensor.alarm", "on")
	tick(c, clock)

	require.Len(t, sink.allFrames, 1)
	assert.Len(t, sink.allFrames[0], 60, "alert paints the full strip")
	assert.Empty(t, sink.segFrames, "normal slots are short-circuited during an alert")
}

func TestTick_AlertClearResumesAndResetsEffects(t *testing.T) {
	alert := slotDef("a", "binary_sensor.alarm", engine.TypeAlert)
	effect := slotDef("e", "sensor.load", engine.TypeEffect)
	effect.UpdateInterval = 0
	c, sink, src, clock := harness(t, effect, alert)

	// Effect pushes once and settles.
	src.Publish("sensor.load", "50")
	tick(c, clock)
	_, _, fx := sink.counts()
	require.Equal(t, 1, fx)
	tick(c, clock)
	_, _, fx = sink.counts()
	require.Equal(t, 1, fx, "unchanged effect state must not re-push")

	// Alert fires, then clears.
	src.Publish("binary_sensor.alarm", "on")
	tick(c, clock)
	_, all, _ := sink.counts()
	require.Equal(t, 1, all)

	src.Publish("binary_sensor.alarm", "off")
	tick(c, clock)
	_, _, fx = sink.counts()
	assert.Equal(t, 2, fx, "clearing an alert must force the effect baseline out")
}

func TestTick_AlertLatchesEvenWhenPushFails(t *testing.T) {
	alert := slotDef("a", "binary_sensor.alarm", engine.TypeAlert)
	effect := slotDef("e", "sensor.load", engine.TypeEffect)
	c, sink, src, clock := harness(t, effect, alert)

	src.Publish("sensor.load", "50")
	tick(c, clock)

	sink.mu.Lock()
	sink.pushErr = fmt.Errorf("device unreachable")
	sink.mu.Unlock()

	src.Publish("binary_sensor.alarm", "on")
	tick(c, clock)
	assert.True(t, c.alertActive, "takeover latches despite the failed push")

	sink.mu.Lock()
	sink.pushErr = nil
	sink.mu.Unlock()

	src.Publish("binary_sensor.alarm", "off")
	clock.Advance(time.Second)
	tick(c, clock)
	_, _, fx := sink.counts()
	assert.Equal(t, 2, fx, "clear transition still runs after a failed alert push")
}

func TestTick_EffectHysteresis(t *testing.T) {
	effect := slotDef("e", "sensor.load", engine.TypeEffect)
	effect.UpdateInterval = 0
	c, sink, src, clock := harness(t, effect)

	src.Publish("sensor.load", "50")
	tick(c, clock)
	_, _, fx := sink.counts()
	require.Equal(t, 1, fx)

	// A large jump crosses every threshold.
	src.Publish("sensor.load", "90")
	tick(c, clock)
	_, _, fx = sink.counts()
	assert.Equal(t, 2, fx)

	// Identical value computes an identical state.
	src.Publish("sensor.load", "90")
	tick(c, clock)
	_, _, fx = sink.counts()
	assert.Equal(t, 2, fx)
}

func TestTick_PushFailureDoesNotAbortTick(t *testing.T) {
	g1 := slotDef("g1", "sensor.a", engine.TypeGauge)
	g2 := slotDef("g2", "sensor.b", engine.TypeGauge)
	c, sink, src, clock := harness(t, g1, g2)
	sink.pushErr = fmt.Errorf("boom")

	src.Publish("sensor.a", "10")
	src.Publish("sensor.b", "20")
	assert.NotPanics(t, func() { tick(c, clock) })
}

func TestTick_ValueDrainIsLatestWins(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	def.FillDirection = engine.FillLeftToRight
	def.NumLeds = 10
	c, sink, src, clock := harness(t, def)

	src.Publish("sensor.load", "10")
	src.Publish("sensor.load", "100")
	tick(c, clock)

	require.Len(t, sink.segFrames, 1)
	lit := 0
	for _, px := range sink.segFrames[0].frame {
		if !px.IsOff() {
			lit++
		}
	}
	assert.Equal(t, 10, lit, "only the newest value of the tick is rendered")
}

func TestUpdateSlotParam(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	c, _, _, _ := harness(t, def)

	require.NoError(t, c.UpdateSlotParam("g", "ceiling", 200.0))
	assert.Equal(t, 200.0, c.Slots()[0].Ceiling)

	require.NoError(t, c.UpdateSlotParam("g", "color_high", "#0000ff"))
	assert.Equal(t, config.Color{0, 0, 255}, c.Slots()[0].ColorHigh)

	require.NoError(t, c.UpdateSlotParam("g", "enabled", false))
	assert.False(t, c.Slots()[0].Enabled)

	assert.Error(t, c.UpdateSlotParam("g", "bogus_key", 1), "unknown keys are rejected")
	assert.Error(t, c.UpdateSlotParam("g", "num_leds", 0), "patched config is validated")
	assert.Error(t, c.UpdateSlotParam("g", "renderer_type", "flow"))
	assert.Error(t, c.UpdateSlotParam("g", "slot_id", "other"))
	assert.Error(t, c.UpdateSlotParam("missing", "ceiling", 1.0))
}

func TestUpdateSlotParam_DisableStopsPushes(t *testing.T) {
	def := slotDef("g", "sensor.load", engine.TypeGauge)
	c, sink, src, clock := harness(t, def)

	src.Publish("sensor.load", "50")
	tick(c, clock)
	seg, _, _ := sink.counts()
	require.Equal(t, 1, seg)

	require.NoError(t, c.UpdateSlotParam("g", "enabled", false))
	clock.Advance(2 * time.Second)
	tick(c, clock)
	seg, _, _ = sink.counts()
	assert.Equal(t, 1, seg)
}

func TestAddAndRemoveSlot(t *testing.T) {
	c, sink, src, clock := harness(t)

	def := slotDef("", "sensor.load", engine.TypeGauge)
	require.NoError(t, c.AddSlot(def))
	slots := c.Slots()
	require.Len(t, slots, 1)
	assert.NotEmpty(t, slots[0].SlotID, "missing slot ids are generated")

	src.Publish("sensor.load", "50")
	tick(c, clock)
	seg, _, _ := sink.counts()
	require.Equal(t, 1, seg)

	require.NoError(t, c.RemoveSlot(slots[0].SlotID))
	assert.Empty(t, c.Slots())
	assert.Error(t, c.RemoveSlot(slots[0].SlotID))

	src.Publish("sensor.load", "80")
	clock.Advance(2 * time.Second)
	tick(c, clock)
	seg, _, _ = sink.counts()
	assert.Equal(t, 1, seg, "removed slots render nothing")
}

func TestAddSlot_RejectsDuplicateAndInvalid(t *testing.T) {
	c, _, _, _ := harness(t, slotDef("g", "sensor.load", engine.TypeGauge))

	assert.Error(t, c.AddSlot(slotDef("g", "sensor.other", engine.TypeGauge)))

	bad := slotDef("x", "", engine.TypeGauge)
	assert.Error(t, c.AddSlot(bad))
}

func TestSetup_FallsBackToConfiguredLedCount(t *testing.T) {
	sink := &fakeSink{infoErr: fmt.Errorf("timeout")}
	src := source.NewPushSource()
	clock := newTestClock()
	c := New(sink, src, Options{FrameRate: 15, TotalLeds: 42, Now: clock.Now})

	require.NoError(t, c.Setup(nil))
	defer c.Shutdown()
	assert.Equal(t, 42, c.TotalLeds())
}

func TestSetup_SeedsFromCurrentState(t *testing.T) {
	sink := &fakeSink{info: device.DeviceInfo{LedCount: 60}}
	src := source.NewPushSource()
	src.Publish("sensor.load", "75")
	clock := newTestClock()

	c := New(sink, src, Options{FrameRate: 15, Now: clock.Now})
	require.NoError(t, c.Setup([]config.SlotConfig{slotDef("g", "sensor.load", engine.TypeGauge)}))
	defer c.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if seg, _, _ := sink.counts(); seg > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("seeded value never produced a push")
}

func TestUpdateHandler(t *testing.T) {
	c, _, _, _ := harness(t, slotDef("g", "sensor.load", engine.TypeGauge))
	handler := c.UpdateHandler()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/api/slots/update", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"slot_id": "g", "param": "floor", "value": 10}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10.0, c.Slots()[0].Floor)

	assert.Equal(t, http.StatusBadRequest, post(`{"param": "floor", "value": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"slot_id": "g", "param": "bogus", "value": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`garbage`).Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/slots/update", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSlotsHandler(t *testing.T) {
	c, _, _, _ := harness(t, slotDef("g", "sensor.load", engine.TypeGauge))

	rec := httptest.NewRecorder()
	c.SlotsHandler()(rec, httptest.NewRequest(http.MethodGet, "/api/slots", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var defs []config.SlotConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "g", defs[0].SlotID)
	assert.Equal(t, engine.TypeGauge, defs[0].Renderer)
}

func TestShutdownStopsLoop(t *testing.T) {
	sink := &fakeSink{info: device.DeviceInfo{LedCount: 60}}
	c := New(sink, source.NewPushSource(), Options{FrameRate: 15})
	require.NoError(t, c.Setup(nil))

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
