package sim

import (
	"os"
	"strings"
	"testing"

	"github.com/gammazero/deque"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/infraglow/device"
	"lautenbacher.net/infraglow/engine"
	"lautenbacher.net/infraglow/logging"
)

func newTestPreview(t *testing.T) *Preview {
	t.Helper()
	require.NoError(t, logging.Init(logging.Options{Level: "ERROR", Buffered: true}))
	t.Cleanup(func() { logging.Close() })
	return NewPreview(60, make(chan os.Signal, 1))
}

func TestPreview_InfoReportsConfiguredStrip(t *testing.T) {
	p := newTestPreview(t)
	info, err := p.Info()
	require.NoError(t, err)
	assert.Equal(t, 60, info.LedCount)
	assert.NoError(t, p.PrepareForControl())
}

func TestPreview_TakeoverClearedBySegmentPush(t *testing.T) {
	p := newTestPreview(t)

	require.NoError(t, p.SetAllLeds(make(engine.Frame, 60)))
	assert.NotNil(t, p.takeover)

	require.NoError(t, p.SetSegmentColors(0, make(engine.Frame, 30)))
	assert.Nil(t, p.takeover, "a normal push ends the alert takeover display")
	assert.Len(t, p.segments[0], 30)
}

func TestPreview_StripTextShowsSegmentsInOrder(t *testing.T) {
	p := newTestPreview(t)

	require.NoError(t, p.SetSegmentColors(1, engine.Frame{{R: 255}}))
	require.NoError(t, p.SetSegmentColors(0, engine.Frame{{}, {G: 128}}))
	require.NoError(t, p.SetSegmentEffect(1, device.EffectParams{FX: device.IntPtr(46)}))

	p.mu.Lock()
	text := p.renderStripText()
	p.mu.Unlock()

	assert.Less(t, strings.Index(text, "seg 0"), strings.Index(text, "seg 1"))
	assert.Contains(t, text, "·", "off pixels render as dots")
	assert.Contains(t, text, "fx=46")
}

func TestFrameText_ScalesDimColors(t *testing.T) {
	// A dim pure red must still show as full red with a low bar.
	text := frameText(engine.Frame{{R: 10}})
	assert.Contains(t, text, "[#ff0000]")
	assert.Contains(t, text, "▁")

	bright := frameText(engine.Frame{{R: 255, G: 255, B: 255}})
	assert.Contains(t, bright, "█")
}

func TestValueTracker_StatsAndBounds(t *testing.T) {
	v := newValueTracker()
	for i := 0; i < maxValueHistory+10; i++ {
		v.record("sensor.x", "10")
	}
	v.record("sensor.x", "30")
	v.record("binary_sensor.y", "on")

	assert.Equal(t, maxValueHistory, v.history["sensor.x"].Len(), "history is bounded")

	stats := calculateStats(v.history["sensor.x"])
	assert.Equal(t, 10.0, stats.min)
	assert.Equal(t, 30.0, stats.max)
	assert.Greater(t, stats.stdDev, 0.0)

	text := v.displayText()
	assert.Contains(t, text, "sensor.x")
	assert.Contains(t, text, "binary_sensor.y")
	assert.Contains(t, text, "on", "the raw state string is shown alongside the stats")
}

func TestValueTracker_EmptyStats(t *testing.T) {
	assert.Equal(t, valueStats{}, calculateStats(new(deque.Deque[float64])))
}
