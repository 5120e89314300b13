package device

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/infraglow/engine"
)

// fakeDevice records every state payload posted to it.
type fakeDevice struct {
	t        *testing.T
	payloads []map[string]any
	status   int
}

func (f *fakeDevice) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/info":
			io.WriteString(w, `{"name": "Office Strip", "ver": "0.14.4", "leds": {"count": 60}}`)
		case "/json/state":
			body, err := io.ReadAll(r.Body)
			require.NoError(f.t, err)
			var payload map[string]any
			require.NoError(f.t, json.Unmarshal(body, &payload))
			f.payloads = append(f.payloads, payload)
			if f.status != 0 {
				w.WriteHeader(f.status)
				return
			}
			io.WriteString(w, `{"success": true}`)
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestClient(t *testing.T) (*WLED, *fakeDevice) {
	t.Helper()
	fake := &fakeDevice{t: t}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewWLED(u.Hostname(), port), fake
}

func (f *fakeDevice) lastSegment(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, f.payloads)
	segs, ok := f.payloads[len(f.payloads)-1]["seg"].([]any)
	require.True(t, ok, "payload must carry a seg array")
	require.Len(t, segs, 1)
	return segs[0].(map[string]any)
}

func TestWLED_Info(t *testing.T) {
	client, _ := newTestClient(t)

	info, err := client.Info()
	require.NoError(t, err)
	assert.Equal(t, "Office Strip", info.Name)
	assert.Equal(t, "0.14.4", info.Version)
	assert.Equal(t, 60, info.LedCount)
}

func TestWLED_PrepareForControl(t *testing.T) {
	client, fake := newTestClient(t)

	require.NoError(t, client.PrepareForControl())
	require.Len(t, fake.payloads, 1)
	assert.Equal(t, true, fake.payloads[0]["on"])
	assert.Equal(t, float64(0), fake.payloads[0]["transition"])
}

func TestWLED_SetSegmentColorsFlattensFrame(t *testing.T) {
	client, fake := newTestClient(t)

	frame := engine.Frame{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}}
	require.NoError(t, client.SetSegmentColors(2, frame))

	seg := fake.lastSegment(t)
	assert.Equal(t, float64(2), seg["id"])
	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0}, seg["i"].([]any))
	_, hasStart := seg["start"]
	assert.False(t, hasStart, "segment pushes must not redefine bounds")
}

func TestWLED_SetAllLedsOverridesSegmentation(t *testing.T) {
	client, fake := newTestClient(t)

	frame := make(engine.Frame, 60)
	require.NoError(t, client.SetAllLeds(frame))

	seg := fake.lastSegment(t)
	assert.Equal(t, float64(0), seg["id"])
	assert.Equal(t, float64(0), seg["start"])
	assert.Equal(t, float64(60), seg["stop"])
	assert.Len(t, seg["i"].([]any), 180)
}

func TestWLED_SetSegmentEffectOmitsNilFields(t *testing.T) {
	client, fake := newTestClient(t)

	require.NoError(t, client.SetSegmentEffect(1, EffectParams{
		FX:    IntPtr(46),
		Speed: IntPtr(128),
	}))

	seg := fake.lastSegment(t)
	assert.Equal(t, float64(46), seg["fx"])
	assert.Equal(t, float64(128), seg["sx"])
	for _, absent := range []string{"pal", "ix", "col", "mi", "rev"} {
		_, ok := seg[absent]
		assert.False(t, ok, "unset field %s must stay absent", absent)
	}
}

func TestWLED_SetSegmentEffectFullPayload(t *testing.T) {
	client, fake := newTestClient(t)

	colors := [3]engine.RGB{{R: 255}, {G: 255}, {B: 255}}
	require.NoError(t, client.SetSegmentEffect(0, EffectParams{
		FX:        IntPtr(2),
		Palette:   IntPtr(11),
		Speed:     IntPtr(60),
		Intensity: IntPtr(200),
		Colors:    ColorsPtr(colors),
		Mirror:    BoolPtr(true),
		Reverse:   BoolPtr(false),
	}))

	seg := fake.lastSegment(t)
	assert.Equal(t, float64(11), seg["pal"])
	assert.Equal(t, float64(200), seg["ix"])
	assert.Equal(t, true, seg["mi"])
	assert.Equal(t, false, seg["rev"])
	cols := seg["col"].([]any)
	require.Len(t, cols, 3)
	assert.Equal(t, []any{255.0, 0.0, 0.0}, cols[0].([]any))
}

func TestWLED_PowerAndBrightness(t *testing.T) {
	client, fake := newTestClient(t)

	require.NoError(t, client.SetPower(false))
	require.NoError(t, client.SetBrightness(128))
	require.Len(t, fake.payloads, 2)
	assert.Equal(t, false, fake.payloads[0]["on"])
	assert.Equal(t, float64(128), fake.payloads[1]["bri"])
}

func TestWLED_ErrorStatusSurfaces(t *testing.T) {
	client, fake := newTestClient(t)
	fake.status = http.StatusInternalServerError

	err := client.SetPower(true)
	assert.Error(t, err)
}

func TestWLED_UnreachableDevice(t *testing.T) {
	client := NewWLED("127.0.0.1", 1) // nothing listens here
	_, err := client.Info()
	assert.Error(t, err)
	assert.Error(t, client.PrepareForControl())
}
