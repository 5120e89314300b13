// Package sim renders the strip in the terminal so visualizations can
// be developed without a device on the network.
package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/tview"
	"golang.org/x/exp/maps"

	"lautenbacher.net/infraglow/device"
	"lautenbacher.net/infraglow/engine"
	"lautenbacher.net/infraglow/logging"
)

// Preview is a device.Sink that draws every push into a tview layout:
// one bar per segment, an extra takeover bar while an alert owns the
// strip, the latest native effect parameters, and live entity values.
type Preview struct {
	totalLeds int

	tviewapp  *tview.Application
	intro     *tview.TextView
	stripView *tview.TextView
	valueView *tview.TextView
	logView   *tview.TextView

	ossignal     chan os.Signal
	logFlushOnce sync.Once
	running      atomic.Bool

	mu        sync.Mutex
	segments  map[int]engine.Frame
	effects   map[int]device.EffectParams
	takeover  engine.Frame
	values    *valueTracker
}

// NewPreview builds the TUI. Run must be called on its own goroutine;
// it blocks until the user quits.
func NewPreview(totalLeds int, ossignal chan os.Signal) *Preview {
	p := &Preview{
		totalLeds: totalLeds,
		tviewapp:  tview.NewApplication(),
		ossignal:  ossignal,
		segments:  make(map[int]engine.Frame),
		effects:   make(map[int]device.EffectParams),
		values:    newValueTracker(),
	}
	p.setupUI()
	return p
}

func (p *Preview) setupUI() {
	p.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	p.intro.SetText("Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload, [#ff0000]Up/Down[-] to scroll logs")
	p.intro.SetBorder(true).SetTitle(" InfraGlow Preview ").SetTitleColor(tcell.ColorLightBlue)
	p.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	p.stripView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	p.stripView.SetBorder(true).SetTitle(" Strip ").SetTitleColor(tcell.ColorLightBlue)
	p.stripView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	p.valueView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	p.valueView.SetBorder(true).SetTitle(" Values ").SetTitleColor(tcell.ColorLightBlue)
	p.valueView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	p.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			p.logView.ScrollToEnd()
			p.tviewapp.Draw()
		})
	p.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	p.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(p.intro, 3, 0, false).
		AddItem(p.stripView, 0, 2, false).
		AddItem(p.valueView, 6, 0, false).
		AddItem(p.logView, 0, 1, true)

	// Route log output into the log pane once the screen exists, so
	// nothing scribbles over the TUI.
	p.tviewapp.SetAfterDrawFunc(func(screen tcell.Screen) {
		p.logFlushOnce.Do(func() {
			logging.Release(tview.ANSIWriter(p.logView))
		})
	})

	p.tviewapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			p.tviewapp.Stop()
			p.ossignal <- os.Interrupt
			return nil
		case tcell.KeyRune:
			switch string(event.Rune()) {
			case "q", "Q":
				p.ossignal <- os.Interrupt
				return nil
			case "r", "R":
				p.ossignal <- syscall.SIGHUP
				return nil
			}
		case tcell.KeyUp:
			row, col := p.logView.GetScrollOffset()
			p.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := p.logView.GetScrollOffset()
			p.logView.ScrollTo(row+1, col)
			return nil
		}
		return event
	})

	p.tviewapp.SetRoot(layout, true)
}

// Run blocks until Stop is called or the user quits.
func (p *Preview) Run() error {
	p.running.Store(true)
	defer p.running.Store(false)
	return p.tviewapp.Run()
}

// Stop shuts the TUI down and returns the terminal.
func (p *Preview) Stop() {
	p.running.Store(false)
	logging.Hold()
	p.tviewapp.Stop()
}

// RecordValue feeds an entity state into the value pane. Wire it as a
// listener on the value source.
func (p *Preview) RecordValue(entityID, state string) {
	p.mu.Lock()
	p.values.record(entityID, state)
	p.mu.Unlock()
	p.redraw()
}

// --- device.Sink ---

func (p *Preview) Info() (device.DeviceInfo, error) {
	return device.DeviceInfo{Name: "preview", Version: "sim", LedCount: p.totalLeds}, nil
}

func (p *Preview) PrepareForControl() error { return nil }

func (p *Preview) SetSegmentColors(segmentID int, frame engine.Frame) error {
	p.mu.Lock()
	p.segments[segmentID] = append(engine.Frame(nil), frame...)
	p.takeover = nil
	p.mu.Unlock()
	p.redraw()
	return nil
}

func (p *Preview) SetAllLeds(frame engine.Frame) error {
	p.mu.Lock()
	p.takeover = append(engine.Frame(nil), frame...)
	p.mu.Unlock()
	p.redraw()
	return nil
}

func (p *Preview) SetSegmentEffect(segmentID int, params device.EffectParams) error {
	p.mu.Lock()
	p.effects[segmentID] = params
	p.takeover = nil
	p.mu.Unlock()
	p.redraw()
	return nil
}

func (p *Preview) Close() error { return nil }

func (p *Preview) redraw() {
	// QueueUpdateDraw blocks until the event loop consumes it, so pushes
	// arriving before Run (or after Stop) are recorded but not drawn.
	if !p.running.Load() {
		return
	}

	p.mu.Lock()
	strip := p.renderStripText()
	values := p.values.displayText()
	p.mu.Unlock()

	p.tviewapp.QueueUpdateDraw(func() {
		p.stripView.SetText(strip)
		p.valueView.SetText(values)
	})
}

// renderStripText builds the strip pane. Must be called with the mutex
// held.
func (p *Preview) renderStripText() string {
	var buf strings.Builder

	if p.takeover != nil {
		buf.WriteString(" [red]ALERT[-]  ")
		buf.WriteString(frameText(p.takeover))
		buf.WriteString("\n\n")
	}

	ids := maps.Keys(p.segments)
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(&buf, " seg %-2d ", id)
		buf.WriteString(frameText(p.segments[id]))
		buf.WriteString("\n")
	}

	fxIDs := maps.Keys(p.effects)
	sort.Ints(fxIDs)
	for _, id := range fxIDs {
		buf.WriteString("\n ")
		buf.WriteString(effectText(id, p.effects[id]))
	}
	return buf.String()
}

// frameText renders one frame as colored block characters. Dim colors
// are rescaled to full saturation so they stay visible on a terminal,
// with brightness expressed by the block height instead.
func frameText(frame engine.Frame) string {
	var buf strings.Builder
	for _, px := range frame {
		if px.IsOff() {
			buf.WriteString("·")
			continue
		}
		buf.WriteString(scaledColorTag(px))
		buf.WriteString(brightnessChar(px))
		buf.WriteString("[-]")
	}
	return buf.String()
}

func brightnessChar(px engine.RGB) string {
	v := (int(px.R) + int(px.G) + int(px.B)) / 3
	switch {
	case v <= 32:
		return "▁"
	case v <= 64:
		return "▂"
	case v <= 96:
		return "▃"
	case v <= 128:
		return "▄"
	case v <= 160:
		return "▅"
	case v <= 192:
		return "▆"
	case v <= 224:
		return "▇"
	default:
		return "█"
	}
}

// scaledColorTag returns a tview color tag with the pixel rescaled so
// its brightest channel hits 255.
func scaledColorTag(px engine.RGB) string {
	maxChan := math.Max(float64(px.R), math.Max(float64(px.G), float64(px.B)))
	if maxChan == 0 {
		return "[#000000]"
	}
	factor := 255 / maxChan
	c := colorful.Color{
		R: math.Min(float64(px.R)*factor, 255) / 255,
		G: math.Min(float64(px.G)*factor, 255) / 255,
		B: math.Min(float64(px.B)*factor, 255) / 255,
	}
	return "[" + c.Hex() + "]"
}

func effectText(segmentID int, params device.EffectParams) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "seg %d effect:", segmentID)
	if params.FX != nil {
		fmt.Fprintf(&buf, " fx=%d", *params.FX)
	}
	if params.Palette != nil {
		fmt.Fprintf(&buf, " pal=%d", *params.Palette)
	}
	if params.Speed != nil {
		fmt.Fprintf(&buf, " sx=%d", *params.Speed)
	}
	if params.Intensity != nil {
		fmt.Fprintf(&buf, " ix=%d", *params.Intensity)
	}
	if params.Colors != nil {
		buf.WriteString(" ")
		for _, c := range params.Colors {
			buf.WriteString(scaledColorTag(c))
			buf.WriteString("██[-]")
		}
	}
	if params.Mirror != nil && *params.Mirror {
		buf.WriteString(" mirror")
	}
	if params.Reverse != nil && *params.Reverse {
		buf.WriteString(" reverse")
	}
	return buf.String()
}
