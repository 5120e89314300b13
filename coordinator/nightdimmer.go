package coordinator

import (
	"time"

	"github.com/nathan-osman/go-sunrise"

	"lautenbacher.net/infraglow/config"
	"lautenbacher.net/infraglow/engine"
)

// nightDimmer scales pixel frames down between sunset and sunrise at
// the configured location. Alert frames bypass it: an alarm has to be
// seen at full brightness.
type nightDimmer struct {
	cfg config.NightDimConfig
	now func() time.Time

	// The sun times are recomputed once per day.
	cachedDay  time.Time
	cachedRise time.Time
	cachedSet  time.Time
}

func newNightDimmer(cfg config.NightDimConfig, now func() time.Time) *nightDimmer {
	return &nightDimmer{cfg: cfg, now: now}
}

// Apply returns the frame, dimmed in place when it is night.
func (d *nightDimmer) Apply(frame engine.Frame) engine.Frame {
	if !d.cfg.Enabled || !d.isNight() {
		return frame
	}
	f := d.cfg.Factor
	for i, c := range frame {
		frame[i] = engine.RGB{
			R: uint8(float64(c.R) * f),
			G: uint8(float64(c.G) * f),
			B: uint8(float64(c.B) * f),
		}
	}
	return frame
}

func (d *nightDimmer) isNight() bool {
	now := d.now().UTC()
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(d.cachedDay) {
		d.cachedRise, d.cachedSet = sunrise.SunriseSunset(
			d.cfg.Latitude, d.cfg.Longitude, now.Year(), now.Month(), now.Day())
		d.cachedDay = day
	}
	// Polar day or night: SunriseSunset returns zero times.
	if d.cachedRise.IsZero() || d.cachedSet.IsZero() {
		return false
	}
	return now.Before(d.cachedRise) || now.After(d.cachedSet)
}
