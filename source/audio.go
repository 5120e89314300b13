//go:build cgo

package source

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gordonklaus/portaudio"
)

// AudioEntityID is the entity published by the audio loudness source.
const AudioEntityID = "infraglow.audio_level"

// AudioOptions tunes the capture and the dB window mapped onto 0-100.
type AudioOptions struct {
	SampleRate      int
	FramesPerBuffer int
	UpdatePeriod    time.Duration
	MinDB           float64
	MaxDB           float64
}

// AudioSource samples the default input device, computes RMS loudness
// in dBFS, and publishes it scaled to 0-100 through the given
// PushSource. One process-wide instance owns the portaudio runtime.
type AudioSource struct {
	sink   *PushSource
	opts   AudioOptions
	stream *portaudio.Stream
	buf    []float32
	stop   chan struct{}
	done   chan struct{}
}

func NewAudioSource(sink *PushSource, opts AudioOptions) (*AudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	a := &AudioSource{
		sink: sink,
		opts: opts,
		buf:  make([]float32, opts.FramesPerBuffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(
		1, 0, float64(opts.SampleRate), opts.FramesPerBuffer, a.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening capture stream: %w", err)
	}
	a.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting capture stream: %w", err)
	}

	go a.loop()
	slog.Info("Audio loudness source started",
		"samplerate", opts.SampleRate, "entity", AudioEntityID)
	return a, nil
}

func (a *AudioSource) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.opts.UpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.stream.Read(); err != nil {
				slog.Warn("Audio read failed", "error", err)
				continue
			}
			level := a.scaledLoudness()
			a.sink.Publish(AudioEntityID, strconv.FormatFloat(level, 'f', 1, 64))
		}
	}
}

// scaledLoudness maps the buffer's RMS in dBFS onto [0,100] using the
// configured window.
func (a *AudioSource) scaledLoudness() float64 {
	var sum float64
	for _, s := range a.buf {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(a.buf)))
	db := -120.0
	if rms > 0 {
		db = 20 * math.Log10(rms)
	}

	span := a.opts.MaxDB - a.opts.MinDB
	if span <= 0 {
		return 0
	}
	t := (db - a.opts.MinDB) / span
	return math.Max(0, math.Min(1, t)) * 100
}

func (a *AudioSource) Close() error {
	close(a.stop)
	<-a.done
	err := a.stream.Stop()
	a.stream.Close()
	portaudio.Terminate()
	return err
}
