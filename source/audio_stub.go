//go:build !cgo

package source

import (
	"fmt"
	"time"
)

// AudioEntityID is the entity published by the audio loudness source.
const AudioEntityID = "infraglow.audio_level"

type AudioOptions struct {
	SampleRate      int
	FramesPerBuffer int
	UpdatePeriod    time.Duration
	MinDB           float64
	MaxDB           float64
}

// AudioSource needs cgo for the portaudio bindings.
type AudioSource struct{}

func NewAudioSource(_ *PushSource, _ AudioOptions) (*AudioSource, error) {
	return nil, fmt.Errorf("audio capture requires a cgo-enabled build")
}

func (a *AudioSource) Close() error { return nil }
