// Package audio holds the PCM clip type exchanged with speech providers and
// the helpers to move clips in and out of WAV containers.
//
// All PCM handled here is 16-bit signed little-endian, interleaved when a
// clip has more than one channel.
package audio

import (
	"fmt"
	"time"
)

// BitsPerSample is the sample width of every [Clip].
const BitsPerSample = 16

// SpeechRate is the sample rate speech recognisers expect.
const SpeechRate = 16000

// Clip is a buffer of 16-bit PCM audio.
type Clip struct {
	// PCM holds interleaved little-endian int16 samples.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Empty reports whether the clip holds no samples.
func (c Clip) Empty() bool { return len(c.PCM) < 2 }

// Frames returns the number of sample frames (one sample per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / (2 * c.Channels)
}

// Duration returns the playback length of the clip. Invalid formats yield 0.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks the clip format and that PCM is a whole number of frames.
func (c Clip) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d", c.Channels)
	}
	if len(c.PCM)%(2*c.Channels) != 0 {
		return fmt.Errorf("audio: %d PCM bytes is not a whole number of %s frames",
			len(c.PCM), formatString(c.SampleRate, c.Channels))
	}
	return nil
}

// Mono returns the clip down-mixed to one channel.
func (c Clip) Mono() Clip {
	if c.Channels <= 1 {
		return c
	}
	var pcm []byte
	if c.Channels == 2 {
		pcm = StereoToMono(c.PCM)
	} else {
		pcm = Downmix(c.PCM, c.Channels)
	}
	return Clip{PCM: pcm, SampleRate: c.SampleRate, Channels: 1}
}

// ForSpeech returns the clip as 16 kHz mono, the format recognisers work on.
func (c Clip) ForSpeech() Clip {
	m := c.Mono()
	if m.SampleRate == SpeechRate {
		return m
	}
	return Clip{PCM: ResampleMono16(m.PCM, m.SampleRate, SpeechRate), SampleRate: SpeechRate, Channels: 1}
}

func (c Clip) String() string {
	return fmt.Sprintf("%s %s", formatString(c.SampleRate, c.Channels), c.Duration())
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
