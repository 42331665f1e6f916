package audio

import (
	"math"
	"time"
)

// RMS returns the root-mean-square energy of 16-bit PCM, in sample units
// (0 to 32767). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// TrimSilence removes leading and trailing windows whose RMS energy is below
// threshold. The clip is processed in windows of the given length; a clip
// that is silent throughout becomes empty.
func TrimSilence(c Clip, threshold float64, window time.Duration) Clip {
	if c.SampleRate <= 0 || c.Channels <= 0 || window <= 0 {
		return c
	}
	frame := 2 * c.Channels
	step := int(int64(c.SampleRate)*int64(window)/int64(time.Second)) * frame
	if step <= 0 || len(c.PCM) <= step {
		if RMS(c.PCM) < threshold {
			return Clip{SampleRate: c.SampleRate, Channels: c.Channels}
		}
		return c
	}

	start := 0
	for start < len(c.PCM) && RMS(c.PCM[start:min(start+step, len(c.PCM))]) < threshold {
		start += step
	}
	if start >= len(c.PCM) {
		return Clip{SampleRate: c.SampleRate, Channels: c.Channels}
	}

	end := len(c.PCM)
	for end > start {
		lo := max(end-step, start)
		if RMS(c.PCM[lo:end]) >= threshold {
			break
		}
		end = lo
	}
	return Clip{PCM: c.PCM[start:end], SampleRate: c.SampleRate, Channels: c.Channels}
}
