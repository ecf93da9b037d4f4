// Package audio provides PCM16 level metering and a rolling energy
// envelope used for endpointing and barge-in onset detection.
package audio

import (
	"encoding/binary"
	"math"
)

// PeakLevel returns the normalized peak amplitude of little-endian PCM16
// mono samples, in [0, 1].
func PeakLevel(pcm []byte) float64 {
	var peak int32
	for off := 0; off+2 <= len(pcm); off += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	level := float64(peak) / float64(math.MaxInt16)
	if level > 1 {
		return 1
	}
	return level
}

// RMSLevel returns the normalized root-mean-square level of little-endian
// PCM16 mono samples, in [0, 1].
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for off := 0; off+2 <= len(pcm); off += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(n)) / float64(math.MaxInt16)
	if rms > 1 {
		return 1
	}
	return rms
}

// Envelope is a rolling short-window estimate of signal energy. It is
// mutated only by whichever task currently consumes the frame stream and
// is never shared for concurrent writes.
type Envelope struct {
	window []sample
	size   int
}

type sample struct {
	rms  float64
	peak float64
}

// NewEnvelope creates an envelope over the last size frames. A size of
// zero defaults to 8 frames (~160ms at 20ms chunks).
func NewEnvelope(size int) *Envelope {
	if size <= 0 {
		size = 8
	}
	return &Envelope{size: size}
}

// Observe folds one frame's worth of PCM into the window and returns its
// peak level.
func (e *Envelope) Observe(pcm []byte) float64 {
	s := sample{rms: RMSLevel(pcm), peak: PeakLevel(pcm)}
	e.window = append(e.window, s)
	if len(e.window) > e.size {
		e.window = e.window[len(e.window)-e.size:]
	}
	return s.peak
}

// Peak returns the most recent frame's peak level.
func (e *Envelope) Peak() float64 {
	if len(e.window) == 0 {
		return 0
	}
	return e.window[len(e.window)-1].peak
}

// Falling reports whether the trailing energy trend is decaying toward
// silence: the mean RMS of the newer half of the window sits below the
// older half and the latest frame is near the floor.
func (e *Envelope) Falling(silenceFloor float64) bool {
	if len(e.window) < 4 {
		return false
	}
	mid := len(e.window) / 2
	var older, newer float64
	for i, s := range e.window {
		if i < mid {
			older += s.rms
		} else {
			newer += s.rms
		}
	}
	older /= float64(mid)
	newer /= float64(len(e.window) - mid)
	return newer < older && e.window[len(e.window)-1].rms <= silenceFloor
}

// Reset clears the window, typically at utterance boundaries.
func (e *Envelope) Reset() {
	e.window = e.window[:0]
}
