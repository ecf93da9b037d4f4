package frames

import (
	"sync"
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
)

// ControlCode identifies out-of-band commands flowing between tasks.
type ControlCode string

const (
	// ControlInterrupt is an explicit user-issued interrupt. It bypasses
	// barge-in evaluation entirely.
	ControlInterrupt ControlCode = "interrupt"
	// ControlQuit requests a graceful shutdown of all tasks.
	ControlQuit ControlCode = "quit"
)

const (
	MetaSource     = "source"
	MetaReason     = "reason"
	MetaResponseID = "response_id"
)

// Frame is a timestamped unit of data exchanged over task channels.
// Timestamps are monotonic (time.Time retains the monotonic clock reading)
// so consumers can impose a single deterministic arrival order.
type Frame interface {
	Kind() Kind
	CapturedAt() time.Time
	Meta() map[string]string
}

// AudioFrame carries one fixed-duration PCM16 chunk. It is immutable once
// produced; ownership transfers to the consumer, which releases pooled
// frames exactly once.
type AudioFrame struct {
	pcm        []byte
	capturedAt time.Time
	duration   time.Duration
	rate       int
	pooled     bool
}

func NewAudioFrame(pcm []byte, capturedAt time.Time, duration time.Duration, rate int) AudioFrame {
	return AudioFrame{pcm: pcm, capturedAt: capturedAt, duration: duration, rate: rate}
}

// NewAudioFrameFromPool copies pcm into a pooled buffer. Consumers that
// finish with the frame must hand it to ReleaseAudioFrame.
func NewAudioFrameFromPool(pcm []byte, capturedAt time.Time, duration time.Duration, rate int) AudioFrame {
	buf := acquireBuf(len(pcm))
	copy(buf, pcm)
	return AudioFrame{pcm: buf, capturedAt: capturedAt, duration: duration, rate: rate, pooled: true}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) CapturedAt() time.Time   { return a.capturedAt }
func (a AudioFrame) Meta() map[string]string { return nil }
func (a AudioFrame) Duration() time.Duration { return a.duration }
func (a AudioFrame) Rate() int               { return a.rate }

// PCM returns the raw sample bytes without copying. The caller must not
// mutate or retain them past the frame's release.
func (a AudioFrame) PCM() []byte { return a.pcm }

// Data returns a defensive copy of the sample bytes.
func (a AudioFrame) Data() []byte { return append([]byte(nil), a.pcm...) }

// ReleaseAudioFrame returns a pooled frame's buffer to the pool. Frames not
// allocated from the pool are a no-op; reports whether a buffer was released.
func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		if ap, ok := f.(*AudioFrame); ok {
			af = *ap
		} else {
			return false
		}
	}
	if af.pooled {
		releaseBuf(af.pcm)
		return true
	}
	return false
}

// TextFrame carries a transcript fragment. Final marks the end of one
// utterance's transcript.
type TextFrame struct {
	text       string
	capturedAt time.Time
	final      bool
	meta       map[string]string
}

func NewTextFrame(text string, capturedAt time.Time, final bool, meta map[string]string) TextFrame {
	return TextFrame{text: text, capturedAt: capturedAt, final: final, meta: cloneMeta(meta)}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) CapturedAt() time.Time   { return t.capturedAt }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }
func (t TextFrame) Final() bool             { return t.final }

type ControlFrame struct {
	code       ControlCode
	capturedAt time.Time
	meta       map[string]string
}

func NewControlFrame(code ControlCode, capturedAt time.Time, meta map[string]string) ControlFrame {
	return ControlFrame{code: code, capturedAt: capturedAt, meta: cloneMeta(meta)}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) CapturedAt() time.Time   { return c.capturedAt }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func acquireBuf(size int) []byte {
	b := bufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func releaseBuf(b []byte) {
	bufPool.Put(b[:0])
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
