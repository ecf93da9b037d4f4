package turn

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/harunnryd/parlar/pkg/frames"
)

// pcmConst builds a PCM16LE buffer of the given constant amplitude.
func pcmConst(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func audioFrameAt(amplitude int16, at time.Time) frames.AudioFrame {
	// 20ms of 24kHz mono PCM16.
	return frames.NewAudioFrame(pcmConst(amplitude, 480), at, 20*time.Millisecond, 24000)
}

func TestDetectorRejectsBriefSpike(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	base := time.Now()

	// One loud 20ms frame is below the 40ms onset requirement.
	if sig := d.Observe(audioFrameAt(12000, base)); sig != nil {
		t.Fatalf("single loud frame emitted a signal: %+v", sig)
	}
	// Silence resets the onset; the next loud frame starts over.
	if sig := d.Observe(audioFrameAt(100, base.Add(20*time.Millisecond))); sig != nil {
		t.Fatalf("quiet frame emitted a signal")
	}
	if sig := d.Observe(audioFrameAt(12000, base.Add(40*time.Millisecond))); sig != nil {
		t.Fatalf("loud frame after reset emitted a signal")
	}
}

func TestDetectorSustainedOnset(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	base := time.Now()

	if sig := d.Observe(audioFrameAt(12000, base)); sig != nil {
		t.Fatalf("premature signal after 20ms")
	}
	sig := d.Observe(audioFrameAt(12000, base.Add(20*time.Millisecond)))
	if sig == nil {
		t.Fatal("no signal after 40ms of sustained energy")
	}
	if !sig.OnsetAt.Equal(base) {
		t.Fatalf("OnsetAt = %v, want onset start %v", sig.OnsetAt, base)
	}
	if sig.Sustained < 40*time.Millisecond {
		t.Fatalf("Sustained = %v, want >= 40ms", sig.Sustained)
	}
	if sig.PeakLevel < 0.22 {
		t.Fatalf("PeakLevel = %v, want above threshold", sig.PeakLevel)
	}
}

func TestDetectorContinuousOnsetEmitsOnce(t *testing.T) {
	d := NewDetector(DetectorConfig{Cooldown: 400 * time.Millisecond})
	base := time.Now()

	// 60 back-to-back loud frames cover three full cooldown intervals.
	// The uninterrupted onset still yields exactly one signal.
	var signals int
	at := base
	for i := 0; i < 60; i++ {
		if sig := d.Observe(audioFrameAt(12000, at)); sig != nil {
			signals++
		}
		at = at.Add(20 * time.Millisecond)
	}
	if signals != 1 {
		t.Fatalf("continuous onset emitted %d signals, want exactly 1", signals)
	}

	// A falling edge ends the onset; the next rising edge may signal again.
	d.Observe(audioFrameAt(100, at))
	at = at.Add(20 * time.Millisecond)
	d.Observe(audioFrameAt(12000, at))
	if sig := d.Observe(audioFrameAt(12000, at.Add(20*time.Millisecond))); sig == nil {
		t.Fatal("no signal for a fresh onset after a falling edge")
	}
}

func TestDetectorCooldownSuppressesRepeatSignals(t *testing.T) {
	d := NewDetector(DetectorConfig{Cooldown: 400 * time.Millisecond})
	base := time.Now()

	d.Observe(audioFrameAt(12000, base))
	if sig := d.Observe(audioFrameAt(12000, base.Add(20*time.Millisecond))); sig == nil {
		t.Fatal("expected first signal")
	}

	// Falling edge, then a second sustained onset inside the cooldown.
	d.Observe(audioFrameAt(100, base.Add(40*time.Millisecond)))
	at := base.Add(60 * time.Millisecond)
	for i := 0; i < 8; i++ {
		if sig := d.Observe(audioFrameAt(12000, at)); sig != nil {
			t.Fatalf("signal emitted inside cooldown at +%v", at.Sub(base))
		}
		at = at.Add(20 * time.Millisecond)
	}

	// Another falling edge, then a fresh onset past the cooldown signals.
	d.Observe(audioFrameAt(100, base.Add(240*time.Millisecond)))
	at = base.Add(500 * time.Millisecond)
	d.Observe(audioFrameAt(12000, at))
	if sig := d.Observe(audioFrameAt(12000, at.Add(20*time.Millisecond))); sig == nil {
		t.Fatal("no signal after cooldown elapsed")
	}
}

func TestDetectorKeywordBypassesOnset(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	now := time.Now()

	sig := d.ObserveTranscript("sto", now)
	if sig != nil {
		t.Fatalf("partial prefix matched prematurely")
	}
	sig = d.ObserveTranscript("p", now.Add(50*time.Millisecond))
	if sig == nil {
		t.Fatal("keyword across fragments not matched")
	}
	if sig.MatchedKeyword != "stop" {
		t.Fatalf("MatchedKeyword = %q, want %q", sig.MatchedKeyword, "stop")
	}
}

func TestDetectorKeywordMidSentence(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	now := time.Now()

	sig := d.ObserveTranscript("okay wait", now)
	if sig == nil {
		t.Fatal("mid-sentence keyword not matched")
	}
	if sig.MatchedKeyword != "wait" {
		t.Fatalf("MatchedKeyword = %q, want %q", sig.MatchedKeyword, "wait")
	}
}

func TestDetectorResetPreservesCooldown(t *testing.T) {
	d := NewDetector(DetectorConfig{Cooldown: 400 * time.Millisecond})
	base := time.Now()

	d.Observe(audioFrameAt(12000, base))
	if sig := d.Observe(audioFrameAt(12000, base.Add(20*time.Millisecond))); sig == nil {
		t.Fatal("expected first signal")
	}

	d.Reset()

	// A new onset right after Reset is still inside the cooldown.
	at := base.Add(60 * time.Millisecond)
	d.Observe(audioFrameAt(12000, at))
	if sig := d.Observe(audioFrameAt(12000, at.Add(20*time.Millisecond))); sig != nil {
		t.Fatalf("cooldown lost across Reset")
	}
}

func TestDetectorOnsetActive(t *testing.T) {
	d := NewDetector(DetectorConfig{})
	base := time.Now()

	if d.OnsetActive() {
		t.Fatal("onset active before any frame")
	}
	d.Observe(audioFrameAt(12000, base))
	if !d.OnsetActive() {
		t.Fatal("onset not active during accumulation")
	}
	d.Observe(audioFrameAt(100, base.Add(20*time.Millisecond)))
	if d.OnsetActive() {
		t.Fatal("onset still active after silence")
	}
}
