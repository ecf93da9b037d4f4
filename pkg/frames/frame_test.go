package frames

import (
	"bytes"
	"testing"
	"time"
)

func TestAudioFrameAccessors(t *testing.T) {
	at := time.Now()
	pcm := []byte{1, 2, 3, 4}
	f := NewAudioFrame(pcm, at, 20*time.Millisecond, 24000)

	if f.Kind() != KindAudio {
		t.Fatalf("Kind = %v", f.Kind())
	}
	if !f.CapturedAt().Equal(at) {
		t.Fatalf("CapturedAt = %v", f.CapturedAt())
	}
	if f.Duration() != 20*time.Millisecond || f.Rate() != 24000 {
		t.Fatalf("Duration/Rate = %v/%d", f.Duration(), f.Rate())
	}
	if !bytes.Equal(f.PCM(), pcm) {
		t.Fatalf("PCM = %v", f.PCM())
	}

	// Data is a defensive copy.
	d := f.Data()
	d[0] = 99
	if f.PCM()[0] != 1 {
		t.Fatal("Data aliases the frame buffer")
	}
}

func TestPooledFrameCopiesAndReleases(t *testing.T) {
	src := []byte{5, 6, 7, 8}
	f := NewAudioFrameFromPool(src, time.Now(), 20*time.Millisecond, 24000)

	src[0] = 0
	if f.PCM()[0] != 5 {
		t.Fatal("pooled frame aliases the source buffer")
	}
	if !ReleaseAudioFrame(f) {
		t.Fatal("pooled frame did not release a buffer")
	}

	plain := NewAudioFrame([]byte{1}, time.Now(), 0, 24000)
	if ReleaseAudioFrame(plain) {
		t.Fatal("non-pooled frame reported a release")
	}
}

func TestControlFrame(t *testing.T) {
	f := NewControlFrame(ControlInterrupt, time.Now(), map[string]string{MetaReason: "test"})
	if f.Kind() != KindControl || f.Code() != ControlInterrupt {
		t.Fatalf("control frame = %v/%v", f.Kind(), f.Code())
	}

	meta := f.Meta()
	meta[MetaReason] = "mutated"
	if f.Meta()[MetaReason] != "test" {
		t.Fatal("Meta exposes internal map")
	}
}

func TestTextFrame(t *testing.T) {
	f := NewTextFrame("hello", time.Now(), true, nil)
	if f.Kind() != KindText || f.Text() != "hello" || !f.Final() {
		t.Fatalf("text frame = %v %q final=%v", f.Kind(), f.Text(), f.Final())
	}
}
