package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/parlar/pkg/errorsx"
)

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	failErr error
	wrote   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{wrote: make(chan struct{}, 64)}
}

func (f *fakeSink) Write(pcm []byte) error {
	f.mu.Lock()
	err := f.failErr
	if err == nil {
		f.writes = append(f.writes, append([]byte(nil), pcm...))
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.wrote <- struct{}{}
	return nil
}

func (f *fakeSink) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeSink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSink) waitWrite(t *testing.T) {
	t.Helper()
	select {
	case <-f.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sink write")
	}
}

func startCoordinator(t *testing.T, cfg Config, sink Sink) (*Coordinator, context.CancelFunc, chan error) {
	t.Helper()
	c := NewCoordinator(cfg, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	return c, cancel, errc
}

func TestRenderOrderAndProgress(t *testing.T) {
	sink := newFakeSink()
	c, cancel, errc := startCoordinator(t, Config{SampleRate: 24000}, sink)
	defer cancel()

	// 48 bytes of 24kHz PCM16 is 1ms of audio.
	c.Enqueue("resp_1", make([]byte, 480))
	c.Enqueue("resp_1", make([]byte, 480))
	sink.waitWrite(t)
	sink.waitWrite(t)

	if got := c.Rendered("resp_1"); got != 20*time.Millisecond {
		t.Fatalf("Rendered = %v, want 20ms", got)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if sink.writeCount() != 2 {
		t.Fatalf("sink saw %d writes, want 2", sink.writeCount())
	}
}

func TestStopAndDiscardDropsQueuedAndFutureChunks(t *testing.T) {
	sink := newFakeSink()
	c, cancel, _ := startCoordinator(t, Config{}, sink)
	defer cancel()

	c.Enqueue("resp_1", make([]byte, 480))
	sink.waitWrite(t)

	c.StopAndDiscard("resp_1")
	before := sink.writeCount()

	// Late chunks for the cancelled id are refused at the door.
	c.Enqueue("resp_1", make([]byte, 480))
	c.Enqueue("resp_1", make([]byte, 480))

	// A fresh response still renders, which also proves the loop is
	// past anything queued before the cancel.
	c.Enqueue("resp_2", make([]byte, 480))
	sink.waitWrite(t)

	if got := sink.writeCount(); got != before+1 {
		t.Fatalf("writes after cancel = %d, want 1 (resp_2 only)", got-before)
	}
	sink.mu.Lock()
	flushes := sink.flushes
	sink.mu.Unlock()
	if flushes != 1 {
		t.Fatalf("flushes = %d, want 1", flushes)
	}
}

func TestStopAndDiscardEmptyIDClearsQueue(t *testing.T) {
	sink := newFakeSink()
	c := NewCoordinator(Config{}, sink, nil, nil)

	// No render loop running; chunks stay queued.
	c.Enqueue("resp_1", make([]byte, 480))
	c.Enqueue("resp_2", make([]byte, 480))
	if c.QueuedBytes() != 960 {
		t.Fatalf("queued = %d, want 960", c.QueuedBytes())
	}

	c.StopAndDiscard("")
	if c.QueuedBytes() != 0 {
		t.Fatalf("queued after global stop = %d, want 0", c.QueuedBytes())
	}
}

func TestQueueBoundDropsOverflow(t *testing.T) {
	sink := newFakeSink()
	c := NewCoordinator(Config{MaxQueuedBytes: 1000}, sink, nil, nil)

	c.Enqueue("resp_1", make([]byte, 600))
	c.Enqueue("resp_1", make([]byte, 600))
	if c.QueuedBytes() != 600 {
		t.Fatalf("queued = %d, want 600 (overflow dropped)", c.QueuedBytes())
	}
}

func TestDoneReleasesProgress(t *testing.T) {
	sink := newFakeSink()
	c, cancel, _ := startCoordinator(t, Config{}, sink)
	defer cancel()

	c.Enqueue("resp_1", make([]byte, 480))
	sink.waitWrite(t)
	c.Done("resp_1")

	if got := c.Rendered("resp_1"); got != 0 {
		t.Fatalf("Rendered after Done = %v, want 0", got)
	}
}

// stallSink parks inside Write until released, recording the order in
// which writes complete relative to flushes.
type stallSink struct {
	mu      sync.Mutex
	order   []string
	entered chan struct{}
	release chan struct{}
}

func (s *stallSink) Write(pcm []byte) error {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.order = append(s.order, "write")
	s.mu.Unlock()
	return nil
}

func (s *stallSink) Flush() {
	s.mu.Lock()
	s.order = append(s.order, "flush")
	s.mu.Unlock()
}

func TestStopAndDiscardWaitsForInFlightWrite(t *testing.T) {
	sink := &stallSink{entered: make(chan struct{}), release: make(chan struct{})}
	c, cancel, _ := startCoordinator(t, Config{}, sink)
	defer cancel()

	c.Enqueue("resp_1", make([]byte, 480))
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("render loop never reached the sink")
	}

	stopped := make(chan struct{})
	go func() {
		c.StopAndDiscard("resp_1")
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopAndDiscard returned while a chunk was still being written")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAndDiscard did not return after the write completed")
	}

	sink.mu.Lock()
	order := append([]string(nil), sink.order...)
	sink.mu.Unlock()
	if len(order) != 2 || order[0] != "write" || order[1] != "flush" {
		t.Fatalf("sink order = %v, want [write flush]", order)
	}
}

func TestDonePrunesProgressOnceQueueDrains(t *testing.T) {
	sink := newFakeSink()
	c := NewCoordinator(Config{}, sink, nil, nil)

	// Stream completion arrives while chunks are still queued.
	c.Enqueue("resp_1", make([]byte, 480))
	c.Enqueue("resp_1", make([]byte, 480))
	c.Done("resp_1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sink.waitWrite(t)
	sink.waitWrite(t)

	deadline := time.Now().Add(2 * time.Second)
	for c.Rendered("resp_1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Rendered after drain = %v, want 0", c.Rendered("resp_1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSinkFailureSurfacesRenderReason(t *testing.T) {
	sink := newFakeSink()
	sink.failErr = errors.New("device gone")
	c, cancel, errc := startCoordinator(t, Config{}, sink)
	defer cancel()

	c.Enqueue("resp_1", make([]byte, 480))

	select {
	case err := <-errc:
		if !errorsx.HasReason(err, errorsx.ReasonDeviceRender) {
			t.Fatalf("Run error %v lacks render reason", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not surface the sink failure")
	}
}
