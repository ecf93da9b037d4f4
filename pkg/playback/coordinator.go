// Package playback renders assistant audio and makes cancellation
// immediate: once a response is stopped, none of its remaining bytes
// reach the output device.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/parlar/pkg/errorsx"
	"github.com/harunnryd/parlar/pkg/metrics"
)

// Sink is the output device boundary. Write blocks until the device has
// accepted the chunk; Flush drops anything the device still holds.
type Sink interface {
	Write(pcm []byte) error
	Flush()
}

// Config tunes the coordinator.
type Config struct {
	// SampleRate of the PCM16 mono stream, used to convert rendered
	// bytes into playback time.
	SampleRate int
	// MaxQueuedBytes bounds the jitter buffer. Zero means 4MB.
	MaxQueuedBytes int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.MaxQueuedBytes <= 0 {
		c.MaxQueuedBytes = 4 << 20
	}
	return c
}

type chunk struct {
	responseID string
	pcm        []byte
}

// Coordinator queues response audio keyed by response id and feeds it to
// the sink from a single render goroutine. StopAndDiscard is synchronous:
// when it returns, no further chunk of that response will be written.
type Coordinator struct {
	cfg  Config
	sink Sink
	obs  metrics.Observer
	log  *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []chunk
	queued    int
	inflight  string
	cancelled map[string]struct{}
	rendered  map[string]int
	doneIDs   map[string]struct{}
	closed    bool
}

func NewCoordinator(cfg Config, sink Sink, obs metrics.Observer, log *slog.Logger) *Coordinator {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		sink:      sink,
		obs:       obs,
		log:       log,
		cancelled: make(map[string]struct{}),
		rendered:  make(map[string]int),
		doneIDs:   make(map[string]struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Enqueue adds one decoded audio chunk for the given response. Chunks of a
// cancelled response are dropped at the door.
func (c *Coordinator) Enqueue(responseID string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, bad := c.cancelled[responseID]; bad {
		return
	}
	if c.queued+len(pcm) > c.cfg.MaxQueuedBytes {
		c.log.Warn("playback_queue_full", "response_id", responseID, "queued_bytes", c.queued)
		return
	}
	buf := append([]byte(nil), pcm...)
	c.queue = append(c.queue, chunk{responseID: responseID, pcm: buf})
	c.queued += len(buf)
	c.cond.Signal()
}

// StopAndDiscard cancels a response: queued chunks are dropped, the device
// buffer is flushed, and any chunk of that id still arriving is refused.
// The empty id cancels everything currently queued.
func (c *Coordinator) StopAndDiscard(responseID string) {
	c.mu.Lock()
	if responseID != "" {
		c.cancelled[responseID] = struct{}{}
		c.pruneCancelledLocked()
	}
	kept := c.queue[:0]
	for _, ch := range c.queue {
		if responseID == "" || ch.responseID == responseID {
			c.queued -= len(ch.pcm)
			continue
		}
		kept = append(kept, ch)
	}
	c.queue = kept
	// A chunk the render loop already dequeued may still be inside
	// sink.Write. Wait it out so no byte of the response lands after
	// the flush below.
	for c.inflight != "" && (responseID == "" || c.inflight == responseID) {
		c.cond.Wait()
	}
	renderedMS := c.renderedMSLocked(responseID)
	if responseID == "" {
		c.rendered = make(map[string]int)
		c.doneIDs = make(map[string]struct{})
	} else {
		delete(c.rendered, responseID)
		delete(c.doneIDs, responseID)
	}
	c.mu.Unlock()

	c.sink.Flush()
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventPlaybackStop,
		Time:  time.Now(),
		Value: float64(renderedMS),
		Tags:  map[string]string{"response_id": responseID},
	})
}

// Done marks a response's audio stream complete. Rendering of already
// queued chunks continues; bookkeeping for the id is released once its
// last chunk leaves the queue.
func (c *Coordinator) Done(responseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.queue {
		if ch.responseID == responseID {
			c.doneIDs[responseID] = struct{}{}
			return
		}
	}
	delete(c.rendered, responseID)
}

// Rendered reports how much audio of the response has been written to
// the sink, as playback time.
func (c *Coordinator) Rendered(responseID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.renderedMSLocked(responseID)) * time.Millisecond
}

// QueuedBytes reports the current jitter buffer fill.
func (c *Coordinator) QueuedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

// Close ends the render loop once the queue drains. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Run is the render loop. It exits when the context is cancelled and the
// queue has drained, or on a sink write failure.
func (c *Coordinator) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.closed = true
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return nil
		}
		ch := c.queue[0]
		c.queue = c.queue[1:]
		c.queued -= len(ch.pcm)
		if _, bad := c.cancelled[ch.responseID]; bad {
			c.mu.Unlock()
			continue
		}
		c.rendered[ch.responseID] += len(ch.pcm)
		c.inflight = ch.responseID
		c.mu.Unlock()

		err := c.sink.Write(ch.pcm)

		c.mu.Lock()
		c.inflight = ""
		if _, fin := c.doneIDs[ch.responseID]; fin && !c.hasQueuedLocked(ch.responseID) {
			delete(c.doneIDs, ch.responseID)
			delete(c.rendered, ch.responseID)
		}
		c.cond.Broadcast()
		c.mu.Unlock()
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonDeviceRender)
		}
	}
}

func (c *Coordinator) hasQueuedLocked(responseID string) bool {
	for _, ch := range c.queue {
		if ch.responseID == responseID {
			return true
		}
	}
	return false
}

func (c *Coordinator) renderedMSLocked(responseID string) int64 {
	bytesPerMS := int64(c.cfg.SampleRate) * 2 / 1000
	if bytesPerMS == 0 {
		return 0
	}
	return int64(c.rendered[responseID]) / bytesPerMS
}

// pruneCancelledLocked keeps the cancelled set bounded. Old ids cannot
// recur once the session has moved on several responses.
func (c *Coordinator) pruneCancelledLocked() {
	if len(c.cancelled) <= 32 {
		return
	}
	for id := range c.cancelled {
		delete(c.cancelled, id)
		if len(c.cancelled) <= 16 {
			return
		}
	}
}
