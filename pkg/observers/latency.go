package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/parlar/pkg/metrics"
)

// LatencyObserver correlates events for one response id and logs the two
// spans that dominate perceived responsiveness: commit to first audio
// delta, and cancel to playback stop.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	commitAt     time.Time
	firstDeltaAt time.Time
	cancelAt     time.Time
	stopAt       time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	responseID := ""
	if ev.Tags != nil {
		responseID = ev.Tags["response_id"]
	}
	if responseID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[responseID]
	if t == nil {
		t = &trace{}
		o.traces[responseID] = t
	}
	switch ev.Name {
	case metrics.EventCommitIssued:
		if t.commitAt.IsZero() {
			t.commitAt = ev.Time
		}
	case metrics.EventFirstDelta:
		if t.firstDeltaAt.IsZero() {
			t.firstDeltaAt = ev.Time
			if !t.commitAt.IsZero() {
				o.log.Info("response_latency",
					"response_id", responseID,
					"commit_to_first_delta_ms", t.firstDeltaAt.Sub(t.commitAt).Milliseconds(),
				)
			}
		}
	case metrics.EventCancelIssued:
		if t.cancelAt.IsZero() {
			t.cancelAt = ev.Time
		}
	case metrics.EventPlaybackStop:
		if t.stopAt.IsZero() {
			t.stopAt = ev.Time
			if !t.cancelAt.IsZero() {
				o.log.Info("interrupt_latency",
					"response_id", responseID,
					"cancel_to_stop_ms", t.stopAt.Sub(t.cancelAt).Milliseconds(),
				)
			}
			delete(o.traces, responseID)
		}
	}
}
