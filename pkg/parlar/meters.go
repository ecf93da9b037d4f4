package parlar

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/harunnryd/parlar/pkg/audio"
)

// meters tracks byte counters and recent peak levels for both stream
// directions. Everything is atomic so the device thread and the render
// goroutine can update without coordination.
type meters struct {
	micBytes atomic.Int64
	spkBytes atomic.Int64
	micPeak  atomic.Uint64
	spkPeak  atomic.Uint64
}

func (m *meters) observeMic(pcm []byte) {
	m.micBytes.Add(int64(len(pcm)))
	storeMaxLevel(&m.micPeak, audio.PeakLevel(pcm))
}

func (m *meters) observeSpeaker(pcm []byte) {
	m.spkBytes.Add(int64(len(pcm)))
	storeMaxLevel(&m.spkPeak, audio.PeakLevel(pcm))
}

// takePeaks returns and clears the interval peaks.
func (m *meters) takePeaks() (mic, spk float64) {
	mic = math.Float64frombits(m.micPeak.Swap(0))
	spk = math.Float64frombits(m.spkPeak.Swap(0))
	return mic, spk
}

func (m *meters) totals() (mic, spk int64) {
	return m.micBytes.Load(), m.spkBytes.Load()
}

func storeMaxLevel(slot *atomic.Uint64, level float64) {
	for {
		old := slot.Load()
		if level <= math.Float64frombits(old) {
			return
		}
		if slot.CompareAndSwap(old, math.Float64bits(level)) {
			return
		}
	}
}

// statusLoop logs a periodic line with stream levels, turn state and
// playback backlog.
func (e *Engine) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			micPeak, spkPeak := e.meters.takePeaks()
			micBytes, spkBytes := e.meters.totals()
			e.log.Debug("status",
				"state", e.turn.State().String(),
				"mic_peak", micPeak,
				"speaker_peak", spkPeak,
				"mic_bytes", micBytes,
				"speaker_bytes", spkBytes,
				"playback_queued", e.player.QueuedBytes(),
			)
		}
	}
}

func (e *Engine) logSummary() {
	micBytes, spkBytes := e.meters.totals()
	e.log.Info("session_summary",
		"mic_bytes", micBytes,
		"speaker_bytes", spkBytes,
		"dropped_metrics", e.asyncObs.Dropped(),
	)
}
