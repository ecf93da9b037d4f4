package turn

import (
	"strings"
	"time"

	"github.com/harunnryd/parlar/pkg/audio"
	"github.com/harunnryd/parlar/pkg/frames"
)

// CancelReason records what evidence justified a cancellation.
type CancelReason string

const (
	CancelReasonEnergy  CancelReason = "energy"
	CancelReasonKeyword CancelReason = "keyword"
	CancelReasonUserKey CancelReason = "user_key"
)

// CancelToken identifies one in-flight cancellation. Ids increase
// monotonically so a stale token arriving after a later one has been
// accepted is ignored.
type CancelToken struct {
	ID         uint64
	Reason     CancelReason
	ResponseID string
	IssuedAt   time.Time
}

// Signal is the detector's verdict that an interruption is genuine.
// Produced once per continuous onset, consumed once by the engine.
type Signal struct {
	OnsetAt        time.Time
	Sustained      time.Duration
	PeakLevel      float64
	MatchedKeyword string
}

// DetectorConfig tunes the barge-in gates.
type DetectorConfig struct {
	// EnergyThreshold is the normalized peak level (0..1) that counts as
	// candidate speech while the assistant is rendering.
	EnergyThreshold float64
	// OnsetDuration is the minimum continuous time above threshold
	// before an energy onset is trusted. Rejects clicks and coughs.
	OnsetDuration time.Duration
	// Cooldown is the minimum interval between emitted signals,
	// regardless of cause.
	Cooldown time.Duration
	// Keywords are interrupt phrases matched against the streaming
	// partial transcript; lexical evidence relaxes the onset gate.
	Keywords []string
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.22
	}
	if c.OnsetDuration <= 0 {
		c.OnsetDuration = 40 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 400 * time.Millisecond
	}
	if c.Keywords == nil {
		c.Keywords = []string{"stop", "wait", "hold on", "hey"}
	}
	return c
}

// Detector watches microphone energy and partial transcript content while
// the assistant is speaking. It is driven entirely by the engine reactor;
// no internal locking is needed.
type Detector struct {
	cfg DetectorConfig

	onsetAt   time.Time
	sustained time.Duration
	peak      float64

	// consumed latches once the current onset has produced a signal. It
	// clears only on a falling edge, so one uninterrupted stretch of loud
	// audio can never emit twice no matter how long it runs.
	consumed bool

	partial      strings.Builder
	lastSignalAt time.Time
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe feeds one microphone frame. It returns a Signal when the onset
// gate passes (sustained energy above threshold for at least the onset
// duration) outside the cooldown interval, and nil otherwise.
func (d *Detector) Observe(f frames.AudioFrame) *Signal {
	level := audio.PeakLevel(f.PCM())
	now := f.CapturedAt()

	if level < d.cfg.EnergyThreshold {
		d.resetOnset()
		d.consumed = false
		return nil
	}

	if d.onsetAt.IsZero() {
		d.onsetAt = now
		d.sustained = 0
		d.peak = 0
	}
	d.sustained += f.Duration()
	if level > d.peak {
		d.peak = level
	}

	if d.consumed {
		return nil
	}
	if d.sustained < d.cfg.OnsetDuration {
		return nil
	}
	if !d.cooldownElapsed(now) {
		return nil
	}
	sig := &Signal{
		OnsetAt:   d.onsetAt,
		Sustained: d.sustained,
		PeakLevel: d.peak,
	}
	d.lastSignalAt = now
	d.consumed = true
	return sig
}

// ObserveTranscript feeds a streaming partial transcript fragment. A
// recognized interrupt phrase bypasses the onset requirement: lexical
// evidence of intent is stronger than raw energy.
func (d *Detector) ObserveTranscript(delta string, now time.Time) *Signal {
	d.partial.WriteString(delta)
	if !d.cooldownElapsed(now) {
		return nil
	}
	text := strings.ToLower(d.partial.String())
	for _, kw := range d.cfg.Keywords {
		if strings.HasPrefix(text, kw) || strings.Contains(text, " "+kw) {
			sig := &Signal{
				OnsetAt:        now,
				Sustained:      d.sustained,
				PeakLevel:      d.peak,
				MatchedKeyword: kw,
			}
			d.lastSignalAt = now
			d.partial.Reset()
			d.resetOnset()
			d.consumed = true
			return sig
		}
	}
	return nil
}

// OnsetActive reports whether a candidate onset is currently accumulating.
// Half-duplex mode leaks these frames upstream as barge-in evidence.
func (d *Detector) OnsetActive() bool {
	return !d.onsetAt.IsZero()
}

// Reset clears onset and transcript accumulation at turn boundaries. The
// cooldown clock is deliberately preserved across turns.
func (d *Detector) Reset() {
	d.resetOnset()
	d.consumed = false
	d.partial.Reset()
}

func (d *Detector) resetOnset() {
	d.onsetAt = time.Time{}
	d.sustained = 0
	d.peak = 0
}

func (d *Detector) cooldownElapsed(now time.Time) bool {
	return d.lastSignalAt.IsZero() || now.Sub(d.lastSignalAt) >= d.cfg.Cooldown
}
