package turn

import (
	"strings"
	"time"

	"github.com/harunnryd/parlar/pkg/audio"
)

// Completeness is the binary endpointing classification for the current
// utterance.
type Completeness int

const (
	// Ambiguous: no terminal cue; the user may continue. Maps to the
	// long pause ceiling.
	Ambiguous Completeness = iota
	// Complete: the utterance plausibly ended. Maps to the short pause
	// floor.
	Complete
)

func (c Completeness) String() string {
	if c == Complete {
		return "complete"
	}
	return "ambiguous"
}

// Hesitation markers and trailing conjunctions that signal an unfinished
// clause even after a silence gap.
var ambiguousTails = []string{
	"uh", "um", "er", "hmm",
	"and", "but", "or", "so", "because", "then",
}

// Estimator classifies an in-progress utterance from its partial
// transcript and trailing energy shape, and sizes the pause budget.
// Classification is deterministic and stateless given its two inputs.
type Estimator struct {
	floor        time.Duration
	ceiling      time.Duration
	silenceFloor float64
}

// NewEstimator builds an estimator with the given pause bounds. Zero
// values pick the defaults (200ms floor, 700ms ceiling). The ceiling
// guarantees forward progress under persistent ambiguity.
func NewEstimator(floor, ceiling time.Duration, silenceFloor float64) *Estimator {
	if floor <= 0 {
		floor = 200 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 700 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = floor
	}
	if silenceFloor <= 0 {
		silenceFloor = 0.01
	}
	return &Estimator{floor: floor, ceiling: ceiling, silenceFloor: silenceFloor}
}

// Classify returns Complete when the transcript ends with a terminal
// punctuation cue, or when the energy envelope is falling into silence
// with no hesitation tail. Everything else is Ambiguous.
func (e *Estimator) Classify(transcript string, env *audio.Envelope) Completeness {
	text := strings.TrimSpace(transcript)

	if tailWordAmbiguous(text) {
		return Ambiguous
	}
	if strings.HasSuffix(text, "...") || strings.HasSuffix(text, ",") {
		return Ambiguous
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		return Complete
	}
	if env != nil && env.Falling(e.silenceFloor) {
		return Complete
	}
	return Ambiguous
}

// PauseFor maps the classification onto the pause budget: Complete yields
// the floor, Ambiguous the ceiling. No other value is produced.
func (e *Estimator) PauseFor(c Completeness) time.Duration {
	if c == Complete {
		return e.floor
	}
	return e.ceiling
}

// Floor returns the short pause bound.
func (e *Estimator) Floor() time.Duration { return e.floor }

// Ceiling returns the long pause bound.
func (e *Estimator) Ceiling() time.Duration { return e.ceiling }

func tailWordAmbiguous(text string) bool {
	if text == "" {
		return true
	}
	trimmed := strings.ToLower(strings.TrimRight(text, " \t"))
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return true
	}
	last := strings.Trim(fields[len(fields)-1], ",")
	for _, marker := range ambiguousTails {
		if last == marker {
			return true
		}
	}
	return false
}
