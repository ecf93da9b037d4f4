package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names emitted by the turn-taking pipeline.
const (
	EventCommitIssued   = "turn_commit"
	EventFirstDelta     = "response_first_delta"
	EventCancelIssued   = "response_cancel"
	EventPlaybackStop   = "playback_stop"
	EventBargeIn        = "barge_in"
	EventPauseArmed     = "pause_armed"
	EventStaleDropped   = "stale_delta_dropped"
	EventWatchdogFired  = "response_watchdog"
	EventSessionRestart = "session_restart"
)
