package realtime

import "time"

// EventType enumerates the abstract session events the engine consumes.
// Wire-level event names are folded into this taxonomy by the client; the
// engine never sees protocol strings.
type EventType string

const (
	// EventSpeechStarted: server VAD detected the user speaking.
	EventSpeechStarted EventType = "speech_started"
	// EventSpeechStopped: server VAD detected end of user speech.
	EventSpeechStopped EventType = "speech_stopped"
	// EventCommitted: the input audio buffer was committed server-side;
	// the utterance is sealed and a response may be requested.
	EventCommitted EventType = "committed"
	// EventTranscriptDelta: incremental user transcript text.
	EventTranscriptDelta EventType = "transcript_delta"
	// EventTranscriptCompleted: finalized user transcript for the turn.
	EventTranscriptCompleted EventType = "transcript_completed"
	// EventAudioDelta: one chunk of assistant PCM audio.
	EventAudioDelta EventType = "audio_delta"
	// EventAudioDone: assistant audio for the response is complete.
	EventAudioDone EventType = "audio_done"
	// EventTextDelta: incremental assistant transcript text.
	EventTextDelta EventType = "text_delta"
	// EventItemAdded: an assistant conversation item was created; its id
	// is the truncate target on interruption.
	EventItemAdded EventType = "item_added"
	// EventResponseDone: the response lifecycle ended (any reason).
	EventResponseDone EventType = "response_done"
	// EventError: the server reported an error.
	EventError EventType = "error"
)

// SessionEvent is the tagged union of everything arriving from the remote
// session. Created by the channel, consumed once by the engine, never
// retained.
type SessionEvent struct {
	Type       EventType
	ReceivedAt time.Time

	// Text holds transcript or text-delta content.
	Text string
	// Audio holds decoded PCM16 for EventAudioDelta.
	Audio []byte
	// ResponseID tags response-scoped events.
	ResponseID string
	// ItemID tags conversation items (truncate target).
	ItemID string
	// Err is set for EventError.
	Err *ServerError
}

// ServerError is the server-reported error detail.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Benign reports whether the error is an expected race artifact, such as
// cancelling a response the server already finished.
func (e *ServerError) Benign() bool {
	return e != nil && e.Code == "response_cancel_not_active"
}
