package realtime

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// clientEvent is the outgoing wire shape. Fields are a union across the
// event types the client sends; omitempty keeps each frame minimal.
type clientEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// input_audio_buffer.append
	Audio string `json:"audio,omitempty"`

	// response.cancel
	ResponseID string `json:"response_id,omitempty"`

	// conversation.item.truncate
	ItemID       string `json:"item_id,omitempty"`
	ContentIndex *int   `json:"content_index,omitempty"`
	AudioEndMS   *int   `json:"audio_end_ms,omitempty"`

	// session.update
	Session *sessionParams `json:"session,omitempty"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionParams `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// serverEvent is the incoming wire shape, a union across the event types
// the client reacts to. Unknown types are ignored.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Item       *struct {
		ID   string `json:"id,omitempty"`
		Role string `json:"role,omitempty"`
	} `json:"item,omitempty"`
	Response *struct {
		ID string `json:"id,omitempty"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// decodeServerEvent folds a raw wire message into the abstract taxonomy.
// The second return is false for unknown or malformed events, which are
// dropped without side effects.
func decodeServerEvent(data []byte) (SessionEvent, bool) {
	var wire serverEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return SessionEvent{}, false
	}

	ev := SessionEvent{ReceivedAt: time.Now(), ResponseID: wire.ResponseID, ItemID: wire.ItemID}

	switch wire.Type {
	case "input_audio_buffer.speech_started":
		ev.Type = EventSpeechStarted
	case "input_audio_buffer.speech_stopped":
		ev.Type = EventSpeechStopped
	case "input_audio_buffer.committed":
		ev.Type = EventCommitted
	case "conversation.item.input_audio_transcription.delta":
		ev.Type = EventTranscriptDelta
		ev.Text = wire.Delta
	case "conversation.item.input_audio_transcription.completed":
		ev.Type = EventTranscriptCompleted
		ev.Text = wire.Transcript
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(wire.Delta)
		if err != nil || len(pcm) == 0 {
			return SessionEvent{}, false
		}
		ev.Type = EventAudioDelta
		ev.Audio = pcm
	case "response.audio.done":
		ev.Type = EventAudioDone
	case "response.text.delta", "response.audio_transcript.delta":
		ev.Type = EventTextDelta
		ev.Text = wire.Delta
	case "response.output_item.added":
		ev.Type = EventItemAdded
		if wire.Item != nil {
			ev.ItemID = wire.Item.ID
		}
	case "conversation.item.created":
		// Only assistant items matter; they are the truncate targets.
		if wire.Item == nil || wire.Item.Role != "assistant" {
			return SessionEvent{}, false
		}
		ev.Type = EventItemAdded
		ev.ItemID = wire.Item.ID
	case "response.done":
		ev.Type = EventResponseDone
		if wire.Response != nil && ev.ResponseID == "" {
			ev.ResponseID = wire.Response.ID
		}
	case "response.created":
		// Surfaced as a response-scoped item event so the engine can learn
		// the server-assigned response id before the first delta.
		ev.Type = EventItemAdded
		if wire.Response != nil {
			ev.ResponseID = wire.Response.ID
		}
	case "error":
		ev.Type = EventError
		ev.Err = &ServerError{}
		if wire.Error != nil {
			ev.Err.Code = wire.Error.Code
			ev.Err.Message = wire.Error.Message
		}
	default:
		return SessionEvent{}, false
	}
	return ev, true
}
