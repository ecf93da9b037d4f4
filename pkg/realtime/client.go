// Package realtime implements the duplex event channel to the remote
// conversational speech service. It owns the websocket lifecycle and JSON
// framing; consumers only see the SessionEvent taxonomy and the outgoing
// control operations.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/parlar/pkg/errorsx"
)

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModel   = "gpt-realtime"

	maxRedials    = 5
	redialBackoff = 500 * time.Millisecond
)

// Channel is the engine-facing boundary to the remote session. All send
// operations are fire-and-forget: they enqueue and return without waiting
// on the network.
type Channel interface {
	Start(ctx context.Context) error
	Events() <-chan SessionEvent
	AppendAudio(pcm []byte) error
	CommitTurn() error
	RequestResponse() error
	CancelResponse(responseID string) error
	TruncateItem(itemID string, cutoff time.Duration) error
	Close() error
}

// SessionConfig carries the session.update parameters negotiated at start.
type SessionConfig struct {
	Voice        string
	Instructions string
	// Server VAD endpointing.
	VADThreshold    float64
	SilenceDuration time.Duration
	PrefixPadding   time.Duration
}

// Config configures the websocket client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Session SessionConfig
	Log     *slog.Logger
}

// Client is the gorilla/websocket implementation of Channel. One writer
// goroutine drains the outgoing queue; one reader goroutine decodes
// incoming events. Redials with capped backoff on transport errors.
type Client struct {
	cfg Config
	log *slog.Logger

	events   chan SessionEvent
	outgoing chan []byte

	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Channel = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		log:      cfg.Log,
		events:   make(chan SessionEvent, 256),
		outgoing: make(chan []byte, 256),
	}
}

func (c *Client) Events() <-chan SessionEvent { return c.events }

// Start dials the service, sends session.update and launches the reader
// and writer loops. It returns once the session is established.
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.dial(ctx)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionConnect)
	}
	c.setConn(conn)

	if err := c.sendSessionUpdate(); err != nil {
		conn.Close()
		return errorsx.Wrap(err, errorsx.ReasonSessionConnect)
	}

	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", c.cfg.BaseURL, c.cfg.Model)
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.BaseURL, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) sendSessionUpdate() error {
	s := c.cfg.Session
	update := clientEvent{
		Type:    "session.update",
		EventID: uuid.NewString(),
		Session: &sessionParams{
			Modalities:        []string{"audio", "text"},
			Voice:             s.Voice,
			Instructions:      s.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionParams{
				Model: "whisper-1",
			},
			TurnDetection: &turnDetectionParams{
				Type:              "server_vad",
				Threshold:         s.VADThreshold,
				SilenceDurationMS: int(s.SilenceDuration / time.Millisecond),
				PrefixPaddingMS:   int(s.PrefixPadding / time.Millisecond),
				// Responses are requested explicitly by the engine once
				// the local pause budget elapses; the server never
				// auto-creates them.
				CreateResponse: false,
			},
		},
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	conn := c.currentConn()
	if conn == nil {
		return fmt.Errorf("connection not established")
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue queues an outgoing wire event without blocking. A full queue
// drops the event and reports a send failure.
func (c *Client) enqueue(ev clientEvent) error {
	if c.closed.Load() {
		return errorsx.Wrap(fmt.Errorf("session closed"), errorsx.ReasonSessionClosed)
	}
	ev.EventID = uuid.NewString()
	data, err := json.Marshal(ev)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionSend)
	}
	select {
	case c.outgoing <- data:
		return nil
	default:
		return errorsx.Wrap(fmt.Errorf("outgoing queue full"), errorsx.ReasonSessionSend)
	}
}

// AppendAudio forwards one microphone chunk as base64 PCM16.
func (c *Client) AppendAudio(pcm []byte) error {
	return c.enqueue(clientEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitTurn seals the current input buffer as one user turn.
func (c *Client) CommitTurn() error {
	return c.enqueue(clientEvent{Type: "input_audio_buffer.commit"})
}

// RequestResponse asks the service to start generating a response.
func (c *Client) RequestResponse() error {
	return c.enqueue(clientEvent{Type: "response.create"})
}

// CancelResponse cancels the in-flight response. The server treats a
// cancel for an already-finished response as benign.
func (c *Client) CancelResponse(responseID string) error {
	return c.enqueue(clientEvent{Type: "response.cancel", ResponseID: responseID})
}

// TruncateItem drops unplayed assistant audio server-side so conversation
// context matches what the user actually heard.
func (c *Client) TruncateItem(itemID string, cutoff time.Duration) error {
	if itemID == "" {
		return nil
	}
	contentIndex := 0
	audioEnd := int(cutoff / time.Millisecond)
	return c.enqueue(clientEvent{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: &contentIndex,
		AudioEndMS:   &audioEnd,
	})
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if conn := c.currentConn(); conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.wg.Wait()
	close(c.events)
	return nil
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outgoing:
			conn := c.currentConn()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if c.closed.Load() {
					return
				}
				c.log.Warn("session_send_failed", "error", err.Error())
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			if !c.redial(ctx) {
				c.emit(SessionEvent{
					Type:       EventError,
					ReceivedAt: time.Now(),
					Err:        &ServerError{Code: "transport_closed", Message: err.Error()},
				})
				return
			}
			continue
		}
		if ev, ok := decodeServerEvent(data); ok {
			c.emit(ev)
		}
	}
}

// redial attempts to re-establish the session with capped backoff,
// re-sending session.update on success.
func (c *Client) redial(ctx context.Context) bool {
	for attempt := 1; attempt <= maxRedials; attempt++ {
		if c.closed.Load() || ctx.Err() != nil {
			return false
		}
		backoff := time.Duration(attempt) * redialBackoff
		c.log.Warn("session_redial", "attempt", attempt, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		conn, err := c.dial(ctx)
		if err != nil {
			continue
		}
		c.setConn(conn)
		if err := c.sendSessionUpdate(); err != nil {
			conn.Close()
			continue
		}
		return true
	}
	return false
}

func (c *Client) emit(ev SessionEvent) {
	select {
	case c.events <- ev:
	default:
		// The engine fell behind; prefer dropping one event over
		// blocking the read loop.
		c.log.Warn("session_event_dropped", "type", string(ev.Type))
	}
}
