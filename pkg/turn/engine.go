// Package turn implements the turn-taking and interruption coordinator:
// a single-reactor state machine that decides when the user has plausibly
// finished speaking and when assistant output must be cancelled for a
// genuine barge-in.
package turn

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/parlar/pkg/audio"
	"github.com/harunnryd/parlar/pkg/frames"
	"github.com/harunnryd/parlar/pkg/metrics"
	"github.com/harunnryd/parlar/pkg/realtime"
)

// SessionControl is the outgoing half of the remote session boundary.
// Every call is fire-and-forget; none may block the reactor.
type SessionControl interface {
	AppendAudio(pcm []byte) error
	CommitTurn() error
	RequestResponse() error
	CancelResponse(responseID string) error
	TruncateItem(itemID string, cutoff time.Duration) error
}

// Player is the playback boundary. StopAndDiscard must take effect
// synchronously; Rendered reports how much of a response the user has
// actually heard.
type Player interface {
	Enqueue(responseID string, pcm []byte)
	StopAndDiscard(responseID string)
	Done(responseID string)
	Rendered(responseID string) time.Duration
}

// EngineConfig tunes the reactor.
type EngineConfig struct {
	// PauseFloor and PauseCeiling bound the adaptive pause budget.
	PauseFloor   time.Duration
	PauseCeiling time.Duration
	// ResponseWatchdog bounds the wait for a first audio delta after a
	// response is requested.
	ResponseWatchdog time.Duration
	// SuppressAfterCancel is the window during which late deltas for a
	// cancelled response are dropped instead of rendered.
	SuppressAfterCancel time.Duration
	// HalfDuplex suppresses mic forwarding while the assistant speaks,
	// except onset leakage needed as barge-in evidence.
	HalfDuplex bool

	Detector DetectorConfig
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ResponseWatchdog <= 0 {
		c.ResponseWatchdog = 5 * time.Second
	}
	if c.SuppressAfterCancel <= 0 {
		c.SuppressAfterCancel = 800 * time.Millisecond
	}
	return c
}

type timerFired struct {
	gen      uint64
	watchdog bool
}

// input is the merged, ordered event stream the reactor consumes.
type input struct {
	frame *frames.AudioFrame
	event *realtime.SessionEvent
	timer *timerFired
}

// Engine owns the only TurnState and all turn-scoped mutable data. One
// goroutine (Run) consumes the inbox; user commands arrive on a separate
// channel checked first, which implements the source priority
// user key > barge-in > natural completion > timer expiry.
type Engine struct {
	cfg EngineConfig

	sm  *stateMachine
	est *Estimator
	det *Detector

	session SessionControl
	player  Player
	obs     metrics.Observer
	log     *slog.Logger

	inbox chan input
	ctrl  chan frames.ControlFrame

	// Reactor-owned state. Never touched outside the Run goroutine.
	env           *audio.Envelope
	partial       string
	reply         strings.Builder
	assistantText func(text string)
	committed     bool
	pauseGen      uint64
	watchdogGen   uint64
	pauseTimer    *time.Timer
	watchdogTimer *time.Timer
	responseID    string
	itemID        string
	cancelSeq     uint64
	cancelledID   string
	suppressUntil time.Time

	framesDropped uint64
}

// NewEngine wires the reactor to its collaborators. Estimator may be nil,
// in which case config pause bounds (or defaults) apply.
func NewEngine(cfg EngineConfig, session SessionControl, player Player, obs metrics.Observer, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		sm:      newStateMachine(),
		est:     NewEstimator(cfg.PauseFloor, cfg.PauseCeiling, 0),
		det:     NewDetector(cfg.Detector),
		session: session,
		player:  player,
		obs:     obs,
		log:     log,
		inbox:   make(chan input, 512),
		ctrl:    make(chan frames.ControlFrame, 4),
		env:     audio.NewEnvelope(0),
	}
}

// State returns the current turn state.
func (e *Engine) State() State { return e.sm.State() }

// AddListener registers a state change listener.
func (e *Engine) AddListener(l StateListener) { e.sm.AddListener(l) }

// OnAssistantText registers a callback for the assistant's accumulated
// reply text, invoked from the reactor goroutine at natural completion.
// Cancelled replies are never delivered. Must be set before Run.
func (e *Engine) OnAssistantText(fn func(text string)) { e.assistantText = fn }

// SubmitFrame enqueues one microphone frame. It never blocks: when the
// inbox is full the frame is dropped and released.
func (e *Engine) SubmitFrame(f frames.AudioFrame) {
	select {
	case e.inbox <- input{frame: &f}:
	default:
		frames.ReleaseAudioFrame(f)
		e.framesDropped++
	}
}

// SubmitEvent enqueues one session event. Session events carry turn
// lifecycle information and are never dropped.
func (e *Engine) SubmitEvent(ev realtime.SessionEvent) {
	e.inbox <- input{event: &ev}
}

// Interrupt delivers an explicit user command. ControlInterrupt bypasses
// barge-in evaluation entirely; ControlQuit ends Run after draining
// in-flight cancels.
func (e *Engine) Interrupt(code frames.ControlCode) {
	select {
	case e.ctrl <- frames.NewControlFrame(code, time.Now(), nil):
	default:
	}
}

// Stop asks the reactor to finish: outstanding responses are cancelled
// and Run returns.
func (e *Engine) Stop() {
	e.Interrupt(frames.ControlQuit)
}

// DecidePause is pure: given a completeness classification and a clock
// reading it returns the next commit deadline.
func (e *Engine) DecidePause(now time.Time, c Completeness) time.Time {
	return now.Add(e.est.PauseFor(c))
}

// Run is the reactor loop. It owns all turn state and suspends only while
// waiting for the next message. Returns nil after a quit command or
// context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopTimers()
	for {
		// User commands pre-empt anything already queued.
		select {
		case c := <-e.ctrl:
			if quit := e.onControl(c); quit {
				return nil
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			// Context cancellation races the quit command through the
			// select above; drain here too so an outstanding response is
			// always cancelled before the reactor exits.
			if e.outstanding() {
				e.interruptResponse(CancelReasonUserKey)
			}
			return nil
		case c := <-e.ctrl:
			if quit := e.onControl(c); quit {
				return nil
			}
		case in := <-e.inbox:
			e.dispatch(in)
		}
	}
}

func (e *Engine) dispatch(in input) {
	switch {
	case in.frame != nil:
		e.onFrame(*in.frame)
	case in.event != nil:
		e.onEvent(*in.event)
	case in.timer != nil:
		e.onTimer(*in.timer)
	}
}

// ── microphone frames ──────────────────────────────────────────────────

func (e *Engine) onFrame(f frames.AudioFrame) {
	defer frames.ReleaseAudioFrame(f)
	level := e.env.Observe(f.PCM())

	switch e.sm.State() {
	case StateAssistantSpeaking:
		if sig := e.det.Observe(f); sig != nil {
			reason := CancelReasonEnergy
			if sig.MatchedKeyword != "" {
				reason = CancelReasonKeyword
			}
			e.recordBargeIn(sig)
			e.interruptResponse(reason)
			e.forwardAudio(f)
			return
		}
		// Half-duplex: suppress echo-prone mic forwarding, leaking only
		// candidate onsets upstream as barge-in evidence.
		if !e.cfg.HalfDuplex || e.det.OnsetActive() {
			e.forwardAudio(f)
		}

	case StatePendingCommit:
		if level >= e.det.cfg.EnergyThreshold {
			// The utterance is not finished; fold the activity in and
			// re-arm a fresh deadline.
			e.armPause("frame_activity")
		}
		e.forwardAudio(f)

	default:
		e.forwardAudio(f)
	}
}

func (e *Engine) forwardAudio(f frames.AudioFrame) {
	if err := e.session.AppendAudio(f.PCM()); err != nil {
		e.log.Debug("append_audio_failed", "error", err.Error())
	}
}

// ── session events ─────────────────────────────────────────────────────

func (e *Engine) onEvent(ev realtime.SessionEvent) {
	switch ev.Type {
	case realtime.EventSpeechStarted:
		if e.sm.State() == StatePendingCommit {
			// The user resumed before the deadline: the pending commit is
			// superseded, not shrunk.
			e.disarmPause()
			e.transition(StateListening, "user resumed speaking")
		}

	case realtime.EventSpeechStopped:
		if e.sm.State() == StateListening {
			e.armPause("server speech_stopped")
		}

	case realtime.EventCommitted:
		e.committed = true
		if e.sm.State() == StateListening {
			e.armPause("server committed")
		}

	case realtime.EventTranscriptDelta:
		e.partial += ev.Text
		switch e.sm.State() {
		case StatePendingCommit:
			e.armPause("transcript_activity")
		case StateAssistantSpeaking:
			if sig := e.det.ObserveTranscript(ev.Text, ev.ReceivedAt); sig != nil {
				e.recordBargeIn(sig)
				e.interruptResponse(CancelReasonKeyword)
			}
		}

	case realtime.EventTranscriptCompleted:
		e.partial = ev.Text

	case realtime.EventItemAdded:
		if ev.ItemID != "" {
			e.itemID = ev.ItemID
		}
		if ev.ResponseID != "" {
			e.responseID = ev.ResponseID
		}

	case realtime.EventTextDelta:
		e.onTextDelta(ev)

	case realtime.EventAudioDelta:
		e.onAudioDelta(ev)

	case realtime.EventAudioDone:
		e.player.Done(e.deltaResponseID(ev))

	case realtime.EventResponseDone:
		e.onResponseDone(ev)

	case realtime.EventError:
		e.onServerError(ev)
	}
}

func (e *Engine) onAudioDelta(ev realtime.SessionEvent) {
	id := e.deltaResponseID(ev)
	if e.suppressed(ev.ReceivedAt) || (id != "" && id == e.cancelledID) {
		e.record(metrics.EventStaleDropped, map[string]string{"response_id": id}, float64(len(ev.Audio)))
		return
	}
	if e.sm.State() == StateAwaitingResponse {
		e.disarmWatchdog()
		e.transition(StateAssistantSpeaking, "first audio delta")
		e.det.Reset()
		e.record(metrics.EventFirstDelta, map[string]string{"response_id": id}, 0)
	}
	if e.sm.State() != StateAssistantSpeaking {
		// A delta outside a speaking turn is stale by definition.
		e.record(metrics.EventStaleDropped, map[string]string{"response_id": id}, float64(len(ev.Audio)))
		return
	}
	e.player.Enqueue(id, ev.Audio)
}

// onTextDelta accumulates the assistant's reply. Text deltas sit behind
// the same post-cancel guard as audio: a late fragment of a cancelled
// response must not leak into the mirrored conversation.
func (e *Engine) onTextDelta(ev realtime.SessionEvent) {
	id := e.deltaResponseID(ev)
	if e.suppressed(ev.ReceivedAt) || (id != "" && id == e.cancelledID) {
		e.record(metrics.EventStaleDropped, map[string]string{"response_id": id}, float64(len(ev.Text)))
		return
	}
	if !e.outstanding() {
		e.record(metrics.EventStaleDropped, map[string]string{"response_id": id}, float64(len(ev.Text)))
		return
	}
	e.reply.WriteString(ev.Text)
}

func (e *Engine) onResponseDone(ev realtime.SessionEvent) {
	switch e.sm.State() {
	case StateAssistantSpeaking:
		e.transition(StateListening, "natural completion")
		if e.assistantText != nil && e.reply.Len() > 0 {
			e.assistantText(e.reply.String())
		}
		e.endResponse()
	case StateAwaitingResponse:
		// Empty or errored response: fall back to listening.
		e.disarmWatchdog()
		e.transition(StateListening, "response ended without audio")
		e.endResponse()
	}
}

func (e *Engine) onServerError(ev realtime.SessionEvent) {
	if ev.Err.Benign() {
		e.log.Debug("benign_server_error", "code", ev.Err.Code)
		return
	}
	e.log.Warn("session_error",
		"code", ev.Err.Code,
		"message", ev.Err.Message,
		"state", e.sm.State().String(),
		"response_id", e.responseID,
	)
	switch e.sm.State() {
	case StateAwaitingResponse:
		e.disarmWatchdog()
		e.transition(StateListening, "server error")
		e.endResponse()
	case StatePendingCommit:
		e.disarmPause()
		e.transition(StateListening, "server error")
	}
}

func (e *Engine) deltaResponseID(ev realtime.SessionEvent) string {
	if ev.ResponseID != "" {
		return ev.ResponseID
	}
	return e.responseID
}

func (e *Engine) suppressed(at time.Time) bool {
	return !e.suppressUntil.IsZero() && at.Before(e.suppressUntil)
}

// ── user commands ──────────────────────────────────────────────────────

// onControl handles an explicit user command; returns true on quit.
func (e *Engine) onControl(c frames.ControlFrame) bool {
	switch c.Code() {
	case frames.ControlInterrupt:
		e.userInterrupt()
		return false
	case frames.ControlQuit:
		// Drain: cancel anything outstanding before the reactor exits.
		if e.outstanding() {
			e.interruptResponse(CancelReasonUserKey)
		}
		return true
	}
	return false
}

// userInterrupt forces Interrupting→Listening from any state, bypassing
// the detector: an explicit key press is an unambiguous signal.
func (e *Engine) userInterrupt() {
	switch e.sm.State() {
	case StateAssistantSpeaking, StateAwaitingResponse:
		e.interruptResponse(CancelReasonUserKey)
	case StatePendingCommit:
		e.disarmPause()
		e.transition(StateInterrupting, "user interrupt")
		e.transition(StateListening, "interrupt complete")
		e.resetUtterance()
	case StateListening:
		e.transition(StateInterrupting, "user interrupt")
		e.transition(StateListening, "interrupt complete")
		e.resetUtterance()
	}
}

// ── interruption ───────────────────────────────────────────────────────

func (e *Engine) outstanding() bool {
	st := e.sm.State()
	return st == StateAssistantSpeaking || st == StateAwaitingResponse
}

// interruptResponse cancels the current response: issue the cancel, stop
// and discard playback, then return to Listening immediately. The engine
// does not wait for the remote service to acknowledge; new user audio is
// authoritative for the next turn.
func (e *Engine) interruptResponse(reason CancelReason) {
	if !e.outstanding() {
		return
	}
	id := e.responseID
	if id != "" && id == e.cancelledID {
		// Cancel already issued for this response id.
		return
	}
	e.disarmWatchdog()
	e.transition(StateInterrupting, "cancel: "+string(reason))

	e.cancelSeq++
	token := CancelToken{ID: e.cancelSeq, Reason: reason, ResponseID: id, IssuedAt: time.Now()}
	if err := e.session.CancelResponse(id); err != nil {
		e.log.Debug("cancel_send_failed", "error", err.Error())
	}
	// Truncate at the point the user actually heard, so the remote
	// transcript matches the audible conversation.
	if err := e.session.TruncateItem(e.itemID, e.player.Rendered(id)); err != nil {
		e.log.Debug("truncate_send_failed", "error", err.Error())
	}
	e.player.StopAndDiscard(id)
	e.cancelledID = id
	e.suppressUntil = token.IssuedAt.Add(e.cfg.SuppressAfterCancel)

	e.record(metrics.EventCancelIssued, map[string]string{
		"response_id": id,
		"reason":      string(reason),
	}, float64(token.ID))

	e.transition(StateListening, "interrupt complete")
	e.endResponse()
}

// endResponse clears response bookkeeping. Any reply text still buffered
// here belongs to a cancelled or failed response and is discarded.
func (e *Engine) endResponse() {
	e.responseID = ""
	e.itemID = ""
	e.reply.Reset()
	e.resetUtterance()
}

func (e *Engine) resetUtterance() {
	e.partial = ""
	e.committed = false
	e.env.Reset()
	e.det.Reset()
}

// ── pause and watchdog timers ──────────────────────────────────────────

// armPause (re)arms the single-shot commit deadline. The generation
// counter makes a stale firing after a re-arm a no-op; deadlines are
// superseded, never stacked, and never shrink below the floor.
func (e *Engine) armPause(cause string) {
	comp := e.est.Classify(e.partial, e.env)
	budget := e.est.PauseFor(comp)

	e.pauseGen++
	gen := e.pauseGen
	if e.pauseTimer != nil {
		e.pauseTimer.Stop()
	}
	e.pauseTimer = time.AfterFunc(budget, func() {
		e.inbox <- input{timer: &timerFired{gen: gen}}
	})

	if e.sm.State() == StateListening {
		e.transition(StatePendingCommit, cause)
	}
	e.record(metrics.EventPauseArmed, map[string]string{
		"completeness": comp.String(),
		"cause":        cause,
	}, float64(budget.Milliseconds()))
}

func (e *Engine) disarmPause() {
	e.pauseGen++
	if e.pauseTimer != nil {
		e.pauseTimer.Stop()
		e.pauseTimer = nil
	}
}

func (e *Engine) armWatchdog() {
	e.watchdogGen++
	gen := e.watchdogGen
	if e.watchdogTimer != nil {
		e.watchdogTimer.Stop()
	}
	e.watchdogTimer = time.AfterFunc(e.cfg.ResponseWatchdog, func() {
		e.inbox <- input{timer: &timerFired{gen: gen, watchdog: true}}
	})
}

func (e *Engine) disarmWatchdog() {
	e.watchdogGen++
	if e.watchdogTimer != nil {
		e.watchdogTimer.Stop()
		e.watchdogTimer = nil
	}
}

func (e *Engine) stopTimers() {
	if e.pauseTimer != nil {
		e.pauseTimer.Stop()
	}
	if e.watchdogTimer != nil {
		e.watchdogTimer.Stop()
	}
}

func (e *Engine) onTimer(t timerFired) {
	if t.watchdog {
		if t.gen != e.watchdogGen || e.sm.State() != StateAwaitingResponse {
			return
		}
		e.log.Warn("response_watchdog_fired", "response_id", e.responseID)
		e.record(metrics.EventWatchdogFired, map[string]string{"response_id": e.responseID}, 0)
		e.transition(StateListening, "response watchdog")
		e.endResponse()
		return
	}

	if t.gen != e.pauseGen || e.sm.State() != StatePendingCommit {
		// Stale firing after a re-arm, or a barge-in/interrupt won the
		// race. No-op.
		return
	}
	e.commitTurn()
}

// commitTurn seals the utterance and requests a response. Runs only from
// PendingCommit, so a commit can never be requested while the assistant
// is speaking, and at most once per utterance.
func (e *Engine) commitTurn() {
	if !e.committed {
		if err := e.session.CommitTurn(); err != nil {
			e.log.Debug("commit_send_failed", "error", err.Error())
		}
	}
	if err := e.session.RequestResponse(); err != nil {
		e.log.Warn("response_request_failed", "error", err.Error())
		e.transition(StateListening, "request failed")
		return
	}
	e.transition(StateAwaitingResponse, "pause elapsed")
	e.armWatchdog()
	e.record(metrics.EventCommitIssued, map[string]string{"response_id": e.responseID}, 0)
}

// ── bookkeeping ────────────────────────────────────────────────────────

func (e *Engine) transition(to State, reason string) {
	if err := e.sm.Transition(to, reason); err != nil {
		e.log.Error("turn_transition_rejected", "error", err.Error())
	}
}

func (e *Engine) recordBargeIn(sig *Signal) {
	tags := map[string]string{"response_id": e.responseID}
	if sig.MatchedKeyword != "" {
		tags["keyword"] = sig.MatchedKeyword
	}
	e.record(metrics.EventBargeIn, tags, sig.PeakLevel)
}

func (e *Engine) record(name string, tags map[string]string, value float64) {
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}
