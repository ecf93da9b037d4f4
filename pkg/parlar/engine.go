// Package parlar wires the conversation loop: microphone capture, the
// remote realtime session, the turn-taking engine and speaker playback,
// supervised as one task group.
package parlar

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parlar/pkg/audio/miniaudio"
	"github.com/harunnryd/parlar/pkg/frames"
	"github.com/harunnryd/parlar/pkg/logging"
	"github.com/harunnryd/parlar/pkg/metrics"
	"github.com/harunnryd/parlar/pkg/observers"
	"github.com/harunnryd/parlar/pkg/playback"
	"github.com/harunnryd/parlar/pkg/realtime"
	"github.com/harunnryd/parlar/pkg/turn"
)

// AudioDevices is the hardware boundary: duplex PCM16 capture and
// playback. Satisfied by miniaudio.Client.
type AudioDevices interface {
	StartCapture(onFrame func(frames.AudioFrame)) error
	StopCapture() error
	StartPlayback() error
	StopPlayback() error
	Write(pcm []byte) error
	Flush()
	Close()
}

// Engine owns one conversation session end to end.
type Engine struct {
	cfg Config
	log *slog.Logger

	devices  AudioDevices
	session  realtime.Channel
	turn     *turn.Engine
	player   *playback.Coordinator
	asyncObs *metrics.AsyncObserver
	meters   meters

	cancel context.CancelFunc
}

// meteredSink counts speaker traffic on its way to the device.
type meteredSink struct {
	dev AudioDevices
	m   *meters
}

func (s meteredSink) Write(pcm []byte) error {
	s.m.observeSpeaker(pcm)
	return s.dev.Write(pcm)
}

func (s meteredSink) Flush() { s.dev.Flush() }

// EngineOptions allows tests to substitute the hardware and network
// boundaries. Nil fields use the real implementations.
type EngineOptions struct {
	Config  Config
	Session realtime.Channel
	Devices AudioDevices
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := logging.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	log.Info("parlar_init",
		"environment", cfg.Environment,
		"model", cfg.Session.Model,
		"voice", cfg.Session.Voice,
		"sample_rate", cfg.Audio.SampleRate,
		"half_duplex", cfg.Audio.HalfDuplex,
	)

	latencyObs := observers.NewLatencyObserver(log)
	logObs := observers.NewLoggerObserver(log)
	multiObs := observers.NewMultiObserver(latencyObs, logObs)
	asyncObs := metrics.NewAsyncObserver(multiObs, 2048)

	devices := opts.Devices
	if devices == nil {
		var err error
		devices, err = miniaudio.NewClient(miniaudio.Config{
			SampleRate:    cfg.Audio.SampleRate,
			FrameDuration: time.Duration(cfg.Audio.FrameMS) * time.Millisecond,
			MaxBuffered:   time.Duration(cfg.Audio.MaxBufferedMS) * time.Millisecond,
			Log:           logging.NewComponentLogger(log, "miniaudio"),
		})
		if err != nil {
			return nil, err
		}
	}

	session := opts.Session
	if session == nil {
		session = realtime.NewClient(realtime.Config{
			APIKey:  cfg.Session.APIKey,
			Model:   cfg.Session.Model,
			BaseURL: cfg.Session.BaseURL,
			Session: realtime.SessionConfig{
				Voice:           cfg.Session.Voice,
				Instructions:    cfg.Session.Instructions,
				VADThreshold:    cfg.Session.VADThreshold,
				SilenceDuration: time.Duration(cfg.Session.SilenceMS) * time.Millisecond,
				PrefixPadding:   time.Duration(cfg.Session.PrefixPaddingMS) * time.Millisecond,
			},
			Log: logging.NewComponentLogger(log, "realtime"),
		})
	}

	eng := &Engine{
		cfg:      cfg,
		log:      log,
		devices:  devices,
		session:  session,
		asyncObs: asyncObs,
	}

	eng.player = playback.NewCoordinator(playback.Config{
		SampleRate: cfg.Audio.SampleRate,
	}, meteredSink{dev: devices, m: &eng.meters}, asyncObs, logging.NewComponentLogger(log, "playback"))

	eng.turn = turn.NewEngine(turn.EngineConfig{
		PauseFloor:          cfg.Turn.pauseFloor(),
		PauseCeiling:        cfg.Turn.pauseCeiling(),
		ResponseWatchdog:    time.Duration(cfg.Turn.ResponseWatchdogMS) * time.Millisecond,
		SuppressAfterCancel: time.Duration(cfg.Turn.SuppressAfterCancelMS) * time.Millisecond,
		HalfDuplex:          cfg.Audio.HalfDuplex,
		Detector: turn.DetectorConfig{
			EnergyThreshold: cfg.BargeIn.EnergyThreshold,
			OnsetDuration:   time.Duration(cfg.BargeIn.OnsetMS) * time.Millisecond,
			Cooldown:        time.Duration(cfg.BargeIn.CooldownMS) * time.Millisecond,
			Keywords:        cfg.BargeIn.Keywords,
		},
	}, session, eng.player, asyncObs, logging.NewComponentLogger(log, "turn"))
	eng.turn.AddListener(stateLogger{log: logging.NewComponentLogger(log, "turn")})
	// Reply text comes from the turn engine so cancelled responses never
	// reach the mirrored conversation.
	eng.turn.OnAssistantText(func(text string) {
		log.Info("assistant_said", "text", text)
	})

	return eng, nil
}

// Run starts every task and blocks until the context ends or a task
// fails. Device and transport failures surface as the returned error.
func (e *Engine) Run(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	defer e.cancel()

	if err := e.session.Start(ctx); err != nil {
		return err
	}

	if err := e.devices.StartPlayback(); err != nil {
		return err
	}
	if err := e.devices.StartCapture(func(f frames.AudioFrame) {
		e.meters.observeMic(f.PCM())
		e.turn.SubmitFrame(f)
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.turn.Run(ctx) })
	g.Go(func() error { return e.player.Run(ctx) })
	g.Go(func() error { return e.pumpEvents(ctx) })
	g.Go(func() error { return e.watchKeys(ctx) })
	g.Go(func() error { return e.statusLoop(ctx) })

	err := g.Wait()
	e.shutdownDevices()
	e.logSummary()
	return err
}

// pumpEvents moves session events into the turn engine and mirrors the
// user's transcript to the terminal. Assistant text is mirrored via the
// turn engine's reply callback, which drops cancelled responses.
func (e *Engine) pumpEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-e.session.Events():
			if !ok {
				return nil
			}
			if ev.Type == realtime.EventTranscriptCompleted && ev.Text != "" {
				e.log.Info("user_said", "text", ev.Text)
			}
			e.turn.SubmitEvent(ev)
		}
	}
}

// Interrupt cancels any in-flight assistant response, as if the user
// pressed the interrupt key.
func (e *Engine) Interrupt() {
	e.turn.Interrupt(frames.ControlInterrupt)
}

// Drain implements runner.Drainer: cancel outstanding work and release
// the session cleanly.
func (e *Engine) Drain() error {
	e.turn.Stop()
	e.player.StopAndDiscard("")
	e.player.Close()
	err := e.session.Close()
	if e.cancel != nil {
		e.cancel()
	}
	e.asyncObs.Close()
	return err
}

func (e *Engine) shutdownDevices() {
	_ = e.devices.StopCapture()
	_ = e.devices.StopPlayback()
	e.devices.Close()
}

// stateLogger mirrors turn transitions into the structured log.
type stateLogger struct {
	log *slog.Logger
}

func (s stateLogger) OnStateChange(ev turn.StateChange) {
	s.log.Debug("turn_state",
		"from", ev.FromState.String(),
		"to", ev.ToState.String(),
		"reason", ev.Reason,
	)
}
