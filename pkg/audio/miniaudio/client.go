// Package miniaudio binds the microphone and speaker through malgo.
// Capture emits timestamped PCM16 frames; playback accepts a byte stream
// and drains it at device rate, with a flush that drops buffered audio
// immediately for interruptions.
package miniaudio

import (
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/harunnryd/parlar/pkg/errorsx"
	"github.com/harunnryd/parlar/pkg/frames"
)

// Config describes the duplex stream. Both directions share one sample
// rate, PCM16 mono.
type Config struct {
	// SampleRate in Hz. Zero means 24000.
	SampleRate int
	// FrameDuration is the capture chunk size. Zero means 20ms.
	FrameDuration time.Duration
	// MaxBuffered bounds speaker-side buffering before Write blocks.
	// Zero means one second of audio.
	MaxBuffered time.Duration

	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

func (c Config) frameSamples() int {
	return int(int64(c.SampleRate) * c.FrameDuration.Milliseconds() / 1000)
}

func (c Config) bytesFor(d time.Duration) int {
	return int(int64(c.SampleRate) * 2 * d.Milliseconds() / 1000)
}

// Client owns the malgo context and both devices. The context is kept
// only so it can be uninitialized; everything else goes through the
// capture and playback halves.
type Client struct {
	cfg      Config
	audioCtx *malgo.AllocatedContext
	capture  captureDevice
	playback playbackDevice
}

// NewClient initializes the audio backend and both devices. Neither
// device is started.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		cfg.Log.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceCapture)
	}

	c := &Client{cfg: cfg, audioCtx: audioCtx}

	if err := c.capture.init(audioCtx, cfg); err != nil {
		c.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceCapture)
	}
	if err := c.playback.init(audioCtx, cfg); err != nil {
		c.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceRender)
	}
	return c, nil
}

// StartCapture begins emitting microphone frames to onFrame. The callback
// runs on the device thread and must not block; frames it receives are
// pooled and owned by the receiver.
func (c *Client) StartCapture(onFrame func(frames.AudioFrame)) error {
	return c.capture.start(onFrame)
}

// StopCapture stops the microphone device.
func (c *Client) StopCapture() error {
	return c.capture.stop()
}

// StartPlayback starts the speaker device.
func (c *Client) StartPlayback() error {
	return c.playback.start()
}

// StopPlayback stops the speaker device and drops buffered audio.
func (c *Client) StopPlayback() error {
	return c.playback.stop()
}

// Write queues PCM16 audio for the speaker, blocking while the buffer is
// above the configured bound.
func (c *Client) Write(pcm []byte) error {
	return c.playback.write(pcm)
}

// Flush drops all buffered speaker audio.
func (c *Client) Flush() {
	c.playback.flush()
}

// Close stops and releases both devices and the backend context.
func (c *Client) Close() {
	_ = c.capture.uninit()
	_ = c.playback.uninit()
	if c.audioCtx != nil {
		_ = c.audioCtx.Uninit()
		c.audioCtx.Free()
		c.audioCtx = nil
	}
}
