package miniaudio

import (
	"errors"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/harunnryd/parlar/pkg/frames"
)

var errDeviceNotInitialized = errors.New("device not initialized")

// captureDevice accumulates device-thread input into fixed-duration
// frames so downstream consumers see a steady chunk size regardless of
// the driver's period size.
type captureDevice struct {
	device *malgo.Device

	sampleRate int
	frameBytes int
	frameDur   time.Duration

	mu      sync.Mutex
	pending []byte
	onFrame func(frames.AudioFrame)
}

func (c *captureDevice) init(audioCtx *malgo.AllocatedContext, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.sampleRate = cfg.SampleRate
	c.frameDur = cfg.FrameDuration
	c.frameBytes = cfg.frameSamples() * bytesPerFrame
	c.pending = make([]byte, 0, c.frameBytes*2)

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Capture.Format = format
	devCfg.Capture.Channels = uint32(channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PerformanceProfile = malgo.LowLatency
	devCfg.PeriodSizeInFrames = uint32(cfg.frameSamples())
	devCfg.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(audioCtx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			c.ingest(pInput[:n])
		},
	})
	return err
}

// ingest runs on the device thread. It slices the input into whole
// frames and hands each off as a pooled copy stamped with capture time.
func (c *captureDevice) ingest(in []byte) {
	c.mu.Lock()
	emit := c.onFrame
	if emit == nil {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, in...)
	var ready [][]byte
	for len(c.pending) >= c.frameBytes {
		ready = append(ready, append([]byte(nil), c.pending[:c.frameBytes]...))
		c.pending = c.pending[c.frameBytes:]
	}
	c.mu.Unlock()

	now := time.Now()
	// Backdate earlier chunks so timestamps reflect capture order.
	base := now.Add(-time.Duration(len(ready)-1) * c.frameDur)
	for i, pcm := range ready {
		emit(frames.NewAudioFrameFromPool(pcm, base.Add(time.Duration(i)*c.frameDur), c.frameDur, c.sampleRate))
	}
}

func (c *captureDevice) start(onFrame func(frames.AudioFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}
	c.onFrame = onFrame
	if c.device.IsStarted() {
		return nil
	}
	return c.device.Start()
}

func (c *captureDevice) stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}
	c.onFrame = nil
	c.pending = c.pending[:0]
	if !c.device.IsStarted() {
		return nil
	}
	return c.device.Stop()
}

func (c *captureDevice) uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.onFrame = nil
	return nil
}
