package miniaudio

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// playbackDevice feeds the speaker from an in-memory buffer. The device
// callback drains at realtime; write blocks above the high-water mark so
// upstream naturally paces to playback speed, and flush empties the
// buffer for an interruption.
type playbackDevice struct {
	device *malgo.Device

	mu        sync.Mutex
	spaceFree *sync.Cond
	buf       []byte
	maxBytes  int
	closed    bool
}

func (p *playbackDevice) init(audioCtx *malgo.AllocatedContext, cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spaceFree = sync.NewCond(&p.mu)

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	p.maxBytes = cfg.bytesFor(cfg.MaxBuffered)

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Playback.Format = format
	devCfg.Playback.Channels = uint32(channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PerformanceProfile = malgo.LowLatency
	devCfg.PeriodSizeInFrames = uint32(cfg.SampleRate / 20) // ~50ms periods
	devCfg.Periods = 3

	var err error
	p.device, err = malgo.InitDevice(audioCtx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p.fill(pOutput, int(frameCount)*bytesPerFrame)
		},
	})
	return err
}

// fill runs on the device thread. Shortfall stays zeroed, which renders
// as silence rather than a glitch.
func (p *playbackDevice) fill(out []byte, need int) {
	p.mu.Lock()
	n := copy(out[:need], p.buf)
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
	p.spaceFree.Broadcast()
	p.mu.Unlock()

	for i := n; i < need; i++ {
		out[i] = 0
	}
}

func (p *playbackDevice) write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return errDeviceNotInitialized
	}
	for len(p.buf) > p.maxBytes && !p.closed {
		p.spaceFree.Wait()
	}
	if p.closed {
		return nil
	}
	p.buf = append(p.buf, pcm...)
	return nil
}

func (p *playbackDevice) flush() {
	p.mu.Lock()
	p.buf = nil
	p.spaceFree.Broadcast()
	p.mu.Unlock()
}

func (p *playbackDevice) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return errDeviceNotInitialized
	}
	if p.device.IsStarted() {
		return nil
	}
	return p.device.Start()
}

func (p *playbackDevice) stop() error {
	p.mu.Lock()
	device := p.device
	p.buf = nil
	p.spaceFree.Broadcast()
	p.mu.Unlock()
	if device == nil {
		return errDeviceNotInitialized
	}
	if !device.IsStarted() {
		return nil
	}
	return device.Stop()
}

func (p *playbackDevice) uninit() error {
	p.mu.Lock()
	p.closed = true
	if p.spaceFree != nil {
		p.spaceFree.Broadcast()
	}
	device := p.device
	p.device = nil
	p.buf = nil
	p.mu.Unlock()
	if device != nil {
		device.Uninit()
	}
	return nil
}
