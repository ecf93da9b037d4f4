package parlar

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/harunnryd/parlar/pkg/frames"
)

// watchKeys reads single keystrokes from the terminal: 'i' interrupts the
// assistant, 'q' (or Ctrl-C in raw mode) quits. When stdin is not a
// terminal the task idles until the context ends.
func (e *Engine) watchKeys(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		<-ctx.Done()
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		e.log.Warn("raw_mode_unavailable", "error", err.Error())
		<-ctx.Done()
		return nil
	}
	defer term.Restore(fd, oldState)

	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			switch key {
			case 'i', 'I':
				e.log.Info("user_interrupt_key")
				e.turn.Interrupt(frames.ControlInterrupt)
			case 'q', 'Q', 0x03: // Ctrl-C arrives as a byte in raw mode
				e.log.Info("user_quit_key")
				e.turn.Interrupt(frames.ControlQuit)
				if e.cancel != nil {
					e.cancel()
				}
				return nil
			}
		}
	}
}
