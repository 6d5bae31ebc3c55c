package input

import (
	"context"

	hook "github.com/robotn/gohook"
)

// HotkeySource reports presses of the watched keys by name.
type HotkeySource interface {
	Listen(ctx context.Context, keys []string) <-chan string
}

// GlobalHotkeys listens to the system-wide keyboard through gohook, so the
// operator can toggle the bot while the game has focus. Only one may run.
type GlobalHotkeys struct{}

// Listen closes its channel when ctx ends. Unknown key names are ignored.
func (GlobalHotkeys) Listen(ctx context.Context, keys []string) <-chan string {
	codes := make(map[uint16]string, len(keys))
	for _, k := range keys {
		if code, ok := hook.Keycode[k]; ok {
			codes[code] = k
		}
	}
	out := make(chan string, 4)
	if len(codes) == 0 {
		close(out)
		return out
	}

	events := hook.Start()
	go func() {
		defer close(out)
		defer hook.End()
		down := map[uint16]bool{} // held keys repeat KeyHold until KeyUp
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				name, watched := codes[ev.Keycode]
				if !watched {
					continue
				}
				switch ev.Kind {
				case hook.KeyUp:
					down[ev.Keycode] = false
					continue
				case hook.KeyDown, hook.KeyHold:
					if down[ev.Keycode] {
						continue
					}
					down[ev.Keycode] = true
				default:
					continue
				}
				select {
				case out <- name:
				default:
				}
			}
		}
	}()
	return out
}
