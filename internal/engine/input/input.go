// Package input issues synthetic keyboard and mouse input.
package input

import (
	"image"
	"sort"
	"sync"
)

// Driver is the set of input verbs the control core depends on.
type Driver interface {
	KeyDown(key string) error
	KeyUp(key string) error
	KeyTap(key string) error
	MouseMove(x, y int) error
	MouseClick(button string) error
	TypeText(text string) error
}

// WindowFinder locates the game window on screen.
type WindowFinder interface {
	FindWindow(title string) (image.Rectangle, bool)
}

// Keyboard wraps a Driver and remembers which keys are held,
// so every held key can be released at once.
type Keyboard struct {
	Driver

	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyboard wraps d.
func NewKeyboard(d Driver) *Keyboard {
	return &Keyboard{Driver: d, held: map[string]struct{}{}}
}

func (k *Keyboard) KeyDown(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.Driver.KeyDown(key); err != nil {
		return err
	}
	k.held[key] = struct{}{}
	return nil
}

func (k *Keyboard) KeyUp(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
	return k.Driver.KeyUp(key)
}

// Held lists the keys currently held down, sorted.
func (k *Keyboard) Held() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.held))
	for key := range k.held {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// ReleaseAll lifts every held key and returns the first error.
func (k *Keyboard) ReleaseAll() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var first error
	for key := range k.held {
		if err := k.Driver.KeyUp(key); err != nil && first == nil {
			first = err
		}
		delete(k.held, key)
	}
	return first
}
