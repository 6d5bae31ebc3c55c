package input

import (
	"fmt"
	"sync"
)

// Event is one recorded input action.
type Event struct {
	Kind string // down, up, tap, move, click, type
	Key  string
	X, Y int
}

func (e Event) String() string {
	switch e.Kind {
	case "move":
		return fmt.Sprintf("move(%d,%d)", e.X, e.Y)
	default:
		return e.Kind + "(" + e.Key + ")"
	}
}

// Recorder is a Driver that only records. It backs dry runs and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	OnTap  func(key string) // optional side effect, e.g. moving a simulated player
}

func (r *Recorder) add(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) KeyDown(key string) error { return r.add(Event{Kind: "down", Key: key}) }
func (r *Recorder) KeyUp(key string) error   { return r.add(Event{Kind: "up", Key: key}) }

func (r *Recorder) KeyTap(key string) error {
	r.add(Event{Kind: "tap", Key: key})
	if r.OnTap != nil {
		r.OnTap(key)
	}
	return nil
}

func (r *Recorder) MouseMove(x, y int) error       { return r.add(Event{Kind: "move", X: x, Y: y}) }
func (r *Recorder) MouseClick(button string) error { return r.add(Event{Kind: "click", Key: button}) }
func (r *Recorder) TypeText(text string) error     { return r.add(Event{Kind: "type", Key: text}) }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Taps returns the keys tapped, in order.
func (r *Recorder) Taps() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == "tap" {
			out = append(out, e.Key)
		}
	}
	return out
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
