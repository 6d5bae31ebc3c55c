// Package notify forwards monitor events to the operator: Telegram, a local
// websocket feed and a compressed on-disk journal.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/monitor"
)

// Sink delivers one notification. imagePath may be empty.
type Sink interface {
	Send(ctx context.Context, text, imagePath string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text, imagePath string) error

func (f SinkFunc) Send(ctx context.Context, text, imagePath string) error {
	return f(ctx, text, imagePath)
}

// Dispatcher filters events by notice level and fans them out.
type Dispatcher struct {
	log     logger.Logger
	level   atomic.Int32
	journal *Journal

	mu    sync.Mutex
	sinks map[string]Sink
}

// NewDispatcher surfaces events whose severity is at most level.
// journal may be nil.
func NewDispatcher(level int, journal *Journal, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop{}
	}
	d := &Dispatcher{log: log, journal: journal, sinks: map[string]Sink{}}
	d.SetLevel(level)
	return d
}

// SetLevel changes the notice level at runtime.
func (d *Dispatcher) SetLevel(level int) {
	d.level.Store(int32(level))
}

func (d *Dispatcher) Level() int {
	return int(d.level.Load())
}

// Add registers a named sink, replacing any sink of the same name.
func (d *Dispatcher) Add(name string, s Sink) {
	d.mu.Lock()
	d.sinks[name] = s
	d.mu.Unlock()
}

// Surfaced reports whether ev passes the notice level.
func (d *Dispatcher) Surfaced(ev monitor.Event) bool {
	return int(ev.Severity) <= d.Level()
}

// Notify journals ev and, if surfaced, sends it to every sink.
func (d *Dispatcher) Notify(ctx context.Context, ev monitor.Event) {
	if d.journal != nil {
		if err := d.journal.Record(ev); err != nil {
			d.log.Warn("journal: %v", err)
		}
	}
	if !d.Surfaced(ev) {
		d.log.Debug("%s", ev)
		return
	}
	d.log.Info("%s", ev)
	d.Text(ctx, Format(ev), ev.Screenshot)
}

// Text sends a free-form message to every sink.
func (d *Dispatcher) Text(ctx context.Context, text, imagePath string) {
	d.mu.Lock()
	sinks := make(map[string]Sink, len(d.sinks))
	for name, s := range d.sinks {
		sinks[name] = s
	}
	d.mu.Unlock()

	for name, s := range sinks {
		if err := s.Send(ctx, text, imagePath); err != nil {
			d.log.Warn("notify %s: %v", name, err)
		}
	}
}

// Run notifies every event from events until ctx ends or events closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan monitor.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Notify(ctx, ev)
		}
	}
}

// Format renders ev the way it is sent to the operator.
func Format(ev monitor.Event) string {
	mark := "[~]"
	switch ev.Severity {
	case monitor.Fatal:
		mark = "[!!!!!]"
	case monitor.Error:
		mark = "[!!!]"
	case monitor.Warning:
		mark = "[!]"
	}
	return fmt.Sprintf("%s %s: %s", mark, ev.Kind, ev.Detail)
}
