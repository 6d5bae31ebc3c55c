// Package state holds the shared context passed to every control component:
// the enabled flag with its pause signal and the published observation.
package state

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/clock"
)

// ErrWriterClaimed is returned when a second component asks to publish observations.
var ErrWriterClaimed = errors.New("observation writer already claimed")

// Position is a point on the minimap. X is normalized by the minimap width,
// Y by the minimap width as well so distances are isotropic.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist is the Euclidean distance between two positions.
func (p Position) Dist(q Position) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func (p Position) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y)
}

// LostKind classifies a localization failure.
type LostKind int

const (
	LostNone LostKind = iota
	LostWindow
	LostMinimap
	LostPlayer
)

func (k LostKind) String() string {
	switch k {
	case LostWindow:
		return "LostWindow"
	case LostMinimap:
		return "LostMinimap"
	case LostPlayer:
		return "LostPlayer"
	default:
		return "None"
	}
}

// LostSignal reports a failed localization together with the time since the
// last success, so consumers can debounce.
type LostSignal struct {
	Kind  LostKind
	Since time.Duration
}

// Observation is an immutable snapshot published by the Localizer.
type Observation struct {
	Frame      image.Image     // last captured window frame
	Window     image.Rectangle // window rectangle in screen coordinates
	Minimap    image.Rectangle // minimap rectangle in frame coordinates
	Position   Position
	Valid      bool // Position is from the current calibration
	Lost       LostSignal
	Generation uint64 // calibration generation Position belongs to
	LocatedAt  time.Time
}

// Context is shared by all components of a running bot.
type Context struct {
	Clock clock.Clock

	enabled atomic.Bool
	mu      sync.Mutex
	pause   chan struct{} // closed while disabled
	hooks   []func(enabled bool)

	obs     atomic.Pointer[Observation]
	claimed atomic.Bool

	puzzle atomic.Pointer[Position]
}

// NewContext creates a disabled context.
func NewContext(clk clock.Clock) *Context {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Context{Clock: clk, pause: make(chan struct{})}
	close(c.pause)
	return c
}

// Enabled reports the EnabledFlag.
func (c *Context) Enabled() bool {
	return c.enabled.Load()
}

// OnToggle registers a hook run synchronously on every flag change.
// Hooks run before SetEnabled returns.
func (c *Context) OnToggle(fn func(enabled bool)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// SetEnabled sets the flag and reports whether it changed.
// Disabling closes the pause channel so in-flight sleeps wake up.
func (c *Context) SetEnabled(on bool) bool {
	c.mu.Lock()
	if c.enabled.Load() == on {
		c.mu.Unlock()
		return false
	}
	c.enabled.Store(on)
	if on {
		c.pause = make(chan struct{})
	} else {
		close(c.pause)
	}
	hooks := append([]func(bool){}, c.hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(on)
	}
	return true
}

// Toggle flips the flag and returns the new value.
func (c *Context) Toggle() bool {
	on := !c.Enabled()
	c.SetEnabled(on)
	return on
}

// Paused returns a channel that is closed once the flag is false.
func (c *Context) Paused() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pause
}

// Sleep waits d and reports whether the bot is still enabled.
// It returns false early when the flag drops or ctx ends.
func (c *Context) Sleep(ctx context.Context, d time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	paused := c.Paused()
	select {
	case <-c.Clock.After(d):
		return c.Enabled() && ctx.Err() == nil
	case <-paused:
		return false
	case <-ctx.Done():
		return false
	}
}

// Wait sleeps d regardless of the flag, returning false if ctx ends.
func (c *Context) Wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-c.Clock.After(d):
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

// Observation returns the latest snapshot or nil before the first publish.
func (c *Context) Observation() *Observation {
	return c.obs.Load()
}

// Position returns the latest valid position.
func (c *Context) Position() (Position, bool) {
	o := c.obs.Load()
	if o == nil || !o.Valid {
		return Position{}, false
	}
	return o.Position, true
}

// Writer is the single handle allowed to publish observations.
type Writer struct {
	c *Context
}

// ClaimWriter hands out the observation writer once.
func (c *Context) ClaimWriter() (*Writer, error) {
	if !c.claimed.CompareAndSwap(false, true) {
		return nil, ErrWriterClaimed
	}
	return &Writer{c: c}, nil
}

// Publish replaces the current observation.
func (w *Writer) Publish(o Observation) {
	w.c.obs.Store(&o)
}

// Current returns what this writer last published.
func (w *Writer) Current() *Observation {
	return w.c.obs.Load()
}

// SetPuzzle marks a puzzle as active at p.
func (c *Context) SetPuzzle(p Position) {
	c.puzzle.Store(&p)
}

// ClearPuzzle marks no puzzle as active.
func (c *Context) ClearPuzzle() {
	c.puzzle.Store(nil)
}

// Puzzle returns the active puzzle position.
func (c *Context) Puzzle() (Position, bool) {
	p := c.puzzle.Load()
	if p == nil {
		return Position{}, false
	}
	return *p, true
}
