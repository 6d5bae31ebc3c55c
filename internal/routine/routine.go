// Package routine compiles routine files into a sequence of waypoints, labels,
// jumps and settings, and steps through them.
package routine

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ConserveLee/scroll-idle/internal/clock"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Routine is a compiled sequence with a cursor.
type Routine struct {
	Path string

	mu     sync.Mutex
	clk    clock.Clock
	seq    []Element
	cursor int
	dirty  bool
}

func newRoutine(clk clock.Clock, seq []Element) *Routine {
	r := &Routine{clk: clk, seq: seq}
	r.resetCounters()
	return r
}

// Empty returns a routine with no elements.
func Empty() *Routine {
	return newRoutine(clock.Real{}, nil)
}

// Name is the file name without extension.
func (r *Routine) Name() string {
	if r.Path == "" {
		return ""
	}
	base := filepath.Base(r.Path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func (r *Routine) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seq)
}

// At returns the element at i.
func (r *Routine) At(i int) Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.seq) {
		return nil
	}
	return r.seq[i]
}

// Elements returns a copy of the sequence.
func (r *Routine) Elements() []Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Element(nil), r.seq...)
}

func (r *Routine) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// SetCursor moves the cursor, wrapping into range.
func (r *Routine) SetCursor(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCursor(i)
}

func (r *Routine) setCursor(i int) {
	if len(r.seq) == 0 {
		r.cursor = 0
		return
	}
	r.cursor = ((i % len(r.seq)) + len(r.seq)) % len(r.seq)
}

// Dirty reports unsaved edits.
func (r *Routine) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Append adds an element at the end and rebinds jumps.
func (r *Routine) Append(el Element) {
	r.Insert(r.Len(), el)
}

// Insert places el at i and rebinds jumps.
func (r *Routine) Insert(i int, el Element) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i > len(r.seq) {
		i = len(r.seq)
	}
	r.seq = append(r.seq, nil)
	copy(r.seq[i+1:], r.seq[i:])
	r.seq[i] = el
	if i <= r.cursor && len(r.seq) > 1 {
		r.cursor++
	}
	r.rebind()
	r.dirty = true
}

// Delete removes the element at i and rebinds jumps.
func (r *Routine) Delete(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.seq) {
		return
	}
	r.seq = append(r.seq[:i], r.seq[i+1:]...)
	if i < r.cursor {
		r.cursor--
	}
	r.setCursor(r.cursor)
	r.rebind()
	r.dirty = true
}

// rebind recomputes label indices and jump targets after an edit.
func (r *Routine) rebind() {
	labels := map[string]int{}
	for i, el := range r.seq {
		if l, ok := el.(*Label); ok {
			l.Index = i
			labels[l.Name] = i
		}
	}
	for _, el := range r.seq {
		if j, ok := el.(*Jump); ok {
			if idx, found := labels[j.Label]; found {
				j.Target = idx
			} else {
				j.Target = -1
			}
		}
	}
}

// Unresolved lists jumps without a label.
func (r *Routine) Unresolved() []*Jump {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Jump
	for _, el := range r.seq {
		if j, ok := el.(*Jump); ok && !j.Resolved() {
			out = append(out, j)
		}
	}
	return out
}

// Reset rewinds the cursor and restores every repeat counter.
func (r *Routine) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
	r.resetCounters()
}

func (r *Routine) resetCounters() {
	now := r.clk.Now()
	for _, el := range r.seq {
		switch e := el.(type) {
		case *Waypoint:
			e.reset(now)
		case *Jump:
			e.reset(now)
		}
	}
}

// ClosestWaypoint returns the index of the waypoint nearest to p, or -1.
func (r *Routine) ClosestWaypoint(p state.Position) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	best, bestDist := -1, math.Inf(1)
	for i, el := range r.seq {
		w, ok := el.(*Waypoint)
		if !ok {
			continue
		}
		if d := w.Target.Dist(p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Guards returns the leftmost and rightmost waypoints, which bound where the
// player is expected to stay.
func (r *Routine) Guards() (left, right state.Position, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, el := range r.seq {
		w, isWP := el.(*Waypoint)
		if !isWP {
			continue
		}
		if !ok || w.Target.X < left.X {
			left = w.Target
		}
		if !ok || w.Target.X > right.X {
			right = w.Target
		}
		ok = true
	}
	return left, right, ok
}

// Encode writes the routine in its file format.
func (r *Routine) Encode(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bw := bufio.NewWriter(w)
	for _, el := range r.seq {
		if _, err := fmt.Fprintln(bw, el.Encode()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the routine to path and clears the dirty flag.
func (r *Routine) Save(path string) error {
	if path == "" {
		path = r.Path
	}
	if path == "" {
		return fmt.Errorf("routine has no path")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := r.Encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	r.mu.Lock()
	r.Path = path
	r.dirty = false
	r.mu.Unlock()
	return nil
}
