// Package command schedules cooldown-gated commands: abilities, buffs,
// potions and movement primitives alike.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrDisabled       = errors.New("bot disabled")
	ErrCoolingDown    = errors.New("cooling down")
	ErrBusy           = errors.New("cast in progress")
	ErrNotAdmitted    = errors.New("admission predicate failed")
	ErrInterrupted    = errors.New("interrupted before cast")
)

// timing is the mutable per-command state. One entry per command id,
// shared by every caller.
type timing struct {
	casted      bool
	lastCast    time.Time
	windowStart time.Time
	charges     int
	busy        bool
}

// Scheduler owns the timing registry and issues casts.
type Scheduler struct {
	st      *state.Context
	keys    input.Driver
	log     logger.Logger
	toggles func(name string) bool

	mu     sync.Mutex
	specs  map[string]Spec
	timing map[string]*timing
	lists  map[string][]string
	moves  Movement
}

// NewScheduler creates an empty scheduler. toggles may be nil.
func NewScheduler(st *state.Context, keys input.Driver, log logger.Logger, toggles func(string) bool) *Scheduler {
	if toggles == nil {
		toggles = func(string) bool { return false }
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Scheduler{
		st:      st,
		keys:    keys,
		log:     log,
		toggles: toggles,
		specs:   map[string]Spec{},
		timing:  map[string]*timing{},
		lists:   map[string][]string{},
	}
}

// Load installs a command book. Timing state of ids present before and
// after the reload is kept so a reload cannot reset a cooldown.
func (s *Scheduler) Load(b *Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = make(map[string]Spec, len(b.Commands))
	next := make(map[string]*timing, len(b.Commands))
	for _, spec := range b.Commands {
		s.specs[spec.ID] = spec
		if t, ok := s.timing[spec.ID]; ok {
			next[spec.ID] = t
		} else {
			next[spec.ID] = &timing{}
		}
	}
	s.timing = next
	s.lists = map[string][]string{}
	for name, ids := range b.Lists {
		s.lists[name] = append([]string(nil), ids...)
	}
	s.moves = b.Movement
	sortTiers(s.moves.Up)
	sortTiers(s.moves.Down)
	sortTiers(s.moves.Horizontal)
}

// Register adds or replaces a single command.
func (s *Scheduler) Register(spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.ID] = spec
	if _, ok := s.timing[spec.ID]; !ok {
		s.timing[spec.ID] = &timing{}
	}
}

// Has reports whether id is a known command.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.specs[id]
	return ok
}

// HasList reports whether a priority list exists.
func (s *Scheduler) HasList(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lists[name]
	return ok
}

// CanUse reports whether id could be cast lookahead from now.
func (s *Scheduler) CanUse(id string, lookahead time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	if !ok {
		return false
	}
	t := s.timing[id]
	return !t.busy && s.readyLocked(spec, t, s.st.Clock.Now().Add(lookahead))
}

// readyLocked is the cooldown rule: no cooldown, a charge left, or the
// cooldown+backswing window since the window start has fully elapsed.
func (s *Scheduler) readyLocked(spec Spec, t *timing, at time.Time) bool {
	if spec.Cooldown <= 0 || !t.casted {
		return true
	}
	if spec.Charges > 0 && t.charges > 0 {
		return true
	}
	return at.Sub(t.windowStart) >= spec.Cooldown+spec.Backswing
}

func (s *Scheduler) admitLocked(spec Spec, now time.Time) bool {
	if spec.Toggle != "" && !s.toggles(spec.Toggle) {
		return false
	}
	for _, ex := range spec.NotWithin {
		other, ok := s.timing[ex.ID]
		if ok && other.casted && now.Sub(other.lastCast) < ex.Window {
			return false
		}
	}
	return true
}

// Admissible reports CanUse plus the command's admission predicates.
func (s *Scheduler) Admissible(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[id]
	if !ok {
		return false
	}
	t := s.timing[id]
	now := s.st.Clock.Now()
	return !t.busy && s.readyLocked(spec, t, now) && s.admitLocked(spec, now)
}

// Cast blocks for the precast, records the cast, taps the keys and then
// holds the command through its backswing. Only one cast of an id can be
// in flight; a concurrent caller gets ErrBusy.
func (s *Scheduler) Cast(ctx context.Context, id string) error {
	s.mu.Lock()
	spec, ok := s.specs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	if !s.st.Enabled() {
		s.mu.Unlock()
		return ErrDisabled
	}
	t := s.timing[id]
	now := s.st.Clock.Now()
	switch {
	case t.busy:
		s.mu.Unlock()
		return ErrBusy
	case !s.readyLocked(spec, t, now):
		s.mu.Unlock()
		return ErrCoolingDown
	case !s.admitLocked(spec, now):
		s.mu.Unlock()
		return ErrNotAdmitted
	}
	t.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		t.busy = false
		s.mu.Unlock()
	}()

	if spec.Precast > 0 && !s.st.Sleep(ctx, spec.Precast) {
		return ErrInterrupted
	}

	s.mu.Lock()
	now = s.st.Clock.Now()
	full := spec.Charges
	if full < 1 {
		full = 1
	}
	if !t.casted || now.Sub(t.windowStart) >= spec.Cooldown+spec.Backswing {
		t.windowStart = now
		t.charges = full - 1
	} else if t.charges > 0 {
		t.charges--
	}
	t.casted = true
	t.lastCast = now
	s.mu.Unlock()

	for _, k := range spec.Sequence() {
		if err := s.keys.KeyTap(k); err != nil {
			s.log.Error("cast %s: key %s: %v", id, k, err)
		}
	}
	s.log.Debug("cast %s", id)

	if spec.Backswing > 0 {
		s.st.Sleep(ctx, spec.Backswing)
	}
	return nil
}

// RunList casts the first admissible member of a priority list.
// It returns the id cast, or "" when nothing was eligible.
func (s *Scheduler) RunList(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	members := append([]string(nil), s.lists[name]...)
	s.mu.Unlock()

	for _, id := range members {
		if !s.Admissible(id) {
			continue
		}
		err := s.Cast(ctx, id)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, ErrBusy), errors.Is(err, ErrCoolingDown), errors.Is(err, ErrNotAdmitted):
			// lost a race with another caller
			continue
		default:
			return "", err
		}
	}
	return "", nil
}

// Direction selects a movement tier table.
type Direction int

const (
	Up Direction = iota
	Down
	Horizontal
)

func sortTiers(t []Tier) {
	sort.SliceStable(t, func(i, j int) bool { return t[i].Range < t[j].Range })
}

// PickMovement chooses the movement command for a gap of distance: the
// shortest-range usable tier that covers it, else the longest-range usable tier.
func (s *Scheduler) PickMovement(dir Direction, distance float64) (string, bool) {
	s.mu.Lock()
	var tiers []Tier
	switch dir {
	case Up:
		tiers = s.moves.Up
	case Down:
		tiers = s.moves.Down
	default:
		tiers = s.moves.Horizontal
	}
	tiers = append([]Tier(nil), tiers...)
	s.mu.Unlock()

	for _, t := range tiers {
		if t.Range >= distance && s.Admissible(t.ID) {
			return t.ID, true
		}
	}
	for i := len(tiers) - 1; i >= 0; i-- {
		if s.Admissible(tiers[i].ID) {
			return tiers[i].ID, true
		}
	}
	return "", false
}

// Charges returns the remaining usable-times of id.
func (s *Scheduler) Charges(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timing[id]; ok {
		return t.charges
	}
	return 0
}

// LastCast returns when id was last cast.
func (s *Scheduler) LastCast(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timing[id]
	if !ok || !t.casted {
		return time.Time{}, false
	}
	return t.lastCast, true
}
