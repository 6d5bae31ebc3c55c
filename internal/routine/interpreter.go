package routine

import (
	"context"
	"sync"

	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Executor performs the side effects of a waypoint.
type Executor interface {
	// Move travels to target, fine-adjusting when adjust is set.
	Move(ctx context.Context, target state.Position, adjust bool) error
	// Run executes one command call.
	Run(ctx context.Context, call Call) error
}

// Step describes one Tick.
type Step struct {
	Index    int
	Kind     Kind
	Executed bool // waypoint body ran or jump was taken
	Next     int
}

// Interpreter advances a routine one element per Tick.
type Interpreter struct {
	st   *state.Context
	exec Executor
	log  logger.Logger

	mu      sync.Mutex
	routine *Routine
}

func NewInterpreter(st *state.Context, exec Executor, log logger.Logger) *Interpreter {
	if log == nil {
		log = logger.Nop{}
	}
	return &Interpreter{st: st, exec: exec, log: log, routine: Empty()}
}

// Load swaps the running routine. It takes effect on the next Tick.
func (in *Interpreter) Load(r *Routine) {
	if r == nil {
		r = Empty()
	}
	in.mu.Lock()
	in.routine = r
	in.mu.Unlock()
}

func (in *Interpreter) Routine() *Routine {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.routine
}

// Tick executes the element under the cursor and moves the cursor. It
// returns false without doing anything while disabled or when the routine
// is empty. An element interrupted by a pause, or a waypoint the player
// could not move toward, leaves cursor and counters untouched so it is
// retried.
func (in *Interpreter) Tick(ctx context.Context) (Step, bool) {
	r := in.Routine()
	if !in.st.Enabled() || r.Len() == 0 {
		return Step{}, false
	}
	idx := r.Cursor()
	el := r.At(idx)
	if el == nil {
		return Step{}, false
	}
	step := Step{Index: idx, Kind: el.Kind(), Next: idx + 1}
	now := in.st.Clock.Now()

	switch e := el.(type) {
	case *Waypoint:
		if e.due(now) {
			if !in.runWaypoint(ctx, e) {
				return step, true
			}
			step.Executed = true
		}
		e.visit(now, step.Executed)
	case *Jump:
		if !e.Resolved() {
			in.log.Error("Line %d: jump to unknown label '%s'", e.Line(), e.Label)
			e.visit(now, false)
			break
		}
		if e.due(now) {
			step.Executed = true
			step.Next = e.Target
		}
		e.visit(now, step.Executed)
	}

	r.SetCursor(step.Next)
	step.Next = r.Cursor()
	return step, true
}

// runWaypoint reports false when the body did not finish: the move failed
// or the bot was paused. A failed move skips the commands and idles.
func (in *Interpreter) runWaypoint(ctx context.Context, w *Waypoint) bool {
	if err := in.exec.Move(ctx, w.Target, w.Adjust); err != nil {
		in.log.Debug("move to %s: %v", w.Target, err)
		in.st.Sleep(ctx, constants.IdleInterval)
		return false
	}
	for _, c := range w.Commands {
		if !in.st.Enabled() || ctx.Err() != nil {
			return false
		}
		if err := in.exec.Run(ctx, c); err != nil {
			in.log.Warn("Line %d: %s: %v", c.Line, c.Name, err)
		}
	}
	return in.st.Enabled() && ctx.Err() == nil
}

// Run ticks until ctx ends, idling while paused.
func (in *Interpreter) Run(ctx context.Context, idle func(context.Context) bool) error {
	for ctx.Err() == nil {
		if _, ok := in.Tick(ctx); !ok {
			if !idle(ctx) {
				break
			}
		}
	}
	return ctx.Err()
}
