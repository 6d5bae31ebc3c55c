// Package movement walks the player between minimap positions using the
// learned layout, held direction keys and movement commands.
package movement

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/command"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/layout"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// ErrNoPosition is returned when the player has not been located.
var ErrNoPosition = errors.New("player position unknown")

// adjustSteps bounds an Adjust, walkPolls bounds one walk toward the target.
const (
	adjustSteps = 6
	walkPolls   = 60
	walkPoll    = 10 * time.Millisecond
)

// Mover issues movement input. Each Move or Adjust reads one snapshot of
// the live tunables.
type Mover struct {
	st     *state.Context
	keys   *input.Keyboard
	sched  *command.Scheduler
	graph  *layout.Graph
	tuning *config.Tuning
	keyMap config.Keys
	log    logger.Logger

	held string // direction key held by the current Move
}

func New(st *state.Context, keys *input.Keyboard, sched *command.Scheduler, graph *layout.Graph,
	tuning *config.Tuning, keyMap config.Keys, log logger.Logger) *Mover {
	if log == nil {
		log = logger.Nop{}
	}
	return &Mover{st: st, keys: keys, sched: sched, graph: graph, tuning: tuning, keyMap: keyMap, log: log}
}

// Move walks to target along the shortest known path. It stops when the
// player is within move tolerance of the target, the step budget runs out
// or the bot is paused.
func (m *Mover) Move(ctx context.Context, target state.Position) error {
	pos, ok := m.st.Position()
	if !ok {
		return ErrNoPosition
	}
	path := m.graph.ShortestPath(pos, target)
	m.log.Debug("[move] path %v", path)

	tun := m.tuning.Load()
	tol := tun.MoveTolerance
	budget := tun.MaxSteps
	defer m.release()

	for i, point := range path {
		last := i == len(path)-1
		threshold := tol / math.Sqrt2
	steps:
		for budget > 0 && m.st.Enabled() && ctx.Err() == nil {
			pos, ok = m.st.Position()
			if !ok {
				if !m.st.Sleep(ctx, constants.MoveStepPause) {
					return nil
				}
				budget--
				continue
			}
			if pos.Dist(point) <= tol || pos.Dist(target) <= tol {
				break
			}
			dx := point.X - pos.X
			dy := point.Y - pos.Y
			gdy := target.Y - pos.Y
			switch {
			case math.Abs(dx) > threshold:
				cast, err := m.stepHorizontal(ctx, dx)
				if err != nil {
					return err
				}
				m.record(tun)
				// A bare held key only moves the character while time passes.
				if (!last || !cast) && !m.st.Sleep(ctx, constants.MoveStepPause) {
					return nil
				}
				budget--
			case math.Abs(gdy) > threshold && math.Abs(dy) > threshold:
				if err := m.stepVertical(ctx, dy); err != nil {
					return err
				}
				m.record(tun)
				if !last && !m.st.Sleep(ctx, constants.AdjustStepPause) {
					return nil
				}
				budget--
			default:
				if threshold <= tun.AdjustTolerance {
					break steps
				}
				threshold = math.Max(threshold/2, tun.AdjustTolerance)
			}
		}
		m.release()
	}
	return nil
}

// Adjust fine-tunes the position to within adjust tolerance, falling back to
// Move for gaps wider than move tolerance.
func (m *Mover) Adjust(ctx context.Context, target state.Position) error {
	tun := m.tuning.Load()
	threshold := tun.AdjustTolerance / math.Sqrt2
	for steps := adjustSteps; steps > 0 && m.st.Enabled() && ctx.Err() == nil; steps-- {
		pos, ok := m.st.Position()
		if !ok {
			return ErrNoPosition
		}
		dx, dy := target.X-pos.X, target.Y-pos.Y
		switch {
		case math.Abs(dx) <= threshold && math.Abs(dy) <= threshold:
			return nil
		case math.Abs(dx) > tun.MoveTolerance:
			return m.Move(ctx, target)
		case math.Abs(dx) > threshold:
			if err := m.walkToward(ctx, target.X, threshold); err != nil {
				return err
			}
		default:
			if err := m.stepVertical(ctx, dy); err != nil {
				return err
			}
		}
	}
	return nil
}

// Walk holds the direction key for d.
func (m *Mover) Walk(ctx context.Context, dir string, d time.Duration) error {
	key, err := m.directionKey(dir)
	if err != nil {
		return err
	}
	if err := m.keys.KeyDown(key); err != nil {
		return err
	}
	defer m.keys.KeyUp(key)
	m.st.Sleep(ctx, d)
	return nil
}

// Face taps the direction key once to turn the character.
func (m *Mover) Face(dir string) error {
	key, err := m.directionKey(dir)
	if err != nil {
		return err
	}
	return m.keys.KeyTap(key)
}

func (m *Mover) directionKey(dir string) (string, error) {
	switch dir {
	case "left":
		return m.keyMap.Left, nil
	case "right":
		return m.keyMap.Right, nil
	case "up":
		return m.keyMap.Up, nil
	case "down":
		return m.keyMap.Down, nil
	}
	return "", errors.New("unknown direction " + dir)
}

// walkToward holds left or right until x is within threshold.
func (m *Mover) walkToward(ctx context.Context, x, threshold float64) error {
	pos, _ := m.st.Position()
	key := m.keyMap.Right
	if x < pos.X {
		key = m.keyMap.Left
	}
	if err := m.keys.KeyDown(key); err != nil {
		return err
	}
	defer m.keys.KeyUp(key)
	for i := 0; i < walkPolls; i++ {
		if !m.st.Sleep(ctx, walkPoll) {
			return nil
		}
		pos, ok := m.st.Position()
		if !ok || math.Abs(x-pos.X) <= threshold || (key == m.keyMap.Left) != (x < pos.X) {
			return nil
		}
	}
	return nil
}

// stepHorizontal holds the direction and fires the best horizontal movement
// command for the gap. Without one, holding the key is the step and cast
// is false.
func (m *Mover) stepHorizontal(ctx context.Context, dx float64) (cast bool, err error) {
	key := m.keyMap.Right
	if dx < 0 {
		key = m.keyMap.Left
	}
	if err := m.hold(key); err != nil {
		return false, err
	}
	id, ok := m.sched.PickMovement(command.Horizontal, math.Abs(dx))
	if !ok {
		return false, nil
	}
	return m.cast(ctx, id)
}

// stepVertical climbs or drops. The direction key is never held for
// vertical moves; it is tapped through the movement command or, lacking
// one, combined with a jump.
func (m *Mover) stepVertical(ctx context.Context, dy float64) error {
	m.release()
	dir, key := command.Down, m.keyMap.Down
	if dy < 0 {
		dir, key = command.Up, m.keyMap.Up
	}
	if id, ok := m.sched.PickMovement(dir, math.Abs(dy)); ok {
		_, err := m.cast(ctx, id)
		return err
	}
	if err := m.keys.KeyDown(key); err != nil {
		return err
	}
	defer m.keys.KeyUp(key)
	if err := m.keys.KeyTap(m.keyMap.Jump); err != nil {
		return err
	}
	m.st.Sleep(ctx, constants.AdjustStepPause)
	return nil
}

// cast reports whether the command went off.
func (m *Mover) cast(ctx context.Context, id string) (bool, error) {
	err := m.sched.Cast(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, command.ErrInterrupted), errors.Is(err, command.ErrDisabled):
		return false, nil
	case errors.Is(err, command.ErrCoolingDown), errors.Is(err, command.ErrBusy), errors.Is(err, command.ErrNotAdmitted):
		m.log.Debug("[move] %s unavailable: %v", id, err)
		return false, nil
	}
	return false, err
}

func (m *Mover) hold(key string) error {
	if m.held == key {
		return nil
	}
	if err := m.keys.KeyDown(key); err != nil {
		return err
	}
	if m.held != "" {
		m.keys.KeyUp(m.held)
	}
	m.held = key
	return nil
}

func (m *Mover) release() {
	if m.held != "" {
		m.keys.KeyUp(m.held)
		m.held = ""
	}
}

func (m *Mover) record(tun config.Movement) {
	if !tun.RecordLayout {
		return
	}
	if pos, ok := m.st.Position(); ok {
		m.graph.Add(pos)
	}
}
