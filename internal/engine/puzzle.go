package engine

import (
	"context"
	"errors"
	"image"
	"slices"
	"sort"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/monitor"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Arrow templates, named by direction.
var arrowTemplates = map[string]string{
	"up":    "arrow_up",
	"down":  "arrow_down",
	"left":  "arrow_left",
	"right": "arrow_right",
}

const (
	arrowThreshold = 0.9
	arrowCount     = 4
	solveFrames    = 10
	solveInterval  = 100 * time.Millisecond
	interactDelay  = 500 * time.Millisecond
	interactHold   = 200 * time.Millisecond
	arrowSettle    = 500 * time.Millisecond
)

var ErrNoSolution = errors.New("no consistent arrow sequence")

// PuzzleSolver reads the arrow prompt from successive frames and returns
// the directions to press.
type PuzzleSolver interface {
	Solve(ctx context.Context, frames func() image.Image) ([]string, error)
}

// ArrowSolver matches arrow templates in the top band of the frame. A
// sequence is accepted once two frames agree on it.
type ArrowSolver struct {
	st     *state.Context
	vision screen.VisionPort
	tpl    screen.Templates
}

func NewArrowSolver(st *state.Context, vision screen.VisionPort, tpl screen.Templates) *ArrowSolver {
	return &ArrowSolver{st: st, vision: vision, tpl: tpl}
}

func (s *ArrowSolver) Solve(ctx context.Context, frames func() image.Image) ([]string, error) {
	var seen [][]string
	for i := 0; i < solveFrames; i++ {
		if frame := frames(); frame != nil {
			seq := s.read(frame)
			if len(seq) == arrowCount {
				for _, prev := range seen {
					if slices.Equal(prev, seq) {
						return seq, nil
					}
				}
				seen = append(seen, seq)
			}
		}
		if !s.st.Sleep(ctx, solveInterval) {
			return nil, context.Canceled
		}
	}
	return nil, ErrNoSolution
}

type arrowHit struct {
	x   int
	dir string
}

// read returns the arrows visible in frame, left to right.
func (s *ArrowSolver) read(frame image.Image) []string {
	b := frame.Bounds()
	band := screen.Crop(frame, image.Rect(0, 0, b.Dx(), b.Dy()/3))

	var hits []arrowHit
	width := 0
	for dir, name := range arrowTemplates {
		tpl := s.tpl[name]
		if tpl == nil {
			continue
		}
		width = max(width, tpl.Bounds().Dx())
		for _, p := range s.vision.Match(band, tpl, arrowThreshold) {
			hits = append(hits, arrowHit{x: p.X, dir: dir})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].x < hits[j].x })

	// Neighbouring hits closer than half an arrow are the same arrow; the
	// direction with the most hits wins.
	var out []string
	for i := 0; i < len(hits); {
		votes := map[string]int{}
		j := i
		for ; j < len(hits) && hits[j].x-hits[i].x < width/2+1; j++ {
			votes[hits[j].dir]++
		}
		best := ""
		for dir, n := range votes {
			if n > votes[best] || (n == votes[best] && dir < best) {
				best = dir
			}
		}
		out = append(out, best)
		i = j
	}
	return out
}

// solvePuzzle walks to the puzzle and tries to solve it. It gives up after
// the configured number of attempts, or silently when paused.
func (b *Bot) solvePuzzle(ctx context.Context, at state.Position) {
	attempts := b.settings.Puzzle.MaxAttempts
	for i := 1; i <= attempts; i++ {
		if !b.st.Enabled() {
			return
		}
		err := b.attemptPuzzle(ctx, at)
		if !b.st.Enabled() {
			return
		}
		if err == nil && !b.puzzleVisible() {
			b.st.ClearPuzzle()
			b.mon.Emit(monitor.NewEvent(monitor.KindPuzzleSolved, b.st.Clock.Now(), float64(i),
				"solved on attempt %d", i))
			return
		}
		reason := "marker still visible"
		if err != nil {
			reason = err.Error()
		}
		b.mon.Emit(monitor.NewEvent(monitor.KindPuzzleFailed, b.st.Clock.Now(), float64(i),
			"attempt %d/%d: %s", i, attempts, reason))
		if i < attempts && !b.sleep(ctx, b.settings.Puzzle.RetryDelay) {
			return
		}
	}
	b.st.ClearPuzzle()
	b.mon.Emit(monitor.NewEvent(monitor.KindPuzzleError, b.st.Clock.Now(), float64(attempts),
		"unsolved after %d attempts", attempts))
}

func (b *Bot) attemptPuzzle(ctx context.Context, at state.Position) error {
	if err := b.travel(ctx, at, true); err != nil {
		return err
	}
	if !b.sleep(ctx, interactDelay) {
		return context.Canceled
	}
	key := b.settings.Keys.Interact
	if err := b.keys.KeyDown(key); err != nil {
		return err
	}
	b.sleep(ctx, interactHold)
	if err := b.keys.KeyUp(key); err != nil {
		return err
	}
	if !b.sleep(ctx, interactHold) {
		return context.Canceled
	}

	seq, err := b.solver.Solve(ctx, b.frame)
	if err != nil {
		return err
	}
	b.log.Info("Puzzle solution: %v", seq)
	for _, dir := range seq {
		if err := b.keys.KeyTap(b.arrowKey(dir)); err != nil {
			return err
		}
	}
	b.sleep(ctx, arrowSettle)
	return nil
}

func (b *Bot) arrowKey(dir string) string {
	k := b.settings.Keys
	switch dir {
	case "up":
		return k.Up
	case "down":
		return k.Down
	case "left":
		return k.Left
	}
	return k.Right
}

func (b *Bot) frame() image.Image {
	if obs := b.st.Observation(); obs != nil {
		return obs.Frame
	}
	return nil
}

// puzzleVisible checks the latest minimap for the puzzle marker.
func (b *Bot) puzzleVisible() bool {
	tpl := b.tpl[monitor.TplPuzzle]
	obs := b.st.Observation()
	if tpl == nil || obs == nil || obs.Frame == nil || obs.Minimap.Empty() {
		return false
	}
	mm := screen.Crop(obs.Frame, obs.Minimap)
	return len(b.vision.Match(mm, tpl, arrowThreshold)) > 0
}
