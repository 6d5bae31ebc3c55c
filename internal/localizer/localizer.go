// Package localizer finds the game window and minimap and tracks the player
// marker on it, publishing each result as a state.Observation.
package localizer

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Template names expected in the assets directory.
const (
	TplMinimapTL   = "minimap_tl"
	TplMinimapBR   = "minimap_br"
	TplPlayer      = "player"
	TplPlayerLeft  = "player_l"
	TplPlayerRight = "player_r"
)

var (
	ErrNoWindow  = errors.New("game window not found")
	ErrNoMinimap = errors.New("minimap not found")
)

// Grabber captures a rectangle of the screen. The returned image's bounds
// start at the origin.
type Grabber interface {
	Grab(region image.Rectangle) (image.Image, error)
}

// Localizer is the single publisher of observations.
type Localizer struct {
	st      *state.Context
	writer  *state.Writer
	vision  screen.VisionPort
	grabber Grabber
	windows input.WindowFinder
	title   string
	tpl     screen.Templates
	log     logger.Logger

	mu          sync.Mutex
	window      image.Rectangle
	minimap     image.Rectangle
	generation  uint64
	calibrated  bool
	lostPlayer  bool
	lastSuccess time.Time
}

// New claims the observation writer of st.
func New(st *state.Context, vision screen.VisionPort, grabber Grabber, windows input.WindowFinder,
	title string, tpl screen.Templates, log logger.Logger) (*Localizer, error) {
	if err := tpl.Require(TplMinimapTL, TplMinimapBR, TplPlayer); err != nil {
		return nil, err
	}
	w, err := st.ClaimWriter()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Localizer{
		st:          st,
		writer:      w,
		vision:      vision,
		grabber:     grabber,
		windows:     windows,
		title:       title,
		tpl:         tpl,
		log:         log,
		lostPlayer:  true,
		lastSuccess: st.Clock.Now(),
	}, nil
}

// Generation returns the current calibration generation.
func (l *Localizer) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// Calibrated reports whether window and minimap are known.
func (l *Localizer) Calibrated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calibrated
}

// Recalibrate locates the window and the minimap corners. With auto set, it
// is a no-op while the window is unchanged and the player is being tracked.
func (l *Localizer) Recalibrate(auto bool) bool {
	rect, ok := l.windows.FindWindow(l.title)
	if !ok {
		l.fail(state.LostWindow, ErrNoWindow)
		return false
	}

	l.mu.Lock()
	if auto && l.calibrated && rect == l.window && !l.lostPlayer {
		l.mu.Unlock()
		return true
	}
	l.mu.Unlock()

	frame, err := l.grabber.Grab(rect)
	if err != nil {
		l.fail(state.LostWindow, err)
		return false
	}
	mm, err := l.findMinimap(frame)
	if err != nil {
		l.fail(state.LostMinimap, err)
		return false
	}

	l.mu.Lock()
	changed := !l.calibrated || rect != l.window || mm != l.minimap
	l.window, l.minimap, l.calibrated = rect, mm, true
	if changed {
		l.generation++
	}
	gen := l.generation
	l.mu.Unlock()

	if changed {
		l.log.Info("Recalibrated: window %v, minimap %v", rect, mm)
		l.writer.Publish(state.Observation{Frame: frame, Window: rect, Minimap: mm, Generation: gen})
	}
	return true
}

// findMinimap derives the minimap rectangle from its corner decorations.
func (l *Localizer) findMinimap(frame image.Image) (image.Rectangle, error) {
	tl, okTL := l.vision.MatchBest(frame, l.tpl[TplMinimapTL])
	br, okBR := l.vision.MatchBest(frame, l.tpl[TplMinimapBR])
	if !okTL || !okBR {
		return image.Rectangle{}, ErrNoMinimap
	}
	pb := l.tpl[TplPlayer].Bounds()
	lo := tl.Min.Add(image.Pt(constants.MinimapBottomBorder, constants.MinimapTopBorder))
	hi := image.Pt(
		max(lo.X+pb.Dx(), br.Max.X+constants.MinimapRightPad),
		max(lo.Y+pb.Dy(), br.Max.Y-constants.MinimapBottomLift),
	)
	fb := frame.Bounds().Sub(frame.Bounds().Min)
	mm := image.Rectangle{Min: lo, Max: hi}.Intersect(fb)
	if mm.Empty() {
		return image.Rectangle{}, ErrNoMinimap
	}
	return mm, nil
}

// Locate captures a frame and searches for the player marker, trying the
// neutral sprite, then the right-facing one, then the left-facing one.
func (l *Localizer) Locate() (state.Position, *state.LostSignal) {
	pos, _, _, lost := l.locate()
	return pos, lost
}

func (l *Localizer) locate() (state.Position, image.Image, uint64, *state.LostSignal) {
	l.mu.Lock()
	window, mm, gen, calibrated := l.window, l.minimap, l.generation, l.calibrated
	since := l.st.Clock.Now().Sub(l.lastSuccess)
	l.mu.Unlock()

	if !calibrated {
		return state.Position{}, nil, gen, &state.LostSignal{Kind: state.LostMinimap, Since: since}
	}
	frame, err := l.grabber.Grab(window)
	if err != nil {
		return state.Position{}, nil, gen, &state.LostSignal{Kind: state.LostWindow, Since: since}
	}
	crop := screen.Crop(frame, mm)

	passes := []struct {
		name  string
		shift int
	}{
		{TplPlayer, 0},
		{TplPlayerRight, -constants.MarkerFacingOffset},
		{TplPlayerLeft, constants.MarkerFacingOffset},
	}
	for _, p := range passes {
		tpl := l.tpl[p.name]
		if tpl == nil {
			continue
		}
		pts := l.vision.Match(crop, tpl, constants.PlayerThreshold)
		if len(pts) == 0 {
			continue
		}
		tb := tpl.Bounds()
		cx := float64(pts[0].X + tb.Dx()/2 + p.shift)
		cy := float64(pts[0].Y + tb.Dy()/2)
		w := float64(mm.Dx())
		return state.Position{X: cx / w, Y: cy / w}, frame, gen, nil
	}
	return state.Position{}, frame, gen, &state.LostSignal{Kind: state.LostPlayer, Since: since}
}

// Tick runs one locate pass and publishes it unless a recalibration
// happened meanwhile.
func (l *Localizer) Tick() {
	pos, frame, gen, lost := l.locate()
	now := l.st.Clock.Now()

	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	obs := state.Observation{
		Frame:      frame,
		Window:     l.window,
		Minimap:    l.minimap,
		Generation: gen,
		LocatedAt:  now,
	}
	if lost == nil {
		l.lostPlayer = false
		l.lastSuccess = now
		obs.Position, obs.Valid = pos, true
	} else {
		if lost.Kind == state.LostPlayer {
			l.lostPlayer = true
		}
		obs.Lost = *lost
		if prev := l.writer.Current(); prev != nil && prev.Generation == gen {
			obs.Position = prev.Position
		}
	}
	l.mu.Unlock()

	l.writer.Publish(obs)
}

func (l *Localizer) fail(kind state.LostKind, err error) {
	l.mu.Lock()
	l.calibrated = false
	since := l.st.Clock.Now().Sub(l.lastSuccess)
	gen := l.generation
	l.mu.Unlock()

	l.log.Debug("calibration failed: %v", err)
	l.writer.Publish(state.Observation{
		Lost:       state.LostSignal{Kind: kind, Since: since},
		Generation: gen,
		LocatedAt:  l.st.Clock.Now(),
	})
}

// Run locates the player until ctx ends. It keeps running while the bot is
// paused so the panel and the monitor see fresh observations.
func (l *Localizer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if !l.Calibrated() {
			if !l.Recalibrate(false) {
				l.st.Wait(ctx, time.Second)
				continue
			}
		}
		l.safeTick()
		l.st.Wait(ctx, constants.LocateInterval)
	}
	return nil
}

// RunRecalibration re-checks the calibration on a fixed timer.
func (l *Localizer) RunRecalibration(ctx context.Context) error {
	for l.st.Wait(ctx, constants.RecalibrateInterval) {
		l.Recalibrate(true)
	}
	return nil
}

func (l *Localizer) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("locate panicked: %v", r)
		}
	}()
	l.Tick()
}
