// Package monitor watches observations for anomalies and publishes
// debounced events to subscribers.
package monitor

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Template names the monitor looks for. Missing templates disable their check.
const (
	TplIntruder    = "other"
	TplPuzzle      = "puzzle"
	TplTombstone   = "tombstone"
	TplTombstoneOK = "tombstone_ok"
	TplCharacter   = "character"
	TplSkull       = "skull"
)

const (
	intruderThreshold = 0.7
	markerThreshold   = 0.9
	stillRadius       = 0.005 // movement below this counts as standing still
	subscriberBuffer  = 32
)

// Monitor classifies observations. It runs whether or not the bot is enabled.
type Monitor struct {
	st       *state.Context
	vision   screen.VisionPort
	tpl      screen.Templates
	cfg      config.Monitor
	interval time.Duration
	log      logger.Logger

	// ScreenshotDir receives frames attached to intruder and death events.
	ScreenshotDir string

	mu        sync.Mutex
	subs      []chan Event
	lastEmit  map[Kind]time.Time
	firstSeen map[Kind]time.Time
	intruders episode
	still     stillness
}

type episode struct {
	since  time.Time
	absent time.Time
	count  int
	fired  map[Kind]bool
}

type stillness struct {
	pos   state.Position
	since time.Time
	ok    bool
}

func New(st *state.Context, vision screen.VisionPort, tpl screen.Templates, cfg config.Monitor,
	noticeInterval time.Duration, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop{}
	}
	if noticeInterval <= 0 {
		noticeInterval = constants.NoticeInterval
	}
	return &Monitor{
		st:        st,
		vision:    vision,
		tpl:       tpl,
		cfg:       cfg,
		interval:  noticeInterval,
		log:       log,
		lastEmit:  map[Kind]time.Time{},
		firstSeen: map[Kind]time.Time{},
	}
}

// Subscribe returns a channel receiving every event. Slow subscribers lose
// events rather than stall the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Emit publishes an event raised outside the monitor, such as a failed
// puzzle attempt.
func (m *Monitor) Emit(ev Event) {
	m.mu.Lock()
	subs := append([]chan Event(nil), m.subs...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn("event dropped: %s", ev)
		}
	}
}

// Run polls the latest observation until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	for m.st.Wait(ctx, constants.MonitorInterval) {
		for _, ev := range m.safeCheck(m.st.Observation()) {
			m.Emit(ev)
		}
	}
	return nil
}

func (m *Monitor) safeCheck(obs *state.Observation) (events []Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("monitor check panicked: %v", r)
			events = nil
		}
	}()
	return m.Check(obs)
}

// Check evaluates every condition against obs and returns the events due now.
func (m *Monitor) Check(obs *state.Observation) []Event {
	if obs == nil {
		return nil
	}
	now := m.st.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	m.checkLost(now, obs, &out)
	m.checkMovement(now, obs, &out)
	if obs.Frame == nil {
		return out
	}
	m.checkScreen(now, obs, &out)
	m.checkTombstone(now, obs, &out)
	m.checkBinded(now, obs, &out)
	if !obs.Minimap.Empty() {
		mm := screen.Crop(obs.Frame, obs.Minimap)
		m.checkIntruders(now, obs, mm, &out)
		m.checkPuzzle(now, obs, mm, &out)
	}
	return out
}

// debounce emits kind while active, at most once per notice interval.
// elapsed is measured from the first tick the condition was seen.
func (m *Monitor) debounce(now time.Time, kind Kind, active bool, out *[]Event, build func(elapsed time.Duration) Event) {
	if !active {
		delete(m.firstSeen, kind)
		return
	}
	first, ok := m.firstSeen[kind]
	if !ok {
		first = now
		m.firstSeen[kind] = now
	}
	if last, ok := m.lastEmit[kind]; ok && now.Sub(last) < m.interval {
		return
	}
	m.lastEmit[kind] = now
	*out = append(*out, build(now.Sub(first)))
}

// checkLost reports a lost window or minimap at any time, a lost player only
// while enabled: a paused player may be in town.
func (m *Monitor) checkLost(now time.Time, obs *state.Observation, out *[]Event) {
	for _, lk := range []state.LostKind{state.LostWindow, state.LostMinimap, state.LostPlayer} {
		kind, _ := LostKind(lk)
		active := obs.Lost.Kind == lk && obs.Lost.Since >= m.cfg.LostDwell
		if lk == state.LostPlayer && !m.st.Enabled() {
			active = false
		}
		since := obs.Lost.Since
		m.debounce(now, kind, active, out, func(time.Duration) Event {
			return NewEvent(kind, now, since.Seconds(), "not found for %s", since.Round(time.Second))
		})
	}
}

func (m *Monitor) checkMovement(now time.Time, obs *state.Observation, out *[]Event) {
	if !m.st.Enabled() || !obs.Valid {
		m.still = stillness{}
		m.debounce(now, KindNoMovement, false, out, nil)
		return
	}
	if !m.still.ok || obs.Position.Dist(m.still.pos) > stillRadius {
		m.still = stillness{pos: obs.Position, since: now, ok: true}
	}
	stalled := now.Sub(m.still.since)
	m.debounce(now, KindNoMovement, stalled >= m.cfg.NoMovement, out, func(time.Duration) Event {
		return NewEvent(KindNoMovement, now, stalled.Seconds(), "no movement at %s for %s", m.still.pos, stalled.Round(time.Second))
	})
}

func (m *Monitor) checkScreen(now time.Time, obs *state.Observation, out *[]Event) {
	black := screen.GrayFraction(obs.Frame, func(g uint8) bool { return g < constants.BlackPixelLevel })
	m.debounce(now, KindBlackScreen, black > m.cfg.BlackFraction, out, func(elapsed time.Duration) Event {
		return NewEvent(KindBlackScreen, now, elapsed.Seconds(), "screen black for %s", elapsed.Round(time.Second))
	})

	white := screen.GrayFraction(obs.Frame, func(g uint8) bool { return g == 255 })
	active := white >= m.cfg.WhiteFraction && obs.Lost.Kind == state.LostPlayer
	m.debounce(now, KindWhiteRoom, active, out, func(elapsed time.Duration) Event {
		return NewEvent(KindWhiteRoom, now, elapsed.Seconds(), "white room for %s (%.0f%% white)", elapsed.Round(time.Second), white*100)
	})
}

func (m *Monitor) checkTombstone(now time.Time, obs *state.Observation, out *[]Event) {
	tomb := m.tpl[TplTombstone]
	if tomb == nil {
		return
	}
	fb := obs.Frame.Bounds()
	x := (fb.Dx() - constants.TombstoneRegionWidth) / 2
	y := (fb.Dy() - constants.TombstoneRegionHigh) / 2
	region := image.Rect(x, y, x+constants.TombstoneRegionWidth, y+constants.TombstoneRegionHigh).
		Intersect(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	crop := screen.Crop(obs.Frame, region)

	found := len(m.vision.Match(crop, tomb, markerThreshold)) > 0
	m.debounce(now, KindDead, found, out, func(time.Duration) Event {
		ev := NewEvent(KindDead, now, 0, "character died")
		if ok := m.tpl[TplTombstoneOK]; ok != nil {
			if pts := m.vision.Match(crop, ok, markerThreshold); len(pts) > 0 {
				ob := ok.Bounds()
				p := obs.Window.Min.Add(region.Min).Add(pts[0]).Add(image.Pt(ob.Dx()/2, ob.Dy()/2))
				ev.Click = &p
			}
		}
		ev.Screenshot = m.snapshot(KindDead, obs.Frame, now)
		return ev
	})
}

func (m *Monitor) checkBinded(now time.Time, obs *state.Observation, out *[]Event) {
	m.debounce(now, KindBinded, m.Binded(obs.Frame), out, func(time.Duration) Event {
		return NewEvent(KindBinded, now, 0, "skull over the character")
	})
}

// Binded reports whether a binding skull hangs over the character in frame.
// It is false when either template is missing.
func (m *Monitor) Binded(frame image.Image) bool {
	char, skull := m.tpl[TplCharacter], m.tpl[TplSkull]
	if frame == nil || char == nil || skull == nil {
		return false
	}
	pts := m.vision.Match(frame, char, markerThreshold)
	if len(pts) == 0 {
		return false
	}
	fb := frame.Bounds()
	at := pts[0].Add(image.Pt(constants.SkullOffsetX, constants.SkullOffsetY))
	region := image.Rectangle{Min: at, Max: at.Add(image.Pt(constants.SkullRegion, constants.SkullRegion))}.
		Intersect(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	if region.Empty() {
		return false
	}
	return len(m.vision.Match(screen.Crop(frame, region), skull, markerThreshold)) > 0
}

func (m *Monitor) checkIntruders(now time.Time, obs *state.Observation, mm image.Image, out *[]Event) {
	tpl := m.tpl[TplIntruder]
	if tpl == nil {
		return
	}
	count := len(m.vision.Match(mm, tpl, intruderThreshold))
	ep := &m.intruders

	if count == 0 {
		if ep.since.IsZero() {
			return
		}
		if ep.absent.IsZero() {
			ep.absent = now
		}
		if now.Sub(ep.absent) >= m.cfg.IntruderLeft {
			if ep.fired[KindIntruderComing] {
				*out = append(*out, NewEvent(KindIntruderLeft, now, 0, "someone left after %s", ep.absent.Sub(ep.since).Round(time.Second)))
			}
			*ep = episode{}
		}
		return
	}

	if ep.since.IsZero() {
		*ep = episode{since: now, fired: map[Kind]bool{}}
	}
	ep.absent = time.Time{}
	ep.count = count
	stayed := now.Sub(ep.since)
	steps := []struct {
		after time.Duration
		kind  Kind
	}{
		{m.cfg.IntruderComing, KindIntruderComing},
		{m.cfg.IntruderStay, KindIntruderStay},
		{m.cfg.IntruderLong, KindIntruderLong},
	}
	for _, s := range steps {
		if stayed < s.after || ep.fired[s.kind] {
			continue
		}
		ep.fired[s.kind] = true
		ev := NewEvent(s.kind, now, stayed.Seconds(), "stayed %s, %d other player(s) on the map", stayed.Round(time.Second), count)
		ev.Screenshot = m.snapshot(s.kind, obs.Frame, now)
		*out = append(*out, ev)
	}
}

func (m *Monitor) checkPuzzle(now time.Time, obs *state.Observation, mm image.Image, out *[]Event) {
	tpl := m.tpl[TplPuzzle]
	if tpl == nil {
		return
	}
	_, active := m.st.Puzzle()
	pts := m.vision.Match(mm, tpl, markerThreshold)
	m.debounce(now, KindPuzzleActive, len(pts) > 0 && !active, out, func(time.Duration) Event {
		tb := tpl.Bounds()
		w := float64(obs.Minimap.Dx())
		pos := state.Position{
			X: float64(pts[0].X+tb.Dx()/2) / w,
			Y: float64(pts[0].Y+tb.Dy()/2) / w,
		}
		ev := NewEvent(KindPuzzleActive, now, 0, "puzzle at %s", pos)
		ev.Pos = &pos
		return ev
	})
}

// snapshot saves frame under ScreenshotDir and returns its path.
func (m *Monitor) snapshot(kind Kind, frame image.Image, now time.Time) string {
	if m.ScreenshotDir == "" || frame == nil {
		return ""
	}
	dir := strings.ToLower(strings.ReplaceAll(string(kind), " ", "_"))
	path := filepath.Join(m.ScreenshotDir, dir, fmt.Sprintf("%d.png", now.UnixNano()))
	if err := screen.SaveImage(path, frame); err != nil {
		m.log.Warn("screenshot %s: %v", path, err)
		return ""
	}
	return path
}
