package monitor

import (
	"image"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/clock"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

var (
	gray   = color.RGBA{100, 100, 100, 255}
	red    = color.RGBA{255, 0, 0, 255}
	blue   = color.RGBA{0, 0, 255, 255}
	green  = color.RGBA{0, 255, 0, 255}
	purple = color.RGBA{160, 0, 255, 255}
	white  = color.RGBA{255, 255, 255, 255}
	yellow = color.RGBA{255, 221, 68, 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func paint(dst *image.RGBA, at image.Point, src *image.RGBA) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(at.X+x, at.Y+y, src.RGBAAt(x, y))
		}
	}
}

func templates() screen.Templates {
	return screen.Templates{
		TplIntruder:    solid(3, 3, red),
		TplPuzzle:      solid(3, 3, purple),
		TplTombstone:   solid(4, 4, blue),
		TplTombstoneOK: solid(3, 3, green),
	}
}

func setup(t *testing.T) (*Monitor, *state.Context, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := state.NewContext(clk)
	m := New(st, screen.NewMatcher(), templates(), config.Default().Monitor, 30*time.Second, logger.Nop{})
	return m, st, clk
}

func frameObs(frame *image.RGBA) *state.Observation {
	return &state.Observation{Frame: frame, Minimap: frame.Bounds(), Window: image.Rect(100, 50, 140, 90)}
}

func kinds(evs []Event) []Kind {
	out := make([]Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func only(t *testing.T, evs []Event, want Kind) Event {
	t.Helper()
	if len(evs) != 1 || evs[0].Kind != want {
		t.Fatalf("events = %v, want exactly [%s]", kinds(evs), want)
	}
	return evs[0]
}

func lostObs(kind state.LostKind, since time.Duration) *state.Observation {
	return &state.Observation{Lost: state.LostSignal{Kind: kind, Since: since}}
}

func TestLostPlayerEmitsOncePastDwell(t *testing.T) {
	m, st, clk := setup(t)
	st.SetEnabled(true)
	lost := func(since time.Duration) *state.Observation { return lostObs(state.LostPlayer, since) }
	if evs := m.Check(lost(time.Second)); len(evs) != 0 {
		t.Fatalf("emitted before dwell: %v", kinds(evs))
	}
	ev := only(t, m.Check(lost(2*time.Second)), KindLostPlayer)
	if ev.Severity != Error || ev.Arg != 2 {
		t.Fatalf("event = %+v", ev)
	}
	for i := 0; i < 10; i++ {
		clk.Advance(time.Second)
		if evs := m.Check(lost(time.Duration(3+i) * time.Second)); len(evs) != 0 {
			t.Fatalf("re-emitted within interval: %v", kinds(evs))
		}
	}
	clk.Advance(20 * time.Second)
	ev = only(t, m.Check(lost(32*time.Second)), KindLostPlayer)
	if ev.Arg != 32 {
		t.Fatalf("detail should report full elapsed, arg = %v", ev.Arg)
	}
}

func TestLostPlayerIgnoredWhilePaused(t *testing.T) {
	m, st, clk := setup(t)
	for i := 0; i < 5; i++ {
		if evs := m.Check(lostObs(state.LostPlayer, time.Duration(2+i*40)*time.Second)); len(evs) != 0 {
			t.Fatalf("paused bot reported %v", kinds(evs))
		}
		clk.Advance(40 * time.Second)
	}
	only(t, m.Check(lostObs(state.LostWindow, 5*time.Second)), KindLostWindow)

	st.SetEnabled(true)
	only(t, m.Check(lostObs(state.LostPlayer, 5*time.Second)), KindLostPlayer)
}

func TestBindedSkullOverCharacter(t *testing.T) {
	m, _, clk := setup(t)
	m.tpl[TplCharacter] = solid(4, 4, yellow)
	m.tpl[TplSkull] = solid(3, 3, white)

	frame := solid(200, 200, gray)
	paint(frame, image.Pt(50, 160), solid(4, 4, yellow))
	if evs := m.Check(&state.Observation{Frame: frame}); len(evs) != 0 {
		t.Fatalf("no skull yet: %v", kinds(evs))
	}
	if m.Binded(frame) {
		t.Fatalf("binded without a skull")
	}

	// skull inside the 40px box starting 25 right of and 140 above the character
	paint(frame, image.Pt(80, 30), solid(3, 3, white))
	clk.Advance(time.Second)
	ev := only(t, m.Check(&state.Observation{Frame: frame}), KindBinded)
	if ev.Severity != Warning {
		t.Fatalf("severity = %v", ev.Severity)
	}

	far := solid(200, 200, gray)
	paint(far, image.Pt(50, 160), solid(4, 4, yellow))
	paint(far, image.Pt(150, 30), solid(3, 3, white))
	if m.Binded(far) {
		t.Fatalf("skull outside the box counted")
	}
}

func TestBlackScreenDebounce(t *testing.T) {
	m, _, clk := setup(t)
	black := frameObs(image.NewRGBA(image.Rect(0, 0, 40, 40)))
	only(t, m.Check(black), KindBlackScreen)
	clk.Advance(10 * time.Second)
	if evs := m.Check(black); len(evs) != 0 {
		t.Fatalf("re-emitted after 10s: %v", kinds(evs))
	}
	clk.Advance(20 * time.Second)
	ev := only(t, m.Check(black), KindBlackScreen)
	if ev.Arg != 30 {
		t.Fatalf("elapsed = %v, want 30", ev.Arg)
	}
}

func TestWhiteRoomNeedsLostPlayer(t *testing.T) {
	m, _, _ := setup(t)
	obs := frameObs(solid(40, 40, white))
	if evs := m.Check(obs); len(evs) != 0 {
		t.Fatalf("white frame alone emitted %v", kinds(evs))
	}
	obs.Lost = state.LostSignal{Kind: state.LostPlayer, Since: time.Second}
	ev := only(t, m.Check(obs), KindWhiteRoom)
	if ev.Severity != Fatal {
		t.Fatalf("severity = %v", ev.Severity)
	}
}

func TestIntruderEscalation(t *testing.T) {
	m, _, clk := setup(t)
	with := solid(40, 40, gray)
	paint(with, image.Pt(10, 10), solid(3, 3, red))
	without := solid(40, 40, gray)

	at := func(d time.Duration, frame *image.RGBA) []Event {
		clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(d))
		return m.Check(frameObs(frame))
	}
	if evs := at(0, with); len(evs) != 0 {
		t.Fatalf("emitted on arrival: %v", kinds(evs))
	}
	only(t, at(10*time.Second, with), KindIntruderComing)
	if evs := at(15*time.Second, with); len(evs) != 0 {
		t.Fatalf("emitted at 15s: %v", kinds(evs))
	}
	// short absence does not end the episode
	at(16*time.Second, without)
	at(18*time.Second, without)
	only(t, at(20*time.Second, with), KindIntruderStay)
	ev := only(t, at(35*time.Second, with), KindIntruderLong)
	if ev.Severity != Error || ev.Arg != 35 {
		t.Fatalf("long stay = %+v", ev)
	}
	if evs := at(60*time.Second, with); len(evs) != 0 {
		t.Fatalf("threshold fired twice: %v", kinds(evs))
	}
	if evs := at(61*time.Second, without); len(evs) != 0 {
		t.Fatalf("left too early: %v", kinds(evs))
	}
	only(t, at(68500*time.Millisecond, without), KindIntruderLeft)

	if evs := at(70*time.Second, with); len(evs) != 0 {
		t.Fatalf("new episode emitted at once: %v", kinds(evs))
	}
	only(t, at(80*time.Second, with), KindIntruderComing)
}

func TestNoMovementOnlyWhileEnabled(t *testing.T) {
	m, st, clk := setup(t)
	obs := &state.Observation{Position: state.Position{X: 0.5, Y: 0.2}, Valid: true}
	for i := 0; i < 40; i++ {
		if evs := m.Check(obs); len(evs) != 0 {
			t.Fatalf("paused bot reported %v", kinds(evs))
		}
		clk.Advance(time.Second)
	}

	st.SetEnabled(true)
	m.Check(obs)
	clk.Advance(29 * time.Second)
	if evs := m.Check(obs); len(evs) != 0 {
		t.Fatalf("emitted before 30s: %v", kinds(evs))
	}
	clk.Advance(time.Second)
	ev := only(t, m.Check(obs), KindNoMovement)
	if ev.Severity != Warning || ev.Arg != 30 {
		t.Fatalf("event = %+v", ev)
	}

	moved := &state.Observation{Position: state.Position{X: 0.6, Y: 0.2}, Valid: true}
	clk.Advance(40 * time.Second)
	if evs := m.Check(moved); len(evs) != 0 {
		t.Fatalf("movement not noticed: %v", kinds(evs))
	}
}

func TestPuzzleActiveUntilClaimed(t *testing.T) {
	m, st, clk := setup(t)
	frame := solid(40, 40, gray)
	paint(frame, image.Pt(19, 9), solid(3, 3, purple))
	ev := only(t, m.Check(frameObs(frame)), KindPuzzleActive)
	if ev.Pos == nil || ev.Pos.X != 20.0/40 || ev.Pos.Y != 10.0/40 {
		t.Fatalf("puzzle pos = %v", ev.Pos)
	}
	st.SetPuzzle(*ev.Pos)
	clk.Advance(time.Minute)
	if evs := m.Check(frameObs(frame)); len(evs) != 0 {
		t.Fatalf("active puzzle reported again: %v", kinds(evs))
	}
}

func TestTombstoneClickThrough(t *testing.T) {
	m, _, _ := setup(t)
	m.ScreenshotDir = t.TempDir()
	frame := solid(40, 40, gray)
	paint(frame, image.Pt(5, 5), solid(4, 4, blue))
	paint(frame, image.Pt(20, 30), solid(3, 3, green))
	ev := only(t, m.Check(frameObs(frame)), KindDead)
	if ev.Severity != Fatal {
		t.Fatalf("severity = %v", ev.Severity)
	}
	// window origin (100,50) + ok button center (21,31)
	if ev.Click == nil || *ev.Click != image.Pt(121, 81) {
		t.Fatalf("click = %v", ev.Click)
	}
	if _, err := os.Stat(ev.Screenshot); err != nil {
		t.Fatalf("screenshot not saved: %v", err)
	}
}

func TestSubscribersReceiveEmit(t *testing.T) {
	m, _, _ := setup(t)
	a, b := m.Subscribe(), m.Subscribe()
	m.Emit(NewEvent(KindPuzzleFailed, time.Now(), 1, "attempt %d", 1))
	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != KindPuzzleFailed || ev.Severity != Warning || ev.Detail != "attempt 1" {
				t.Fatalf("event = %+v", ev)
			}
		default:
			t.Fatalf("subscriber got nothing")
		}
	}
}
