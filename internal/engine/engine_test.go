package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/clock"
	"github.com/ConserveLee/scroll-idle/internal/config"
	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/engine/screen"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/monitor"
	"github.com/ConserveLee/scroll-idle/internal/routine"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

type fakeLocator struct {
	recalibrations atomic.Int32
	runErr         error
}

func (f *fakeLocator) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeLocator) RunRecalibration(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeLocator) Recalibrate(bool) bool {
	f.recalibrations.Add(1)
	return true
}

type fakeVision struct{}

func (fakeVision) Match(image.Image, image.Image, float64) []image.Point { return nil }
func (fakeVision) MatchBest(image.Image, image.Image) (image.Rectangle, bool) {
	return image.Rectangle{}, false
}

// fakeHotkeys forwards presses until the listener's context ends.
type fakeHotkeys struct {
	presses chan string
	watched atomic.Value
}

func (f *fakeHotkeys) Listen(ctx context.Context, keys []string) <-chan string {
	f.watched.Store(keys)
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case k := <-f.presses:
				select {
				case out <- k:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeSolver struct {
	seq   []string
	err   error
	calls int
}

func (f *fakeSolver) Solve(context.Context, func() image.Image) ([]string, error) {
	f.calls++
	return f.seq, f.err
}

type harness struct {
	bot     *Bot
	rec     *input.Recorder
	loc     *fakeLocator
	solver  *fakeSolver
	hotkeys *fakeHotkeys
	logs    *syncBuffer
	writer  *state.Writer
	clk     clock.Clock
}

func newHarness(t *testing.T, clk clock.Clock, opts ...func(*config.Settings, *Deps)) *harness {
	t.Helper()
	settings := config.Default()
	settings.Notify = config.Notify{}
	h := &harness{
		rec:     &input.Recorder{},
		loc:     &fakeLocator{},
		solver:  &fakeSolver{},
		hotkeys: &fakeHotkeys{presses: make(chan string)},
		logs:    &syncBuffer{},
		clk:     clk,
	}
	deps := Deps{
		Clock:     clk,
		Driver:    h.rec,
		Windows:   input.FixedWindow(image.Rect(0, 0, 800, 600)),
		Vision:    fakeVision{},
		Templates: screen.Templates{},
		Solver:    h.solver,
		Locator:   h.loc,
		Hotkeys:   h.hotkeys,
	}
	for _, o := range opts {
		o(&settings, &deps)
	}
	bot, err := New(&settings, deps, logger.NewConsoleLogger(h.logs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bot = bot
	if h.writer, err = bot.State().ClaimWriter(); err != nil {
		t.Fatalf("claim writer: %v", err)
	}
	return h
}

func (h *harness) place(p state.Position) {
	h.writer.Publish(state.Observation{Position: p, Valid: true, LocatedAt: h.clk.Now()})
}

func manual() *clock.Manual {
	return clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestBuiltins(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.State().SetEnabled(true)
	ctx := context.Background()

	for _, name := range []string{"wait", "walk", "face", "move", "adjust", "key", "list", "say"} {
		if !h.bot.Known(name) {
			t.Fatalf("%s should be a builtin", name)
		}
	}
	if h.bot.Known("teleport") {
		t.Fatalf("teleport is not loaded")
	}

	h.rec.Reset()
	if err := h.bot.call(ctx, routine.Call{Name: "key", Args: []string{"f1"}}); err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := h.bot.call(ctx, routine.Call{Name: "say", KW: map[string]string{"text": "brb"}}); err != nil {
		t.Fatalf("say: %v", err)
	}
	got := h.rec.Events()
	want := []input.Event{
		{Kind: "tap", Key: "f1"},
		{Kind: "tap", Key: "enter"},
		{Kind: "type", Key: "brb"},
		{Kind: "tap", Key: "enter"},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	start := h.clk.Now()
	if err := h.bot.call(ctx, routine.Call{Name: "wait", Args: []string{"1.5"}}); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if d := h.clk.Now().Sub(start); d != 1500*time.Millisecond {
		t.Fatalf("wait slept %v", d)
	}

	if err := h.bot.call(ctx, routine.Call{Name: "move", Args: []string{"x"}}); err == nil {
		t.Fatalf("move without y should fail")
	}
	if err := h.bot.call(ctx, routine.Call{Name: "walk"}); err == nil {
		t.Fatalf("walk without direction should fail")
	}
}

func TestUnknownCommandIsAnError(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.State().SetEnabled(true)
	if err := h.bot.call(context.Background(), routine.Call{Name: "nuke"}); err == nil {
		t.Fatalf("casting an unloaded command should fail")
	}
}

func TestLostPlayerPausesAndRecalibrates(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.State().SetEnabled(true)
	h.bot.keys.KeyDown("left")

	ev := monitor.NewEvent(monitor.KindLostPlayer, h.clk.Now(), 3, "player lost for 3s")
	h.bot.react(context.Background(), ev)

	if h.bot.State().Enabled() {
		t.Fatalf("bot still enabled after losing the player")
	}
	if n := h.loc.recalibrations.Load(); n != 1 {
		t.Fatalf("recalibrations = %d, want 1", n)
	}
	if held := h.bot.keys.Held(); len(held) != 0 {
		t.Fatalf("keys still held after pause: %v", held)
	}
}

func TestIntruderChat(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.State().SetEnabled(true)
	ctx := context.Background()

	h.bot.react(ctx, monitor.NewEvent(monitor.KindIntruderComing, h.clk.Now(), 10, "someone for 10s"))
	h.bot.react(ctx, monitor.NewEvent(monitor.KindIntruderStay, h.clk.Now(), 20, "someone for 20s"))

	var typed []string
	for _, e := range h.rec.Events() {
		if e.Kind == "type" {
			typed = append(typed, e.Key)
		}
	}
	if !slices.Equal(typed, []string{"hi", "cc pls"}) {
		t.Fatalf("typed %v", typed)
	}
	if !h.bot.State().Enabled() {
		t.Fatalf("intruder warnings must not pause")
	}

	h.bot.react(ctx, monitor.NewEvent(monitor.KindIntruderLong, h.clk.Now(), 35, "someone for 35s"))
	if h.bot.State().Enabled() {
		t.Fatalf("prolonged intruder should pause")
	}
	if taps := h.rec.Taps(); taps[len(taps)-1] != "h" {
		t.Fatalf("expected a home tap, got %v", taps)
	}
}

func TestDeadClicksThroughAndPauses(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.State().SetEnabled(true)

	ev := monitor.NewEvent(monitor.KindDead, h.clk.Now(), 0, "tombstone")
	ev.Click = &image.Point{X: 121, Y: 81}
	h.bot.react(context.Background(), ev)

	want := []input.Event{
		{Kind: "move", X: 121, Y: 81},
		{Kind: "click", Key: "left"},
		{Kind: "click", Key: "left"},
	}
	if got := h.rec.Events(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.bot.State().Enabled() {
		t.Fatalf("death should pause")
	}
}

func TestPuzzleActiveMarksPuzzle(t *testing.T) {
	h := newHarness(t, manual())
	p := state.Position{X: 0.4, Y: 0.2}
	ev := monitor.NewEvent(monitor.KindPuzzleActive, h.clk.Now(), 0, "puzzle")
	ev.Pos = &p
	h.bot.react(context.Background(), ev)

	got, ok := h.bot.State().Puzzle()
	if !ok || got != p {
		t.Fatalf("puzzle = %v %v, want %v", got, ok, p)
	}
}

func TestPuzzleFailureEscalates(t *testing.T) {
	h := newHarness(t, manual())
	st := h.bot.State()
	st.SetEnabled(true)
	at := state.Position{X: 0.5, Y: 0.3}
	h.place(at)
	st.SetPuzzle(at)
	h.solver.err = ErrNoSolution
	events := h.bot.Monitor().Subscribe()

	h.bot.solvePuzzle(context.Background(), at)

	var kinds []monitor.Kind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	want := []monitor.Kind{
		monitor.KindPuzzleFailed, monitor.KindPuzzleFailed, monitor.KindPuzzleFailed,
		monitor.KindPuzzleError,
	}
	if !slices.Equal(kinds, want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	if h.solver.calls != 3 {
		t.Fatalf("solver calls = %d, want 3", h.solver.calls)
	}
	if _, ok := st.Puzzle(); ok {
		t.Fatalf("puzzle should be cleared after giving up")
	}
}

func TestPuzzleSolved(t *testing.T) {
	h := newHarness(t, manual())
	st := h.bot.State()
	st.SetEnabled(true)
	at := state.Position{X: 0.5, Y: 0.3}
	h.place(at)
	st.SetPuzzle(at)
	h.solver.seq = []string{"up", "left", "down", "right"}
	events := h.bot.Monitor().Subscribe()

	h.bot.solvePuzzle(context.Background(), at)

	if ev := <-events; ev.Kind != monitor.KindPuzzleSolved {
		t.Fatalf("event = %s, want solved", ev)
	}
	if _, ok := st.Puzzle(); ok {
		t.Fatalf("puzzle should be cleared")
	}
	taps := h.rec.Taps()
	if !slices.Equal(taps, []string{"up", "left", "down", "right"}) {
		t.Fatalf("taps = %v", taps)
	}
	var interact int
	for _, e := range h.rec.Events() {
		if e.Key == "space" && e.Kind == "down" {
			interact++
		}
	}
	if interact != 1 {
		t.Fatalf("interact presses = %d, want 1", interact)
	}
}

func TestPuzzleAbortsWhenPaused(t *testing.T) {
	h := newHarness(t, manual())
	st := h.bot.State()
	at := state.Position{X: 0.5, Y: 0.3}
	h.place(at)
	st.SetPuzzle(at)
	events := h.bot.Monitor().Subscribe()

	h.bot.solvePuzzle(context.Background(), at)

	if len(events) != 0 {
		t.Fatalf("paused recovery should stay silent")
	}
	if _, ok := st.Puzzle(); !ok {
		t.Fatalf("puzzle should remain active for later")
	}
}

func TestLoadRoutineReportsDiagnostics(t *testing.T) {
	h := newHarness(t, manual())
	path := filepath.Join(t.TempDir(), "field.csv")
	src := "*, 0.2, 0.5\n    wait, 0.5\n    teleport\n*, 0.8, 0.5\n    face, left\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	diags, err := h.bot.LoadRoutine(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadRoutine: %v", err)
	}
	if len(diags) != 1 || !strings.Contains(diags[0].Error(), "teleport") || diags[0].Line != 3 {
		t.Fatalf("diags = %v", diags)
	}
	if n := h.bot.Routine().Len(); n != 2 {
		t.Fatalf("routine has %d elements, want 2", n)
	}
}

func TestStepFollowsRoutine(t *testing.T) {
	h := newHarness(t, manual())
	path := filepath.Join(t.TempDir(), "field.csv")
	if err := os.WriteFile(path, []byte("*, 0.5, 0.5\n    key, f2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.bot.LoadRoutine(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	h.place(state.Position{X: 0.5, Y: 0.5})
	h.bot.State().SetEnabled(true)

	h.bot.step(context.Background())
	h.bot.step(context.Background())

	if taps := h.rec.Taps(); !slices.Equal(taps, []string{"f2", "f2"}) {
		t.Fatalf("taps = %v", taps)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, clock.Real{})
	var statuses []string
	h.bot.StatusFunc = func(s string) { statuses = append(statuses, s) }

	h.bot.Start()
	h.bot.SetEnabled(true)
	if h.loc.recalibrations.Load() != 1 {
		t.Fatalf("enabling should request a recalibration")
	}
	h.bot.keys.KeyDown("right")
	if err := h.bot.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.bot.Status != StatusStopped || h.bot.State().Enabled() {
		t.Fatalf("bot not stopped")
	}
	if held := h.bot.keys.Held(); len(held) != 0 {
		t.Fatalf("held after stop: %v", held)
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != "Status: Stopped" {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestStartEndsWhenALoopFails(t *testing.T) {
	h := newHarness(t, clock.Real{})
	h.loc.runErr = errors.New("window gone")
	var mu sync.Mutex
	var statuses []string
	h.bot.StatusFunc = func(s string) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}

	h.bot.Start()
	select {
	case <-h.bot.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not end after the locator failed")
	}

	mu.Lock()
	reported := slices.Contains(statuses, "Status: Stopped")
	mu.Unlock()
	if !reported {
		t.Fatalf("statuses = %v", statuses)
	}
	if got := h.bot.statusText(); got != "Status: Stopped" {
		t.Fatalf("statusText = %q", got)
	}
	if !strings.Contains(h.logs.String(), "window gone") {
		t.Fatalf("failure not logged:\n%s", h.logs)
	}

	// a stopped bot can be started again
	h.loc.runErr = nil
	h.bot.Start()
	if got := h.bot.statusText(); got != "Status: Paused" {
		t.Fatalf("restarted statusText = %q", got)
	}
	if err := h.bot.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFeedListenErrorKeepsRunning(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	h := newHarness(t, clock.Real{}, func(s *config.Settings, _ *Deps) {
		s.Notify.WebsocketAddr = busy.Addr().String()
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(h.logs.String(), "notification feed") {
		if time.Now().After(deadline) {
			t.Fatalf("listen error not logged:\n%s", h.logs)
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("Run ended with the feed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestToggleHotkey(t *testing.T) {
	h := newHarness(t, clock.Real{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	h.hotkeys.presses <- "f12"
	waitFor(t, func() bool { return h.bot.State().Enabled() })
	if keys, _ := h.hotkeys.watched.Load().([]string); !slices.Equal(keys, []string{"f12"}) {
		t.Fatalf("watched keys = %v", keys)
	}
	if h.loc.recalibrations.Load() != 1 {
		t.Fatalf("enabling by hotkey should recalibrate")
	}

	h.hotkeys.presses <- "f12"
	waitFor(t, func() bool { return !h.bot.State().Enabled() })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// skullVision sees the character everywhere and the skull for the first
// skulls lookups.
type skullVision struct {
	char   image.Image
	skulls int
}

func (v *skullVision) Match(_, tpl image.Image, _ float64) []image.Point {
	if tpl == v.char {
		return []image.Point{{X: 100, Y: 300}}
	}
	if v.skulls > 0 {
		v.skulls--
		return []image.Point{{}}
	}
	return nil
}

func (v *skullVision) MatchBest(image.Image, image.Image) (image.Rectangle, bool) {
	return image.Rectangle{}, false
}

func TestBindedMashesUntilFree(t *testing.T) {
	char := image.NewUniform(color.RGBA{R: 255, A: 255})
	vision := &skullVision{char: char, skulls: 2}
	h := newHarness(t, manual(), func(_ *config.Settings, d *Deps) {
		d.Vision = vision
		d.Templates = screen.Templates{
			monitor.TplCharacter: char,
			monitor.TplSkull:     image.NewUniform(color.White),
		}
	})
	st := h.bot.State()
	st.SetEnabled(true)
	h.writer.Publish(state.Observation{Frame: image.NewRGBA(image.Rect(0, 0, 800, 600))})
	h.bot.keys.KeyDown("right")
	h.rec.Reset()

	h.bot.react(context.Background(), monitor.NewEvent(monitor.KindBinded, h.clk.Now(), 0, "skull"))

	var want []string
	for i := 0; i < 3*constants.UnbindTaps; i++ {
		want = append(want, "left", "right")
	}
	if taps := h.rec.Taps(); !slices.Equal(taps, want) {
		t.Fatalf("taps = %v, want %d rounds", taps, 3)
	}
	if !st.Enabled() {
		t.Fatalf("bot should resume once free")
	}
	if held := h.bot.keys.Held(); len(held) != 0 {
		t.Fatalf("keys held through the mash: %v", held)
	}
}

func TestBindedIgnoredWhilePaused(t *testing.T) {
	h := newHarness(t, manual())
	h.bot.react(context.Background(), monitor.NewEvent(monitor.KindBinded, h.clk.Now(), 0, "skull"))
	if taps := h.rec.Taps(); len(taps) != 0 {
		t.Fatalf("paused bot mashed %v", taps)
	}
	if h.bot.State().Enabled() {
		t.Fatalf("paused bot resumed")
	}
}

func TestRemoteCommands(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, manual(), func(s *config.Settings, _ *Deps) {
		s.Notify.ScreenshotDir = dir
	})
	h.bot.Status = StatusRunning
	ctx := context.Background()
	st := h.bot.State()

	if r := h.bot.remote(ctx, "start"); !st.Enabled() || !strings.HasPrefix(r.Text, "Status: Running") {
		t.Fatalf("start: %+v enabled=%v", r, st.Enabled())
	}
	st.SetPuzzle(state.Position{X: 0.1, Y: 0.1})
	if r := h.bot.remote(ctx, "pause"); st.Enabled() || r.Text != "Status: Paused" {
		t.Fatalf("pause: %+v", r)
	}
	if _, ok := st.Puzzle(); ok {
		t.Fatalf("pause should forget the puzzle")
	}
	if r := h.bot.remote(ctx, "info"); r.Text != "Status: Paused" {
		t.Fatalf("info: %+v", r)
	}
	if r := h.bot.remote(ctx, "screenshot"); r.Image != "" {
		t.Fatalf("screenshot without a frame: %+v", r)
	}

	h.writer.Publish(state.Observation{Frame: image.NewRGBA(image.Rect(0, 0, 8, 8))})
	r := h.bot.remote(ctx, "screenshot")
	if r.Image == "" || !strings.HasPrefix(r.Image, filepath.Join(dir, "screenshot")) {
		t.Fatalf("screenshot: %+v", r)
	}
	if _, err := os.Stat(r.Image); err != nil {
		t.Fatalf("screenshot not saved: %v", err)
	}
	if r := h.bot.remote(ctx, "reboot"); !strings.Contains(r.Text, "unknown command") {
		t.Fatalf("reboot: %+v", r)
	}
}

func TestLoadRoutinePublishesTunables(t *testing.T) {
	h := newHarness(t, manual())
	before := h.bot.Tunables().MoveTolerance
	path := filepath.Join(t.TempDir(), "field.csv")
	if err := os.WriteFile(path, []byte("$, move_tolerance, 0.031\n*, 0.5, 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := h.bot.LoadRoutine(context.Background(), path); err != nil {
		t.Fatalf("LoadRoutine: %v", err)
	}
	if got := h.bot.Tunables().MoveTolerance; got != 0.031 || got == before {
		t.Fatalf("move_tolerance = %v (was %v)", got, before)
	}
	if h.bot.settings.Movement.MoveTolerance != before {
		t.Fatalf("loaded settings were mutated")
	}
}
