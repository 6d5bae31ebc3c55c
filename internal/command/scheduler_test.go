package command

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/clock"
	"github.com/ConserveLee/scroll-idle/internal/engine/input"
	"github.com/ConserveLee/scroll-idle/internal/logger"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, toggles map[string]bool) (*Scheduler, *clock.Manual, *input.Recorder) {
	t.Helper()
	clk := clock.NewManual(t0)
	st := state.NewContext(clk)
	st.SetEnabled(true)
	rec := &input.Recorder{}
	s := NewScheduler(st, rec, logger.Nop{}, func(name string) bool { return toggles[name] })
	return s, clk, rec
}

func TestCooldownWindow(t *testing.T) {
	s, clk, _ := newTestScheduler(t, nil)
	const C, B = 10 * time.Second, 500 * time.Millisecond
	s.Register(Spec{ID: "nuke", Key: "a", Cooldown: C, Backswing: B})

	if !s.CanUse("nuke", 0) {
		t.Fatalf("fresh command not usable")
	}
	if err := s.Cast(context.Background(), "nuke"); err != nil {
		t.Fatalf("cast: %v", err)
	}

	for _, d := range []time.Duration{0, B, C, C + B - time.Millisecond} {
		clk.Set(t0.Add(d))
		if s.CanUse("nuke", 0) {
			t.Fatalf("usable %s after cast, window is %s", d, C+B)
		}
	}
	clk.Set(t0.Add(C + B))
	if !s.CanUse("nuke", 0) {
		t.Fatalf("not usable once the window elapsed")
	}

	clk.Set(t0.Add(C))
	if !s.CanUse("nuke", B) {
		t.Fatalf("lookahead not applied")
	}
	if err := s.Cast(context.Background(), "nuke"); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("cast during cooldown err = %v", err)
	}
}

func TestChargesResetAfterWindow(t *testing.T) {
	s, clk, rec := newTestScheduler(t, nil)
	s.Register(Spec{ID: "assault", Key: "d", Cooldown: 60 * time.Second, Charges: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Cast(ctx, "assault"); err != nil {
			t.Fatalf("cast %d: %v", i, err)
		}
		clk.Advance(time.Second)
	}
	if s.Charges("assault") != 0 {
		t.Fatalf("charges = %d, want 0", s.Charges("assault"))
	}
	if err := s.Cast(ctx, "assault"); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("fourth cast err = %v", err)
	}

	clk.Set(t0.Add(60 * time.Second))
	if err := s.Cast(ctx, "assault"); err != nil {
		t.Fatalf("cast after window: %v", err)
	}
	if s.Charges("assault") != 2 {
		t.Fatalf("charges after reset = %d, want 2", s.Charges("assault"))
	}
	if got := len(rec.Taps()); got != 4 {
		t.Fatalf("taps = %d", got)
	}
}

type blockingKeys struct {
	input.Recorder
	entered chan struct{}
	release chan struct{}
}

func (b *blockingKeys) KeyTap(key string) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Recorder.KeyTap(key)
}

func TestConcurrentCastsSerialize(t *testing.T) {
	st := state.NewContext(clock.NewManual(t0))
	st.SetEnabled(true)
	keys := &blockingKeys{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(st, keys, nil, nil)
	s.Register(Spec{ID: "buff", Key: "b"})

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		first = s.Cast(context.Background(), "buff")
	}()
	<-keys.entered

	if err := s.Cast(context.Background(), "buff"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second concurrent cast err = %v", err)
	}
	if s.CanUse("buff", 0) {
		t.Fatalf("CanUse true while a cast is in flight")
	}
	close(keys.release)
	wg.Wait()
	if first != nil {
		t.Fatalf("first cast: %v", first)
	}
	if taps := keys.Taps(); len(taps) != 1 {
		t.Fatalf("taps = %v", taps)
	}
}

func TestCastRefusedWhileDisabled(t *testing.T) {
	s, _, rec := newTestScheduler(t, nil)
	s.Register(Spec{ID: "x", Key: "x"})
	s.st.SetEnabled(false)
	if err := s.Cast(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("input issued while disabled")
	}
	if err := s.Cast(context.Background(), "missing"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("unknown err = %v", err)
	}
}

func TestRunListCastsFirstAdmissible(t *testing.T) {
	s, clk, rec := newTestScheduler(t, map[string]bool{"guild": false})
	s.Load(&Book{
		Name: "test",
		Commands: []Spec{
			{ID: "guild_buff", Key: "g", Cooldown: time.Hour, Toggle: "guild"},
			{ID: "haste", Key: "h", Cooldown: 2 * time.Minute},
			{ID: "shield", Key: "s", Cooldown: 3 * time.Minute},
			{ID: "stealth", Key: "w", Cooldown: time.Minute},
			{ID: "potion", Key: "p", Cooldown: 30 * time.Second,
				NotWithin: []Exclusion{{ID: "stealth", Window: 33 * time.Second}}},
		},
		Lists: map[string][]string{
			"buff":   {"guild_buff", "haste", "shield"},
			"potion": {"potion"},
		},
	})
	ctx := context.Background()

	want := []string{"haste", "shield", ""}
	for i, w := range want {
		got, err := s.RunList(ctx, "buff")
		if err != nil || got != w {
			t.Fatalf("run %d = %q, %v; want %q", i, got, err, w)
		}
	}
	if !reflect.DeepEqual(rec.Taps(), []string{"h", "s"}) {
		t.Fatalf("taps = %v", rec.Taps())
	}

	if err := s.Cast(ctx, "stealth"); err != nil {
		t.Fatalf("stealth: %v", err)
	}
	if got, _ := s.RunList(ctx, "potion"); got != "" {
		t.Fatalf("potion cast within stealth window")
	}
	clk.Advance(34 * time.Second)
	if got, _ := s.RunList(ctx, "potion"); got != "potion" {
		t.Fatalf("potion not cast after window, got %q", got)
	}
}

func TestPickMovement(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	s.Load(&Book{
		Name: "test",
		Commands: []Spec{
			{ID: "jump", Key: "alt"},
			{ID: "jump_up", Keys: []string{"up", "alt"}},
			{ID: "rope_lift", Key: "c", Cooldown: 10 * time.Second},
		},
		Movement: Movement{Up: []Tier{
			{ID: "rope_lift", Range: 0.4},
			{ID: "jump", Range: 0.05},
			{ID: "jump_up", Range: 0.2},
		}},
	})

	cases := []struct {
		d    float64
		want string
	}{
		{0.03, "jump"},
		{0.1, "jump_up"},
		{0.3, "rope_lift"},
		{2.0, "rope_lift"},
	}
	for _, c := range cases {
		if got, ok := s.PickMovement(Up, c.d); !ok || got != c.want {
			t.Fatalf("PickMovement(%v) = %q, want %q", c.d, got, c.want)
		}
	}

	if err := s.Cast(context.Background(), "rope_lift"); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if got, _ := s.PickMovement(Up, 2.0); got != "jump_up" {
		t.Fatalf("fallback = %q, want jump_up", got)
	}
	if _, ok := s.PickMovement(Down, 0.1); ok {
		t.Fatalf("picked a tier from an empty table")
	}
}
