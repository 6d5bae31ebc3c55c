package engine

import (
	"context"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/constants"
	"github.com/ConserveLee/scroll-idle/internal/monitor"
)

const (
	clickSettle = 300 * time.Millisecond
	nudgeWalk   = 400 * time.Millisecond
)

func (b *Bot) handleEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.react(ctx, ev)
		}
	}
}

// react runs the corrective action for ev. Notification is handled by the
// dispatcher on its own subscription.
func (b *Bot) react(ctx context.Context, ev monitor.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("reaction to %s panicked: %v", ev.Kind, r)
		}
	}()

	switch ev.Kind {
	case monitor.KindDead:
		b.clickThrough(ctx, ev)
		b.pause(ev)
	case monitor.KindLostWindow, monitor.KindLostMinimap, monitor.KindLostPlayer, monitor.KindBlackScreen:
		b.loc.Recalibrate(false)
		b.pause(ev)
	case monitor.KindNoMovement:
		b.nudge(ctx)
	case monitor.KindBinded:
		b.unbind(ctx)
	case monitor.KindIntruderComing:
		b.chat(b.settings.Chat.OnComing)
	case monitor.KindIntruderStay:
		b.chat(b.settings.Chat.OnStay)
	case monitor.KindIntruderLong, monitor.KindPuzzleError:
		b.goHome()
		b.pause(ev)
	case monitor.KindPuzzleActive:
		if ev.Pos != nil {
			b.st.SetPuzzle(*ev.Pos)
			b.log.Info("Puzzle at %s", ev.Pos)
		}
	default:
		if ev.Severity == monitor.Fatal {
			b.pause(ev)
		}
	}
}

func (b *Bot) pause(ev monitor.Event) {
	if b.st.SetEnabled(false) {
		b.log.Warn("Paused: %s", ev)
		b.updateStatus()
	}
}

// clickThrough dismisses the death dialog.
func (b *Bot) clickThrough(ctx context.Context, ev monitor.Event) {
	if ev.Click == nil {
		return
	}
	if err := b.keys.MouseMove(ev.Click.X, ev.Click.Y); err != nil {
		b.log.Error("click through: %v", err)
		return
	}
	for i := 0; i < 2; i++ {
		if err := b.keys.MouseClick("left"); err != nil {
			b.log.Error("click through: %v", err)
			return
		}
		if !b.st.Wait(ctx, clickSettle) {
			return
		}
	}
}

// nudge jumps and walks a little in alternating directions to get unstuck.
func (b *Bot) nudge(ctx context.Context) {
	if !b.st.Enabled() {
		return
	}
	b.nudges++
	dir := "left"
	if b.nudges%2 == 0 {
		dir = "right"
	}
	b.keys.KeyTap(b.settings.Keys.Jump)
	if err := b.mover.Walk(ctx, dir, nudgeWalk); err != nil {
		b.log.Warn("nudge: %v", err)
	}
}

func (b *Bot) chat(text string) {
	if text == "" {
		return
	}
	if err := b.say(text); err != nil {
		b.log.Error("say: %v", err)
	}
}

func (b *Bot) goHome() {
	if err := b.keys.KeyTap(b.settings.Keys.Home); err != nil {
		b.log.Error("home: %v", err)
	}
	b.graph.Break()
}

// unbind mashes left and right until the skull over the character is gone.
// The routine is paused meanwhile and resumed afterwards.
func (b *Bot) unbind(ctx context.Context) {
	if !b.st.Enabled() {
		return
	}
	b.st.SetEnabled(false)
	b.log.Warn("Binded, mashing %s/%s", b.settings.Keys.Left, b.settings.Keys.Right)

	for round := 0; round < constants.UnbindMaxRound; round++ {
		for i := 0; i < constants.UnbindTaps; i++ {
			b.keys.KeyTap(b.settings.Keys.Left)
			b.keys.KeyTap(b.settings.Keys.Right)
		}
		if !b.st.Wait(ctx, constants.MoveStepPause) {
			return
		}
		if !b.mon.Binded(b.frame()) {
			break
		}
	}
	if b.st.SetEnabled(true) {
		b.log.Info("Unbinded, resuming")
		b.updateStatus()
	}
}
