package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ConserveLee/scroll-idle/internal/command"
	"github.com/ConserveLee/scroll-idle/internal/routine"
	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Builtin verbs usable in a routine next to the command book entries.
var builtins = map[string]bool{
	"wait":   true, // wait, seconds
	"walk":   true, // walk, left|right, seconds
	"face":   true, // face, left|right
	"move":   true, // move, x, y
	"adjust": true, // adjust, x, y
	"key":    true, // key, name
	"list":   true, // list, name
	"say":    true, // say, text
}

// Builtin reports whether name is a builtin verb.
func Builtin(name string) bool { return builtins[name] }

// Known reports whether name is a builtin or a loaded command.
func (b *Bot) Known(name string) bool {
	return builtins[name] || b.sched.Has(name)
}

// executor runs waypoint bodies for the interpreter.
type executor struct {
	b *Bot
}

func (e executor) Move(ctx context.Context, target state.Position, adjust bool) error {
	return e.b.travel(ctx, target, adjust)
}

// travel moves to target and optionally fine-adjusts.
func (b *Bot) travel(ctx context.Context, target state.Position, adjust bool) error {
	if err := b.mover.Move(ctx, target); err != nil {
		return err
	}
	if adjust && b.st.Enabled() {
		return b.mover.Adjust(ctx, target)
	}
	return nil
}

func (e executor) Run(ctx context.Context, call routine.Call) error {
	return e.b.call(ctx, call)
}

func (b *Bot) call(ctx context.Context, call routine.Call) error {
	switch call.Name {
	case "wait":
		d, err := call.Seconds("duration", 0, 0)
		if err != nil {
			return err
		}
		b.sleep(ctx, d)
		return nil
	case "walk":
		dir, ok := call.Arg("direction", 0)
		if !ok {
			return fmt.Errorf("walk: missing direction")
		}
		d, err := call.Seconds("duration", 1, 0)
		if err != nil {
			return err
		}
		return b.mover.Walk(ctx, dir, d)
	case "face":
		dir, ok := call.Arg("direction", 0)
		if !ok {
			return fmt.Errorf("face: missing direction")
		}
		return b.mover.Face(dir)
	case "move", "adjust":
		p, err := callPosition(call)
		if err != nil {
			return err
		}
		return b.travel(ctx, p, call.Name == "adjust")
	case "key":
		key, ok := call.Arg("key", 0)
		if !ok {
			return fmt.Errorf("key: missing key")
		}
		return b.keys.KeyTap(key)
	case "list":
		name, ok := call.Arg("name", 0)
		if !ok {
			return fmt.Errorf("list: missing name")
		}
		_, err := b.sched.RunList(ctx, name)
		return tolerate(err)
	case "say":
		text, ok := call.Arg("text", 0)
		if !ok {
			return fmt.Errorf("say: missing text")
		}
		return b.say(text)
	}
	return tolerate(b.sched.Cast(ctx, call.Name))
}

// tolerate drops the scheduler errors that only mean "not now".
func tolerate(err error) error {
	switch {
	case errors.Is(err, command.ErrCoolingDown),
		errors.Is(err, command.ErrBusy),
		errors.Is(err, command.ErrNotAdmitted),
		errors.Is(err, command.ErrDisabled),
		errors.Is(err, command.ErrInterrupted):
		return nil
	}
	return err
}

func callPosition(call routine.Call) (state.Position, error) {
	xs, okx := call.Arg("x", 0)
	ys, oky := call.Arg("y", 1)
	if !okx || !oky {
		return state.Position{}, fmt.Errorf("%s: needs x and y", call.Name)
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return state.Position{}, fmt.Errorf("%s: invalid x %q", call.Name, xs)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return state.Position{}, fmt.Errorf("%s: invalid y %q", call.Name, ys)
	}
	return state.Position{X: x, Y: y}, nil
}

// say opens the chat box, types text and sends it.
func (b *Bot) say(text string) error {
	chat := b.settings.Keys.Chat
	if err := b.keys.KeyTap(chat); err != nil {
		return err
	}
	if err := b.keys.TypeText(text); err != nil {
		return err
	}
	return b.keys.KeyTap(chat)
}
