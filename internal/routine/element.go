package routine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Kind tags a routine element.
type Kind int

const (
	KindWaypoint Kind = iota
	KindLabel
	KindJump
	KindSetting
)

// Row symbols of the routine file format.
const (
	SymWaypoint = "*"
	SymLabel    = "@"
	SymJump     = ">"
	SymSetting  = "$"
)

func (k Kind) String() string {
	switch k {
	case KindWaypoint:
		return "waypoint"
	case KindLabel:
		return "label"
	case KindJump:
		return "jump"
	default:
		return "setting"
	}
}

// Element is one entry of a compiled routine.
type Element interface {
	Kind() Kind
	Line() int
	Encode() string
}

// repeat implements the shared frequency / interval / skip-first policy.
type repeat struct {
	Frequency int
	Interval  time.Duration
	SkipFirst bool

	counter int
	lastRun time.Time
}

func (r *repeat) reset(now time.Time) {
	r.lastRun = time.Time{}
	r.counter = 0
	if r.SkipFirst {
		r.counter = 1
		if r.Interval > 0 {
			r.lastRun = now
		}
	}
}

// due reports whether the body runs on this visit.
func (r *repeat) due(now time.Time) bool {
	if r.Interval > 0 {
		return r.lastRun.IsZero() || now.Sub(r.lastRun) >= r.Interval
	}
	return r.counter == 0
}

// visit advances the counter after a visit.
func (r *repeat) visit(now time.Time, ran bool) {
	if r.Interval > 0 {
		if ran {
			r.lastRun = now
		}
		return
	}
	r.counter = (r.counter + 1) % r.Frequency
}

func (r repeat) encodeArgs() []string {
	var out []string
	if r.Frequency != 1 {
		out = append(out, "frequency="+strconv.Itoa(r.Frequency))
	}
	if r.Interval > 0 {
		out = append(out, "interval="+strconv.FormatFloat(r.Interval.Seconds(), 'f', -1, 64))
	}
	if r.SkipFirst {
		out = append(out, "skip=true")
	}
	return out
}

// Waypoint is a target position with commands run on arrival.
type Waypoint struct {
	Target   state.Position
	Adjust   bool
	Commands []Call
	repeat
	line int
}

func (w *Waypoint) Kind() Kind { return KindWaypoint }
func (w *Waypoint) Line() int  { return w.line }

func (w *Waypoint) Encode() string {
	parts := []string{SymWaypoint, formatFloat(w.Target.X), formatFloat(w.Target.Y)}
	parts = append(parts, w.encodeArgs()...)
	if w.Adjust {
		parts = append(parts, "adjust=true")
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, ", "))
	for _, c := range w.Commands {
		b.WriteString("\n    ")
		b.WriteString(c.Encode())
	}
	return b.String()
}

// Label is a named anchor. Index is its position in the sequence.
type Label struct {
	Name  string
	Index int
	line  int
}

func (l *Label) Kind() Kind     { return KindLabel }
func (l *Label) Line() int      { return l.line }
func (l *Label) Encode() string { return "\n" + SymLabel + ", " + l.Name }

// Jump moves the cursor to a label. Target is -1 while unresolved.
type Jump struct {
	Label  string
	Target int
	repeat
	line int
}

func (j *Jump) Kind() Kind { return KindJump }
func (j *Jump) Line() int  { return j.line }

func (j *Jump) Encode() string {
	parts := append([]string{SymJump, j.Label}, j.encodeArgs()...)
	return strings.Join(parts, ", ")
}

// Resolved reports whether the jump is bound to a label.
func (j *Jump) Resolved() bool { return j.Target >= 0 }

// Setting assigns a tunable. It is applied when the routine is compiled.
type Setting struct {
	Name  string
	Value string
	line  int
}

func (s *Setting) Kind() Kind     { return KindSetting }
func (s *Setting) Line() int      { return s.line }
func (s *Setting) Encode() string { return SymSetting + ", " + s.Name + ", " + s.Value }

// Call is a command attached to a waypoint.
type Call struct {
	Name string
	Args []string
	KW   map[string]string
	Line int
}

// Arg returns the keyword argument key, else the positional argument at pos.
func (c Call) Arg(key string, pos int) (string, bool) {
	if v, ok := c.KW[key]; ok {
		return v, true
	}
	if pos >= 0 && pos < len(c.Args) {
		return c.Args[pos], true
	}
	return "", false
}

// Float parses an argument, returning def when absent.
func (c Call) Float(key string, pos int, def float64) (float64, error) {
	v, ok := c.Arg(key, pos)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %s=%q is not a number", c.Name, key, v)
	}
	return f, nil
}

// Seconds parses a seconds argument as a duration.
func (c Call) Seconds(key string, pos int, def time.Duration) (time.Duration, error) {
	f, err := c.Float(key, pos, def.Seconds())
	if err != nil {
		return def, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (c Call) Encode() string {
	parts := append([]string{c.Name}, c.Args...)
	keys := make([]string, 0, len(c.KW))
	for k := range c.KW {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+c.KW[k])
	}
	return strings.Join(parts, ", ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
