package routine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/clock"
)

// Diagnostic is a compile problem attached to a source line.
type Diagnostic struct {
	Line int
	Msg  string
}

func (d Diagnostic) Error() string { return fmt.Sprintf("Line %d: %s", d.Line, d.Msg) }

// Diagnostics aggregates every problem found in one compile.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = d.Error()
	}
	return strings.Join(lines, "\n")
}

// Tunables receives Setting rows.
type Tunables interface {
	Has(name string) bool
	Set(name, value string) error
}

// Options parameterize Compile.
type Options struct {
	// KnownCommand reports whether a command name exists in the loaded book.
	KnownCommand func(name string) bool
	Tunables     Tunables
	Clock        clock.Clock
}

// LoadFile compiles the routine at path.
func LoadFile(path string, opts Options) (*Routine, Diagnostics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r, diags := Compile(f, opts)
	r.Path = path
	r.dirty = false
	return r, diags, nil
}

// Compile parses a routine. Rows that fail to parse are skipped and reported;
// the rest of the routine is still returned.
func Compile(src io.Reader, opts Options) (*Routine, Diagnostics) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	c := &compiler{opts: opts, labels: map[string]int{}}

	rd := csv.NewReader(src)
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true
	rd.Comment = '#'
	for {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			c.fail(perr.Line, "%v", perr.Err)
			continue
		}
		if err != nil {
			c.fail(0, "%v", err)
			break
		}
		line, _ := rd.FieldPos(0)
		c.row(line, trimAll(rec))
	}
	c.bind()

	r := newRoutine(opts.Clock, c.seq)
	return r, c.diags
}

type compiler struct {
	opts   Options
	seq    []Element
	labels map[string]int
	last   *Waypoint
	diags  Diagnostics
}

func (c *compiler) fail(line int, format string, args ...any) {
	c.diags = append(c.diags, Diagnostic{Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (c *compiler) row(line int, rec []string) {
	if len(rec) == 0 || (len(rec) == 1 && rec[0] == "") {
		return
	}
	head, rest := rec[0], rec[1:]
	args, kw := splitArgs(rest)
	switch head {
	case SymWaypoint:
		w, err := parseWaypoint(args, kw)
		if err != nil {
			c.fail(line, "%v", err)
			c.last = nil
			return
		}
		w.line = line
		c.seq = append(c.seq, w)
		c.last = w
	case SymLabel:
		name, ok := pick(args, kw, "label", 0)
		if !ok || name == "" {
			c.fail(line, "label requires a name")
			return
		}
		if _, dup := c.labels[name]; dup {
			c.fail(line, "label '%s' already exists", name)
			return
		}
		c.labels[name] = len(c.seq)
		c.seq = append(c.seq, &Label{Name: name, Index: len(c.seq), line: line})
	case SymJump:
		j, err := parseJump(args, kw)
		if err != nil {
			c.fail(line, "%v", err)
			return
		}
		j.line = line
		c.seq = append(c.seq, j)
	case SymSetting:
		name, ok1 := pick(args, kw, "target", 0)
		value, ok2 := pick(args, kw, "value", 1)
		if !ok1 || !ok2 {
			c.fail(line, "setting requires a target and a value")
			return
		}
		if c.opts.Tunables == nil || !c.opts.Tunables.Has(name) {
			c.fail(line, "setting '%s' does not exist", name)
			return
		}
		if err := c.opts.Tunables.Set(name, value); err != nil {
			c.fail(line, "%v", err)
			return
		}
		c.seq = append(c.seq, &Setting{Name: name, Value: value, line: line})
	default:
		if c.opts.KnownCommand != nil && !c.opts.KnownCommand(head) {
			c.fail(line, "Command '%s' does not exist", head)
			return
		}
		if c.last == nil {
			c.fail(line, "command '%s' is not attached to a waypoint", head)
			return
		}
		c.last.Commands = append(c.last.Commands, Call{Name: head, Args: args, KW: kw, Line: line})
	}
}

// bind resolves jump targets once every label is known.
func (c *compiler) bind() {
	for _, el := range c.seq {
		j, ok := el.(*Jump)
		if !ok {
			continue
		}
		idx, found := c.labels[j.Label]
		if !found {
			j.Target = -1
			c.fail(j.line, "label '%s' does not exist", j.Label)
			continue
		}
		j.Target = idx
	}
}

func parseWaypoint(args []string, kw map[string]string) (*Waypoint, error) {
	xs, okx := pick(args, kw, "x", 0)
	ys, oky := pick(args, kw, "y", 1)
	if !okx || !oky {
		return nil, errors.New("waypoint requires x and y")
	}
	w := &Waypoint{}
	var err error
	if w.Target.X, err = strconv.ParseFloat(xs, 64); err != nil {
		return nil, fmt.Errorf("invalid x %q", xs)
	}
	if w.Target.Y, err = strconv.ParseFloat(ys, 64); err != nil {
		return nil, fmt.Errorf("invalid y %q", ys)
	}
	if w.repeat, err = parseRepeat(args, kw, 2); err != nil {
		return nil, err
	}
	if s, ok := pick(args, kw, "adjust", 5); ok {
		if w.Adjust, err = strconv.ParseBool(s); err != nil {
			return nil, fmt.Errorf("invalid adjust %q", s)
		}
	}
	return w, nil
}

func parseJump(args []string, kw map[string]string) (*Jump, error) {
	name, ok := pick(args, kw, "label", 0)
	if !ok || name == "" {
		return nil, errors.New("jump requires a label")
	}
	rep, err := parseRepeat(args, kw, 1)
	if err != nil {
		return nil, err
	}
	return &Jump{Label: name, Target: -1, repeat: rep}, nil
}

// parseRepeat reads frequency, interval and skip. Jumps take no interval, so
// their skip follows frequency directly.
func parseRepeat(args []string, kw map[string]string, at int) (repeat, error) {
	rep := repeat{Frequency: 1}
	if s, ok := pick(args, kw, "frequency", at); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return rep, fmt.Errorf("invalid frequency %q", s)
		}
		rep.Frequency = n
	}
	skipAt := at + 1
	if at == 2 {
		if s, ok := pick(args, kw, "interval", at+1); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f < 0 {
				return rep, fmt.Errorf("invalid interval %q", s)
			}
			rep.Interval = time.Duration(f * float64(time.Second))
		}
		skipAt = at + 2
	} else if _, ok := kw["interval"]; ok {
		return rep, errors.New("jump does not take an interval")
	}
	if s, ok := pick(args, kw, "skip", skipAt); ok {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return rep, fmt.Errorf("invalid skip %q", s)
		}
		rep.SkipFirst = b
	}
	return rep, nil
}

func splitArgs(fields []string) ([]string, map[string]string) {
	var args []string
	kw := map[string]string{}
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok {
			kw[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
			continue
		}
		args = append(args, f)
	}
	return args, kw
}

func pick(args []string, kw map[string]string, key string, pos int) (string, bool) {
	if v, ok := kw[key]; ok {
		return v, true
	}
	if pos < len(args) {
		return args[pos], true
	}
	return "", false
}

func trimAll(rec []string) []string {
	out := rec[:0]
	for _, f := range rec {
		out = append(out, strings.TrimSpace(f))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
