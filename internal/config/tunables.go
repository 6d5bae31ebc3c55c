package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Tuning holds the live movement tunables. Readers take a snapshot; a
// routine load compiles its `$` rows into a copy and stores it whole.
type Tuning struct {
	p atomic.Pointer[Movement]
}

func NewTuning(m Movement) *Tuning {
	t := &Tuning{}
	t.Store(m)
	return t
}

// Load returns the current tunables.
func (t *Tuning) Load() Movement {
	return *t.p.Load()
}

// Store replaces the tunables.
func (t *Tuning) Store(m Movement) {
	t.p.Store(&m)
}

// Tunable names accepted by routine `$` rows.
const (
	TunableMoveTolerance   = "move_tolerance"
	TunableAdjustTolerance = "adjust_tolerance"
	TunableRecordLayout    = "record_layout"
	TunableMaxSteps        = "max_steps"
)

// Has reports whether name is a known tunable.
func (m *Movement) Has(name string) bool {
	switch name {
	case TunableMoveTolerance, TunableAdjustTolerance, TunableRecordLayout, TunableMaxSteps:
		return true
	}
	return false
}

// Set parses value and assigns it to the named tunable.
func (m *Movement) Set(name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case TunableMoveTolerance, TunableAdjustTolerance:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("%s: %q is not a positive number", name, value)
		}
		if name == TunableMoveTolerance {
			m.MoveTolerance = f
		} else {
			m.AdjustTolerance = f
		}
	case TunableRecordLayout:
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		m.RecordLayout = b
	case TunableMaxSteps:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: %q is not a non-negative integer", name, value)
		}
		m.MaxSteps = n
	default:
		return fmt.Errorf("setting %q does not exist", name)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1", "t", "y":
		return true, nil
	case "false", "no", "off", "0", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", v)
}
