package monitor

import (
	"fmt"
	"image"
	"time"

	"github.com/ConserveLee/scroll-idle/internal/state"
)

// Severity orders events; a lower value is more severe.
type Severity int

const (
	Fatal Severity = iota + 1
	Error
	Warning
	Info
	Debug
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "Fatal"
	case Error:
		return "Error"
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	default:
		return "Debug"
	}
}

// Kind names an anomaly.
type Kind string

const (
	KindWhiteRoom      Kind = "White Room"
	KindDead           Kind = "Dead"
	KindLostWindow     Kind = "Lost Window"
	KindLostMinimap    Kind = "Lost Minimap"
	KindLostPlayer     Kind = "Lost Player"
	KindBlackScreen    Kind = "Black Screen"
	KindIntruderLong   Kind = "Someone Stayed Long"
	KindPuzzleError    Kind = "Puzzle Error"
	KindNoMovement     Kind = "No Movement"
	KindBinded         Kind = "Binded"
	KindIntruderComing Kind = "Someone Coming"
	KindIntruderStay   Kind = "Someone Staying"
	KindPuzzleFailed   Kind = "Puzzle Failed"
	KindPuzzleActive   Kind = "Puzzle Active"
	KindPuzzleSolved   Kind = "Puzzle Solved"
	KindIntruderLeft   Kind = "Someone Left"
	KindCalibrated     Kind = "Calibrated"
)

var severities = map[Kind]Severity{
	KindWhiteRoom:      Fatal,
	KindDead:           Fatal,
	KindLostWindow:     Error,
	KindLostMinimap:    Error,
	KindLostPlayer:     Error,
	KindBlackScreen:    Error,
	KindIntruderLong:   Error,
	KindPuzzleError:    Error,
	KindNoMovement:     Warning,
	KindBinded:         Warning,
	KindIntruderComing: Warning,
	KindIntruderStay:   Warning,
	KindPuzzleFailed:   Warning,
	KindPuzzleActive:   Info,
	KindPuzzleSolved:   Info,
	KindIntruderLeft:   Info,
	KindCalibrated:     Debug,
}

// Severity of the kind; unknown kinds are Debug.
func (k Kind) Severity() Severity {
	if s, ok := severities[k]; ok {
		return s
	}
	return Debug
}

// LostKind maps a localizer signal to its event kind.
func LostKind(k state.LostKind) (Kind, bool) {
	switch k {
	case state.LostWindow:
		return KindLostWindow, true
	case state.LostMinimap:
		return KindLostMinimap, true
	case state.LostPlayer:
		return KindLostPlayer, true
	}
	return "", false
}

// Event is one emitted anomaly.
type Event struct {
	Severity Severity
	Kind     Kind
	Arg      float64 // elapsed seconds or a count, see Detail
	Detail   string
	Time     time.Time

	Click      *image.Point    // screen point to click through, if any
	Pos        *state.Position // minimap position of a detected marker
	Screenshot string          // saved frame, if any
}

// NewEvent stamps an event of kind with its severity.
func NewEvent(kind Kind, at time.Time, arg float64, format string, args ...any) Event {
	return Event{Severity: kind.Severity(), Kind: kind, Arg: arg, Detail: fmt.Sprintf(format, args...), Time: at}
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Kind, e.Detail)
}
