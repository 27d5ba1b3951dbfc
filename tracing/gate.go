package tracing

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level controls how much diagnostic output the broker emits. Levels are
// ordered; a gate set to LevelInfo also admits warnings and errors.
type Level int32

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel converts a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return LevelOff, fmt.Errorf("unknown telemetry level %q", s)
	}
}

// Gate is the process-wide reconfigurable telemetry switch. The core only
// reads it, on every emission site, through Level(); an external side channel
// updates it at runtime via SetLevel. The value is held in a single atomic
// cell so readers always observe the latest write without any restart and
// without caching it per request.
type Gate struct {
	level atomic.Int32
}

// NewGate returns a gate starting at the given level.
func NewGate(initial Level) *Gate {
	g := &Gate{}
	g.level.Store(int32(initial))
	return g
}

// Level returns the current telemetry level. Hot-path safe.
func (g *Gate) Level() Level {
	return Level(g.level.Load())
}

// Enabled reports whether emission at the given level is currently admitted.
func (g *Gate) Enabled(l Level) bool {
	return g.Level() >= l
}

// SetLevel updates the gate. Called only by the external reconfiguration
// operation, never by the core. The zerolog global level follows the gate so
// structured logging honors the same switch.
func (g *Gate) SetLevel(l Level) {
	g.level.Store(int32(l))
	zerolog.SetGlobalLevel(zerologLevel(l))
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelOff:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
