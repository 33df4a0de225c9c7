package event

import (
	"fmt"
	"strings"
)

// Level is the severity of a log event.
type Level int

const (
	Verbose Level = iota
	Debug
	Information
	Warning
	Error
	Fatal
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Verbose:
		return "Verbose"
	case Debug:
		return "Debug"
	case Information:
		return "Information"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// ParseLevel parses a level name. Matching is case-insensitive and accepts
// the three-letter short forms (vrb, dbg, inf, wrn, err, ftl).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verbose", "vrb", "trace":
		return Verbose, nil
	case "debug", "dbg":
		return Debug, nil
	case "information", "info", "inf":
		return Information, nil
	case "warning", "warn", "wrn":
		return Warning, nil
	case "error", "err":
		return Error, nil
	case "fatal", "ftl":
		return Fatal, nil
	}
	return Verbose, fmt.Errorf("unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
