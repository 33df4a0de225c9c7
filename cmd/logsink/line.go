package main

import (
	"strings"

	"github.com/bft-labs/logsink/pkg/event"
)

// lineTemplate renders the raw line verbatim.
const lineTemplate = "{Line:l}"

// parseLine turns one input line into an event. A leading "LEVEL:" or
// "[LEVEL]" prefix sets the level; otherwise def is used.
func parseLine(text, source string, def event.Level) event.LogEvent {
	lvl, rest := def, text

	trimmed := strings.TrimLeft(text, " \t")
	var prefix, remainder string
	switch {
	case strings.HasPrefix(trimmed, "["):
		if end := strings.IndexByte(trimmed, ']'); end > 1 {
			prefix, remainder = trimmed[1:end], trimmed[end+1:]
		}
	default:
		if idx := strings.IndexByte(trimmed, ':'); idx > 0 && idx <= 12 {
			prefix, remainder = trimmed[:idx], trimmed[idx+1:]
		}
	}
	if prefix != "" {
		if parsed, err := event.ParseLevel(strings.TrimSpace(prefix)); err == nil {
			lvl, rest = parsed, strings.TrimLeft(remainder, " \t")
		}
	}

	props := map[string]any{"Line": rest}
	if source != "" {
		props["Source"] = source
	}
	return event.New(lvl, lineTemplate, props)
}
