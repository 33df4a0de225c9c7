package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatProvider formats individual property values during rendering.
// Returning false defers to the default formatting.
type FormatProvider interface {
	Format(value any, format string) (string, bool)
}

// FormatFunc adapts a function to FormatProvider.
type FormatFunc func(value any, format string) (string, bool)

// Format calls f.
func (f FormatFunc) Format(value any, format string) (string, bool) {
	return f(value, format)
}

// RenderMessage substitutes the template's property holes with the event's
// property values. Holes naming missing properties are kept verbatim.
func (e LogEvent) RenderMessage(fp FormatProvider) string {
	tpl := e.MessageTemplate
	if !strings.ContainsAny(tpl, "{}") {
		return tpl
	}

	var sb strings.Builder
	sb.Grow(len(tpl) + 16)

	for i := 0; i < len(tpl); {
		c := tpl[i]
		switch {
		case c == '{' && i+1 < len(tpl) && tpl[i+1] == '{':
			sb.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tpl) && tpl[i+1] == '}':
			sb.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexAny(tpl[i+1:], "{}")
			if end < 0 {
				sb.WriteString(tpl[i:])
				return sb.String()
			}
			if tpl[i+1+end] == '{' {
				// stray brace; the hole, if any, starts at the inner one
				sb.WriteString(tpl[i : i+1+end])
				i += 1 + end
				continue
			}
			raw := tpl[i : i+end+2]
			h, ok := parseHole(raw[1 : len(raw)-1])
			if !ok {
				sb.WriteString(raw)
				i += len(raw)
				continue
			}
			v, found := e.Properties[h.name]
			if !found {
				sb.WriteString(raw)
			} else {
				sb.WriteString(h.pad(formatValue(v, h.format, fp)))
			}
			i += len(raw)
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

type hole struct {
	name      string
	format    string
	alignment int
}

func parseHole(s string) (hole, bool) {
	var h hole
	if s == "" {
		return h, false
	}
	if s[0] == '@' || s[0] == '$' {
		s = s[1:]
	}

	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		h.format = s[idx+1:]
		s = s[:idx]
	}
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		if err != nil {
			return h, false
		}
		h.alignment = n
		s = s[:idx]
	}

	if s == "" {
		return h, false
	}
	for _, r := range s {
		if r != '_' && !isLetterOrDigit(r) {
			return h, false
		}
	}
	h.name = s
	return h, true
}

func isLetterOrDigit(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

func (h hole) pad(s string) string {
	width := h.alignment
	left := width < 0
	if left {
		width = -width
	}
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	fill := strings.Repeat(" ", width-n)
	if left {
		return s + fill
	}
	return fill + s
}

func formatValue(v any, format string, fp FormatProvider) string {
	if fp != nil {
		if s, ok := fp.Format(v, format); ok {
			return s
		}
	}

	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		if format == "l" {
			return val
		}
		return strconv.Quote(val)
	case time.Time:
		if format != "" {
			return val.Format(format)
		}
		return val.Format(time.RFC3339Nano)
	case error:
		return val.Error()
	}

	if isVerb(format) {
		return fmt.Sprintf("%"+format, v)
	}
	return fmt.Sprint(v)
}

// isVerb reports whether format is a fmt directive without the leading %,
// such as ".2f" or "08x".
func isVerb(format string) bool {
	if format == "" {
		return false
	}
	last := format[len(format)-1]
	if !strings.ContainsRune("vtbcdoOqxXUeEfFgGsp", rune(last)) {
		return false
	}
	for _, r := range format[:len(format)-1] {
		if !strings.ContainsRune("+-# .0123456789", r) {
			return false
		}
	}
	return true
}
