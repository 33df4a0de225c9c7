// Package event defines the log event consumed by the sink.
//
// A [LogEvent] is produced by the logging front-end and treated by the sink
// as an opaque, immutable unit of work. The only inspection the sink performs
// is rendering the message template to a display string when no custom
// conversion is configured:
//
//	e := event.New(event.Information, "User {Name} logged in from {IP}",
//	    map[string]any{"Name": "alice", "IP": "10.0.0.1"})
//	e.RenderMessage(nil) // User "alice" logged in from "10.0.0.1"
//
// String values are quoted unless the hole carries the literal format (:l).
// A [FormatProvider] can take over formatting of individual property values.
package event
