package event

import "time"

// LogEvent is one logged occurrence. The sink never mutates it; Properties
// must not be modified by the producer after the event is emitted.
type LogEvent struct {
	Timestamp       time.Time
	Level           Level
	MessageTemplate string
	Properties      map[string]any
	Err             error
}

// New creates an event stamped with the current time.
func New(level Level, template string, props map[string]any) LogEvent {
	return LogEvent{
		Timestamp:       time.Now(),
		Level:           level,
		MessageTemplate: template,
		Properties:      props,
	}
}

// Property returns the named property value.
func (e LogEvent) Property(name string) (any, bool) {
	v, ok := e.Properties[name]
	return v, ok
}
