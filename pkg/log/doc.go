// Package log carries the sink's self-diagnostics.
//
// Dropped events, failed deliveries and state transitions are reported
// through a [Logger] that is separate from the event stream being shipped;
// nothing here ever writes into that stream.
//
// A sink built without an explicit logger uses [Deferred], which resolves
// the process-wide self-log on every call:
//
//	log.SetSelfLog(log.NewZerologAdapterWithLogger(zl).Component("sink"))
//
// The default self-log discards everything.
package log
