// Package sink is the entry point for embedding logsink in an application.
//
// A Sink accepts structured log events from any number of goroutines and
// delivers them in batches to a recipient resolved from an address:
//
//	s, err := sink.New(sink.Config{Address: "mailbox://app/logs"})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	s.Emit(event.New(event.Information, "user {User} logged in", map[string]any{"User": "ada"}))
//
// Emit never blocks on delivery. A background dispatcher posts a batch every
// Period, or sooner once BatchPostingLimit events are waiting, and Close
// delivers whatever is still buffered before returning.
//
// Delivery failures are reported through the self-diagnostics logger
// (see log.SetSelfLog), the Prometheus collectors and the EventHandler.
// They never reach the code calling Emit.
package sink
