// Package target resolves a recipient address to a delivery target.
//
// A [Target] accepts messages for fire-and-forget delivery: a nil error only
// means the hand-off succeeded, never that the recipient processed the
// message. Targets that group messages on the wire also implement
// [BatchTarget].
//
// # Addresses
//
//	mailbox://app/logger      in-process mailbox registered with Register
//	akka://app/user/logger    alias for mailbox://
//	http://host:port/path     JSON array POST per batch
//	https://host/path         same, over TLS
//	forward://host:24224/tag  fluentd Forward protocol (msgpack over TCP)
//	fluent://host:24224/tag   one Message-mode record per message, via the
//	                          fluent logger client
//
// Resolution happens once; a mailbox path is looked up on every Tell, so
// the recipient may register after the sink is built.
package target
