// Package audit implements async delivery of security audit events.
//
// # Components
//
//   - [Sink] is the consumer interface (channel, JSON writer, multi, no-op).
//   - [Dispatcher] is a buffered relay with drop-if-full or block-if-full semantics.
//   - [Event] is the audit record: timestamp, type, account, actor, IP, metadata.
//
// The package only buffers and delivers. Callers decide which events exist,
// and a sink failure is logged and counted without reaching the caller.
package audit
