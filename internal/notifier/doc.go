// Package notifier routes one analyzed notification to a recipient's
// channels.
//
// # Routing
//
// A recipient-level allow-list is checked first; a rejected source produces
// a single skipped log entry and nothing is sent. Otherwise every enabled
// channel is evaluated against its webhook rules (see Evaluate) and the
// accepted ones are sent concurrently, each in its own goroutine with its own
// timeout. A failing or panicking backend never affects the others.
//
// # Legacy credentials
//
// Recipients that still carry a single chat id and bot token get an implicit
// telegram channel. It has no rules, and its attempts are not written to the
// delivery log unless Config.LogLegacy is set.
//
// # Delivery log
//
// Attempts are appended to a LogWriter. Write failures are logged and
// otherwise ignored: only the aggregate result of Deliver is visible to the
// caller.
package notifier
