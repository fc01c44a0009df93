// Package history implements the bounded, durable execution history for
// capability invocations. Records live in an embedded SQLite database keyed
// by (target id, capability), newest first, with oldest-first eviction the
// moment an append would exceed the configured bound. The store supports
// exact-match replay lookups and per-key clearing.
package history
