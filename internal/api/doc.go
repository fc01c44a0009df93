// Package api defines the shared domain types, error taxonomy, and
// collaborator contracts used by every mcpdash component: target lifecycle
// states, the closed action-kind enumeration, environment diffs, ordered
// argument snapshots, invocation records, and the Backend interface the
// orchestration layer is written against.
package api
