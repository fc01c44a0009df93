// Package invoke executes capability invocations against a target with a
// last-request-wins policy. An outstanding invocation of the same
// (target, capability) session is superseded, never queued behind: its
// cancellation signal is raised immediately and any late resolution is
// discarded by a generation-token check before shared state is touched.
// Finalized success and failure records flow into the execution history;
// cancelled runs leave no trace.
package invoke
