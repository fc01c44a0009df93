// Package reporting carries orchestration progress to the presentation
// layer: an event bus with filtered handler and channel subscriptions, the
// event vocabulary (target state changes, action lifecycle, reconfiguration
// stages, invocation progress), and a last-known-state store for targets.
package reporting
