// Package reconfigure drives the environment reconfiguration workflow:
// submit a diff, wait for the backend's autonomous restart, then verify
// capability re-discovery. The workflow holds the target's action lock from
// submission to its single terminal outcome and publishes every stage
// transition for progress display.
package reconfigure
