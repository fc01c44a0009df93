// Package backend implements the clients the orchestration layer uses to
// reach the process manager: a REST client for lifecycle operations and an
// optional MCP transport for capability listing and invocation.
package backend
