// Package core is the orchestration layer.  It holds the connection
// manager of the OTA endpoint and composes it, the route handlers and
// the transports into complete operational modes, with a builder that
// selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session/request  →  handler  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of otad: serving the OTA
// endpoint as a simulated device, or pushing to a device as a client.
// Each mode owns its full lifecycle from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
