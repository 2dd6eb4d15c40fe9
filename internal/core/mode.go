// Package core is the orchestration layer.  It composes dialers,
// endpoints and sessions into complete operational modes and provides
// a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	wire  →  transport  →  protocol  →  session  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between the
// parsed configuration and a running mode.
package core

import "context"

// Mode represents a complete operational mode of ksession (connect to a
// kernel, or serve the echo kernel).  Each mode owns its full lifecycle
// from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
