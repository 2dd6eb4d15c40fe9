package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Shared by the CLI flags and the environment loader.

const (
	DefaultSSHPort = 22

	// DefaultKernelName names the kernel when the CLI is not told.
	DefaultKernelName = "echo"

	DefaultConnTimeout = 30 * time.Second

	// DefaultDialAttempts counts the first attempt.
	DefaultDialAttempts = 3

	// DefaultReadyTimeout bounds the wait for the first kernel_info_reply.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultControlTimeout bounds interrupt, restart and wait-for-idle.
	DefaultControlTimeout = 10 * time.Second

	// DefaultKeepAlive is the keepalive interval for kernel connections
	// and the SSH gateway.
	DefaultKeepAlive = 30 * time.Second
)
