// Package config defines the runtime configuration for ksession and
// the parsers for the address and tunnel specs it accepts.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	kerr "ksession/internal/errors"
)

// Config holds everything one ksession invocation needs.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host        string
	Port        int // kernel port to connect to
	LocalPort   int // -p: listen port, or source port when connecting
	Listen      bool
	KeepOpen    bool
	NoDNS       bool
	ConnTimeout time.Duration

	// DialAttempts bounds connection attempts; 1 disables retries.
	DialAttempts int

	// ── Kernel session ───────────────────────────────────────────────
	KernelName     string
	KernelID       string // attach to an already-running kernel
	ClientID       string // generated when empty
	Username       string
	Code           string // -c: code to run; stdin lines otherwise
	Info           bool   // print kernel_info and exit
	ReadyTimeout   time.Duration
	ControlTimeout time.Duration

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw [user@]host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	KeepAlive      time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		KernelName:     DefaultKernelName,
		ConnTimeout:    DefaultConnTimeout,
		DialAttempts:   DefaultDialAttempts,
		ReadyTimeout:   DefaultReadyTimeout,
		ControlTimeout: DefaultControlTimeout,
		TunnelPort:     DefaultSSHPort,
		KeepAlive:      DefaultKeepAlive,
	}
}

// ParsePort parses a single TCP port number.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec splits "admin@bastion.example.com:2222" into its
// parts.  The port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		if port, err = ParsePort(m[3]); err != nil {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the tunnel fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &kerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// Validate checks that the configuration is usable and returns a
// *errors.ConfigError describing the first problem found.
func (c *Config) Validate() error {
	if c.Listen {
		if c.LocalPort == 0 {
			return &kerr.ConfigError{
				Field:   "port",
				Message: "listen mode requires a port",
				Hint:    "ksession -l -p 9000",
			}
		}
		if c.TunnelEnabled {
			return &kerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "cannot listen through an SSH tunnel"}
		}
		if c.Code != "" || c.Info {
			return &kerr.ConfigError{Field: "command", Message: "-c and --info need a kernel to connect to, not listen mode"}
		}
	} else {
		if c.Host == "" {
			return &kerr.ConfigError{Field: "host", Message: "kernel host is required", Hint: "ksession HOST PORT"}
		}
		if c.Port < 1 || c.Port > 65535 {
			return &kerr.ConfigError{Field: "port", Value: c.Port, Message: "kernel port must be 1-65535"}
		}
	}

	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &kerr.ConfigError{Field: "port", Value: c.LocalPort, Message: "local port must be 0-65535"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &kerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
	}
	if c.DialAttempts < 0 {
		return &kerr.ConfigError{Field: "attempts", Value: c.DialAttempts, Message: "must not be negative"}
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"timeout", c.ConnTimeout},
		{"ready-timeout", c.ReadyTimeout},
		{"control-timeout", c.ControlTimeout},
	} {
		if d.value < 0 {
			return &kerr.ConfigError{Field: d.field, Value: d.value, Message: "must not be negative"}
		}
	}
	return nil
}
