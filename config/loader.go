package config

// loader.go - configuration from the environment.
//
// Precedence (highest wins):
//   1. CLI flags   (cmd/root.go)
//   2. KSESSION_*  (this file)
//   3. Defaults    (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix starts every environment variable ksession reads.
const EnvPrefix = "KSESSION_"

// LoadFromEnv overlays KSESSION_* variables onto cfg.  Unset or
// unparsable variables leave the field alone.  Call it before parsing
// flags so flags win.  Booleans accept 1, true and yes in any case;
// durations accept Go syntax ("1m30s") or whole seconds.
func LoadFromEnv(cfg *Config) {
	envString("HOST", &cfg.Host)
	envInt("PORT", &cfg.Port)
	envInt("LOCAL_PORT", &cfg.LocalPort)
	envBool("LISTEN", &cfg.Listen)
	envBool("KEEP_OPEN", &cfg.KeepOpen)
	envBool("NO_DNS", &cfg.NoDNS)
	envDuration("TIMEOUT", &cfg.ConnTimeout)
	envInt("ATTEMPTS", &cfg.DialAttempts)

	envString("KERNEL", &cfg.KernelName)
	envString("KERNEL_ID", &cfg.KernelID)
	envString("CLIENT_ID", &cfg.ClientID)
	envString("USERNAME", &cfg.Username)
	envDuration("READY_TIMEOUT", &cfg.ReadyTimeout)
	envDuration("CONTROL_TIMEOUT", &cfg.ControlTimeout)

	envString("TUNNEL", &cfg.TunnelSpec)
	envString("SSH_KEY", &cfg.SSHKeyPath)
	envBool("SSH_PASSWORD", &cfg.SSHPassword)
	envBool("SSH_AGENT", &cfg.UseSSHAgent)
	envBool("STRICT_HOSTKEY", &cfg.StrictHostKey)
	envString("KNOWN_HOSTS", &cfg.KnownHostsPath)
	envDuration("KEEP_ALIVE", &cfg.KeepAlive)

	envInt("VERBOSE", &cfg.Verbose)
}

// ── helpers ──────────────────────────────────────────────────────────

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	}
}

func envDuration(key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}
