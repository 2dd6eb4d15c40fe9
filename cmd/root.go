// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"ksession/config"
	"ksession/internal/core"
	"ksession/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ksession/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the appropriate ksession mode.
// KSESSION_* environment variables supply defaults that flags override.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	fs := flag.NewFlagSet("ksession", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Serve the echo kernel instead of connecting")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Listen port (with -l) or local source port")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only, no DNS resolution")
	fs.BoolVarP(&cfg.KeepOpen, "keep-open", "k", cfg.KeepOpen, "Accept multiple connections (with -l)")
	fs.IntVar(&cfg.DialAttempts, "attempts", cfg.DialAttempts, "Dial attempts before giving up")

	timeoutSec := int(cfg.ConnTimeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Connect timeout in seconds")

	// ── kernel ───────────────────────────────────────────────────
	fs.StringVar(&cfg.KernelName, "kernel", cfg.KernelName, "Kernel name")
	fs.StringVar(&cfg.KernelID, "kernel-id", cfg.KernelID, "Attach to a running kernel with this id")
	fs.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "Session id stamped on messages (random if empty)")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "Username stamped on messages")
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "How long to wait for the kernel to become ready")
	fs.DurationVar(&cfg.ControlTimeout, "control-timeout", cfg.ControlTimeout, "Budget for interrupt and shutdown")

	// ── execution ────────────────────────────────────────────────
	fs.StringVarP(&cfg.Code, "command", "c", cfg.Code, "Execute code and exit")
	fs.BoolVar(&cfg.Info, "info", cfg.Info, "Print kernel_info and exit")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "TCP and SSH keepalive interval (0 disables)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("ksession %s\n", version)
		return nil
	}

	if fs.Changed("timeout") {
		cfg.ConnTimeout = time.Duration(timeoutSec) * time.Second
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── tunnel spec and validation ───────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Println(core.Describe(mode))
		return nil
	}
	logger.Debug("%s", core.Describe(mode))
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Listen {
		switch len(remaining) {
		case 0: // ksession -l -p PORT
		case 1:
			cfg.Host = remaining[0]
		default:
			return fmt.Errorf("too many arguments for listen mode")
		}
		return nil
	}

	switch len(remaining) {
	case 0:
		if cfg.Host == "" {
			return fmt.Errorf("hostname required (use --help for usage)")
		}
	case 1:
		cfg.Host = remaining[0]
	case 2:
		cfg.Host = remaining[0]
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
	default:
		return fmt.Errorf("too many arguments: expected <host> <port>")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port required")
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ksession – Kernel Session Client v%s

Runs code on a messaging-protocol kernel over TCP or an SSH tunnel.

Usage:
  ksession [options] <host> <port>            Connect and run stdin lines
  ksession -c CODE [options] <host> <port>    Run CODE and exit
  ksession --info <host> <port>               Print kernel_info
  ksession -l -p <port> [options]             Serve the echo kernel
  ksession -T user@gateway <host> <port>      Connect through SSH

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  ksession -l -k -p 9000                      Echo kernel on 9000
  ksession -c 'hello' localhost 9000          One-shot execution
  printf 'a\nb\n' | ksession localhost 9000   Execute each line
  ksession -T admin@bastion 10.0.0.5 9000     Via SSH gateway

Environment:
  KSESSION_HOST, KSESSION_PORT, KSESSION_KERNEL, KSESSION_TUNNEL, ...
  supply defaults; flags take precedence.
`)
}
