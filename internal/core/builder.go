package core

import (
	"fmt"
	"time"

	"ksession/config"
	"ksession/internal/metrics"
	"ksession/internal/retry"
	"ksession/internal/session"
	"ksession/internal/transport"
	"ksession/tunnel"
	"ksession/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	logger = util.OrDiscard(logger)
	m := metrics.New()
	if cfg.Listen {
		return buildServe(cfg, logger, m), nil
	}
	return buildConnect(cfg, logger, m)
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	address, err := util.ResolveAddr(cfg.Host, cfg.Port, cfg.NoDNS)
	if err != nil {
		return nil, err
	}

	backoff := retry.DefaultBackoff()
	backoff.MaxAttempts = cfg.DialAttempts
	if backoff.MaxAttempts == 0 {
		backoff.MaxAttempts = 1
	}

	breaker := retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:   backoff.MaxAttempts,
		OnStateChange: logStateChange(logger.Named("breaker")),
	})

	return &ConnectMode{
		Dialer:  buildDialer(cfg, logger),
		Address: address,
		Session: session.RawOptions{
			Spec: session.KernelSpec{
				Name: cfg.KernelName,
				ID:   cfg.KernelID,
			},
			ClientID:        cfg.ClientID,
			Username:        cfg.Username,
			HandleComms:     true,
			Remote:          true,
			ReadyTimeout:    cfg.ReadyTimeout,
			ShutdownTimeout: cfg.ControlTimeout,
		},
		Code:           cfg.Code,
		Info:           cfg.Info,
		ControlTimeout: cfg.ControlTimeout,
		Backoff:        backoff,
		Breaker:        breaker,
		Logger:         logger,
		Metrics:        m,
	}, nil
}

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	return &ServeMode{
		Address:  util.FormatAddr(cfg.Host, cfg.LocalPort),
		KeepOpen: cfg.KeepOpen,
		Logger:   logger,
		Metrics:  m,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.ConnTimeout,
			KeepAlive:     cfg.KeepAlive,
		}, logger)
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = -1
	}
	return &transport.TCPDialer{
		Timeout:   cfg.ConnTimeout,
		LocalPort: cfg.LocalPort,
		KeepAlive: keepAlive,
	}
}

func logStateChange(logger *util.Logger) func(from, to retry.State) {
	return func(from, to retry.State) {
		logger.Verbose("circuit %s → %s", from, to)
	}
}

// Describe returns a one-line summary of mode for --dry-run and verbose
// logs.
func Describe(mode Mode) string {
	switch m := mode.(type) {
	case *ConnectMode:
		via := "tcp"
		if d, ok := m.Dialer.(*transport.SSHDialer); ok {
			via = "ssh " + d.Name()
		}
		return fmt.Sprintf("connect to kernel %q at %s via %s (ready %v, control %v)",
			m.Session.Spec.Name, m.Address, via, orDefault(m.Session.ReadyTimeout, session.DefaultReadyTimeout), m.ControlTimeout)
	case *ServeMode:
		return fmt.Sprintf("serve echo kernel on %s (keep-open %v)", m.Address, m.KeepOpen)
	}
	return fmt.Sprintf("%T", mode)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
