package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"ksession/tunnel"
	"ksession/util"
)

// SSHDialer dials kernels from the far side of an SSH gateway.  The
// tunnel is connected on the first Dial and again whenever it has died
// since.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	name   string
	logger *util.Logger

	mu        sync.Mutex
	connected bool
}

// NewSSHDialer returns a dialer over a new SSH tunnel for cfg.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	tun := tunnel.NewSSHTunnel(cfg, logger)
	name := cfg.Addr()
	if cfg.User != "" {
		name = cfg.User + "@" + name
	}
	return NewTunnelDialer(tun, name, logger)
}

// NewTunnelDialer returns a dialer over tun; name identifies the
// gateway in logs.
func NewTunnelDialer(tun tunnel.Tunnel, name string, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel: tun,
		name:   name,
		logger: util.OrDiscard(logger).Named("ssh"),
	}
}

// Name identifies the gateway, as user@host:port.
func (d *SSHDialer) Name() string { return d.name }

func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}
	if d.connected {
		d.logger.Warn("tunnel to %s died; reconnecting", d.name)
		d.tunnel.Close()
		d.connected = false
	}

	d.logger.Verbose("establishing tunnel to %s", d.name)
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	d.connected = true
	return nil
}

// Dial implements Dialer.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears down the tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.connected = false
	return d.tunnel.Close()
}
