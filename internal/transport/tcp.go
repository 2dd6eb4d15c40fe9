package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes plain TCP connections to a kernel endpoint.
type TCPDialer struct {
	Timeout time.Duration
	// LocalPort binds the source port; zero picks an ephemeral one.
	LocalPort int
	// KeepAlive is the TCP keepalive period.  Zero uses the system
	// default and a negative value disables keepalives.
	KeepAlive time.Duration
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	if d.LocalPort > 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: d.LocalPort}
	}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op; a TCPDialer holds no connections.
func (d *TCPDialer) Close() error { return nil }
