// Package tunnel reaches kernels that only listen on a gateway's
// private network.  SSHTunnel forwards each dial through one SSH
// connection built on golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel that outbound kernel connections can
// be dialed through.
type Tunnel interface {
	Connect(ctx context.Context) error
	Dial(ctx context.Context, network, address string) (net.Conn, error)
	Close() error
	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
