package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	kerr "ksession/internal/errors"
	"ksession/util"
)

const (
	defaultConnTimeout = 30 * time.Second
	keepaliveRequest   = "keepalive@openssh.com"
)

// SSHConfig describes the gateway and how to authenticate to it.
type SSHConfig struct {
	User          string
	Host          string
	Port          int // 22 when zero
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive is the interval between keepalive requests.  Zero
	// disables them; a failed request marks the tunnel dead.
	KeepAlive time.Duration
	// Prompt reads a secret from the user; it defaults to reading the
	// terminal without echo.
	Prompt func(prompt string) ([]byte, error)
}

// Addr returns host:port of the gateway.
func (c *SSHConfig) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// SSHTunnel implements Tunnel over a single ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
	stop   chan struct{}
}

var _ Tunnel = (*SSHTunnel)(nil)

// NewSSHTunnel returns an unconnected tunnel.
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}
	return &SSHTunnel{config: cfg, logger: util.OrDiscard(logger).Named("tunnel")}
}

// Connect dials the gateway and completes the SSH handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	c := t.config
	auth, err := BuildAuthMethods(c)
	if err != nil {
		return kerr.WrapSSH("auth", c.Host, c.Port, err)
	}
	hostKeys, err := hostKeyCallback(c)
	if err != nil {
		return kerr.WrapSSH("hostkey", c.Host, c.Port, err)
	}

	addr := c.Addr()
	t.logger.Debug("dialing %s as %s", addr, c.User)

	dialer := net.Dialer{Timeout: c.ConnTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return kerr.Wrap("dial", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnTimeout,
	})
	if err != nil {
		conn.Close()
		return kerr.WrapSSH("handshake", c.Host, c.Port, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.monitor(client)
	if c.KeepAlive > 0 {
		go t.keepalive(client, stop)
	}
	t.logger.Verbose("connected to gateway %s", addr)
	return nil
}

// Dial opens address from the gateway's side.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()
	if !alive || client == nil {
		return nil, kerr.ErrTunnelClosed
	}

	t.logger.Debug("forwarding %s %s", network, address)
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := client.Dial(network, address)
		done <- result{conn, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("tunnel dial %s: %w", address, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close disconnects from the gateway.  Connections dialed through the
// tunnel die with it.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// IsAlive implements Tunnel.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

func (t *SSHTunnel) markDead(client *ssh.Client) {
	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()
}

// monitor waits for the SSH connection to end.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()
	t.markDead(client)
	if err != nil {
		t.logger.Debug("gateway connection closed: %v", err)
	} else {
		t.logger.Debug("gateway connection closed")
	}
}

func (t *SSHTunnel) keepalive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest(keepaliveRequest, true, nil); err != nil {
				t.logger.Error("gateway keepalive failed: %v", err)
				t.markDead(client)
				client.Close()
				return
			}
			t.logger.Debug("gateway keepalive ok")
		}
	}
}
