package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"ksession/internal/echokernel"
	"ksession/internal/metrics"
	"ksession/internal/transport"
	"ksession/util"
)

// ServeMode accepts inbound connections and serves the echo kernel on
// each one.  With KeepOpen=true it spawns a goroutine per connection;
// otherwise it serves one connection and returns.
type ServeMode struct {
	Address  string // "host:port" or ":port"
	KeepOpen bool
	Logger   *util.Logger
	Metrics  *metrics.Collector

	// Listening, when set, receives the bound address once the listener
	// is up.
	Listening func(net.Addr)
}

// Run listens until ctx ends or, without KeepOpen, until the first
// client's kernel exits.
func (m *ServeMode) Run(ctx context.Context) error {
	log := util.OrDiscard(m.Logger)

	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	defer ln.Close()

	log.Verbose("serving echo kernel on %s", ln.Addr())
	if m.Listening != nil {
		m.Listening(ln.Addr())
	}

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		log.Verbose("connection from %s", conn.RemoteAddr())

		if !m.KeepOpen {
			return m.serveConn(ctx, conn)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.serveConn(ctx, conn); err != nil {
				log.Warn("kernel for %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (m *ServeMode) serveConn(ctx context.Context, conn net.Conn) error {
	ep := transport.NewConnEndpoint(conn, m.Logger, m.Metrics)
	defer ep.Close()

	m.Metrics.SessionOpened()
	defer m.Metrics.SessionClosed()

	err := echokernel.Serve(ctx, ep, m.Logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	util.OrDiscard(m.Logger).Verbose("kernel for %s exited", conn.RemoteAddr())
	return err
}
