// Package transport provides the two halves of moving kernel messages:
// Dialers that establish a network connection (plain TCP or tunnelled
// through SSH) and Endpoints, the raw point-to-point message channel a
// kernel session runs over.
//
// An Endpoint has no framing or session semantics of its own beyond
// FIFO delivery per direction, and no built-in reconnection: failures
// surface through the subscriber's error callback.
package transport

import (
	"context"
	"net"

	"ksession/internal/wire"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Endpoint is a raw bidirectional message transport.
type Endpoint interface {
	// Subscribe registers callbacks for inbound messages and transport
	// errors.  Callbacks run on the endpoint's delivery goroutine, one
	// at a time, in arrival order.
	Subscribe(onMessage func(*wire.Message), onError func(error)) Subscription

	// SendMessage delivers msg to the remote side.  It returns
	// ErrEndpointClosed once the endpoint is closed.
	SendMessage(msg *wire.Message) error

	// Close shuts the endpoint down.  Safe to call more than once.
	Close() error
}

// Subscription is the handle returned by Endpoint.Subscribe.
type Subscription interface {
	Unsubscribe()
}
