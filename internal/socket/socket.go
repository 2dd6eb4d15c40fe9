// Package socket adapts a raw transport endpoint to the event-driven
// socket the protocol client expects.
//
// Incoming messages are serialized to the socket payload shape before
// the message event fires; outgoing payloads are deserialized back into
// messages before they reach the endpoint.  Transport errors never
// cross the socket boundary as return values: they are logged and
// raised as error events.
package socket

import (
	"fmt"
	"sync"

	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/protocol"
	"ksession/internal/transport"
	"ksession/internal/wire"
	"ksession/util"
)

// Event names a socket event.
type Event string

const (
	EventOpen    Event = "open"
	EventMessage Event = "message"
	EventError   Event = "error"
	EventClose   Event = "close"
)

// RawSocket implements protocol.Socket on top of a transport.Endpoint.
type RawSocket struct {
	endpoint transport.Endpoint
	clientID string
	logger   *util.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	handlers protocol.SocketHandlers
	sub      transport.Subscription
	closed   bool
}

var _ protocol.Socket = (*RawSocket)(nil)

// New binds a socket to endpoint.  The endpoint subscription starts
// with the first SetHandlers, so nothing the endpoint reports before
// then is lost.  clientID is only used to label log lines.
func New(endpoint transport.Endpoint, clientID string, logger *util.Logger, m *metrics.Collector) *RawSocket {
	s := &RawSocket{
		endpoint: endpoint,
		clientID: clientID,
		logger:   util.OrDiscard(logger).Named("socket"),
		metrics:  m,
	}
	return s
}

// SetHandlers implements protocol.Socket.
func (s *RawSocket) SetHandlers(h protocol.SocketHandlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
	if s.sub == nil && !s.closed {
		s.sub = s.endpoint.Subscribe(s.onMessage, s.onError)
	}
}

// ClearHandlers implements protocol.Socket.
func (s *RawSocket) ClearHandlers() {
	s.SetHandlers(protocol.SocketHandlers{})
}

// Emit dispatches an event to its handler synchronously.  It reports
// whether a handler ran; unknown events, missing handlers and
// arguments of the wrong type are ignored.
func (s *RawSocket) Emit(event Event, args ...any) bool {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()

	switch event {
	case EventOpen:
		if h.OnOpen == nil {
			return false
		}
		h.OnOpen()
		return true

	case EventMessage:
		if h.OnMessage == nil || len(args) == 0 {
			return false
		}
		p, ok := args[0].(wire.Payload)
		if !ok {
			return false
		}
		h.OnMessage(p)
		return true

	case EventError:
		if h.OnError == nil || len(args) == 0 {
			return false
		}
		err, ok := args[0].(error)
		if !ok {
			return false
		}
		h.OnError(err)
		return true

	case EventClose:
		if h.OnClose == nil {
			return false
		}
		ev := protocol.CloseEvent{WasClean: true}
		if len(args) > 0 {
			if ce, ok := args[0].(protocol.CloseEvent); ok {
				ev = ce
			}
		}
		h.OnClose(ev)
		return true
	}
	return false
}

// Send deserializes p and forwards the message to the endpoint.
func (s *RawSocket) Send(p wire.Payload) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return kerr.ErrEndpointClosed
	}

	msg, err := wire.Deserialize(p)
	if err != nil {
		s.metrics.RecordError(err.Error())
		return err
	}
	if err := s.endpoint.SendMessage(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

// Close unsubscribes from the endpoint and raises close.  The endpoint
// itself stays open; it belongs to whoever created it.
func (s *RawSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	s.Emit(EventClose, protocol.CloseEvent{WasClean: true, Code: 1000, Reason: "socket closed"})
	return nil
}

func (s *RawSocket) onMessage(msg *wire.Message) {
	p, err := wire.Serialize(msg)
	if err != nil {
		s.logger.Error("[%s] cannot serialize incoming %s: %v", s.clientID, msg.Type(), err)
		s.metrics.RecordError(err.Error())
		s.Emit(EventError, err)
		return
	}
	s.Emit(EventMessage, p)
}

// onError logs a closed endpoint as routine; it ends every session.
func (s *RawSocket) onError(err error) {
	if kerr.Is(err, kerr.ErrEndpointClosed) {
		s.logger.Verbose("[%s] endpoint closed: %v", s.clientID, err)
	} else {
		s.logger.Error("[%s] transport error: %v", s.clientID, err)
	}
	s.Emit(EventError, err)
}
