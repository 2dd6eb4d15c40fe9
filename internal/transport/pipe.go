package transport

import (
	"sync"

	kerr "ksession/internal/errors"
	"ksession/internal/wire"
)

// pipeBacklog is how many undelivered messages one direction holds
// before SendMessage blocks.
const pipeBacklog = 256

type pipeItem struct {
	msg *wire.Message
	err error
}

// PipeEndpoint is one end of an in-memory endpoint pair.
type PipeEndpoint struct {
	peer *PipeEndpoint

	subs      subscriberSet
	inbox     chan pipeItem
	startOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

// Pipe returns two connected endpoints.  Messages sent on one are
// delivered, in order, to the subscribers of the other.  Closing either
// end reports ErrEndpointClosed to the other end's subscribers after
// every message already in flight.
func Pipe() (*PipeEndpoint, *PipeEndpoint) {
	a := newPipeEndpoint()
	b := newPipeEndpoint()
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEndpoint() *PipeEndpoint {
	return &PipeEndpoint{
		inbox:  make(chan pipeItem, pipeBacklog),
		closed: make(chan struct{}),
	}
}

// Subscribe implements [Endpoint].
func (p *PipeEndpoint) Subscribe(onMessage func(*wire.Message), onError func(error)) Subscription {
	sub := p.subs.add(onMessage, onError)
	p.startOnce.Do(func() { go p.deliverLoop() })
	return sub
}

// SendMessage implements [Endpoint].
func (p *PipeEndpoint) SendMessage(msg *wire.Message) error {
	if err := msg.Validate(); err != nil {
		return &kerr.WireError{Op: "send", Err: err}
	}
	select {
	case <-p.closed:
		return kerr.ErrEndpointClosed
	case <-p.peer.closed:
		return kerr.ErrEndpointClosed
	default:
	}
	select {
	case p.peer.inbox <- pipeItem{msg: msg}:
		return nil
	case <-p.closed:
		return kerr.ErrEndpointClosed
	case <-p.peer.closed:
		return kerr.ErrEndpointClosed
	}
}

// Close implements [Endpoint].
func (p *PipeEndpoint) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		// Queue behind anything already sent so the peer sees FIFO.
		go func() {
			select {
			case p.peer.inbox <- pipeItem{err: kerr.ErrEndpointClosed}:
			case <-p.peer.closed:
			}
		}()
	})
	return nil
}

func (p *PipeEndpoint) deliverLoop() {
	for {
		select {
		case item := <-p.inbox:
			if item.err != nil {
				p.subs.fail(item.err)
				return
			}
			p.subs.deliver(item.msg)
		case <-p.closed:
			return
		}
	}
}
