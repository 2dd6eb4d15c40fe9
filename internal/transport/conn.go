package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/wire"
	"ksession/util"
)

// MaxFrameSize bounds a single frame in either direction.
const MaxFrameSize = 64 << 20

// ConnEndpoint carries kernel messages over a stream connection.  Each
// frame is a big-endian uint32 length followed by the message in the
// binary wire layout.
//
// Reading starts with the first Subscribe, so messages that arrive
// before anyone listens stay in the socket buffer rather than being
// dropped.
type ConnEndpoint struct {
	conn     net.Conn
	logger   *util.Logger
	metrics  *metrics.Collector
	maxFrame int

	subs      subscriberSet
	startOnce sync.Once

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewConnEndpoint wraps conn.  The endpoint owns conn from here on.
func NewConnEndpoint(conn net.Conn, logger *util.Logger, m *metrics.Collector) *ConnEndpoint {
	return &ConnEndpoint{
		conn:     conn,
		logger:   util.OrDiscard(logger).Named("endpoint"),
		metrics:  m,
		maxFrame: MaxFrameSize,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe implements [Endpoint].
func (e *ConnEndpoint) Subscribe(onMessage func(*wire.Message), onError func(error)) Subscription {
	sub := e.subs.add(onMessage, onError)
	e.startOnce.Do(func() { go e.readLoop() })
	return sub
}

// SendMessage implements [Endpoint].
func (e *ConnEndpoint) SendMessage(msg *wire.Message) error {
	select {
	case <-e.closed:
		return kerr.ErrEndpointClosed
	default:
	}

	if err := msg.Validate(); err != nil {
		return &kerr.WireError{Op: "encode frame", Err: err}
	}
	body, err := wire.SerializeBinary(msg)
	if err != nil {
		return err
	}
	if len(body) > e.maxFrame {
		e.metrics.RecordError("oversized outbound frame")
		return &kerr.WireError{Op: "encode frame", Err: fmt.Errorf("%s of %d bytes exceeds limit %d", msg.Type(), len(body), e.maxFrame)}
	}

	buf := util.GetBuffer()
	defer util.PutBuffer(buf)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	buf.Write(hdr[:])
	buf.Write(body)

	e.wmu.Lock()
	n, err := e.conn.Write(buf.Bytes())
	e.wmu.Unlock()
	if err != nil {
		if e.isClosed() || errors.Is(err, net.ErrClosed) {
			return kerr.ErrEndpointClosed
		}
		e.metrics.RecordError(fmt.Sprintf("write: %v", err))
		return kerr.Wrap("write", e.remoteAddr(), err)
	}
	e.metrics.MessageSent(int64(n))
	e.logger.Debug("sent %s on %s (%d bytes)", msg.Type(), msg.Channel, n)
	return nil
}

// Close implements [Endpoint].
func (e *ConnEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.conn.Close()
	})
	return err
}

// Done is closed when the read loop has exited.
func (e *ConnEndpoint) Done() <-chan struct{} { return e.done }

func (e *ConnEndpoint) readLoop() {
	defer close(e.done)
	r := bufio.NewReader(e.conn)

	for {
		frame, err := readFrame(r, e.maxFrame)
		if err != nil {
			if e.isClosed() {
				return
			}
			e.subs.fail(e.classifyReadError(err))
			return
		}

		msg, err := wire.DeserializeBinary(frame)
		if err != nil {
			// Framing is intact; only this message is bad.
			e.metrics.RecordError(err.Error())
			e.subs.fail(err)
			continue
		}
		e.metrics.MessageReceived(int64(len(frame) + 4))

		if !e.subs.deliver(msg) {
			e.logger.Debug("dropping %s: no subscribers", msg.Type())
		}
	}
}

func (e *ConnEndpoint) classifyReadError(err error) error {
	var we *kerr.WireError
	switch {
	case errors.As(err, &we):
		e.metrics.RecordError(err.Error())
		return fmt.Errorf("%w: %w", kerr.ErrEndpointClosed, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		e.logger.Verbose("connection to %s closed", e.remoteAddr())
		return fmt.Errorf("%w: %v", kerr.ErrEndpointClosed, err)
	default:
		e.metrics.RecordError(fmt.Sprintf("read: %v", err))
		return fmt.Errorf("%w: %w", kerr.ErrEndpointClosed, kerr.Wrap("read", e.remoteAddr(), err))
	}
}

func (e *ConnEndpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *ConnEndpoint) remoteAddr() string {
	if a := e.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "?"
}

func readFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(limit) {
		return nil, &kerr.WireError{Op: "decode frame", Err: fmt.Errorf("frame of %d bytes exceeds limit %d", n, limit)}
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
