// Package rawkernel runs the protocol client over a raw transport
// endpoint.  It builds a socket bound to the endpoint, hands the client
// a socket factory that returns it, and raises open straight away as
// if a connection handshake had completed.
//
// Everything else is delegation: RawKernel keeps no state besides the
// socket binding, caches nothing and retries nothing.
package rawkernel

import (
	"context"
	"fmt"
	"sync"

	"ksession/internal/metrics"
	"ksession/internal/protocol"
	"ksession/internal/signal"
	"ksession/internal/socket"
	"ksession/internal/transport"
	"ksession/internal/wire"
	"ksession/util"
)

// Factory builds the protocol client.  The socket factory in opts is
// the adapter's own and must be used for every connection.
type Factory func(opts protocol.Options) (protocol.Kernel, error)

// DefaultFactory builds a protocol.DefaultKernel.
func DefaultFactory(opts protocol.Options) (protocol.Kernel, error) {
	return protocol.NewDefaultKernel(opts)
}

// Options configures Create.
type Options struct {
	// Factory defaults to DefaultFactory.
	Factory     Factory
	Username    string
	HandleComms bool
	Logger      *util.Logger
	Metrics     *metrics.Collector
}

// RawKernel is a protocol.Kernel driven over a transport.Endpoint.
type RawKernel struct {
	kernel   protocol.Kernel
	endpoint transport.Endpoint
	clientID string
	logger   *util.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex
	socket *socket.RawSocket
}

var _ protocol.Kernel = (*RawKernel)(nil)

// Create binds a protocol client to endpoint.  name is the kernel name
// and clientID identifies this client in message headers.
func Create(endpoint transport.Endpoint, name, clientID string, opts Options) (*RawKernel, error) {
	if endpoint == nil {
		return nil, fmt.Errorf("rawkernel: endpoint is required")
	}
	factory := opts.Factory
	if factory == nil {
		factory = DefaultFactory
	}
	rk := &RawKernel{
		endpoint: endpoint,
		clientID: clientID,
		logger:   util.OrDiscard(opts.Logger),
		metrics:  opts.Metrics,
	}

	k, err := factory(protocol.Options{
		Name:          name,
		ClientID:      clientID,
		Username:      opts.Username,
		HandleComms:   opts.HandleComms,
		SocketFactory: rk.newSocket,
		Logger:        opts.Logger,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create kernel %q: %w", name, err)
	}
	rk.kernel = k
	rk.open()
	return rk, nil
}

// newSocket is the socket factory handed to the protocol client.
func (rk *RawKernel) newSocket() (protocol.Socket, error) {
	s := socket.New(rk.endpoint, rk.clientID, rk.logger, rk.metrics)
	rk.mu.Lock()
	rk.socket = s
	rk.mu.Unlock()
	return s, nil
}

// open raises a synthetic open on the current socket.
func (rk *RawKernel) open() {
	rk.mu.Lock()
	s := rk.socket
	rk.mu.Unlock()
	if s != nil {
		s.Emit(socket.EventOpen)
	}
}

// Socket returns the socket currently bound to the endpoint.
func (rk *RawKernel) Socket() *socket.RawSocket {
	rk.mu.Lock()
	defer rk.mu.Unlock()
	return rk.socket
}

// Endpoint returns the transport the kernel runs over.
func (rk *RawKernel) Endpoint() transport.Endpoint { return rk.endpoint }

func (rk *RawKernel) ID() string                 { return rk.kernel.ID() }
func (rk *RawKernel) Name() string               { return rk.kernel.Name() }
func (rk *RawKernel) Model() protocol.Model      { return rk.kernel.Model() }
func (rk *RawKernel) Username() string           { return rk.kernel.Username() }
func (rk *RawKernel) ClientID() string           { return rk.kernel.ClientID() }
func (rk *RawKernel) Status() protocol.Status    { return rk.kernel.Status() }
func (rk *RawKernel) Info() *protocol.KernelInfo { return rk.kernel.Info() }
func (rk *RawKernel) IsReady() bool              { return rk.kernel.IsReady() }
func (rk *RawKernel) Ready() <-chan struct{}     { return rk.kernel.Ready() }
func (rk *RawKernel) HandleComms() bool          { return rk.kernel.HandleComms() }
func (rk *RawKernel) IsDisposed() bool           { return rk.kernel.IsDisposed() }
func (rk *RawKernel) Err() error                 { return rk.kernel.Err() }

func (rk *RawKernel) Terminated() *signal.Signal[struct{}] { return rk.kernel.Terminated() }

func (rk *RawKernel) StatusChanged() *signal.Signal[protocol.Status] {
	return rk.kernel.StatusChanged()
}

func (rk *RawKernel) IOPubMessage() *signal.Signal[*wire.Message] {
	return rk.kernel.IOPubMessage()
}

func (rk *RawKernel) UnhandledMessage() *signal.Signal[*wire.Message] {
	return rk.kernel.UnhandledMessage()
}

func (rk *RawKernel) AnyMessage() *signal.Signal[protocol.AnyMessage] {
	return rk.kernel.AnyMessage()
}

func (rk *RawKernel) Shutdown(ctx context.Context) error  { return rk.kernel.Shutdown(ctx) }
func (rk *RawKernel) Restart(ctx context.Context) error   { return rk.kernel.Restart(ctx) }
func (rk *RawKernel) Interrupt(ctx context.Context) error { return rk.kernel.Interrupt(ctx) }

// Reconnect asks the client for a new socket and primes it with open.
func (rk *RawKernel) Reconnect(ctx context.Context) error {
	before := rk.Socket()
	if err := rk.kernel.Reconnect(ctx); err != nil {
		return err
	}
	if rk.Socket() != before {
		rk.open()
	}
	return nil
}

func (rk *RawKernel) RequestExecute(content protocol.ExecuteRequest, disposeOnDone bool, metadata map[string]any) (*protocol.Future, error) {
	return rk.kernel.RequestExecute(content, disposeOnDone, metadata)
}

func (rk *RawKernel) RequestInspect(ctx context.Context, content protocol.InspectRequest) (*wire.Message, error) {
	return rk.kernel.RequestInspect(ctx, content)
}

func (rk *RawKernel) RequestComplete(ctx context.Context, content protocol.CompleteRequest) (*wire.Message, error) {
	return rk.kernel.RequestComplete(ctx, content)
}

func (rk *RawKernel) RequestHistory(ctx context.Context, content protocol.HistoryRequest) (*wire.Message, error) {
	return rk.kernel.RequestHistory(ctx, content)
}

func (rk *RawKernel) RequestIsComplete(ctx context.Context, content protocol.IsCompleteRequest) (*wire.Message, error) {
	return rk.kernel.RequestIsComplete(ctx, content)
}

func (rk *RawKernel) RequestCommInfo(ctx context.Context, content protocol.CommInfoRequest) (*wire.Message, error) {
	return rk.kernel.RequestCommInfo(ctx, content)
}

func (rk *RawKernel) RequestKernelInfo(ctx context.Context) (*wire.Message, error) {
	return rk.kernel.RequestKernelInfo(ctx)
}

func (rk *RawKernel) RequestDebug(content protocol.DebugRequest, disposeOnDone bool) (*protocol.Future, error) {
	return rk.kernel.RequestDebug(content, disposeOnDone)
}

func (rk *RawKernel) SendShellMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*protocol.Future, error) {
	return rk.kernel.SendShellMessage(msg, expectReply, disposeOnDone)
}

func (rk *RawKernel) SendControlMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*protocol.Future, error) {
	return rk.kernel.SendControlMessage(msg, expectReply, disposeOnDone)
}

func (rk *RawKernel) SendInputReply(content protocol.InputReply) error {
	return rk.kernel.SendInputReply(content)
}

func (rk *RawKernel) ConnectToComm(targetName, commID string) (*protocol.Comm, error) {
	return rk.kernel.ConnectToComm(targetName, commID)
}

func (rk *RawKernel) RegisterCommTarget(targetName string, callback protocol.CommTarget) {
	rk.kernel.RegisterCommTarget(targetName, callback)
}

func (rk *RawKernel) RemoveCommTarget(targetName string) {
	rk.kernel.RemoveCommTarget(targetName)
}

func (rk *RawKernel) RegisterMessageHook(msgID string, hook *protocol.MessageHook) {
	rk.kernel.RegisterMessageHook(msgID, hook)
}

func (rk *RawKernel) RemoveMessageHook(msgID string, hook *protocol.MessageHook) {
	rk.kernel.RemoveMessageHook(msgID, hook)
}

func (rk *RawKernel) GetSpec(ctx context.Context) (*protocol.Spec, error) {
	return rk.kernel.GetSpec(ctx)
}

func (rk *RawKernel) Dispose() { rk.kernel.Dispose() }
