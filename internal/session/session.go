// Package session is the caller-facing facade over one kernel
// connection.  It owns at most one kernel at a time, bounds control
// operations by a timeout, maps native kernel status to ServerStatus
// and refuses kernel operations once no kernel is attached.
//
// Base holds the behaviour every transport shares.  A transport-specific
// session embeds it, supplies the Lifecycle operations and attaches and
// detaches kernels as it creates and destroys them.  RawSession is the
// implementation for raw transport endpoints.
package session

import (
	"context"
	"time"

	"ksession/internal/protocol"
	"ksession/internal/signal"
	"ksession/internal/transport"
	"ksession/internal/wire"
)

// KernelSpec names the kernel a session should run.  A non-empty ID
// refers to an already-running kernel; attaching to one makes the
// session remote.
type KernelSpec struct {
	Name        string
	DisplayName string
	ID          string
}

// Lifecycle is the transport-specific part of a session.
type Lifecycle interface {
	// Shutdown terminates the kernel and releases the session.  It must
	// be idempotent.
	Shutdown(ctx context.Context) error
	Restart(ctx context.Context, timeout time.Duration) error
	ChangeKernel(ctx context.Context, spec KernelSpec, timeout time.Duration) error
	WaitForIdle(ctx context.Context, timeout time.Duration) error
}

// Session is the full facade contract.
type Session interface {
	Lifecycle

	Dispose(ctx context.Context) error
	Interrupt(ctx context.Context, timeout time.Duration) error

	IsConnected() bool
	IsRemote() bool
	Status() ServerStatus
	OnSessionStatusChanged() *signal.Signal[ServerStatus]

	RequestExecute(content protocol.ExecuteRequest, disposeOnDone bool, metadata map[string]any) (*protocol.Future, error)
	RequestInspect(ctx context.Context, content protocol.InspectRequest) (*wire.Message, error)
	RequestComplete(ctx context.Context, content protocol.CompleteRequest) (*wire.Message, error)
	RequestCommInfo(ctx context.Context, content protocol.CommInfoRequest) (*wire.Message, error)
	SendInputReply(text string) error
	RegisterCommTarget(targetName string, callback protocol.CommTarget) error
	SendCommMessage(buffers [][]byte, content protocol.CommMsg, metadata map[string]any, msgID string) (*protocol.Future, error)
	RegisterMessageHook(msgID string, hook *protocol.MessageHook) error
	RemoveMessageHook(msgID string, hook *protocol.MessageHook) error
}

// Connector opens the transport endpoint for a kernel.
type Connector interface {
	Connect(ctx context.Context, spec KernelSpec) (transport.Endpoint, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, spec KernelSpec) (transport.Endpoint, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, spec KernelSpec) (transport.Endpoint, error) {
	return f(ctx, spec)
}
