// Package protocol is a client for the kernel messaging protocol.  It
// runs request/reply over the shell and control channels, tracks
// kernel status from iopub broadcasts, and manages comms and message
// hooks.
//
// The client never touches the network itself: it talks to a Socket,
// a minimal event-driven interface built by an injected SocketFactory.
// Anything that can raise open/message/error/close events and accept
// payloads can drive it.
package protocol

import (
	"context"

	"ksession/internal/signal"
	"ksession/internal/wire"
)

// Status is the kernel's native status.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusStarting       Status = "starting"
	StatusIdle           Status = "idle"
	StatusBusy           Status = "busy"
	StatusTerminating    Status = "terminating"
	StatusRestarting     Status = "restarting"
	StatusAutoRestarting Status = "autorestarting"
	StatusDead           Status = "dead"
	StatusConnected      Status = "connected"
	StatusReconnecting   Status = "reconnecting"
)

// CloseEvent describes why a socket closed.
type CloseEvent struct {
	WasClean bool
	Code     int
	Reason   string
}

// SocketHandlers are the four event slots of a Socket.  Nil fields are
// no-ops.
type SocketHandlers struct {
	OnOpen    func()
	OnMessage func(wire.Payload)
	OnError   func(error)
	OnClose   func(CloseEvent)
}

// Socket is the raw-socket surface the client needs.
type Socket interface {
	// SetHandlers installs the event slots, replacing any previous ones.
	SetHandlers(h SocketHandlers)
	// ClearHandlers resets every slot to a no-op.
	ClearHandlers()
	// Send writes one payload.
	Send(p wire.Payload) error
	// Close releases the socket.
	Close() error
}

// SocketFactory creates a socket for a (re)connection.
type SocketFactory func() (Socket, error)

// Model identifies a running kernel.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Spec describes the kind of kernel behind a connection.
type Spec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// AnyMessage is emitted for every message in either direction.
type AnyMessage struct {
	Msg       *wire.Message
	Direction Direction
}

// Direction of a message relative to this client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Kernel is the full client surface of one kernel connection.
type Kernel interface {
	ID() string
	Name() string
	Model() Model
	Username() string
	ClientID() string
	Status() Status
	Info() *KernelInfo
	IsReady() bool
	// Ready is closed once the kernel has answered kernel_info.
	Ready() <-chan struct{}
	HandleComms() bool
	IsDisposed() bool
	// Err is why the connection was lost, or nil while it is up.
	Err() error

	Terminated() *signal.Signal[struct{}]
	StatusChanged() *signal.Signal[Status]
	IOPubMessage() *signal.Signal[*wire.Message]
	UnhandledMessage() *signal.Signal[*wire.Message]
	AnyMessage() *signal.Signal[AnyMessage]

	Shutdown(ctx context.Context) error
	Restart(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Reconnect(ctx context.Context) error

	RequestExecute(content ExecuteRequest, disposeOnDone bool, metadata map[string]any) (*Future, error)
	RequestInspect(ctx context.Context, content InspectRequest) (*wire.Message, error)
	RequestComplete(ctx context.Context, content CompleteRequest) (*wire.Message, error)
	RequestHistory(ctx context.Context, content HistoryRequest) (*wire.Message, error)
	RequestIsComplete(ctx context.Context, content IsCompleteRequest) (*wire.Message, error)
	RequestCommInfo(ctx context.Context, content CommInfoRequest) (*wire.Message, error)
	RequestKernelInfo(ctx context.Context) (*wire.Message, error)
	RequestDebug(content DebugRequest, disposeOnDone bool) (*Future, error)

	SendShellMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*Future, error)
	SendControlMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*Future, error)
	SendInputReply(content InputReply) error

	ConnectToComm(targetName, commID string) (*Comm, error)
	RegisterCommTarget(targetName string, callback CommTarget)
	RemoveCommTarget(targetName string)

	RegisterMessageHook(msgID string, hook *MessageHook)
	RemoveMessageHook(msgID string, hook *MessageHook)

	GetSpec(ctx context.Context) (*Spec, error)
	Dispose()
}
