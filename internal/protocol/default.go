package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/signal"
	"ksession/internal/wire"
	"ksession/util"
)

var errFutureDisposed = fmt.Errorf("future disposed: %w", kerr.ErrKernelDisposed)

// Options configures a DefaultKernel.
type Options struct {
	// ID identifies the kernel; a uuid is generated when empty.
	ID       string
	Name     string
	ClientID string
	Username string

	// HandleComms enables comm_open/comm_msg/comm_close handling.
	HandleComms bool

	// SocketFactory builds the socket for the first connection and for
	// every Reconnect.  Required.
	SocketFactory SocketFactory

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// DefaultKernel is the stock Kernel implementation.  It owns one
// socket at a time and reacts to the socket's events; open primes the
// connection with kernel_info_request.
type DefaultKernel struct {
	id          string
	name        string
	clientID    string
	username    string
	handleComms bool

	factory SocketFactory
	logger  *util.Logger
	metrics *metrics.Collector

	mu          sync.Mutex
	socket      Socket
	open        bool
	pending     []*wire.Message
	status      Status
	info        *KernelInfo
	ready       chan struct{}
	readyClosed bool
	disposed    bool
	futures     map[string]*Future
	comms       map[string]*Comm
	targets     map[string]CommTarget
	lastInput   *wire.Header
	lostErr     error

	hooks hookRegistry

	terminated       *signal.Signal[struct{}]
	statusChanged    *signal.Signal[Status]
	iopubMessage     *signal.Signal[*wire.Message]
	unhandledMessage *signal.Signal[*wire.Message]
	anyMessage       *signal.Signal[AnyMessage]
}

var _ Kernel = (*DefaultKernel)(nil)

// NewDefaultKernel creates a kernel client and its first socket.  The
// kernel is not ready until the socket raises open and the kernel
// answers kernel_info.
func NewDefaultKernel(opts Options) (*DefaultKernel, error) {
	if opts.SocketFactory == nil {
		return nil, fmt.Errorf("protocol: socket factory is required")
	}
	k := &DefaultKernel{
		id:               opts.ID,
		name:             opts.Name,
		clientID:         opts.ClientID,
		username:         opts.Username,
		handleComms:      opts.HandleComms,
		factory:          opts.SocketFactory,
		logger:           util.OrDiscard(opts.Logger).Named("kernel"),
		metrics:          opts.Metrics,
		status:           StatusUnknown,
		ready:            make(chan struct{}),
		futures:          make(map[string]*Future),
		comms:            make(map[string]*Comm),
		targets:          make(map[string]CommTarget),
		terminated:       signal.New[struct{}](),
		statusChanged:    signal.New[Status](),
		iopubMessage:     signal.New[*wire.Message](),
		unhandledMessage: signal.New[*wire.Message](),
		anyMessage:       signal.New[AnyMessage](),
	}
	if k.id == "" {
		k.id = uuid.NewString()
	}
	if k.clientID == "" {
		k.clientID = uuid.NewString()
	}

	if err := k.createSocket(); err != nil {
		return nil, err
	}
	return k, nil
}

// ── Properties ───────────────────────────────────────────────────────

func (k *DefaultKernel) ID() string       { return k.id }
func (k *DefaultKernel) Name() string     { return k.name }
func (k *DefaultKernel) Model() Model     { return Model{ID: k.id, Name: k.name} }
func (k *DefaultKernel) Username() string { return k.username }
func (k *DefaultKernel) ClientID() string { return k.clientID }

func (k *DefaultKernel) HandleComms() bool { return k.handleComms }

func (k *DefaultKernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

func (k *DefaultKernel) Info() *KernelInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.info
}

func (k *DefaultKernel) IsReady() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.readyClosed
}

func (k *DefaultKernel) Ready() <-chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ready
}

func (k *DefaultKernel) IsDisposed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.disposed
}

func (k *DefaultKernel) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lostErr
}

func (k *DefaultKernel) Terminated() *signal.Signal[struct{}]            { return k.terminated }
func (k *DefaultKernel) StatusChanged() *signal.Signal[Status]           { return k.statusChanged }
func (k *DefaultKernel) IOPubMessage() *signal.Signal[*wire.Message]     { return k.iopubMessage }
func (k *DefaultKernel) UnhandledMessage() *signal.Signal[*wire.Message] { return k.unhandledMessage }
func (k *DefaultKernel) AnyMessage() *signal.Signal[AnyMessage]          { return k.anyMessage }

// ── Socket lifecycle ─────────────────────────────────────────────────

func (k *DefaultKernel) createSocket() error {
	sock, err := k.factory()
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}
	sock.SetHandlers(SocketHandlers{
		OnOpen:    k.onSocketOpen,
		OnMessage: k.onSocketMessage,
		OnError:   k.onSocketError,
		OnClose:   k.onSocketClose,
	})
	k.mu.Lock()
	k.socket = sock
	k.open = false
	k.mu.Unlock()
	return nil
}

func (k *DefaultKernel) clearSocket() {
	k.mu.Lock()
	sock := k.socket
	k.socket = nil
	k.open = false
	k.mu.Unlock()

	if sock != nil {
		sock.ClearHandlers()
		if err := sock.Close(); err != nil {
			k.logger.Debug("closing socket: %v", err)
		}
	}
}

func (k *DefaultKernel) onSocketOpen() {
	k.mu.Lock()
	if k.disposed || k.status == StatusDead {
		k.mu.Unlock()
		return
	}
	k.open = true
	k.lostErr = nil
	k.mu.Unlock()

	k.logger.Verbose("connection open")
	k.updateStatus(StatusConnected)

	msg, err := k.newMessage("kernel_info_request", wire.ChannelShell, nil, nil, nil)
	if err == nil {
		_, err = k.SendShellMessage(msg, true, true)
	}
	if err != nil {
		k.logger.Error("priming kernel_info_request: %v", err)
	}
	k.flushPending()
}

func (k *DefaultKernel) onSocketMessage(p wire.Payload) {
	msg, err := wire.Deserialize(p)
	if err != nil {
		k.logger.Error("dropping undecodable message: %v", err)
		return
	}
	k.handleMessage(msg)
}

// onSocketError treats a closed endpoint as fatal and anything else as
// transient.
func (k *DefaultKernel) onSocketError(err error) {
	if kerr.Is(err, kerr.ErrEndpointClosed) {
		k.connectionLost(err)
		return
	}
	k.logger.Warn("transport error: %v", err)
}

func (k *DefaultKernel) onSocketClose(ev CloseEvent) {
	reason := ev.Reason
	if reason == "" {
		reason = "socket closed"
	}
	k.connectionLost(fmt.Errorf("%w: %s", kerr.ErrEndpointClosed, reason))
}

func (k *DefaultKernel) connectionLost(cause error) {
	k.mu.Lock()
	if k.disposed || k.status == StatusDead {
		k.mu.Unlock()
		return
	}
	k.open = false
	k.lostErr = cause
	futures := k.takeFuturesLocked()
	k.mu.Unlock()

	k.logger.Warn("connection lost: %v", cause)
	for _, f := range futures {
		f.fail(cause)
	}
	k.updateStatus(StatusDead)
}

// ── Incoming messages ────────────────────────────────────────────────

func (k *DefaultKernel) handleMessage(msg *wire.Message) {
	k.anyMessage.Emit(AnyMessage{Msg: msg, Direction: DirectionRecv})

	switch msg.Channel {
	case wire.ChannelIOPub:
		k.handleIOPub(msg)
	case wire.ChannelShell, wire.ChannelControl:
		k.handleReply(msg)
	case wire.ChannelStdin:
		k.handleStdin(msg)
	default:
		k.unhandledMessage.Emit(msg)
	}
}

func (k *DefaultKernel) handleReply(msg *wire.Message) {
	if msg.Type() == "kernel_info_reply" {
		k.handleKernelInfo(msg)
	}
	fut := k.future(msg.ParentID())
	if fut == nil {
		k.logger.Debug("unhandled %s for %q", msg.Type(), msg.ParentID())
		k.unhandledMessage.Emit(msg)
		return
	}
	fut.handleReply(msg)
}

func (k *DefaultKernel) handleStdin(msg *wire.Message) {
	if msg.Type() == "input_request" {
		parent := msg.Header
		k.mu.Lock()
		k.lastInput = &parent
		k.mu.Unlock()
	}
	fut := k.future(msg.ParentID())
	if fut == nil {
		k.unhandledMessage.Emit(msg)
		return
	}
	fut.handleStdin(msg)
}

// handleIOPub updates status first, then runs the hook chain; a hook
// returning false hides the message from the future and IOPubMessage.
func (k *DefaultKernel) handleIOPub(msg *wire.Message) {
	switch msg.Type() {
	case "status":
		var st StatusContent
		if err := msg.DecodeContent(&st); err != nil {
			k.logger.Debug("bad status message: %v", err)
		} else if st.ExecutionState != "" {
			k.updateStatus(st.ExecutionState)
		}
	case "comm_open", "comm_msg", "comm_close":
		if k.handleComms {
			k.handleCommMessage(msg)
		}
	}

	deliver := k.hooks.run(msg)
	if fut := k.future(msg.ParentID()); fut != nil {
		fut.handleIOPub(msg, deliver)
	}
	if deliver {
		k.iopubMessage.Emit(msg)
	}
}

func (k *DefaultKernel) handleKernelInfo(msg *wire.Message) {
	var info KernelInfo
	if err := msg.DecodeContent(&info); err != nil {
		k.logger.Error("decoding kernel_info_reply: %v", err)
		return
	}
	k.mu.Lock()
	k.info = &info
	becameReady := !k.readyClosed
	if becameReady {
		k.readyClosed = true
		close(k.ready)
	}
	st := k.status
	k.mu.Unlock()

	if becameReady {
		k.logger.Verbose("kernel ready: %s %s", info.Implementation, info.ImplementationVersion)
	}
	// Kernels that never publish status still need to leave the
	// connecting states.
	switch st {
	case StatusUnknown, StatusConnected, StatusStarting, StatusRestarting, StatusAutoRestarting, StatusReconnecting:
		k.updateStatus(StatusIdle)
	}
}

func (k *DefaultKernel) handleCommMessage(msg *wire.Message) {
	switch msg.Type() {
	case "comm_open":
		var open CommOpen
		if err := msg.DecodeContent(&open); err != nil {
			k.logger.Error("decoding comm_open: %v", err)
			return
		}
		k.mu.Lock()
		target := k.targets[open.TargetName]
		var comm *Comm
		if target != nil {
			comm = &Comm{kernel: k, id: open.CommID, target: open.TargetName}
			k.comms[open.CommID] = comm
		}
		k.mu.Unlock()

		if target == nil {
			k.logger.Warn("no comm target %q; closing comm %s", open.TargetName, open.CommID)
			reply, err := k.newMessage("comm_close", wire.ChannelShell, CommClose{CommID: open.CommID, Data: map[string]any{}}, nil, nil)
			if err == nil {
				_, err = k.SendShellMessage(reply, false, true)
			}
			if err != nil {
				k.logger.Error("closing orphan comm: %v", err)
			}
			return
		}
		target(comm, msg)

	case "comm_msg", "comm_close":
		var body struct {
			CommID string `json:"comm_id"`
		}
		if err := msg.DecodeContent(&body); err != nil {
			k.logger.Error("decoding %s: %v", msg.Type(), err)
			return
		}
		k.mu.Lock()
		comm := k.comms[body.CommID]
		k.mu.Unlock()
		if comm == nil {
			k.logger.Debug("%s for unknown comm %s", msg.Type(), body.CommID)
			return
		}
		if msg.Type() == "comm_msg" {
			comm.handleMsg(msg)
		} else {
			comm.handleClose(msg)
		}
	}
}

func (k *DefaultKernel) updateStatus(st Status) {
	k.mu.Lock()
	if k.status == st || (k.disposed && st != StatusDead) {
		k.mu.Unlock()
		return
	}
	k.status = st
	k.mu.Unlock()

	k.metrics.StatusChanged(string(st))
	k.logger.Debug("status: %s", st)
	k.statusChanged.Emit(st)
	if st == StatusDead {
		k.terminated.Emit(struct{}{})
	}
}

// ── Sending ──────────────────────────────────────────────────────────

func (k *DefaultKernel) newMessage(msgType string, ch wire.Channel, content any, metadata map[string]any, buffers [][]byte) (*wire.Message, error) {
	var md any
	if metadata != nil {
		md = metadata
	}
	return wire.NewMessage(wire.MessageOptions{
		MsgType:  msgType,
		Channel:  ch,
		Session:  k.clientID,
		Username: k.username,
		Content:  content,
		Metadata: md,
		Buffers:  buffers,
	})
}

// SendShellMessage sends msg on the shell channel and returns a future
// tracking it.
func (k *DefaultKernel) SendShellMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*Future, error) {
	return k.sendRequest(msg, wire.ChannelShell, expectReply, disposeOnDone)
}

// SendControlMessage sends msg on the control channel.
func (k *DefaultKernel) SendControlMessage(msg *wire.Message, expectReply, disposeOnDone bool) (*Future, error) {
	return k.sendRequest(msg, wire.ChannelControl, expectReply, disposeOnDone)
}

func (k *DefaultKernel) sendRequest(msg *wire.Message, ch wire.Channel, expectReply, disposeOnDone bool) (*Future, error) {
	if msg.Channel != ch {
		return nil, fmt.Errorf("cannot send a %s message on %s", msg.Channel, ch)
	}
	fut := newFuture(k, msg, expectReply, disposeOnDone)

	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return nil, kerr.ErrKernelDisposed
	}
	k.futures[msg.ID()] = fut
	k.mu.Unlock()

	if err := k.send(msg); err != nil {
		k.forgetFuture(fut)
		return nil, err
	}
	return fut, nil
}

// send writes msg, queueing it while the socket is not yet open.
func (k *DefaultKernel) send(msg *wire.Message) error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return kerr.ErrKernelDisposed
	}
	if k.status == StatusDead {
		k.mu.Unlock()
		return kerr.ErrNotConnected
	}
	if !k.open || k.socket == nil {
		k.pending = append(k.pending, msg)
		k.mu.Unlock()
		k.logger.Debug("queued %s until the connection opens", msg.Type())
		return nil
	}
	sock := k.socket
	k.mu.Unlock()

	return k.write(sock, msg)
}

func (k *DefaultKernel) write(sock Socket, msg *wire.Message) error {
	p, err := wire.Serialize(msg)
	if err != nil {
		return err
	}
	if err := sock.Send(p); err != nil {
		return err
	}
	k.anyMessage.Emit(AnyMessage{Msg: msg, Direction: DirectionSend})
	return nil
}

func (k *DefaultKernel) flushPending() {
	k.mu.Lock()
	pending := k.pending
	k.pending = nil
	sock := k.socket
	k.mu.Unlock()

	for _, msg := range pending {
		if err := k.write(sock, msg); err != nil {
			k.logger.Error("sending queued %s: %v", msg.Type(), err)
			if fut := k.future(msg.ID()); fut != nil {
				fut.fail(err)
				k.forgetFuture(fut)
			}
		}
	}
}

func (k *DefaultKernel) future(msgID string) *Future {
	if msgID == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.futures[msgID]
}

func (k *DefaultKernel) forgetFuture(f *Future) {
	k.mu.Lock()
	if k.futures[f.msg.ID()] == f {
		delete(k.futures, f.msg.ID())
	}
	k.mu.Unlock()
}

func (k *DefaultKernel) forgetComm(id string) {
	k.mu.Lock()
	delete(k.comms, id)
	k.mu.Unlock()
}

func (k *DefaultKernel) takeFuturesLocked() []*Future {
	futures := make([]*Future, 0, len(k.futures))
	for _, f := range k.futures {
		futures = append(futures, f)
	}
	k.futures = make(map[string]*Future)
	return futures
}

// request sends a shell request and waits for it to finish.
func (k *DefaultKernel) request(ctx context.Context, msgType string, content any) (*wire.Message, error) {
	msg, err := k.newMessage(msgType, wire.ChannelShell, content, nil, nil)
	if err != nil {
		return nil, err
	}
	fut, err := k.SendShellMessage(msg, true, true)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// ── Requests ─────────────────────────────────────────────────────────

func (k *DefaultKernel) RequestExecute(content ExecuteRequest, disposeOnDone bool, metadata map[string]any) (*Future, error) {
	if content.UserExpressions == nil {
		content.UserExpressions = map[string]any{}
	}
	msg, err := k.newMessage("execute_request", wire.ChannelShell, content, metadata, nil)
	if err != nil {
		return nil, err
	}
	return k.SendShellMessage(msg, true, disposeOnDone)
}

func (k *DefaultKernel) RequestInspect(ctx context.Context, content InspectRequest) (*wire.Message, error) {
	return k.request(ctx, "inspect_request", content)
}

func (k *DefaultKernel) RequestComplete(ctx context.Context, content CompleteRequest) (*wire.Message, error) {
	return k.request(ctx, "complete_request", content)
}

func (k *DefaultKernel) RequestHistory(ctx context.Context, content HistoryRequest) (*wire.Message, error) {
	return k.request(ctx, "history_request", content)
}

func (k *DefaultKernel) RequestIsComplete(ctx context.Context, content IsCompleteRequest) (*wire.Message, error) {
	return k.request(ctx, "is_complete_request", content)
}

func (k *DefaultKernel) RequestCommInfo(ctx context.Context, content CommInfoRequest) (*wire.Message, error) {
	return k.request(ctx, "comm_info_request", content)
}

func (k *DefaultKernel) RequestKernelInfo(ctx context.Context) (*wire.Message, error) {
	return k.request(ctx, "kernel_info_request", nil)
}

func (k *DefaultKernel) RequestDebug(content DebugRequest, disposeOnDone bool) (*Future, error) {
	msg, err := k.newMessage("debug_request", wire.ChannelControl, content, nil, nil)
	if err != nil {
		return nil, err
	}
	return k.SendControlMessage(msg, true, disposeOnDone)
}

// SendInputReply answers the most recent input_request.
func (k *DefaultKernel) SendInputReply(content InputReply) error {
	if content.Status == "" {
		content.Status = "ok"
	}
	k.mu.Lock()
	parent := k.lastInput
	k.mu.Unlock()

	msg, err := wire.NewMessage(wire.MessageOptions{
		MsgType:  "input_reply",
		Channel:  wire.ChannelStdin,
		Session:  k.clientID,
		Username: k.username,
		Content:  content,
		Parent:   parent,
	})
	if err != nil {
		return err
	}
	return k.send(msg)
}

// ── Control ──────────────────────────────────────────────────────────

// Interrupt sends interrupt_request on control and waits for the reply.
func (k *DefaultKernel) Interrupt(ctx context.Context) error {
	msg, err := k.newMessage("interrupt_request", wire.ChannelControl, nil, nil, nil)
	if err != nil {
		return err
	}
	fut, err := k.SendControlMessage(msg, true, true)
	if err != nil {
		return err
	}
	reply, err := fut.WaitReply(ctx)
	if err != nil {
		return err
	}
	return replyError(reply)
}

// Restart asks the kernel to restart in place, then waits for it to
// answer kernel_info again.
func (k *DefaultKernel) Restart(ctx context.Context) error {
	msg, err := k.newMessage("shutdown_request", wire.ChannelControl, ShutdownRequest{Restart: true}, nil, nil)
	if err != nil {
		return err
	}
	k.updateStatus(StatusRestarting)
	fut, err := k.SendControlMessage(msg, true, true)
	if err != nil {
		return err
	}
	if _, err := fut.WaitReply(ctx); err != nil {
		return err
	}

	k.resetReady()
	if _, err := k.RequestKernelInfo(ctx); err != nil {
		return err
	}
	return nil
}

// Reconnect replaces the socket with a fresh one from the factory.  It
// returns once the new socket is installed; Ready closes again when the
// kernel answers kernel_info on the new connection.
func (k *DefaultKernel) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if k.IsDisposed() {
		return kerr.ErrKernelDisposed
	}
	k.clearSocket()
	k.updateStatus(StatusReconnecting)
	k.resetReady()

	return k.createSocket()
}

// Shutdown asks the kernel to exit and disposes the client.
func (k *DefaultKernel) Shutdown(ctx context.Context) error {
	if k.IsDisposed() {
		return nil
	}
	msg, err := k.newMessage("shutdown_request", wire.ChannelControl, ShutdownRequest{Restart: false}, nil, nil)
	if err != nil {
		return err
	}
	fut, err := k.SendControlMessage(msg, true, true)
	if err == nil {
		k.updateStatus(StatusTerminating)
		_, err = fut.WaitReply(ctx)
	}
	k.updateStatus(StatusDead)
	k.Dispose()

	if kerr.Is(err, kerr.ErrEndpointClosed) || kerr.Is(err, kerr.ErrNotConnected) {
		return nil
	}
	return err
}

func (k *DefaultKernel) resetReady() {
	k.mu.Lock()
	if k.readyClosed {
		k.ready = make(chan struct{})
		k.readyClosed = false
	}
	k.mu.Unlock()
}

// ── Comms ────────────────────────────────────────────────────────────

// ConnectToComm creates a client-side comm.  Call Open on it to tell
// the kernel.
func (k *DefaultKernel) ConnectToComm(targetName, commID string) (*Comm, error) {
	if !k.handleComms {
		return nil, fmt.Errorf("comms are disabled on this kernel connection")
	}
	if commID == "" {
		commID = uuid.NewString()
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.disposed {
		return nil, kerr.ErrKernelDisposed
	}
	if _, ok := k.comms[commID]; ok {
		return nil, fmt.Errorf("comm %s is already open", commID)
	}
	c := &Comm{kernel: k, id: commID, target: targetName}
	k.comms[commID] = c
	return c, nil
}

func (k *DefaultKernel) RegisterCommTarget(targetName string, callback CommTarget) {
	k.mu.Lock()
	k.targets[targetName] = callback
	k.mu.Unlock()
}

func (k *DefaultKernel) RemoveCommTarget(targetName string) {
	k.mu.Lock()
	delete(k.targets, targetName)
	k.mu.Unlock()
}

// ── Hooks ────────────────────────────────────────────────────────────

func (k *DefaultKernel) RegisterMessageHook(msgID string, hook *MessageHook) {
	k.hooks.add(msgID, hook)
}

func (k *DefaultKernel) RemoveMessageHook(msgID string, hook *MessageHook) {
	k.hooks.remove(msgID, hook)
}

// ── Spec / dispose ───────────────────────────────────────────────────

// GetSpec describes the kernel from its kernel_info reply, waiting for
// readiness if needed.
func (k *DefaultKernel) GetSpec(ctx context.Context) (*Spec, error) {
	select {
	case <-k.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	info := k.Info()
	if info == nil {
		return nil, kerr.ErrNotConnected
	}
	display := info.Implementation
	if display == "" {
		display = info.LanguageInfo.Name
	}
	return &Spec{Name: k.name, DisplayName: display, Language: info.LanguageInfo.Name}, nil
}

// Dispose fails outstanding futures, closes the socket and disconnects
// every listener.  It is idempotent.
func (k *DefaultKernel) Dispose() {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return
	}
	futures := k.takeFuturesLocked()
	comms := k.comms
	k.comms = make(map[string]*Comm)
	k.pending = nil
	k.mu.Unlock()

	for _, f := range futures {
		f.fail(errFutureDisposed)
	}
	for _, c := range comms {
		c.mu.Lock()
		c.disposed = true
		c.mu.Unlock()
	}
	k.clearSocket()
	k.updateStatus(StatusDead)

	k.mu.Lock()
	k.disposed = true
	k.mu.Unlock()

	k.hooks.clear()
	k.terminated.DisconnectAll()
	k.statusChanged.DisconnectAll()
	k.iopubMessage.DisconnectAll()
	k.unhandledMessage.DisconnectAll()
	k.anyMessage.DisconnectAll()
	k.logger.Debug("disposed")
}

// replyError turns an error reply into a Go error.
func replyError(reply *wire.Message) error {
	if reply == nil {
		return nil
	}
	var body struct {
		Status string `json:"status"`
		EName  string `json:"ename"`
		EValue string `json:"evalue"`
	}
	if err := reply.DecodeContent(&body); err != nil {
		return err
	}
	if body.Status == "error" {
		return fmt.Errorf("%s: %s: %s", reply.Type(), body.EName, body.EValue)
	}
	return nil
}
