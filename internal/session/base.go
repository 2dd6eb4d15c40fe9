package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/protocol"
	"ksession/internal/signal"
	"ksession/internal/wire"
	"ksession/util"
)

// Base is the transport-independent half of a session.
type Base struct {
	lifecycle Lifecycle
	logger    *util.Logger
	metrics   *metrics.Collector

	mu        sync.Mutex
	kernel    protocol.Kernel
	connected bool
	remote    bool
	statusSub *signal.Connection[protocol.Status]

	statusChanged *signal.Signal[ServerStatus]
}

// NewBase returns a Base with no kernel attached.  lc receives Dispose;
// it may be nil for a session that never attaches a kernel.
func NewBase(lc Lifecycle, logger *util.Logger, m *metrics.Collector) *Base {
	return &Base{
		lifecycle:     lc,
		logger:        util.OrDiscard(logger).Named("session"),
		metrics:       m,
		statusChanged: signal.New[ServerStatus](),
	}
}

// Kernel returns the attached kernel and whether there is one.
func (b *Base) Kernel() (protocol.Kernel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kernel, b.kernel != nil
}

// AttachKernel makes k the session's kernel and subscribes to its
// status.  A previous kernel must be detached first.
func (b *Base) AttachKernel(k protocol.Kernel, remote bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kernel != nil {
		return fmt.Errorf("session already has kernel %s; detach it first", b.kernel.ID())
	}
	b.kernel = k
	b.connected = true
	b.remote = remote
	b.subscribeLocked(k)
	return nil
}

// DetachKernel drops the kernel and its status subscription and returns
// it for the caller to dispose.  It returns nil when none is attached.
func (b *Base) DetachKernel() protocol.Kernel {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.kernel
	b.statusSub.Disconnect()
	b.statusSub = nil
	b.kernel = nil
	b.connected = false
	return k
}

// subscribeLocked keeps exactly one status subscription per kernel.
func (b *Base) subscribeLocked(k protocol.Kernel) {
	if b.statusSub != nil {
		return
	}
	b.statusSub = k.StatusChanged().Connect(b.onStatusChanged)
}

func (b *Base) onStatusChanged(native protocol.Status) {
	st := MapStatus(native)
	b.logger.Debug("kernel status %s -> %s", native, st)
	b.statusChanged.Emit(st)
}

// IsConnected reports whether a kernel is attached and live.
func (b *Base) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// IsRemote reports whether the session attached to a kernel it did not
// start.
func (b *Base) IsRemote() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remote
}

// Status maps the kernel's native status; NotStarted without a kernel.
func (b *Base) Status() ServerStatus {
	k, ok := b.Kernel()
	if !ok {
		return NotStarted
	}
	return MapStatus(k.Status())
}

// OnSessionStatusChanged fires on every native status change.
// Consecutive values may repeat.
func (b *Base) OnSessionStatusChanged() *signal.Signal[ServerStatus] {
	return b.statusChanged
}

// Dispose is Shutdown.
func (b *Base) Dispose(ctx context.Context) error {
	if b.lifecycle == nil {
		if k := b.DetachKernel(); k != nil {
			k.Dispose()
		}
		return nil
	}
	return b.lifecycle.Shutdown(ctx)
}

// Interrupt interrupts the kernel, failing with a
// KernelControlTimeoutError when it takes longer than timeout.  It is a
// no-op without a kernel.
func (b *Base) Interrupt(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	k := b.kernel
	if k != nil {
		b.subscribeLocked(k)
	}
	b.mu.Unlock()
	if k == nil {
		return nil
	}
	return b.WaitForKernel(ctx, "interrupt", timeout, "interrupting the kernel timed out", k.Interrupt)
}

// WaitForKernel runs op and races it against timeout.  When the timer
// wins, op's context is cancelled and a KernelControlTimeoutError
// carrying reason is returned; op may still take effect on the kernel.
// Any other error from op is returned unchanged.
func (b *Base) WaitForKernel(ctx context.Context, name string, timeout time.Duration, reason string, op func(context.Context) error) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(opCtx) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		select {
		case err := <-done:
			return err
		default:
		}
		b.metrics.ControlTimeout()
		b.logger.Warn("%s: %s after %v", name, reason, timeout)
		return kerr.ControlTimeout(name, timeout, reason)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Kernel pass-through ──────────────────────────────────────────────

// RequestExecute returns nil, nil when no kernel is attached.
func (b *Base) RequestExecute(content protocol.ExecuteRequest, disposeOnDone bool, metadata map[string]any) (*protocol.Future, error) {
	k, ok := b.Kernel()
	if !ok {
		return nil, nil
	}
	return k.RequestExecute(content, disposeOnDone, metadata)
}

// RequestInspect returns nil, nil when no kernel is attached.
func (b *Base) RequestInspect(ctx context.Context, content protocol.InspectRequest) (*wire.Message, error) {
	k, ok := b.Kernel()
	if !ok {
		return nil, nil
	}
	return k.RequestInspect(ctx, content)
}

// RequestComplete returns nil, nil when no kernel is attached.
func (b *Base) RequestComplete(ctx context.Context, content protocol.CompleteRequest) (*wire.Message, error) {
	k, ok := b.Kernel()
	if !ok {
		return nil, nil
	}
	return k.RequestComplete(ctx, content)
}

func (b *Base) RequestCommInfo(ctx context.Context, content protocol.CommInfoRequest) (*wire.Message, error) {
	k, ok := b.Kernel()
	if !ok {
		return nil, kerr.ErrSessionDisposed
	}
	return k.RequestCommInfo(ctx, content)
}

// SendInputReply answers a pending input request with status ok.  It
// does nothing when no kernel is attached.
func (b *Base) SendInputReply(text string) error {
	k, ok := b.Kernel()
	if !ok {
		return nil
	}
	return k.SendInputReply(protocol.InputReply{Value: text, Status: "ok"})
}

func (b *Base) RegisterCommTarget(targetName string, callback protocol.CommTarget) error {
	k, ok := b.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	k.RegisterCommTarget(targetName, callback)
	return nil
}

// SendCommMessage sends a shell comm_msg attributed to the kernel's
// client id and username.  The future is disposed when done.
func (b *Base) SendCommMessage(buffers [][]byte, content protocol.CommMsg, metadata map[string]any, msgID string) (*protocol.Future, error) {
	k, ok := b.Kernel()
	if !ok {
		return nil, kerr.ErrSessionDisposed
	}
	if content.Data == nil {
		content.Data = map[string]any{}
	}
	var md any
	if metadata != nil {
		md = metadata
	}
	msg, err := wire.NewMessage(wire.MessageOptions{
		MsgType:  "comm_msg",
		Channel:  wire.ChannelShell,
		Session:  k.ClientID(),
		Username: k.Username(),
		MsgID:    msgID,
		Content:  content,
		Metadata: md,
		Buffers:  buffers,
	})
	if err != nil {
		return nil, err
	}
	return k.SendShellMessage(msg, false, true)
}

func (b *Base) RegisterMessageHook(msgID string, hook *protocol.MessageHook) error {
	k, ok := b.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	k.RegisterMessageHook(msgID, hook)
	return nil
}

func (b *Base) RemoveMessageHook(msgID string, hook *protocol.MessageHook) error {
	k, ok := b.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	k.RemoveMessageHook(msgID, hook)
	return nil
}
