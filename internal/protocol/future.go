package protocol

import (
	"context"
	"sync"

	"ksession/internal/wire"
)

// Future tracks one shell or control request.  It finishes when the
// reply has arrived (if one is expected) and the kernel has reported
// idle for the request.
type Future struct {
	msg           *wire.Message
	expectReply   bool
	disposeOnDone bool
	kernel        *DefaultKernel

	mu      sync.Mutex
	reply   *wire.Message
	gotIdle bool
	err     error
	onIOPub func(*wire.Message)
	onReply func(*wire.Message)
	onStdin func(*wire.Message)

	replied  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	replyOne sync.Once
}

func newFuture(k *DefaultKernel, msg *wire.Message, expectReply, disposeOnDone bool) *Future {
	return &Future{
		msg:           msg,
		expectReply:   expectReply,
		disposeOnDone: disposeOnDone,
		kernel:        k,
		replied:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Msg returns the request.
func (f *Future) Msg() *wire.Message { return f.msg }

// Done is closed when the future finishes or is disposed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Replied is closed when the reply arrives or the future fails.
func (f *Future) Replied() <-chan struct{} { return f.replied }

// Reply returns the reply received so far.
func (f *Future) Reply() *wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply
}

// Err returns why the future failed, if it did.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future is done and returns the reply.
func (f *Future) Wait(ctx context.Context) (*wire.Message, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

// WaitReply blocks until the reply arrives, without waiting for idle.
func (f *Future) WaitReply(ctx context.Context) (*wire.Message, error) {
	select {
	case <-f.replied:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

// OnIOPub sets the iopub handler.
func (f *Future) OnIOPub(fn func(*wire.Message)) {
	f.mu.Lock()
	f.onIOPub = fn
	f.mu.Unlock()
}

// OnReply sets the reply handler.
func (f *Future) OnReply(fn func(*wire.Message)) {
	f.mu.Lock()
	f.onReply = fn
	f.mu.Unlock()
}

// OnStdin sets the stdin handler, called for input requests.
func (f *Future) OnStdin(fn func(*wire.Message)) {
	f.mu.Lock()
	f.onStdin = fn
	f.mu.Unlock()
}

// RegisterMessageHook adds a hook for iopub messages of this request.
func (f *Future) RegisterMessageHook(h *MessageHook) {
	f.kernel.RegisterMessageHook(f.msg.ID(), h)
}

// RemoveMessageHook removes a hook added with RegisterMessageHook.
func (f *Future) RemoveMessageHook(h *MessageHook) {
	f.kernel.RemoveMessageHook(f.msg.ID(), h)
}

// SendInputReply answers an input request raised by this request.
func (f *Future) SendInputReply(content InputReply) error {
	return f.kernel.SendInputReply(content)
}

// IsDone reports whether the future has finished.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Dispose stops tracking the request.  A future disposed before it
// finishes reports ErrKernelDisposed from Wait.
func (f *Future) Dispose() {
	f.fail(errFutureDisposed)
	f.kernel.forgetFuture(f)
}

func (f *Future) handleReply(msg *wire.Message) {
	f.mu.Lock()
	f.reply = msg
	fn := f.onReply
	f.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	f.replyOne.Do(func() { close(f.replied) })
	f.checkDone()
}

func (f *Future) handleIOPub(msg *wire.Message, deliver bool) {
	f.mu.Lock()
	fn := f.onIOPub
	f.mu.Unlock()
	if deliver && fn != nil {
		fn(msg)
	}

	if msg.Type() != "status" {
		return
	}
	var st StatusContent
	if err := msg.DecodeContent(&st); err != nil || st.ExecutionState != StatusIdle {
		return
	}
	f.mu.Lock()
	f.gotIdle = true
	f.mu.Unlock()
	f.checkDone()
}

func (f *Future) handleStdin(msg *wire.Message) {
	f.mu.Lock()
	fn := f.onStdin
	f.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (f *Future) checkDone() {
	f.mu.Lock()
	finished := f.gotIdle && (!f.expectReply || f.reply != nil)
	f.mu.Unlock()
	if !finished {
		return
	}
	f.doneOnce.Do(func() { close(f.done) })
	if f.disposeOnDone {
		f.kernel.forgetFuture(f)
	}
}

// fail finishes the future with err unless it is already done.
func (f *Future) fail(err error) {
	f.mu.Lock()
	if f.err == nil && !f.IsDone() {
		f.err = err
	}
	f.mu.Unlock()
	f.replyOne.Do(func() { close(f.replied) })
	f.doneOnce.Do(func() { close(f.done) })
}
