package protocol

import (
	"fmt"
	"sync"

	"ksession/internal/wire"
)

// CommTarget is called when the kernel opens a comm for a registered
// target name.
type CommTarget func(comm *Comm, open *wire.Message)

// Comm is one side-channel between the client and the kernel.
type Comm struct {
	kernel *DefaultKernel
	id     string
	target string

	mu       sync.Mutex
	disposed bool
	onMsg    func(*wire.Message)
	onClose  func(*wire.Message)
}

// CommID returns the comm id.
func (c *Comm) CommID() string { return c.id }

// TargetName returns the target the comm was opened for.
func (c *Comm) TargetName() string { return c.target }

// IsDisposed reports whether the comm has been closed.
func (c *Comm) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// OnMsg sets the handler for comm_msg from the kernel.
func (c *Comm) OnMsg(fn func(*wire.Message)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

// OnClose sets the handler for comm_close from the kernel.
func (c *Comm) OnClose(fn func(*wire.Message)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Open sends comm_open for this comm.
func (c *Comm) Open(data, metadata map[string]any, buffers [][]byte) (*Future, error) {
	return c.send("comm_open", CommOpen{CommID: c.id, TargetName: c.target, Data: orEmpty(data)}, metadata, buffers, false)
}

// Send sends comm_msg.
func (c *Comm) Send(data, metadata map[string]any, buffers [][]byte, disposeOnDone bool) (*Future, error) {
	return c.send("comm_msg", CommMsg{CommID: c.id, Data: orEmpty(data)}, metadata, buffers, disposeOnDone)
}

// Close sends comm_close and disposes the comm.
func (c *Comm) Close(data, metadata map[string]any, buffers [][]byte) (*Future, error) {
	fut, err := c.send("comm_close", CommClose{CommID: c.id, Data: orEmpty(data)}, metadata, buffers, true)
	c.dispose()
	return fut, err
}

func (c *Comm) send(msgType string, content any, metadata map[string]any, buffers [][]byte, disposeOnDone bool) (*Future, error) {
	if c.IsDisposed() {
		return nil, fmt.Errorf("comm %s is disposed", c.id)
	}
	msg, err := c.kernel.newMessage(msgType, wire.ChannelShell, content, metadata, buffers)
	if err != nil {
		return nil, err
	}
	return c.kernel.SendShellMessage(msg, false, disposeOnDone)
}

func (c *Comm) handleMsg(msg *wire.Message) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Comm) handleClose(msg *wire.Message) {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
	c.dispose()
}

func (c *Comm) dispose() {
	c.mu.Lock()
	already := c.disposed
	c.disposed = true
	c.mu.Unlock()
	if !already {
		c.kernel.forgetComm(c.id)
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
