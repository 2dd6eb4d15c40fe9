package protocol

import (
	"sync"

	"ksession/internal/wire"
)

// MessageHook intercepts iopub messages whose parent is a given
// request.  Returning false stops propagation: later hooks, the
// request's future and the kernel's IOPubMessage signal do not see the
// message.
//
// Hooks are compared by pointer, so keep the value returned by
// NewMessageHook to remove it later.
type MessageHook struct {
	fn func(*wire.Message) bool
}

// NewMessageHook wraps fn.
func NewMessageHook(fn func(*wire.Message) bool) *MessageHook {
	return &MessageHook{fn: fn}
}

// Handle runs the hook.  A nil hook passes everything.
func (h *MessageHook) Handle(msg *wire.Message) bool {
	if h == nil || h.fn == nil {
		return true
	}
	return h.fn(msg)
}

// hookRegistry holds the hook chains keyed by parent msg_id.
type hookRegistry struct {
	mu     sync.Mutex
	chains map[string][]*MessageHook
}

func (r *hookRegistry) add(msgID string, h *MessageHook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chains == nil {
		r.chains = make(map[string][]*MessageHook)
	}
	r.chains[msgID] = append(r.chains[msgID], h)
}

func (r *hookRegistry) remove(msgID string, h *MessageHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[msgID]
	for i, cur := range chain {
		if cur == h {
			chain = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(r.chains, msgID)
		return
	}
	r.chains[msgID] = chain
}

// run evaluates the chain for msg's parent in registration order and
// reports whether msg should propagate.  Hooks may add or remove hooks
// while running; the change applies to the next message.
func (r *hookRegistry) run(msg *wire.Message) bool {
	r.mu.Lock()
	chain := r.chains[msg.ParentID()]
	snapshot := make([]*MessageHook, len(chain))
	copy(snapshot, chain)
	r.mu.Unlock()

	for _, h := range snapshot {
		if !h.Handle(msg) {
			return false
		}
	}
	return true
}

func (r *hookRegistry) len(msgID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chains[msgID])
}

func (r *hookRegistry) clear() {
	r.mu.Lock()
	r.chains = nil
	r.mu.Unlock()
}
