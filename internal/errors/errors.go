// Package errors provides domain-specific error types for ksession.
//
// The session facade converts control-operation timeouts into typed
// errors at its boundary; every other kernel failure propagates
// unchanged so callers can tell protocol-level errors apart from
// facade-level ones.
package errors

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrSessionDisposed is returned when an operation that needs an
	// attached kernel is invoked with none attached.
	ErrSessionDisposed = errors.New("session has been disposed")

	ErrKernelDisposed  = errors.New("kernel has been disposed")
	ErrEndpointClosed  = errors.New("transport endpoint is closed")
	ErrNotConnected    = errors.New("not connected")
	ErrNoReply         = errors.New("message does not expect a reply")
	ErrTunnelClosed    = errors.New("tunnel is closed")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Kernel errors ────────────────────────────────────────────────────

// KernelControlTimeoutError is returned when a timeout-bounded control
// operation (interrupt, restart, wait-for-idle, change-kernel) does not
// finish within its budget.  The underlying operation may still
// complete later; its result is discarded.
type KernelControlTimeoutError struct {
	Op      string        // "interrupt", "restart", "wait for idle", "change kernel"
	Timeout time.Duration // budget that was exceeded
	Reason  string        // human-readable failure reason
}

func (e *KernelControlTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s (after %v)", e.Op, e.Reason, e.Timeout)
}

// Is lets errors.Is(err, ErrTimeout) match any control timeout.
func (e *KernelControlTimeoutError) Is(target error) bool { return target == ErrTimeout }

// KernelStartError is returned when establishing a session or kernel
// fails.  The message is the originating error's message and Unwrap
// exposes the full chain.
type KernelStartError struct {
	Err error
}

func (e *KernelStartError) Error() string { return e.Err.Error() }

func (e *KernelStartError) Unwrap() error { return e.Err }

// WireError represents a failure converting between structured kernel
// messages and their wire shape.
type WireError struct {
	Op  string // "serialize", "deserialize", "encode frame", "decode frame"
	Err error
}

func (e *WireError) Error() string { return fmt.Sprintf("wire %s: %v", e.Op, e.Err) }

func (e *WireError) Unwrap() error { return e.Err }

// ── Transport errors ─────────────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ControlTimeout creates a KernelControlTimeoutError.
func ControlTimeout(op string, timeout time.Duration, reason string) *KernelControlTimeoutError {
	return &KernelControlTimeoutError{Op: op, Timeout: timeout, Reason: reason}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsControlTimeout reports whether err is a KernelControlTimeoutError.
func IsControlTimeout(err error) bool {
	var te *KernelControlTimeoutError
	return errors.As(err, &te)
}

// IsStartFailure reports whether err is a KernelStartError.
func IsStartFailure(err error) bool {
	var se *KernelStartError
	return errors.As(err, &se)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
