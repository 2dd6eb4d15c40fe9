package errors

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

func TestKernelControlTimeoutError_Format(t *testing.T) {
	err := ControlTimeout("interrupt", 2*time.Second, "interrupting the kernel failed")
	want := "interrupt: interrupting the kernel failed (after 2s)"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestKernelControlTimeoutError_IsTimeout(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ControlTimeout("restart", time.Second, "restart failed"))
	if !Is(err, ErrTimeout) {
		t.Error("control timeout should match ErrTimeout")
	}
	if !IsControlTimeout(err) {
		t.Error("IsControlTimeout should see through wrapping")
	}
	if IsControlTimeout(io.EOF) {
		t.Error("io.EOF is not a control timeout")
	}
}

func TestKernelStartError(t *testing.T) {
	inner := Wrap("dial", "10.0.0.1:9000", fmt.Errorf("connection refused"))
	err := &KernelStartError{Err: inner}

	if got, want := err.Error(), inner.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	var ne *NetworkError
	if !As(err, &ne) {
		t.Fatal("start error should unwrap to the originating NetworkError")
	}
	if !IsStartFailure(fmt.Errorf("ctx: %w", err)) {
		t.Error("IsStartFailure should see through wrapping")
	}
}

func TestWireError(t *testing.T) {
	err := &WireError{Op: "deserialize", Err: io.ErrUnexpectedEOF}
	if got, want := err.Error(), "wire deserialize: unexpected EOF"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Is(err, io.ErrUnexpectedEOF) {
		t.Error("should unwrap to io.ErrUnexpectedEOF")
	}
}

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "kernel.example.com:9000", Err: io.EOF, Retryable: true},
			want: "dial kernel.example.com:9000: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "listen", Addr: ":9000", Err: fmt.Errorf("bind failed")},
			want: "listen :9000: bind failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "bastion.example.com", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake bastion.example.com:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "kernel",
				Message: "kernel name is required",
			},
			want: "config: --kernel: kernel name is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF}, false},
		{"temporary dns", &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{IsTemporary: true}}, true},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrSessionDisposed, ErrKernelDisposed, ErrEndpointClosed, ErrNotConnected,
		ErrNoReply, ErrTunnelClosed, ErrCircuitOpen, ErrTimeout, ErrAuthFailed,
		ErrHostKeyMismatch,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
