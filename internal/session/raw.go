package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/protocol"
	"ksession/internal/rawkernel"
	"ksession/internal/transport"
	"ksession/util"
)

const (
	// DefaultReadyTimeout bounds Connect when RawOptions.ReadyTimeout is zero.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds Shutdown when RawOptions.ShutdownTimeout
	// is zero.
	DefaultShutdownTimeout = 5 * time.Second
)

// RawOptions configures a RawSession.
type RawOptions struct {
	Spec KernelSpec
	// ClientID defaults to a random uuid.
	ClientID    string
	Username    string
	HandleComms bool
	// Remote marks the endpoint as reaching a kernel this process did
	// not start.  A KernelSpec with an ID is always remote.
	Remote          bool
	ReadyTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Factory builds the protocol client; rawkernel.DefaultFactory when nil.
	Factory rawkernel.Factory
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// RawSession runs a kernel over a raw transport endpoint.
type RawSession struct {
	*Base

	connector Connector
	logger    *util.Logger
	metrics   *metrics.Collector

	mu       sync.Mutex
	opts     RawOptions
	endpoint transport.Endpoint
	opened   bool
}

var _ Session = (*RawSession)(nil)

// NewRawSession creates an unconnected session.  Call Connect to start
// the kernel.
func NewRawSession(connector Connector, opts RawOptions) *RawSession {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &RawSession{
		connector: connector,
		logger:    util.OrDiscard(opts.Logger).Named("raw"),
		metrics:   opts.Metrics,
		opts:      opts,
	}
	s.Base = NewBase(s, opts.Logger, opts.Metrics)
	return s
}

// ClientID returns the id this session stamps on its messages.
func (s *RawSession) ClientID() string { return s.opts.ClientID }

// Spec returns the spec of the current (or last requested) kernel.
func (s *RawSession) Spec() KernelSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Spec
}

// Connect opens an endpoint, starts the kernel client on it and waits
// for the kernel to become ready.  Failures are KernelStartErrors.
func (s *RawSession) Connect(ctx context.Context) error {
	if _, ok := s.Kernel(); ok {
		return fmt.Errorf("session is already connected")
	}
	s.mu.Lock()
	opts := s.opts
	s.mu.Unlock()

	ep, err := s.connector.Connect(ctx, opts.Spec)
	if err != nil {
		return &kerr.KernelStartError{Err: fmt.Errorf("connect to kernel %q: %w", opts.Spec.Name, err)}
	}

	k, err := rawkernel.Create(ep, opts.Spec.Name, opts.ClientID, rawkernel.Options{
		Factory:     opts.Factory,
		Username:    opts.Username,
		HandleComms: opts.HandleComms,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		ep.Close()
		return &kerr.KernelStartError{Err: err}
	}
	if err := s.AttachKernel(k, opts.Remote || opts.Spec.ID != ""); err != nil {
		k.Dispose()
		ep.Close()
		return &kerr.KernelStartError{Err: err}
	}
	s.mu.Lock()
	s.endpoint = ep
	s.mu.Unlock()

	terminated := make(chan struct{}, 1)
	conn := k.Terminated().Connect(func(struct{}) {
		select {
		case terminated <- struct{}{}:
		default:
		}
	})
	defer conn.Disconnect()
	if k.Status() == protocol.StatusDead {
		select {
		case terminated <- struct{}{}:
		default:
		}
	}

	timer := time.NewTimer(opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-k.Ready():
	case <-terminated:
		cause := k.Err()
		if cause == nil {
			cause = kerr.ErrEndpointClosed
		}
		s.teardown()
		return &kerr.KernelStartError{Err: fmt.Errorf("kernel %q terminated before it was ready: %w", opts.Spec.Name, cause)}
	case <-timer.C:
		s.teardown()
		return &kerr.KernelStartError{Err: fmt.Errorf("kernel %q not ready after %v", opts.Spec.Name, opts.ReadyTimeout)}
	case <-ctx.Done():
		s.teardown()
		return &kerr.KernelStartError{Err: ctx.Err()}
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	s.metrics.SessionOpened()
	s.logger.Verbose("kernel %s (%s) ready", k.ID(), opts.Spec.Name)
	return nil
}

// WaitForIdle blocks until the kernel reports idle.
func (s *RawSession) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	k, ok := s.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	return s.WaitForKernel(ctx, "wait for idle", timeout, "kernel did not become idle", func(ctx context.Context) error {
		return waitForStatus(ctx, k, Idle)
	})
}

// Restart restarts the kernel in place and waits for it to go idle,
// each step bounded by timeout.
func (s *RawSession) Restart(ctx context.Context, timeout time.Duration) error {
	k, ok := s.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	if err := s.WaitForKernel(ctx, "restart", timeout, "restarting the kernel timed out", k.Restart); err != nil {
		return err
	}
	return s.WaitForIdle(ctx, timeout)
}

// ChangeKernel replaces the current kernel with one started from spec.
// The old kernel is shut down and its endpoint closed first.
func (s *RawSession) ChangeKernel(ctx context.Context, spec KernelSpec, timeout time.Duration) error {
	if err := s.release(ctx, timeout); err != nil {
		s.logger.Warn("shutting down previous kernel: %v", err)
	}
	s.mu.Lock()
	s.opts.Spec = spec
	s.mu.Unlock()

	return s.WaitForKernel(ctx, "change kernel", timeout, fmt.Sprintf("starting kernel %q timed out", spec.Name), s.Connect)
}

// Shutdown asks the kernel to exit, disposes it and closes the
// endpoint.  A kernel that does not answer within ShutdownTimeout is
// disposed anyway and a KernelControlTimeoutError returned.  Calling it
// again, or before Connect, does nothing.
func (s *RawSession) Shutdown(ctx context.Context) error {
	err := s.release(ctx, s.opts.ShutdownTimeout)
	s.mu.Lock()
	wasOpen := s.opened
	s.opened = false
	s.mu.Unlock()
	if wasOpen {
		s.metrics.SessionClosed()
	}
	return err
}

// release detaches and shuts down the kernel.  A positive timeout
// bounds the kernel's shutdown request.
func (s *RawSession) release(ctx context.Context, timeout time.Duration) error {
	k := s.DetachKernel()
	if k == nil {
		s.closeEndpoint()
		return nil
	}
	var err error
	if timeout > 0 {
		err = s.WaitForKernel(ctx, "shutdown", timeout, "shutting down the kernel timed out", k.Shutdown)
	} else {
		err = k.Shutdown(ctx)
	}
	k.Dispose()
	s.closeEndpoint()
	return err
}

// teardown drops a kernel that never became ready.
func (s *RawSession) teardown() {
	if k := s.DetachKernel(); k != nil {
		k.Dispose()
	}
	s.closeEndpoint()
}

func (s *RawSession) closeEndpoint() {
	s.mu.Lock()
	ep := s.endpoint
	s.endpoint = nil
	s.mu.Unlock()
	if ep != nil {
		if err := ep.Close(); err != nil {
			s.logger.Debug("closing endpoint: %v", err)
		}
	}
}

// waitForStatus blocks until k's mapped status is want or ctx ends.
func waitForStatus(ctx context.Context, k protocol.Kernel, want ServerStatus) error {
	reached := make(chan struct{}, 1)
	conn := k.StatusChanged().Connect(func(st protocol.Status) {
		if MapStatus(st) == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer conn.Disconnect()

	if MapStatus(k.Status()) == want {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
