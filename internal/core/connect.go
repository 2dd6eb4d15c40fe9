package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"ksession/config"
	kerr "ksession/internal/errors"
	"ksession/internal/metrics"
	"ksession/internal/protocol"
	"ksession/internal/retry"
	"ksession/internal/session"
	"ksession/internal/transport"
	"ksession/internal/wire"
	"ksession/util"
)

// ExecutionError reports code that reached the kernel and failed there.
type ExecutionError struct {
	Name  string
	Value string
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("%s: %s", e.Name, e.Value) }

// ConnectMode dials a kernel, opens a session on it and runs code: the
// -c argument, or each line read from stdin.  With Info set it prints
// the kernel's kernel_info and exits.
type ConnectMode struct {
	Dialer  transport.Dialer
	Address string
	// Session carries everything but the logger and metrics, which come
	// from the fields below.
	Session        session.RawOptions
	Code           string
	Info           bool
	ControlTimeout time.Duration

	// Backoff and Breaker guard the dial.  A nil Backoff dials once; a
	// nil Breaker never trips.
	Backoff *retry.Backoff
	Breaker *retry.CircuitBreaker

	Logger  *util.Logger
	Metrics *metrics.Collector

	// Stdin/Stdout/Stderr default to the process streams when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *ConnectMode) stderr() io.Writer {
	if m.Stderr != nil {
		return m.Stderr
	}
	return os.Stderr
}

func (m *ConnectMode) logger() *util.Logger { return util.OrDiscard(m.Logger) }

// Run connects, runs the requested work and shuts the kernel down.
// Cancelling ctx interrupts a running execution and returns nil.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	opts := m.Session
	opts.Logger = m.Logger
	opts.Metrics = m.Metrics
	sess := session.NewRawSession(session.ConnectorFunc(m.connect), opts)

	m.logger().Verbose("connecting to kernel %q at %s", opts.Spec.Name, m.Address)
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer m.shutdown(sess)

	var err error
	lines := &lineSource{r: m.stdin()}
	switch {
	case m.Info:
		err = m.printInfo(ctx, sess)
	case m.Code != "":
		err = m.execute(ctx, sess, lines, m.Code)
	default:
		err = m.repl(ctx, sess, lines)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// connect is the session's Connector: it dials the kernel address
// through the backoff and breaker and frames the connection.
func (m *ConnectMode) connect(ctx context.Context, spec session.KernelSpec) (transport.Endpoint, error) {
	log := m.logger()

	policy := retry.Backoff{MaxAttempts: 1}
	if m.Backoff != nil {
		policy = *m.Backoff
	}
	if policy.Retryable == nil {
		policy.Retryable = retryableDial
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Warn("dial %s (attempt %d): %v; retrying in %v", m.Address, attempt, err, wait.Truncate(time.Millisecond))
		}
	}

	var conn net.Conn
	err := policy.Do(ctx, func(attempt int) error {
		return m.guard(func() error {
			log.Debug("dialing %s for kernel %q (attempt %d)", m.Address, spec.Name, attempt)
			c, err := m.Dialer.Dial(ctx, "tcp", m.Address)
			if err != nil {
				return kerr.Wrap("dial", m.Address, err)
			}
			conn = c
			return nil
		})
	})
	if err != nil {
		m.Metrics.RecordError(err.Error())
		return nil, err
	}

	log.Verbose("connected to %s", conn.RemoteAddr())
	return transport.NewConnEndpoint(conn, m.Logger, m.Metrics), nil
}

func (m *ConnectMode) guard(fn func() error) error {
	if m.Breaker == nil {
		return fn()
	}
	return m.Breaker.Execute(fn)
}

// retryableDial extends the generic classification with refused and
// reset connections, the usual symptoms of a kernel that is still
// starting.  Gateway and breaker failures are final.
func retryableDial(err error) bool {
	if errors.Is(err, kerr.ErrCircuitOpen) || errors.Is(err, kerr.ErrAuthFailed) || errors.Is(err, kerr.ErrHostKeyMismatch) {
		return false
	}
	var se *kerr.SSHError
	if errors.As(err, &se) {
		return false
	}
	return kerr.IsRetryable(err) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func (m *ConnectMode) shutdown(sess *session.RawSession) {
	ctx, cancel := context.WithTimeout(context.Background(), orDefault(m.ControlTimeout, config.DefaultControlTimeout))
	defer cancel()
	if err := sess.Shutdown(ctx); err != nil {
		m.logger().Debug("shutdown: %v", err)
	}
	m.logger().Debug("metrics: %s", m.Metrics.JSON())
}

func (m *ConnectMode) interrupt(sess *session.RawSession) {
	if err := sess.Interrupt(context.Background(), m.ControlTimeout); err != nil {
		m.logger().Warn("interrupt: %v", err)
		return
	}
	m.logger().Verbose("execution interrupted")
}

func (m *ConnectMode) printInfo(ctx context.Context, sess *session.RawSession) error {
	k, ok := sess.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}
	info := k.Info()
	if info == nil {
		reply, err := k.RequestKernelInfo(ctx)
		if err != nil {
			return err
		}
		info = &protocol.KernelInfo{}
		if err := reply.DecodeContent(info); err != nil {
			return fmt.Errorf("decode kernel_info_reply: %w", err)
		}
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(m.stdout(), string(data))
	return nil
}

// repl executes each non-blank stdin line in turn.  Kernel-side errors
// are printed and counted; anything else stops the loop.
func (m *ConnectMode) repl(ctx context.Context, sess *session.RawSession, lines *lineSource) error {
	total, failed := 0, 0
	for {
		line, ok := lines.next(ctx)
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		err := m.execute(ctx, sess, lines, line)
		var ee *ExecutionError
		switch {
		case err == nil:
		case errors.As(err, &ee):
			failed++
		default:
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d executions failed", failed, total)
	}
	return nil
}

// execute runs code and streams its output until the request is done.
// Input requests are answered from lines.
func (m *ConnectMode) execute(ctx context.Context, sess *session.RawSession, lines *lineSource, code string) error {
	k, ok := sess.Kernel()
	if !ok {
		return kerr.ErrSessionDisposed
	}

	out := &outputRouter{stdout: m.stdout(), stderr: m.stderr()}
	out.onInput = func(req protocol.InputRequest) {
		go m.answerInput(ctx, sess, lines, out, req)
	}
	conn := k.AnyMessage().Connect(out.handle)
	defer conn.Disconnect()

	fut, err := sess.RequestExecute(protocol.NewExecuteRequest(code), true, nil)
	if err != nil {
		return err
	}
	if fut == nil {
		return kerr.ErrSessionDisposed
	}
	out.bind(fut.Msg().ID())

	reply, err := fut.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			m.interrupt(sess)
		}
		return err
	}
	var er protocol.ExecuteReply
	if err := reply.DecodeContent(&er); err != nil {
		return fmt.Errorf("decode execute_reply: %w", err)
	}
	if er.Status == "error" {
		return &ExecutionError{Name: er.EName, Value: er.EValue}
	}
	return nil
}

func (m *ConnectMode) answerInput(ctx context.Context, sess *session.RawSession, lines *lineSource, out *outputRouter, req protocol.InputRequest) {
	out.prompt(req.Prompt)
	line, ok := lines.next(ctx)
	if !ok {
		m.logger().Debug("no input left for prompt %q", req.Prompt)
	}
	if err := sess.SendInputReply(line); err != nil {
		m.logger().Warn("input reply: %v", err)
	}
}

// ── output ───────────────────────────────────────────────────────────

// outputRouter renders the messages of one request.  Messages that
// arrive before the request id is known are held until bind.
type outputRouter struct {
	stdout  io.Writer
	stderr  io.Writer
	onInput func(protocol.InputRequest)

	mu      sync.Mutex
	parent  string
	pending []*wire.Message
}

func (r *outputRouter) handle(am protocol.AnyMessage) {
	if am.Direction != protocol.DirectionRecv {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parent == "" {
		r.pending = append(r.pending, am.Msg)
		return
	}
	if am.Msg.ParentID() == r.parent {
		r.render(am.Msg)
	}
}

func (r *outputRouter) bind(msgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = msgID
	for _, msg := range r.pending {
		if msg.ParentID() == msgID {
			r.render(msg)
		}
	}
	r.pending = nil
}

// prompt writes an input prompt between rendered messages.
func (r *outputRouter) prompt(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.stdout, text) //nolint:errcheck
}

type richOutput struct {
	Data map[string]any `json:"data"`
}

type errorOutput struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

func (r *outputRouter) render(msg *wire.Message) {
	switch msg.Type() {
	case "stream":
		var s protocol.StreamContent
		if msg.DecodeContent(&s) != nil {
			return
		}
		w := r.stdout
		if s.Name == "stderr" {
			w = r.stderr
		}
		io.WriteString(w, s.Text) //nolint:errcheck

	case "execute_result", "display_data":
		var d richOutput
		if msg.DecodeContent(&d) != nil {
			return
		}
		if text, ok := d.Data["text/plain"].(string); ok {
			fmt.Fprintln(r.stdout, text)
		}

	case "error":
		var e errorOutput
		if msg.DecodeContent(&e) != nil {
			return
		}
		if len(e.Traceback) > 0 {
			fmt.Fprintln(r.stderr, strings.Join(e.Traceback, "\n"))
		} else {
			fmt.Fprintf(r.stderr, "%s: %s\n", e.EName, e.EValue)
		}

	case "input_request":
		var req protocol.InputRequest
		if msg.DecodeContent(&req) != nil {
			return
		}
		if r.onInput != nil {
			r.onInput(req)
		}
	}
}

// ── input ────────────────────────────────────────────────────────────

// lineSource hands out stdin lines to whichever of the REPL loop and an
// input prompt asks next.  Reading starts on first use.
type lineSource struct {
	r    io.Reader
	once sync.Once
	ch   chan string
}

func (s *lineSource) next(ctx context.Context) (string, bool) {
	s.once.Do(func() {
		s.ch = make(chan string)
		go s.read()
	})
	select {
	case line, ok := <-s.ch:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

func (s *lineSource) read() {
	defer close(s.ch)
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		s.ch <- sc.Text()
	}
}
