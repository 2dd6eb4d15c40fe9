// Package echokernel is a minimal kernel that serves a transport
// endpoint.  It speaks enough of the messaging protocol to exercise a
// client end to end: every request is bracketed by busy/idle status on
// iopub, and execute echoes its input back.
//
// Code understands three line forms besides plain text:
//
//	%sleep MS       stay busy for MS milliseconds (interruptible)
//	input(PROMPT)   ask the client for a line on stdin
//	error TEXT      fail the execution with EchoError: TEXT
package echokernel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kerr "ksession/internal/errors"
	"ksession/internal/protocol"
	"ksession/internal/transport"
	"ksession/internal/wire"
	"ksession/util"
)

// Version is reported in kernel_info_reply.
const Version = "1.0.0"

// queueSize bounds the per-channel backlog of unprocessed requests.
const queueSize = 256

// vocabulary backs complete_request and inspect_request.
var vocabulary = map[string]string{
	"%sleep": "%sleep MS: stay busy for MS milliseconds.",
	"input":  "input(PROMPT): read one line from the client.",
	"error":  "error TEXT: raise EchoError with TEXT.",
	"echo":   "Any other line is echoed back on stdout.",
	"exit":   "Use shutdown_request to stop the kernel.",
}

// Options configures a Kernel.
type Options struct {
	Logger *util.Logger
}

type historyEntry struct {
	session int
	line    int
	input   string
	output  string
}

// Kernel serves one endpoint.
type Kernel struct {
	endpoint transport.Endpoint
	session  string
	logger   *util.Logger

	mu         sync.Mutex
	execCount  int
	history    []historyEntry
	comms      map[string]string // comm id -> target
	cancelExec context.CancelFunc
	inputs     chan *wire.Message
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a kernel bound to endpoint.  Call Serve to run it.
func New(endpoint transport.Endpoint, opts Options) *Kernel {
	return &Kernel{
		endpoint: endpoint,
		session:  uuid.NewString(),
		logger:   util.OrDiscard(opts.Logger).Named("echo"),
		comms:    make(map[string]string),
		inputs:   make(chan *wire.Message, 1),
		stop:     make(chan struct{}),
	}
}

// Serve runs a kernel on endpoint until ctx ends, the endpoint closes or
// a client asks it to shut down.
func Serve(ctx context.Context, endpoint transport.Endpoint, logger *util.Logger) error {
	return New(endpoint, Options{Logger: logger}).Serve(ctx)
}

// Serve processes requests.  Shell requests run one at a time; control
// requests run on their own goroutine so interrupt reaches a busy
// kernel.  It returns nil when the endpoint closes or after a shutdown
// request, and ctx.Err() when ctx ends first.
func (k *Kernel) Serve(ctx context.Context) error {
	shell := make(chan *wire.Message, queueSize)
	control := make(chan *wire.Message, queueSize)
	closed := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)

	sub := k.endpoint.Subscribe(func(msg *wire.Message) {
		switch msg.Channel {
		case wire.ChannelControl:
			select {
			case control <- msg:
			case <-quit:
			}
		case wire.ChannelStdin:
			k.deliverInput(msg)
		default:
			select {
			case shell <- msg:
			case <-quit:
			}
		}
	}, func(err error) {
		if kerr.Is(err, kerr.ErrEndpointClosed) {
			select {
			case closed <- err:
			default:
			}
			return
		}
		k.logger.Warn("transport error: %v", err)
	})
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-control:
				k.handleControl(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	k.logger.Verbose("serving kernel session %s", k.session)
	for {
		select {
		case msg := <-shell:
			k.handleShell(ctx, msg)
		case <-k.stop:
			k.logger.Verbose("shut down by client")
			return nil
		case err := <-closed:
			k.logger.Verbose("endpoint closed: %v", err)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ── Output helpers ───────────────────────────────────────────────────

func (k *Kernel) send(parent *wire.Message, msgType string, ch wire.Channel, content any) {
	var ph *wire.Header
	if parent != nil {
		h := parent.Header
		ph = &h
	}
	msg, err := wire.NewMessage(wire.MessageOptions{
		MsgType:  msgType,
		Channel:  ch,
		Session:  k.session,
		Username: "kernel",
		Content:  content,
		Parent:   ph,
	})
	if err != nil {
		k.logger.Error("building %s: %v", msgType, err)
		return
	}
	if err := k.endpoint.SendMessage(msg); err != nil {
		k.logger.Debug("sending %s: %v", msgType, err)
	}
}

func (k *Kernel) publish(parent *wire.Message, msgType string, content any) {
	k.send(parent, msgType, wire.ChannelIOPub, content)
}

func (k *Kernel) reply(req *wire.Message, content any) {
	k.send(req, replyType(req.Type()), req.Channel, content)
}

func (k *Kernel) status(parent *wire.Message, state protocol.Status) {
	k.publish(parent, "status", protocol.StatusContent{ExecutionState: state})
}

func replyType(requestType string) string {
	return strings.TrimSuffix(requestType, "_request") + "_reply"
}

// ── Control channel ──────────────────────────────────────────────────

func (k *Kernel) handleControl(ctx context.Context, req *wire.Message) {
	k.status(req, protocol.StatusBusy)
	defer k.status(req, protocol.StatusIdle)

	switch req.Type() {
	case "interrupt_request":
		k.mu.Lock()
		cancel := k.cancelExec
		k.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		k.reply(req, map[string]any{"status": "ok"})

	case "shutdown_request":
		var body protocol.ShutdownRequest
		_ = req.DecodeContent(&body)
		k.reply(req, map[string]any{"status": "ok", "restart": body.Restart})
		if body.Restart {
			k.reset()
			k.logger.Verbose("restarted")
			return
		}
		k.stopOnce.Do(func() { close(k.stop) })

	case "debug_request":
		var body protocol.DebugRequest
		_ = req.DecodeContent(&body)
		k.reply(req, map[string]any{
			"seq":         body.Seq + 1,
			"type":        "response",
			"request_seq": body.Seq,
			"success":     false,
			"command":     body.Command,
			"message":     "debugging is not supported by the echo kernel",
		})

	case "kernel_info_request":
		k.reply(req, k.kernelInfo())

	default:
		k.logger.Debug("ignoring control message %s", req.Type())
	}
}

func (k *Kernel) reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.execCount = 0
	k.history = nil
	k.comms = make(map[string]string)
}

// ── Shell channel ────────────────────────────────────────────────────

func (k *Kernel) handleShell(ctx context.Context, req *wire.Message) {
	k.status(req, protocol.StatusBusy)
	defer k.status(req, protocol.StatusIdle)

	switch req.Type() {
	case "kernel_info_request":
		k.reply(req, k.kernelInfo())
	case "execute_request":
		k.execute(ctx, req)
	case "inspect_request":
		k.inspect(req)
	case "complete_request":
		k.complete(req)
	case "is_complete_request":
		k.isComplete(req)
	case "history_request":
		k.historyReply(req)
	case "comm_info_request":
		k.commInfo(req)
	case "comm_open", "comm_msg", "comm_close":
		k.handleComm(req)
	default:
		k.logger.Debug("ignoring shell message %s", req.Type())
	}
}

func (k *Kernel) kernelInfo() protocol.KernelInfo {
	return protocol.KernelInfo{
		Status:                "ok",
		ProtocolVersion:       wire.ProtocolVersion,
		Implementation:        "echo",
		ImplementationVersion: Version,
		LanguageInfo: protocol.LanguageInfo{
			Name:          "echo",
			Version:       Version,
			MimeType:      "text/plain",
			FileExtension: ".txt",
		},
		Banner: "echo kernel " + Version,
	}
}

func (k *Kernel) execute(ctx context.Context, req *wire.Message) {
	var body protocol.ExecuteRequest
	if err := req.DecodeContent(&body); err != nil {
		k.reply(req, map[string]any{"status": "error", "ename": "BadRequest", "evalue": err.Error(), "traceback": []string{}})
		return
	}

	k.mu.Lock()
	if !body.Silent && body.StoreHistory {
		k.execCount++
	}
	count := k.execCount
	execCtx, cancel := context.WithCancel(ctx)
	k.cancelExec = cancel
	k.mu.Unlock()
	defer func() {
		cancel()
		k.mu.Lock()
		k.cancelExec = nil
		k.mu.Unlock()
	}()

	k.publish(req, "execute_input", map[string]any{"code": body.Code, "execution_count": count})

	var out strings.Builder
	ename, evalue := "", ""
	for _, line := range strings.Split(body.Code, "\n") {
		text, err := k.runLine(execCtx, req, body, line)
		if err != nil {
			ename, evalue = errorName(err), err.Error()
			break
		}
		if text == "" {
			continue
		}
		out.WriteString(text)
		out.WriteByte('\n')
		if !body.Silent {
			k.publish(req, "stream", protocol.StreamContent{Name: "stdout", Text: text + "\n"})
		}
	}

	if body.StoreHistory && !body.Silent {
		k.mu.Lock()
		k.history = append(k.history, historyEntry{session: 1, line: count, input: body.Code, output: out.String()})
		k.mu.Unlock()
	}

	if ename != "" {
		tb := []string{fmt.Sprintf("%s: %s", ename, evalue)}
		k.publish(req, "error", map[string]any{"ename": ename, "evalue": evalue, "traceback": tb})
		k.reply(req, map[string]any{
			"status": "error", "execution_count": count,
			"ename": ename, "evalue": evalue, "traceback": tb,
		})
		return
	}

	if !body.Silent && out.Len() > 0 {
		k.publish(req, "execute_result", map[string]any{
			"execution_count": count,
			"data":            map[string]any{"text/plain": strconv.Quote(strings.TrimRight(out.String(), "\n"))},
			"metadata":        map[string]any{},
		})
	}
	k.reply(req, map[string]any{
		"status": "ok", "execution_count": count,
		"user_expressions": map[string]any{}, "payload": []any{},
	})
}

type interruptedError struct{}

func (interruptedError) Error() string { return "interrupted" }

type echoError struct{ text string }

func (e echoError) Error() string { return e.text }

func errorName(err error) string {
	switch err.(type) {
	case interruptedError:
		return "KeyboardInterrupt"
	case echoError:
		return "EchoError"
	}
	return "RuntimeError"
}

// runLine evaluates one line and returns the text to print.
func (k *Kernel) runLine(ctx context.Context, req *wire.Message, body protocol.ExecuteRequest, line string) (string, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return "", nil

	case strings.HasPrefix(trimmed, "%sleep"):
		ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "%sleep")))
		if err != nil || ms < 0 {
			return "", echoError{text: fmt.Sprintf("bad sleep duration in %q", trimmed)}
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return "", nil
		case <-ctx.Done():
			return "", interruptedError{}
		}

	case strings.HasPrefix(trimmed, "input(") && strings.HasSuffix(trimmed, ")"):
		if !body.AllowStdin {
			return "", echoError{text: "stdin is not allowed for this request"}
		}
		prompt := strings.Trim(strings.TrimSuffix(strings.TrimPrefix(trimmed, "input("), ")"), `"'`)
		return k.readInput(ctx, req, prompt)

	case strings.HasPrefix(trimmed, "error "):
		return "", echoError{text: strings.TrimSpace(strings.TrimPrefix(trimmed, "error "))}
	}
	return line, nil
}

func (k *Kernel) readInput(ctx context.Context, req *wire.Message, prompt string) (string, error) {
	// Drop any stale reply.
	select {
	case <-k.inputs:
	default:
	}
	k.send(req, "input_request", wire.ChannelStdin, protocol.InputRequest{Prompt: prompt})
	select {
	case msg := <-k.inputs:
		var r protocol.InputReply
		if err := msg.DecodeContent(&r); err != nil {
			return "", echoError{text: err.Error()}
		}
		if r.Status != "" && r.Status != "ok" {
			return "", interruptedError{}
		}
		return r.Value, nil
	case <-ctx.Done():
		return "", interruptedError{}
	}
}

func (k *Kernel) deliverInput(msg *wire.Message) {
	if msg.Type() != "input_reply" {
		return
	}
	select {
	case k.inputs <- msg:
	default:
		k.logger.Debug("dropping unexpected input_reply")
	}
}

func (k *Kernel) inspect(req *wire.Message) {
	var body protocol.InspectRequest
	_ = req.DecodeContent(&body)
	word := wordAt(body.Code, body.CursorPos)
	doc, found := vocabulary[word]
	data := map[string]any{}
	if found {
		data["text/plain"] = doc
	}
	k.reply(req, map[string]any{"status": "ok", "found": found, "data": data, "metadata": map[string]any{}})
}

func (k *Kernel) complete(req *wire.Message) {
	var body protocol.CompleteRequest
	_ = req.DecodeContent(&body)
	cursor := clampCursor(body.Code, body.CursorPos)
	start := cursor
	for start > 0 && !isSeparator(body.Code[start-1]) {
		start--
	}
	prefix := body.Code[start:cursor]

	matches := []string{}
	for word := range vocabulary {
		if strings.HasPrefix(word, prefix) {
			matches = append(matches, word)
		}
	}
	sort.Strings(matches)
	k.reply(req, protocol.CompleteReply{
		Status:      "ok",
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   cursor,
		Metadata:    map[string]any{},
	})
}

func (k *Kernel) isComplete(req *wire.Message) {
	var body protocol.IsCompleteRequest
	_ = req.DecodeContent(&body)
	status := "complete"
	switch {
	case strings.HasSuffix(strings.TrimRight(body.Code, " "), "\\"):
		status = "incomplete"
	case strings.Count(body.Code, "(") > strings.Count(body.Code, ")"):
		status = "incomplete"
	case strings.Count(body.Code, "(") < strings.Count(body.Code, ")"):
		status = "invalid"
	}
	content := map[string]any{"status": status}
	if status == "incomplete" {
		content["indent"] = ""
	}
	k.reply(req, content)
}

func (k *Kernel) historyReply(req *wire.Message) {
	var body protocol.HistoryRequest
	_ = req.DecodeContent(&body)

	k.mu.Lock()
	entries := append([]historyEntry(nil), k.history...)
	k.mu.Unlock()

	var selected []historyEntry
	switch body.HistAccessType {
	case "tail":
		n := body.N
		if n <= 0 || n > len(entries) {
			n = len(entries)
		}
		selected = entries[len(entries)-n:]
	case "search":
		pattern := strings.Trim(body.Pattern, "*")
		for _, e := range entries {
			if strings.Contains(e.input, pattern) {
				selected = append(selected, e)
			}
		}
	default: // range
		for _, e := range entries {
			if e.line >= body.Start && (body.Stop <= 0 || e.line < body.Stop) {
				selected = append(selected, e)
			}
		}
	}

	items := make([]any, 0, len(selected))
	for _, e := range selected {
		if body.Output {
			items = append(items, []any{e.session, e.line, []any{e.input, e.output}})
		} else {
			items = append(items, []any{e.session, e.line, e.input})
		}
	}
	k.reply(req, map[string]any{"status": "ok", "history": items})
}

func (k *Kernel) commInfo(req *wire.Message) {
	var body protocol.CommInfoRequest
	_ = req.DecodeContent(&body)

	k.mu.Lock()
	comms := make(map[string]any)
	for id, target := range k.comms {
		if body.TargetName == "" || body.TargetName == target {
			comms[id] = map[string]any{"target_name": target}
		}
	}
	k.mu.Unlock()
	k.reply(req, map[string]any{"status": "ok", "comms": comms})
}

// handleComm accepts comms for any target and echoes comm_msg data back.
func (k *Kernel) handleComm(req *wire.Message) {
	switch req.Type() {
	case "comm_open":
		var body protocol.CommOpen
		if err := req.DecodeContent(&body); err != nil {
			return
		}
		k.mu.Lock()
		k.comms[body.CommID] = body.TargetName
		k.mu.Unlock()

	case "comm_msg":
		var body protocol.CommMsg
		if err := req.DecodeContent(&body); err != nil {
			return
		}
		k.mu.Lock()
		_, ok := k.comms[body.CommID]
		k.mu.Unlock()
		if !ok {
			k.logger.Debug("comm_msg for unknown comm %s", body.CommID)
			return
		}
		k.publish(req, "comm_msg", protocol.CommMsg{CommID: body.CommID, Data: body.Data})

	case "comm_close":
		var body protocol.CommClose
		if err := req.DecodeContent(&body); err != nil {
			return
		}
		k.mu.Lock()
		delete(k.comms, body.CommID)
		k.mu.Unlock()
	}
}

func clampCursor(code string, pos int) int {
	if pos < 0 || pos > len(code) {
		return len(code)
	}
	return pos
}

func wordAt(code string, pos int) string {
	pos = clampCursor(code, pos)
	start, end := pos, pos
	for start > 0 && !isSeparator(code[start-1]) {
		start--
	}
	for end < len(code) && !isSeparator(code[end]) {
		end++
	}
	return code[start:end]
}

func isSeparator(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '(' || c == ')'
}
