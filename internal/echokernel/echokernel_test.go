package echokernel

import (
	"context"
	"testing"
	"time"

	"ksession/internal/protocol"
	"ksession/internal/transport"
	"ksession/internal/wire"
)

// harness talks to a served kernel with raw messages.
type harness struct {
	t    *testing.T
	ep   *transport.PipeEndpoint
	msgs chan *wire.Message
	done chan error
}

func start(t *testing.T) *harness {
	t.Helper()
	client, server := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{t: t, ep: client, msgs: make(chan *wire.Message, 256), done: make(chan error, 1)}
	client.Subscribe(func(m *wire.Message) { h.msgs <- m }, func(error) {})
	go func() { h.done <- Serve(ctx, server, nil) }()

	t.Cleanup(func() {
		cancel()
		client.Close()
		server.Close()
	})
	return h
}

func (h *harness) send(msgType string, ch wire.Channel, content any) *wire.Message {
	h.t.Helper()
	msg, err := wire.NewMessage(wire.MessageOptions{MsgType: msgType, Channel: ch, Session: "test", Content: content})
	if err != nil {
		h.t.Fatal(err)
	}
	if err := h.ep.SendMessage(msg); err != nil {
		h.t.Fatal(err)
	}
	return msg
}

// collect returns every message for req up to and including its idle
// status.  onInput answers input requests when set.
func (h *harness) collect(req *wire.Message, onInput func(*wire.Message)) []*wire.Message {
	h.t.Helper()
	var out []*wire.Message
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m := <-h.msgs:
			if m.ParentID() != req.ID() {
				continue
			}
			out = append(out, m)
			if m.Type() == "input_request" && onInput != nil {
				onInput(m)
			}
			if m.Type() == "status" {
				var st protocol.StatusContent
				_ = m.DecodeContent(&st)
				if st.ExecutionState == protocol.StatusIdle {
					return out
				}
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for idle after %s (got %d messages)", req.Type(), len(out))
		}
	}
}

func find(msgs []*wire.Message, msgType string) *wire.Message {
	for _, m := range msgs {
		if m.Type() == msgType {
			return m
		}
	}
	return nil
}

func decode(t *testing.T, m *wire.Message) map[string]any {
	t.Helper()
	if m == nil {
		t.Fatal("message missing")
	}
	var v map[string]any
	if err := m.DecodeContent(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestKernelInfo(t *testing.T) {
	h := start(t)
	req := h.send("kernel_info_request", wire.ChannelShell, nil)
	msgs := h.collect(req, nil)

	if msgs[0].Type() != "status" {
		t.Errorf("first message = %s, want busy status", msgs[0].Type())
	}
	rep := find(msgs, "kernel_info_reply")
	var info protocol.KernelInfo
	if err := rep.DecodeContent(&info); err != nil {
		t.Fatal(err)
	}
	if info.Implementation != "echo" || info.ProtocolVersion != wire.ProtocolVersion {
		t.Errorf("info = %+v", info)
	}
	if rep.Channel != wire.ChannelShell {
		t.Errorf("reply on %s", rep.Channel)
	}
}

func TestExecute_Echo(t *testing.T) {
	h := start(t)
	req := h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest("hello\nworld"))
	msgs := h.collect(req, nil)

	var text string
	for _, m := range msgs {
		if m.Type() == "stream" {
			text += decode(t, m)["text"].(string)
		}
	}
	if text != "hello\nworld\n" {
		t.Errorf("stdout = %q", text)
	}
	rep := decode(t, find(msgs, "execute_reply"))
	if rep["status"] != "ok" || rep["execution_count"].(float64) != 1 {
		t.Errorf("reply = %v", rep)
	}
	if find(msgs, "execute_result") == nil {
		t.Error("no execute_result")
	}

	req = h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest("again"))
	rep = decode(t, find(h.collect(req, nil), "execute_reply"))
	if rep["execution_count"].(float64) != 2 {
		t.Errorf("execution_count = %v, want 2", rep["execution_count"])
	}
}

func TestExecute_Error(t *testing.T) {
	h := start(t)
	req := h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest("error boom"))
	msgs := h.collect(req, nil)

	rep := decode(t, find(msgs, "execute_reply"))
	if rep["status"] != "error" || rep["ename"] != "EchoError" || rep["evalue"] != "boom" {
		t.Errorf("reply = %v", rep)
	}
	if find(msgs, "error") == nil {
		t.Error("no error broadcast")
	}
}

func TestExecute_Input(t *testing.T) {
	h := start(t)
	req := h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest(`input("name? ")`))
	msgs := h.collect(req, func(ask *wire.Message) {
		if p := decode(t, ask)["prompt"]; p != "name? " {
			t.Errorf("prompt = %v", p)
		}
		parent := ask.Header
		ans, _ := wire.NewMessage(wire.MessageOptions{
			MsgType: "input_reply", Channel: wire.ChannelStdin,
			Content: protocol.InputReply{Value: "ada", Status: "ok"}, Parent: &parent,
		})
		if err := h.ep.SendMessage(ans); err != nil {
			t.Error(err)
		}
	})
	if s := find(msgs, "stream"); s == nil || decode(t, s)["text"] != "ada\n" {
		t.Errorf("stream = %v", s)
	}
}

func TestInterruptStopsSleep(t *testing.T) {
	h := start(t)
	req := h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest("%sleep 5000"))

	// Wait until the kernel is busy with it.
	for {
		m := <-h.msgs
		if m.ParentID() == req.ID() && m.Type() == "execute_input" {
			break
		}
	}
	h.send("interrupt_request", wire.ChannelControl, nil)

	began := time.Now()
	msgs := h.collect(req, nil)
	if time.Since(began) > 2*time.Second {
		t.Fatal("interrupt did not cut the sleep short")
	}
	rep := decode(t, find(msgs, "execute_reply"))
	if rep["ename"] != "KeyboardInterrupt" {
		t.Errorf("reply = %v", rep)
	}
}

func TestCompleteInspectIsComplete(t *testing.T) {
	h := start(t)

	req := h.send("complete_request", wire.ChannelShell, protocol.CompleteRequest{Code: "x = inp", CursorPos: 7})
	var comp protocol.CompleteReply
	if err := find(h.collect(req, nil), "complete_reply").DecodeContent(&comp); err != nil {
		t.Fatal(err)
	}
	if len(comp.Matches) != 1 || comp.Matches[0] != "input" || comp.CursorStart != 4 || comp.CursorEnd != 7 {
		t.Errorf("complete = %+v", comp)
	}

	req = h.send("inspect_request", wire.ChannelShell, protocol.InspectRequest{Code: "error x", CursorPos: 2})
	if rep := decode(t, find(h.collect(req, nil), "inspect_reply")); rep["found"] != true {
		t.Errorf("inspect = %v", rep)
	}

	for code, want := range map[string]string{"abc": "complete", "input(": "incomplete", "a)": "invalid", "x \\": "incomplete"} {
		req = h.send("is_complete_request", wire.ChannelShell, protocol.IsCompleteRequest{Code: code})
		if got := decode(t, find(h.collect(req, nil), "is_complete_reply"))["status"]; got != want {
			t.Errorf("is_complete(%q) = %v, want %s", code, got, want)
		}
	}
}

func TestHistory(t *testing.T) {
	h := start(t)
	for _, code := range []string{"one", "two", "three"} {
		h.collect(h.send("execute_request", wire.ChannelShell, protocol.NewExecuteRequest(code)), nil)
	}

	req := h.send("history_request", wire.ChannelShell, protocol.HistoryRequest{HistAccessType: "tail", N: 2})
	hist := decode(t, find(h.collect(req, nil), "history_reply"))["history"].([]any)
	if len(hist) != 2 || hist[1].([]any)[2] != "three" {
		t.Errorf("tail history = %v", hist)
	}

	req = h.send("history_request", wire.ChannelShell, protocol.HistoryRequest{HistAccessType: "search", Pattern: "*w*", Output: true})
	hist = decode(t, find(h.collect(req, nil), "history_reply"))["history"].([]any)
	if len(hist) != 1 {
		t.Fatalf("search history = %v", hist)
	}
	pair := hist[0].([]any)[2].([]any)
	if pair[0] != "two" || pair[1] != "two\n" {
		t.Errorf("search entry = %v", pair)
	}
}

func TestComms(t *testing.T) {
	h := start(t)
	h.collect(h.send("comm_open", wire.ChannelShell, protocol.CommOpen{CommID: "c1", TargetName: "echo", Data: map[string]any{}}), nil)

	req := h.send("comm_info_request", wire.ChannelShell, protocol.CommInfoRequest{TargetName: "echo"})
	comms := decode(t, find(h.collect(req, nil), "comm_info_reply"))["comms"].(map[string]any)
	if _, ok := comms["c1"]; !ok || len(comms) != 1 {
		t.Errorf("comms = %v", comms)
	}

	req = h.send("comm_msg", wire.ChannelShell, protocol.CommMsg{CommID: "c1", Data: map[string]any{"x": 1.0}})
	echoed := find(h.collect(req, nil), "comm_msg")
	if echoed == nil || echoed.Channel != wire.ChannelIOPub {
		t.Fatalf("echoed = %v", echoed)
	}
	if data := decode(t, echoed)["data"].(map[string]any); data["x"] != 1.0 {
		t.Errorf("echoed data = %v", data)
	}

	h.collect(h.send("comm_close", wire.ChannelShell, protocol.CommClose{CommID: "c1"}), nil)
	req = h.send("comm_info_request", wire.ChannelShell, protocol.CommInfoRequest{})
	if comms := decode(t, find(h.collect(req, nil), "comm_info_reply"))["comms"].(map[string]any); len(comms) != 0 {
		t.Errorf("comms after close = %v", comms)
	}
}

func TestShutdown(t *testing.T) {
	h := start(t)

	req := h.send("shutdown_request", wire.ChannelControl, protocol.ShutdownRequest{Restart: true})
	if rep := decode(t, find(h.collect(req, nil), "shutdown_reply")); rep["restart"] != true {
		t.Errorf("restart reply = %v", rep)
	}

	req = h.send("shutdown_request", wire.ChannelControl, protocol.ShutdownRequest{})
	h.collect(req, nil)
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after shutdown_request")
	}
}

func TestServe_EndpointClosed(t *testing.T) {
	client, server := transport.Pipe()
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), server, nil) }()

	client.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not notice the closed endpoint")
	}
}
