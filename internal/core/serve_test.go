package core

import (
	"context"
	"net"
	"testing"
	"time"

	"ksession/internal/metrics"
	"ksession/util"
)

// startServe runs a ServeMode on a loopback port and returns its
// address.  The server stops when the test ends.
func startServe(t *testing.T, keepOpen bool) (string, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make(chan net.Addr, 1)
	mode := &ServeMode{
		Address:   "127.0.0.1:0",
		KeepOpen:  keepOpen,
		Logger:    util.NewLogger(0),
		Metrics:   metrics.New(),
		Listening: func(a net.Addr) { addrs <- a },
	}
	// done carries the result to the test; stopped lets cleanup wait
	// even after the test has consumed that result.
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- mode.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(3 * time.Second):
			t.Error("serve mode did not stop")
		}
	})

	select {
	case a := <-addrs:
		return a.String(), done
	case err := <-done:
		t.Fatalf("serve: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve mode never listened")
	}
	return "", nil
}

// TestServeMode_SingleConnection verifies that without KeepOpen the
// mode returns once its only client goes away.
func TestServeMode_SingleConnection(t *testing.T) {
	addr, done := startServe(t, false)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve mode still running after its client left")
	}
}

// TestServeMode_KeepOpen verifies that KeepOpen serves sequential
// sessions until the context ends.
func TestServeMode_KeepOpen(t *testing.T) {
	addr, _ := startServe(t, true)

	for i := 0; i < 2; i++ {
		mode := newConnectMode(addr)
		mode.Code = "round trip"
		if err := mode.Run(context.Background()); err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
	}
}

func TestServeMode_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	mode := &ServeMode{Address: ln.Addr().String()}
	if err := mode.Run(context.Background()); err == nil {
		t.Fatal("expected an error listening on a taken port")
	}
}
