package core

import (
	"strings"
	"testing"
	"time"

	"ksession/config"
	"ksession/internal/transport"
	"ksession/util"
)

// TestBuild_Connect verifies that Build produces a ConnectMode for
// a simple connect configuration.
func TestBuild_Connect(t *testing.T) {
	cfg := config.Default()
	cfg.Host, cfg.Port = "kernel.example.com", 9000
	cfg.Code = "1 + 1"
	cfg.KernelID = "k-1"
	cfg.DialAttempts = 4

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	cm, ok := mode.(*ConnectMode)
	if !ok {
		t.Fatalf("expected *ConnectMode, got %T", mode)
	}
	if cm.Address != "kernel.example.com:9000" || cm.Code != "1 + 1" {
		t.Errorf("address=%q code=%q", cm.Address, cm.Code)
	}
	if cm.Session.Spec.Name != config.DefaultKernelName || cm.Session.Spec.ID != "k-1" {
		t.Errorf("spec = %+v", cm.Session.Spec)
	}
	if cm.Session.ReadyTimeout != config.DefaultReadyTimeout || cm.ControlTimeout != config.DefaultControlTimeout ||
		cm.Session.ShutdownTimeout != config.DefaultControlTimeout {
		t.Errorf("ready=%v control=%v shutdown=%v", cm.Session.ReadyTimeout, cm.ControlTimeout, cm.Session.ShutdownTimeout)
	}
	if cm.Backoff == nil || cm.Backoff.MaxAttempts != 4 || cm.Breaker == nil {
		t.Errorf("backoff=%+v breaker=%v", cm.Backoff, cm.Breaker)
	}
	d, ok := cm.Dialer.(*transport.TCPDialer)
	if !ok {
		t.Fatalf("dialer = %T, want *TCPDialer", cm.Dialer)
	}
	if d.KeepAlive != config.DefaultKeepAlive || d.Timeout != config.DefaultConnTimeout {
		t.Errorf("dialer = %+v", d)
	}
}

// TestBuild_Serve verifies Build produces a ServeMode.
func TestBuild_Serve(t *testing.T) {
	cfg := &config.Config{Listen: true, LocalPort: 8080, KeepOpen: true}

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sm, ok := mode.(*ServeMode)
	if !ok {
		t.Fatalf("expected *ServeMode, got %T", mode)
	}
	if sm.Address != ":8080" || !sm.KeepOpen {
		t.Errorf("address=%q keepOpen=%v", sm.Address, sm.KeepOpen)
	}
}

func TestBuild_Tunnel(t *testing.T) {
	cfg := &config.Config{
		Host: "10.0.0.5", Port: 9000,
		TunnelEnabled: true, TunnelUser: "ada", TunnelHost: "gw", TunnelPort: 2222,
		KeepAlive: 15 * time.Second,
	}
	mode, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	cm := mode.(*ConnectMode)
	d, ok := cm.Dialer.(*transport.SSHDialer)
	if !ok {
		t.Fatalf("dialer = %T, want *SSHDialer", cm.Dialer)
	}
	if d.Name() != "ada@gw:2222" {
		t.Errorf("gateway = %q", d.Name())
	}
	if got := Describe(mode); !strings.Contains(got, "via ssh ada@gw:2222") {
		t.Errorf("Describe = %q", got)
	}
}

// TestBuild_NoDNS verifies -n rejects hostnames.
func TestBuild_NoDNS(t *testing.T) {
	cfg := &config.Config{Host: "example.com", Port: 80, NoDNS: true}
	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected error for hostname with -n")
	}

	cfg = &config.Config{Host: "::1", Port: 80, NoDNS: true}
	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if got := mode.(*ConnectMode).Address; got != "[::1]:80" {
		t.Errorf("address = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	cfg := &config.Config{Host: "127.0.0.1", Port: 9000, KernelName: "echo"}
	mode, _ := Build(cfg, nil)
	if got := Describe(mode); !strings.Contains(got, `connect to kernel "echo" at 127.0.0.1:9000 via tcp`) {
		t.Errorf("Describe = %q", got)
	}

	mode, _ = Build(&config.Config{Listen: true, LocalPort: 9000}, nil)
	if got := Describe(mode); got != "serve echo kernel on :9000 (keep-open false)" {
		t.Errorf("Describe = %q", got)
	}
}
