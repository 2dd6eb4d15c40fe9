package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Messages(t *testing.T) {
	c := New()

	c.MessageReceived(1024)
	c.MessageSent(512)
	c.MessageReceived(100)

	if c.MessagesIn() != 2 || c.MessagesOut() != 1 {
		t.Errorf("messages in/out = %d/%d, want 2/1", c.MessagesIn(), c.MessagesOut())
	}
	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Status(t *testing.T) {
	c := New()

	c.StatusChanged("starting")
	c.StatusChanged("idle")
	c.ControlTimeout()

	snap := c.Snapshot()
	if snap.StatusChanges != 2 {
		t.Errorf("status changes = %d, want 2", snap.StatusChanges)
	}
	if snap.LastStatus != "idle" {
		t.Errorf("last status = %q, want idle", snap.LastStatus)
	}
	if c.ControlTimeouts() != 1 {
		t.Errorf("control timeouts = %d, want 1", c.ControlTimeouts())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if msg := c.Snapshot().LastErrorMessage; msg != "second error" {
		t.Errorf("last error = %q", msg)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.MessageSent(42)

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.MessageReceived(100)
	c.MessageSent(100)
	c.StatusChanged("busy")
	c.ControlTimeout()
	c.RecordError("test")

	if c.ActiveSessions() != 0 || c.TotalBytesIn() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if snap := c.Snapshot(); snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
