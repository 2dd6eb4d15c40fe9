package util

import (
	"net"
	"strconv"
	"testing"
)

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		noDNS   bool
		want    string
		wantErr bool
	}{
		{"ipv4", "127.0.0.1", 9000, true, "127.0.0.1:9000", false},
		{"ipv6", "::1", 9000, true, "[::1]:9000", false},
		{"bracketed ipv6", "[::1]", 9000, true, "[::1]:9000", false},
		{"hostname", "kernel.local", 9000, false, "kernel.local:9000", false},
		{"hostname without dns", "kernel.local", 9000, true, "", true},
		{"port zero", "127.0.0.1", 0, false, "", true},
		{"port too high", "127.0.0.1", 65536, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAddr(tt.host, tt.port, tt.noDNS)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveAddr(%q, %d, %v) = %q, want %q", tt.host, tt.port, tt.noDNS, got, tt.want)
			}
		})
	}
}

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"10.0.0.5", 22, "10.0.0.5:22"},
		{"fe80::1", 2222, "[fe80::1]:2222"},
		{"[fe80::1]", 2222, "[fe80::1]:2222"},
		{"", 9000, ":9000"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("port %d not bindable: %v", port, err)
	}
	ln.Close()
}
