package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ResolveAddr joins host and port into a dialable address.  With noDNS
// the host must already be a literal IP; a bracketed IPv6 literal is
// accepted either way.
func ResolveAddr(host string, port int, noDNS bool) (string, error) {
	host = unbracket(host)
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("port %d out of range 1-65535", port)
	}
	if noDNS && net.ParseIP(host) == nil {
		return "", fmt.Errorf("cannot parse %q as an IP address (DNS disabled)", host)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// FormatAddr returns "host:port", bracketing IPv6 hosts.  An empty host
// yields ":port", the listen-on-all form.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(unbracket(host), strconv.Itoa(port))
}

func unbracket(host string) string {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host[1 : len(host)-1]
	}
	return host
}

// FindFreePort returns a TCP port on 127.0.0.1 that was free a moment
// ago.  Another process may take it before the caller binds it.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
