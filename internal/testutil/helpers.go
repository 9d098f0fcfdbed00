package testutil

import (
	"net"
	"os"
	"testing"
)

// RequireRoot skips the test unless it runs as root with HMDL_PRIV_TEST set.
// Binding port 53 and reading the kernel neighbor table need real privileges.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Getenv("HMDL_PRIV_TEST") == "" || os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root and HMDL_PRIV_TEST environment")
	}
}

// FreePort returns a TCP port on 127.0.0.1 that was free at the time of the call.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
