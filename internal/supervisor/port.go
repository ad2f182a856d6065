package supervisor

import (
	"fmt"
	"net"
)

// portRangeWidth bounds how many sibling ports are tried after the
// preferred port before falling back to an OS-assigned ephemeral port
// (spec §4.2 step 4: "a bounded deterministic port range").
const portRangeWidth = 10

// candidatePorts returns the ordered list of ports to try: the preferred
// port first (spec §4.2 "Port candidate rule"), followed by the
// `portRangeWidth` ports immediately above it, deduplicated and filtered to
// the valid TCP port range.
func candidatePorts(preferred int) []int {
	var ports []int
	seen := make(map[int]bool)
	add := func(p int) {
		if p < 1 || p > 65535 || seen[p] {
			return
		}
		seen[p] = true
		ports = append(ports, p)
	}

	add(preferred)
	for i := 1; i <= portRangeWidth; i++ {
		add(preferred + i)
	}
	return ports
}

// bindEphemeralPort binds a loopback TCP listener to port 0, lets the OS
// assign a free port, then releases it immediately so the child process
// can bind the same number itself (spec §4.2: "obtains a port by binding a
// loopback listener to port 0 and releasing it before passing the number
// to the child").
func bindEphemeralPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("supervisor: bind ephemeral port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("supervisor: unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}

// portFree reports whether a loopback TCP listener can currently bind to
// port — i.e. nothing else (including an orphaned child of ours) is
// already listening there.
func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
