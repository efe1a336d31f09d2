package utils

import (
	"net"
	"strconv"
	"time"
)

const dialTimeout = 300 * time.Millisecond

// PortInUse reports whether something accepts TCP connections on host:port.
func PortInUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// FirstFreePort returns the first port in [start, end] that is not in skip
// and for which inUse reports false, or 0 when every port is taken.
func FirstFreePort(start, end int, skip map[int]struct{}, inUse func(port int) bool) int {
	for p := start; p <= end; p++ {
		if _, ok := skip[p]; ok {
			continue
		}
		if !inUse(p) {
			return p
		}
	}
	return 0
}
