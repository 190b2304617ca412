package util

import (
	"fmt"
	"net"
)

// MustGetFreePort returns a TCP port that was free at the time of the call.
// It is intended for tests and panics when the OS cannot hand one out.
func MustGetFreePort() int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		panic(fmt.Sprintf("failed to resolve localhost:0: %v", err))
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		panic(fmt.Sprintf("failed to listen on localhost:0: %v", err))
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}
