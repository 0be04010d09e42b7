package control

import (
	"fmt"
	"net"
	"time"
)

const dialTimeout = 2 * time.Second

// Call connects to the daemon socket, sends one request, and reads the
// response. A response with OK false is returned alongside a non-nil error
// so callers can inspect the error code.
func Call(sockPath string, req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", sockPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to minderd at %s (is it running? try 'minder up'): %w", sockPath, err)
	}
	defer conn.Close()

	if err := SendRequest(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	resp, err := ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("minderd: %s", resp.Error)
	}
	return resp, nil
}

// Ping reports whether a daemon is serving on the socket.
func Ping(sockPath string) bool {
	conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
