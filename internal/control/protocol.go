// Package control implements minder's Unix-socket control surface: a JSON
// request/response protocol, the server dispatching to the session
// registry, and a client helper for the CLI. One request per connection.
package control

import (
	"encoding/json"
	"io"
)

// Request types.
const (
	TypeAttach = "attach"
	TypeReport = "report"
	TypePause  = "pause"
	TypeClear  = "clear"
	TypeStatus = "status"
	TypeStop   = "stop"
)

// Error codes carried on failed responses.
const (
	CodeUnknownSession = "unknown_session"
	CodeBadRequest     = "bad_request"
)

// Request is one control call. Session-scoped types carry the session key;
// attach additionally carries the pane target and plan.
type Request struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Pane    string `json:"pane,omitempty"`
	Plan    string `json:"plan,omitempty"`
	Status  string `json:"status,omitempty"`
	WaitCmd string `json:"wait_cmd,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Code      string        `json:"code,omitempty"`
	Result    string        `json:"result,omitempty"`    // attach/clear outcome
	Directive string        `json:"directive,omitempty"` // pause next step, if any
	Server    *ServerInfo   `json:"server,omitempty"`
	Sessions  []SessionInfo `json:"sessions,omitempty"`
}

// ServerInfo is the daemon-level status snapshot.
type ServerInfo struct {
	Pid    int    `json:"pid"`
	Uptime string `json:"uptime"`
}

// SessionInfo is one session's status snapshot.
type SessionInfo struct {
	Key        string `json:"key"`
	Paused     bool   `json:"paused"`
	Pending    int    `json:"pending"`
	Transcript int    `json:"transcript"`
}

// SendRequest writes a request to the connection.
func SendRequest(w io.Writer, req *Request) error {
	return json.NewEncoder(w).Encode(req)
}

// ReadRequest reads a request from the connection.
func ReadRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SendResponse writes a response to the connection.
func SendResponse(w io.Writer, resp *Response) error {
	return json.NewEncoder(w).Encode(resp)
}

// ReadResponse reads a response from the connection.
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
