package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"minder/internal/watch"
)

// Server owns the control socket and dispatches requests to the session
// registry. It handles one request per connection.
type Server struct {
	registry  *watch.Registry
	sockPath  string
	listener  net.Listener
	startTime time.Time
	cancel    context.CancelFunc
}

// NewServer creates a server for the given registry and socket path.
func NewServer(r *watch.Registry, sockPath string) *Server {
	return &Server{registry: r, sockPath: sockPath}
}

// Run creates the socket and serves requests until ctx is cancelled or a
// stop request arrives. The socket's existence signals readiness.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.startTime = time.Now()

	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := probeSocket(s.sockPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	s.listener = ln
	defer func() {
		ln.Close()
		os.Remove(s.sockPath)
	}()

	log.Printf("control: listening on %s", s.sockPath)
	go s.acceptLoop(ln)

	<-ctx.Done()
	log.Printf("control: shutting down")
	s.registry.Shutdown()
	return nil
}

// Stop ends Run. Safe to call from any goroutine.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// probeSocket checks for a live daemon behind an existing socket file.
// A stale socket is removed; a live one is an error.
func probeSocket(sockPath string) error {
	if _, err := os.Stat(sockPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("minderd is already running on %s", sockPath)
	}
	os.Remove(sockPath)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := ReadRequest(conn)
	if err != nil {
		return
	}

	switch req.Type {
	case TypeAttach:
		s.handleAttach(conn, req)
	case TypeReport:
		s.handleReport(conn, req)
	case TypePause:
		s.handlePause(conn, req)
	case TypeClear:
		SendResponse(conn, &Response{OK: true, Result: s.registry.Clear(req.Session)})
	case TypeStatus:
		SendResponse(conn, &Response{
			OK:       true,
			Server:   s.serverInfo(),
			Sessions: s.sessionInfos(),
		})
	case TypeStop:
		SendResponse(conn, &Response{OK: true})
		s.Stop()
	default:
		SendResponse(conn, &Response{
			Error: fmt.Sprintf("unknown request type %q", req.Type),
			Code:  CodeBadRequest,
		})
	}
}

func (s *Server) handleAttach(conn net.Conn, req *Request) {
	if req.Session == "" || req.Pane == "" || req.Plan == "" {
		SendResponse(conn, &Response{
			Error: "attach requires session, pane, and plan",
			Code:  CodeBadRequest,
		})
		return
	}
	result, err := s.registry.Attach(req.Session, req.Pane, req.Plan, req.WaitCmd)
	if err != nil {
		SendResponse(conn, &Response{Error: err.Error()})
		return
	}
	SendResponse(conn, &Response{OK: true, Result: result})
}

func (s *Server) handleReport(conn net.Conn, req *Request) {
	if req.Status == "" {
		SendResponse(conn, &Response{
			Error: "report requires a status",
			Code:  CodeBadRequest,
		})
		return
	}
	if err := s.registry.Report(req.Session, req.Status, req.WaitCmd); err != nil {
		SendResponse(conn, errorResponse(err))
		return
	}
	SendResponse(conn, &Response{OK: true})
}

func (s *Server) handlePause(conn net.Conn, req *Request) {
	directive, err := s.registry.Pause(context.Background(), req.Session)
	if err != nil {
		SendResponse(conn, errorResponse(err))
		return
	}
	SendResponse(conn, &Response{OK: true, Directive: directive})
}

func errorResponse(err error) *Response {
	resp := &Response{Error: err.Error()}
	if errors.Is(err, watch.ErrUnknownSession) {
		resp.Code = CodeUnknownSession
	}
	return resp
}

func (s *Server) serverInfo() *ServerInfo {
	return &ServerInfo{
		Pid:    os.Getpid(),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
}

func (s *Server) sessionInfos() []SessionInfo {
	var infos []SessionInfo
	for _, key := range s.registry.Sessions() {
		w, ok := s.registry.Lookup(key)
		if !ok {
			continue
		}
		infos = append(infos, SessionInfo{
			Key:        key,
			Paused:     w.Paused(),
			Pending:    w.Pending(),
			Transcript: w.Transcript().Len(),
		})
	}
	return infos
}
