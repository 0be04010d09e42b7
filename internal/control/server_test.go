package control

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"minder/internal/assess"
	"minder/internal/config"
	"minder/internal/pane"
	"minder/internal/watch"
)

// memPane is an in-memory pane for tests.
type memPane struct {
	mu     sync.Mutex
	buffer string
	sent   []string
	closed bool
}

func (p *memPane) Capture() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer, nil
}

func (p *memPane) Send(text string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, text)
	return nil
}

func (p *memPane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *memPane) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// stopAssessor always says stop, keeping test cycles quiet.
type stopAssessor struct{}

func (stopAssessor) Assess(context.Context, assess.Context) (assess.Decision, error) {
	return assess.Decision{Verdict: assess.VerdictStop}, nil
}

// startTestServer runs a server on a socket under t.TempDir and returns the
// socket path plus the pane handed out for any target.
func startTestServer(t *testing.T, a assess.Assessor) (string, *memPane) {
	t.Helper()
	cfg := config.Default()
	cfg.Watch.Poll = 10 * time.Millisecond
	cfg.Watch.DefaultWait = 10 * time.Millisecond
	cfg.Watch.IdleThreshold = 20 * time.Millisecond
	cfg.Watch.IdleSpinPoll = 5 * time.Millisecond

	p := &memPane{buffer: "shell prompt"}
	r := watch.NewRegistry(cfg, a)
	r.NewPane = func(string) (pane.Pane, error) { return p, nil }

	sockPath := filepath.Join(t.TempDir(), "minderd.sock")
	srv := NewServer(r, sockPath)
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for !Ping(sockPath) {
		if time.Now().After(deadline) {
			t.Fatal("server socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return sockPath, p
}

func TestAttachReportStatusRoundtrip(t *testing.T) {
	sock, _ := startTestServer(t, stopAssessor{})

	resp, err := Call(sock, &Request{Type: TypeAttach, Session: "s1", Pane: "%1", Plan: "ship it"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if resp.Result != watch.AttachCreated {
		t.Errorf("attach result = %q", resp.Result)
	}

	resp, err = Call(sock, &Request{Type: TypeAttach, Session: "s1", Pane: "%1", Plan: "ship it harder"})
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if resp.Result != watch.AttachUpdated {
		t.Errorf("reattach result = %q", resp.Result)
	}

	if _, err := Call(sock, &Request{Type: TypeReport, Session: "s1", Status: "tests pass"}); err != nil {
		t.Fatalf("report: %v", err)
	}

	resp, err = Call(sock, &Request{Type: TypeStatus})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.Server == nil || resp.Server.Pid == 0 {
		t.Errorf("status server info = %+v", resp.Server)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Key != "s1" {
		t.Errorf("status sessions = %+v", resp.Sessions)
	}
}

func TestUnknownSessionCode(t *testing.T) {
	sock, _ := startTestServer(t, stopAssessor{})

	resp, err := Call(sock, &Request{Type: TypeReport, Session: "ghost", Status: "hello"})
	if err == nil {
		t.Fatal("report on unknown session succeeded")
	}
	if resp == nil || resp.Code != CodeUnknownSession {
		t.Errorf("resp = %+v, want code %q", resp, CodeUnknownSession)
	}

	resp, err = Call(sock, &Request{Type: TypePause, Session: "ghost"})
	if err == nil {
		t.Fatal("pause on unknown session succeeded")
	}
	if resp == nil || resp.Code != CodeUnknownSession {
		t.Errorf("resp = %+v, want code %q", resp, CodeUnknownSession)
	}
}

func TestBadRequestsRejected(t *testing.T) {
	sock, _ := startTestServer(t, stopAssessor{})

	cases := []Request{
		{Type: "frobnicate"},
		{Type: TypeAttach, Session: "s1"},             // no pane/plan
		{Type: TypeReport, Session: "s1", Status: ""}, // no status
	}
	for _, req := range cases {
		resp, err := Call(sock, &req)
		if err == nil {
			t.Errorf("request %+v succeeded", req)
			continue
		}
		if resp == nil || resp.Code != CodeBadRequest {
			t.Errorf("request %+v: resp = %+v, want code %q", req, resp, CodeBadRequest)
		}
	}
}

func TestPauseReturnsDirective(t *testing.T) {
	a := assessorFunc(func(context.Context, assess.Context) (assess.Decision, error) {
		return assess.Decision{Verdict: assess.VerdictContinue, Directive: "check the logs"}, nil
	})
	sock, _ := startTestServer(t, a)

	if _, err := Call(sock, &Request{Type: TypeAttach, Session: "s1", Pane: "%1", Plan: "plan"}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	resp, err := Call(sock, &Request{Type: TypePause, Session: "s1"})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if resp.Directive != "check the logs" {
		t.Errorf("directive = %q", resp.Directive)
	}
}

func TestClearOverTheWire(t *testing.T) {
	sock, p := startTestServer(t, stopAssessor{})

	if resp, _ := Call(sock, &Request{Type: TypeClear, Session: "s1"}); resp.Result != watch.ClearNoop {
		t.Errorf("clear before attach = %q, want noop", resp.Result)
	}

	Call(sock, &Request{Type: TypeAttach, Session: "s1", Pane: "%1", Plan: "plan"})
	if resp, _ := Call(sock, &Request{Type: TypeClear, Session: "s1"}); resp.Result != watch.ClearDone {
		t.Errorf("clear = %q, want cleared", resp.Result)
	}
	if resp, _ := Call(sock, &Request{Type: TypeClear, Session: "s1"}); resp.Result != watch.ClearNoop {
		t.Errorf("second clear = %q, want noop", resp.Result)
	}
	if !p.isClosed() {
		t.Error("clear did not release the pane")
	}

	resp, err := Call(sock, &Request{Type: TypeReport, Session: "s1", Status: "hello"})
	if err == nil {
		t.Fatal("report after clear succeeded")
	}
	if resp.Code != CodeUnknownSession {
		t.Errorf("report after clear code = %q", resp.Code)
	}
}

func TestStopRequestEndsServer(t *testing.T) {
	cfg := config.Default()
	r := watch.NewRegistry(cfg, stopAssessor{})
	sockPath := filepath.Join(t.TempDir(), "minderd.sock")
	srv := NewServer(r, sockPath)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	deadline := time.Now().Add(2 * time.Second)
	for !Ping(sockPath) {
		if time.Now().After(deadline) {
			t.Fatal("server socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := Call(sockPath, &Request{Type: TypeStop}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after stop request")
	}
	if Ping(sockPath) {
		t.Error("socket still answering after stop")
	}
}

func TestProbeRejectsLiveDaemon(t *testing.T) {
	sock, _ := startTestServer(t, stopAssessor{})

	r := watch.NewRegistry(config.Default(), stopAssessor{})
	second := NewServer(r, sock)
	errCh := make(chan error, 1)
	go func() { errCh <- second.Run(context.Background()) }()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("second server started on a live socket")
		}
	case <-time.After(2 * time.Second):
		second.Stop()
		t.Fatal("second server did not fail fast")
	}
}

// assessorFunc adapts a function to the Assessor interface.
type assessorFunc func(context.Context, assess.Context) (assess.Decision, error)

func (f assessorFunc) Assess(ctx context.Context, c assess.Context) (assess.Decision, error) {
	return f(ctx, c)
}
