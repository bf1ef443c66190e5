package workflow

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

func serverTemplate(t *testing.T, maxConns int) *State {
	t.Helper()
	cfg := testConfig(ExecutorThreadedServer)
	cfg.ServerListenAddr = "127.0.0.1:0"
	cfg.ServerMaxConnections = maxConns
	cfg.ServerShutdownTimeout = time.Second
	cfg.DefaultTimeout = 2 * time.Second

	trace := NewWorkflowTrace("echo-server")
	_ = trace.AddConnection(NewConnection("server", RoleResponder, cfg.ServerListenAddr))
	trace.AddAction(
		NewReceiveAction("server", KindHandshake),
		NewSendAction("server", handshake("server-hello")),
	)
	return NewState(cfg, trace)
}

func dialAndHandshake(t *testing.T, addr string) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Errorf("dial: %v", err)
		return nil
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	hello := append([]byte{22, 3, 3, 0, 5}, "hello"...)
	if _, err := conn.Write(hello); err != nil {
		t.Errorf("write: %v", err)
		return nil
	}
	reply := make([]byte, 5+len("server-hello"))
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Errorf("read: %v", err)
		return nil
	}
	return reply
}

func TestThreadedServer_ServesClientsAndShutsDown(t *testing.T) {
	server, err := NewThreadedServer(serverTemplate(t, 2))
	if err != nil {
		t.Fatalf("NewThreadedServer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(context.Background(), ln) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := dialAndHandshake(t, ln.Addr().String())
			if reply != nil && string(reply[5:]) != "server-hello" {
				t.Errorf("unexpected reply %q", reply[5:])
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-served; !errors.Is(err, ErrServerClosed) {
		t.Errorf("expected ErrServerClosed, got %v", err)
	}
	if n := server.ActiveConnections(); n != 0 {
		t.Errorf("expected no active connections, got %d", n)
	}
	if server.Addr() == nil {
		t.Error("expected listener address")
	}
}

func TestThreadedServer_ForceClosesStragglers(t *testing.T) {
	template := serverTemplate(t, 1)
	template.config.DefaultTimeout = 10 * time.Second
	server, err := NewThreadedServer(template)
	if err != nil {
		t.Fatalf("NewThreadedServer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(context.Background(), ln) }()

	// A client that connects and never speaks keeps its workflow blocked.
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.ActiveConnections() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.ActiveConnections() != 1 {
		t.Fatalf("expected one active connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := server.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected forced shutdown, got %v", err)
	}

	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after forced shutdown")
	}
}

func TestThreadedServer_ExecuteWorkflowStopsWithContext(t *testing.T) {
	server, err := NewThreadedServer(serverTemplate(t, 1))
	if err != nil {
		t.Fatalf("NewThreadedServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.ExecuteWorkflow(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	reply := dialAndHandshake(t, server.Addr().String())
	if reply == nil {
		t.Fatal("no reply from server")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestThreadedServer_ShutdownWhileAccepting(t *testing.T) {
	server, err := NewThreadedServer(serverTemplate(t, 4))
	if err != nil {
		t.Fatalf("NewThreadedServer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(context.Background(), ln) }()

	// Clients race with Shutdown; some are served, the rest are refused or
	// dropped. Either way Shutdown must leave nothing running.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write(append([]byte{22, 3, 3, 0, 5}, "hello"...))
			_, _ = io.Copy(io.Discard, conn)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := server.ActiveConnections(); n != 0 {
		t.Errorf("expected no active connections after Shutdown, got %d", n)
	}
	if err := <-served; !errors.Is(err, ErrServerClosed) {
		t.Errorf("expected ErrServerClosed, got %v", err)
	}
	wg.Wait()
}
