package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestTCPHandler_SendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	ctx := context.Background()
	client := NewTCPClient(ln.Addr().String(), 200*time.Millisecond)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer client.Close()

	serverConn := <-accepted
	server := NewTCPFromConn(serverConn, 200*time.Millisecond)
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	defer server.Close()

	if err := client.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("expected hello, got %q", got)
	}
	if server.State() != SocketUp {
		t.Errorf("expected UP, got %s", server.State())
	}
}

func TestTCPHandler_TimeoutAndClose(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	ctx := context.Background()

	client := NewTCPFromConn(clientSide, 30*time.Millisecond)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := client.Receive(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if client.State() != SocketTimeout {
		t.Errorf("expected TIMEOUT, got %s", client.State())
	}

	serverSide.Close()
	_, err = client.Receive(ctx)
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed after peer close, got %v", err)
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		t.Errorf("peer close must not be reported as an I/O failure: %v", err)
	}
	if client.State() != SocketClosed {
		t.Errorf("expected CLOSED, got %s", client.State())
	}

	if err := client.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
	if client.Initialized() {
		t.Error("handler should not report initialized after close")
	}
}

func TestTCPHandler_NotInitialized(t *testing.T) {
	h := NewTCPClient("127.0.0.1:1", 0)
	if err := h.Send(context.Background(), []byte{1}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if h.Timeout() != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", h.Timeout())
	}
}

func TestUDPHandler_RoundTrip(t *testing.T) {
	ctx := context.Background()

	responder := NewUDPResponder("127.0.0.1:0", 200*time.Millisecond)
	if err := responder.Initialize(ctx); err != nil {
		t.Fatalf("responder init: %v", err)
	}
	defer responder.Close()

	if err := responder.Send(ctx, []byte("x")); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer before first datagram, got %v", err)
	}

	client := NewUDPClient(responder.LocalAddr().String(), 200*time.Millisecond)
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("client init: %v", err)
	}
	defer client.Close()

	if err := client.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	got, err := responder.Receive(ctx)
	if err != nil {
		t.Fatalf("responder receive: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("expected ping, got %q", got)
	}

	if err := responder.Send(ctx, []byte("pong")); err != nil {
		t.Fatalf("responder send: %v", err)
	}
	got, err = client.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive: %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("expected pong, got %q", got)
	}
	if !client.Datagram() {
		t.Error("udp handler must report datagram semantics")
	}
}

func TestSocketStateString(t *testing.T) {
	cases := map[SocketState]string{
		SocketUnknown: "UNKNOWN",
		SocketUp:      "UP",
		SocketTimeout: "TIMEOUT",
		SocketClosed:  "CLOSED",
		SocketReset:   "RESET",
		SocketError:   "IO_ERROR",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d: expected %s, got %s", state, want, got)
		}
	}
}

func TestTCPHandler_Responder(t *testing.T) {
	server := NewTCPResponder("127.0.0.1:0", time.Second)
	addr, err := server.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := NewTCPClient(addr.String(), time.Second)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- server.Initialize(ctx) }()

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("client Initialize: %v", err)
	}
	defer client.Close()
	if err := <-done; err != nil {
		t.Fatalf("server Initialize: %v", err)
	}
	defer server.Close()

	if err := client.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestTCPHandler_ResponderCancelled(t *testing.T) {
	server := NewTCPResponder("127.0.0.1:0", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := server.Initialize(ctx)
	if err == nil {
		t.Fatal("expected accept to fail when context expires")
	}
	if server.Initialized() {
		t.Error("expected handler to stay uninitialized")
	}
}
