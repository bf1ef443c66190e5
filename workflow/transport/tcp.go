package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

const streamReadSize = 16 * 1024

// TCPHandler is a stream transport. As initiator it dials addr; as responder
// it either listens on addr and accepts one peer, or adopts a connection
// accepted elsewhere (the threaded server).
type TCPHandler struct {
	mu       sync.Mutex
	addr     string
	conn     net.Conn
	listener net.Listener
	listen   bool
	adopted  bool
	timeout time.Duration
	state   SocketState
	closed  bool
}

// NewTCPClient returns a handler that dials addr on Initialize.
func NewTCPClient(addr string, timeout time.Duration) *TCPHandler {
	return &TCPHandler{
		addr:    addr,
		timeout: normalizeTimeout(timeout),
	}
}

// NewTCPResponder returns a handler that listens on addr and accepts a single
// peer on Initialize. Accept waits until the context is done.
func NewTCPResponder(addr string, timeout time.Duration) *TCPHandler {
	return &TCPHandler{
		addr:    addr,
		listen:  true,
		timeout: normalizeTimeout(timeout),
	}
}

// NewTCPFromConn returns a handler that adopts an already connected conn.
// Initialize on such a handler only validates the connection.
func NewTCPFromConn(conn net.Conn, timeout time.Duration) *TCPHandler {
	addr := ""
	if conn != nil && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}
	return &TCPHandler{
		addr:    addr,
		conn:    conn,
		adopted: true,
		timeout: normalizeTimeout(timeout),
	}
}

func (h *TCPHandler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	if h.adopted {
		defer h.mu.Unlock()
		if h.conn == nil || h.closed {
			return &IOError{Op: "init", Err: net.ErrClosed}
		}
		h.state = SocketUp
		return nil
	}
	if h.conn != nil && !h.closed {
		h.mu.Unlock()
		return nil
	}

	if h.listen {
		if err := h.bind(); err != nil {
			h.mu.Unlock()
			return err
		}
		ln := h.listener
		h.mu.Unlock()

		// Accept runs unlocked so Close can interrupt it.
		conn, err := accept(ctx, ln)

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			if h.listener == ln {
				_ = ln.Close()
				h.listener = nil
			}
			h.state = classify(err)
			return &IOError{Op: "accept", Err: err}
		}
		h.conn = conn
		h.closed = false
		h.state = SocketUp
		return nil
	}
	defer h.mu.Unlock()

	dialer := net.Dialer{Timeout: h.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		h.state = classify(err)
		return &IOError{Op: "dial", Err: err}
	}
	h.conn = conn
	h.closed = false
	h.state = SocketUp
	return nil
}

// Listen binds the responder's listener without waiting for a peer and
// returns the bound address. Initialize calls it implicitly.
func (h *TCPHandler) Listen() (net.Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.bind(); err != nil {
		return nil, err
	}
	return h.listener.Addr(), nil
}

// bind must be called with h.mu held.
func (h *TCPHandler) bind() error {
	if h.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return &IOError{Op: "listen", Err: err}
	}
	h.listener = ln
	return nil
}

func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	}
}

func (h *TCPHandler) Send(ctx context.Context, data []byte) error {
	conn, err := h.active()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(deadline(ctx, h.Timeout())); err != nil {
		return h.fail("send", err)
	}
	if _, err := conn.Write(data); err != nil {
		return h.fail("send", err)
	}
	h.setState(SocketUp)
	return nil
}

func (h *TCPHandler) Receive(ctx context.Context) ([]byte, error) {
	conn, err := h.active()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(deadline(ctx, h.Timeout())); err != nil {
		return nil, h.fail("receive", err)
	}
	buf := make([]byte, streamReadSize)
	n, err := conn.Read(buf)
	if n > 0 {
		h.setState(SocketUp)
		return buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	switch st := classify(err); {
	case st == SocketTimeout:
		h.setState(SocketTimeout)
		return nil, ErrTimeout
	case (st == SocketClosed || st == SocketReset) && !errors.Is(err, net.ErrClosed):
		h.setState(st)
		return nil, ErrPeerClosed
	}
	return nil, h.fail("receive", err)
}

func (h *TCPHandler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = normalizeTimeout(d)
	h.mu.Unlock()
}

func (h *TCPHandler) Timeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeout
}

func (h *TCPHandler) State() SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *TCPHandler) Datagram() bool { return false }

func (h *TCPHandler) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.closed
}

// Close closes the connection. A later Initialize on a dialing handler opens
// a fresh connection; adopted connections cannot be reopened.
func (h *TCPHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		_ = h.listener.Close()
		h.listener = nil
	}
	if h.conn == nil || h.closed {
		return nil
	}
	h.closed = true
	err := h.conn.Close()
	if !h.adopted {
		h.conn = nil
	}
	return err
}

func (h *TCPHandler) active() (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.closed {
		return nil, ErrNotInitialized
	}
	return h.conn, nil
}

func (h *TCPHandler) setState(s SocketState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *TCPHandler) fail(op string, err error) error {
	h.setState(classify(err))
	return &IOError{Op: op, Err: err}
}
