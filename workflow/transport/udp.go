package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

const maxDatagramSize = 64 * 1024

// UDPHandler is a datagram transport. As initiator it connects to Addr; as
// responder it listens on Addr and answers the first peer it hears from.
type UDPHandler struct {
	mu        sync.Mutex
	addr      string
	responder bool
	conn      net.PacketConn
	peer      net.Addr
	timeout   time.Duration
	state     SocketState
	closed    bool
}

// NewUDPClient returns a datagram handler that sends to addr.
func NewUDPClient(addr string, timeout time.Duration) *UDPHandler {
	return &UDPHandler{addr: addr, timeout: normalizeTimeout(timeout)}
}

// NewUDPResponder returns a datagram handler listening on addr.
func NewUDPResponder(addr string, timeout time.Duration) *UDPHandler {
	return &UDPHandler{addr: addr, responder: true, timeout: normalizeTimeout(timeout)}
}

func (h *UDPHandler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil && !h.closed {
		return nil
	}

	if h.responder {
		var lc net.ListenConfig
		pc, err := lc.ListenPacket(ctx, "udp", h.addr)
		if err != nil {
			h.state = classify(err)
			return &IOError{Op: "listen", Err: err}
		}
		h.conn = pc
	} else {
		raddr, err := net.ResolveUDPAddr("udp", h.addr)
		if err != nil {
			h.state = SocketError
			return &IOError{Op: "resolve", Err: err}
		}
		var lc net.ListenConfig
		pc, err := lc.ListenPacket(ctx, "udp", ":0")
		if err != nil {
			h.state = classify(err)
			return &IOError{Op: "listen", Err: err}
		}
		h.conn = pc
		h.peer = raddr
	}
	h.closed = false
	h.state = SocketUp
	return nil
}

// LocalAddr returns the bound address once initialized.
func (h *UDPHandler) LocalAddr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

func (h *UDPHandler) Send(ctx context.Context, data []byte) error {
	h.mu.Lock()
	conn, peer, closed := h.conn, h.peer, h.closed
	h.mu.Unlock()
	if conn == nil || closed {
		return ErrNotInitialized
	}
	if peer == nil {
		return &IOError{Op: "send", Err: ErrNoPeer}
	}
	if err := conn.SetWriteDeadline(deadline(ctx, h.Timeout())); err != nil {
		return h.fail("send", err)
	}
	if _, err := conn.WriteTo(data, peer); err != nil {
		return h.fail("send", err)
	}
	h.setState(SocketUp)
	return nil
}

func (h *UDPHandler) Receive(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	conn, closed := h.conn, h.closed
	h.mu.Unlock()
	if conn == nil || closed {
		return nil, ErrNotInitialized
	}
	if err := conn.SetReadDeadline(deadline(ctx, h.Timeout())); err != nil {
		return nil, h.fail("receive", err)
	}
	buf := make([]byte, maxDatagramSize)
	n, from, err := conn.ReadFrom(buf)
	if err != nil {
		if classify(err) == SocketTimeout {
			h.setState(SocketTimeout)
			return nil, ErrTimeout
		}
		return nil, h.fail("receive", err)
	}
	h.mu.Lock()
	if h.responder && h.peer == nil {
		h.peer = from
	}
	h.state = SocketUp
	h.mu.Unlock()
	return buf[:n], nil
}

func (h *UDPHandler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = normalizeTimeout(d)
	h.mu.Unlock()
}

func (h *UDPHandler) Timeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeout
}

func (h *UDPHandler) State() SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *UDPHandler) Datagram() bool { return true }

func (h *UDPHandler) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.closed
}

func (h *UDPHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.closed {
		return nil
	}
	h.closed = true
	err := h.conn.Close()
	h.conn = nil
	if h.responder {
		h.peer = nil
	}
	return err
}

func (h *UDPHandler) setState(s SocketState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *UDPHandler) fail(op string, err error) error {
	h.setState(classify(err))
	return &IOError{Op: op, Err: err}
}
