// Package workflowtest provides in-memory transports for exercising workflow
// executors, task batches and oracle scans without a network peer.
package workflowtest

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/transport"
)

// Responder produces the bytes a simulated peer answers to one write.
// Each returned slice is delivered by one Receive call.
type Responder func(sent []byte) [][]byte

// Handler is a scripted transport.Handler.
//
// Example usage:
//
//	h := &workflowtest.Handler{
//	    Respond: func(sent []byte) [][]byte {
//	        return [][]byte{workflowtest.Record(22, []byte("server hello"))}
//	    },
//	}
//
// Receive returns transport.ErrTimeout once the queued answers are consumed,
// or transport.ErrPeerClosed when PeerClosed is set.
type Handler struct {
	// Respond, if set, is called for every Send.
	Respond Responder

	// InitErr, if set, is returned by Initialize wrapped in a transport.IOError.
	InitErr error

	// IsDatagram is reported by Datagram.
	IsDatagram bool

	// PeerClosed simulates a peer that closes the connection after its
	// queued answers were read.
	PeerClosed bool

	mu          sync.Mutex
	initialized bool
	inbound     [][]byte
	sent        [][]byte
	state       transport.SocketState
	timeout     time.Duration
	closes      int
}

// Initialize implements transport.Handler.
func (h *Handler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.InitErr != nil {
		h.state = transport.SocketError
		return &transport.IOError{Op: "dial", Err: h.InitErr}
	}
	h.initialized = true
	h.state = transport.SocketUp
	return nil
}

// Send implements transport.Handler.
func (h *Handler) Send(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return transport.ErrNotInitialized
	}
	sent := append([]byte(nil), data...)
	h.sent = append(h.sent, sent)
	if h.Respond != nil {
		h.inbound = append(h.inbound, h.Respond(sent)...)
	}
	return nil
}

// Receive implements transport.Handler.
func (h *Handler) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return nil, transport.ErrNotInitialized
	}
	if len(h.inbound) == 0 {
		if h.PeerClosed {
			h.state = transport.SocketClosed
			return nil, transport.ErrPeerClosed
		}
		h.state = transport.SocketTimeout
		return nil, transport.ErrTimeout
	}
	data := h.inbound[0]
	h.inbound = h.inbound[1:]
	h.state = transport.SocketUp
	return data, nil
}

// Push queues bytes for a later Receive.
func (h *Handler) Push(data ...[]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbound = append(h.inbound, data...)
}

// Sent returns a copy of every write seen so far.
func (h *Handler) Sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.sent))
	copy(out, h.sent)
	return out
}

// Closes reports how many times Close was called.
func (h *Handler) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// SetTimeout implements transport.Handler.
func (h *Handler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// Timeout implements transport.Handler.
func (h *Handler) Timeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeout
}

// State implements transport.Handler.
func (h *Handler) State() transport.SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState overrides the reported socket state.
func (h *Handler) SetState(s transport.SocketState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Datagram implements transport.Handler.
func (h *Handler) Datagram() bool { return h.IsDatagram }

// Initialized implements transport.Handler.
func (h *Handler) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// Close implements transport.Handler.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	h.closes++
	return nil
}

// Factory returns a workflow.TransportFactory that asks newHandler for a
// fresh Handler every time a connection is opened.
func Factory(newHandler func(conn workflow.Connection) *Handler) workflow.TransportFactory {
	return func(conn workflow.Connection, cfg workflow.Config) (transport.Handler, error) {
		h := newHandler(conn)
		if h.Timeout() == 0 {
			h.SetTimeout(cfg.DefaultTimeout)
		}
		return h, nil
	}
}

// Record encodes one TLS 1.2 record of the given content type.
func Record(contentType byte, body []byte) []byte {
	out := make([]byte, 5, 5+len(body))
	out[0] = contentType
	binary.BigEndian.PutUint16(out[1:3], 0x0303)
	binary.BigEndian.PutUint16(out[3:5], uint16(len(body)))
	return append(out, body...)
}

// Alert encodes an alert record.
func Alert(level, description byte) []byte {
	return Record(21, []byte{level, description})
}
