// Package transport provides the byte-level transport handles used by workflow
// contexts: stream (TCP) and datagram (UDP) endpoints for either connection role.
//
// A Handler moves opaque bytes. It knows nothing about records, messages or
// packets; those belong to the protocol-layer stack above it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// DefaultTimeout is used when a handler is created with a non-positive timeout.
const DefaultTimeout = time.Second

// SocketState describes the last observed condition of a transport endpoint.
//
// The state is recorded after a workflow finishes and becomes part of the
// response fingerprint, so the zero value is deliberately "unknown" rather
// than "up".
type SocketState int

const (
	// SocketUnknown means no I/O has been observed yet.
	SocketUnknown SocketState = iota

	// SocketUp means the last operation succeeded and the peer is still connected.
	SocketUp

	// SocketTimeout means the last read timed out without data.
	SocketTimeout

	// SocketClosed means the peer closed the connection (EOF).
	SocketClosed

	// SocketReset means the peer reset the connection.
	SocketReset

	// SocketError means any other I/O failure.
	SocketError
)

// String returns the canonical name of the state.
func (s SocketState) String() string {
	switch s {
	case SocketUp:
		return "UP"
	case SocketTimeout:
		return "TIMEOUT"
	case SocketClosed:
		return "CLOSED"
	case SocketReset:
		return "RESET"
	case SocketError:
		return "IO_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrTimeout is returned by Receive when no data arrived before the deadline.
// It is not an I/O failure: callers treat it as "nothing more to read".
var ErrTimeout = errors.New("transport: receive timed out")

// ErrPeerClosed is returned by Receive when the peer closed or reset the
// connection. Like ErrTimeout it ends a read rather than failing it; the
// socket state records which of the two happened.
var ErrPeerClosed = errors.New("transport: connection closed by peer")

// ErrNotInitialized is returned when Send or Receive is called before Initialize.
var ErrNotInitialized = errors.New("transport: handler not initialized")

// ErrNoPeer is returned when a datagram responder tries to send before any
// datagram was received.
var ErrNoPeer = errors.New("transport: peer address unknown")

// Handler is the transport handle owned by one workflow context.
//
// Implementations are used by a single goroutine except for Close, which may
// be called concurrently to force-close a stuck connection.
type Handler interface {
	// Initialize opens the endpoint (dial, listen, or adopt an accepted conn).
	Initialize(ctx context.Context) error

	// Send writes data as one unit (one write for streams, one datagram otherwise).
	Send(ctx context.Context, data []byte) error

	// Receive blocks until data arrives or the timeout elapses.
	// On timeout it returns ErrTimeout.
	Receive(ctx context.Context) ([]byte, error)

	// SetTimeout changes the per-operation timeout.
	SetTimeout(d time.Duration)

	// Timeout reports the per-operation timeout.
	Timeout() time.Duration

	// State reports the last observed socket state.
	State() SocketState

	// Datagram reports whether message boundaries are preserved by the transport.
	Datagram() bool

	// Initialized reports whether Initialize succeeded and Close was not called.
	Initialized() bool

	// Close releases the endpoint. It is safe to call more than once.
	Close() error
}

// IOError wraps a failed transport operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// classify maps an I/O error to the socket state it implies.
func classify(err error) SocketState {
	if err == nil {
		return SocketUp
	}
	if errors.Is(err, io.EOF) {
		return SocketClosed
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return SocketReset
	}
	if errors.Is(err, net.ErrClosed) {
		return SocketClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return SocketTimeout
	}
	return SocketError
}

// deadline returns the earlier of now+timeout and the context deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func normalizeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
