package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/handshake-go/workflow/transport"
)

// fakeHandler is an in-memory transport.Handler.
type fakeHandler struct {
	mu          sync.Mutex
	initialized bool
	initErr     error
	sent        [][]byte
	inbound     [][]byte
	state       transport.SocketState
	timeout     time.Duration
	closes      int
}

func (h *fakeHandler) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initErr != nil {
		h.state = transport.SocketError
		return &transport.IOError{Op: "dial", Err: h.initErr}
	}
	h.initialized = true
	h.state = transport.SocketUp
	return nil
}

func (h *fakeHandler) Send(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return transport.ErrNotInitialized
	}
	h.sent = append(h.sent, append([]byte(nil), data...))
	return nil
}

func (h *fakeHandler) Receive(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return nil, transport.ErrNotInitialized
	}
	if len(h.inbound) == 0 {
		h.state = transport.SocketTimeout
		return nil, transport.ErrTimeout
	}
	data := h.inbound[0]
	h.inbound = h.inbound[1:]
	return data, nil
}

func (h *fakeHandler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

func (h *fakeHandler) Timeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeout
}

func (h *fakeHandler) State() transport.SocketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHandler) Datagram() bool { return true }

func (h *fakeHandler) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *fakeHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	h.closes++
	return nil
}

// fakeLayers is a scripted LayerStack. Each Receive pops one batch of
// responses; an empty script times out. respondAfter delays the script until
// that many retransmissions happened.
type fakeLayers struct {
	responses    [][]Message
	respondAfter int

	// answerPerRetransmit answers one batch per retransmission observed.
	answerPerRetransmit bool
	answered            int

	sendErrs  []error // popped per Send; nil entries succeed
	recvErr   error
	initErr   error
	sent      [][]Message
	retrans   int
	resent    [][]byte
	closes    []int
	resets    int
	epochsSet []int
}

func (f *fakeLayers) Init(ctx context.Context) error { return f.initErr }

func (f *fakeLayers) Send(ctx context.Context, msgs []Message) ([][]byte, error) {
	prepared := make([][]byte, len(msgs))
	for i, m := range msgs {
		prepared[i] = append([]byte(m.Kind+":"), m.Payload...)
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return prepared, err
		}
	}
	f.sent = append(f.sent, msgs)
	return prepared, nil
}

func (f *fakeLayers) Receive(ctx context.Context) ([]Message, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if f.retrans < f.respondAfter || len(f.responses) == 0 {
		return nil, transport.ErrTimeout
	}
	if f.answerPerRetransmit {
		if f.retrans <= f.answered {
			return nil, transport.ErrTimeout
		}
		f.answered++
	}
	msgs := f.responses[0]
	f.responses = f.responses[1:]
	return msgs, nil
}

func (f *fakeLayers) Retransmit(ctx context.Context, prepared [][]byte) error {
	f.retrans++
	f.resent = append(f.resent, prepared...)
	return nil
}

func (f *fakeLayers) CloseNotify(ctx context.Context, epoch int) error {
	f.closes = append(f.closes, epoch)
	return nil
}

func (f *fakeLayers) Reset() { f.resets++ }

func (f *fakeLayers) SetEpoch(epoch int) { f.epochsSet = append(f.epochsSet, epoch) }

// fakeEnv wires fake transports and layers into executors and remembers
// what it handed out, keyed by alias.
type fakeEnv struct {
	handlers map[string]*fakeHandler
	layers   map[string]*fakeLayers
	script   func(alias string) *fakeLayers
	initErr  error
}

func newFakeEnv(script func(alias string) *fakeLayers) *fakeEnv {
	return &fakeEnv{
		handlers: make(map[string]*fakeHandler),
		layers:   make(map[string]*fakeLayers),
		script:   script,
	}
}

func (e *fakeEnv) options() []Option {
	return []Option{
		WithTransportFactory(func(conn Connection, cfg Config) (transport.Handler, error) {
			h := &fakeHandler{initErr: e.initErr}
			e.handlers[conn.Alias] = h
			return h, nil
		}),
		WithLayerFactory(func(c *Context, cfg Config) (LayerStack, error) {
			l := e.script(c.Connection.Alias)
			e.layers[c.Connection.Alias] = l
			return l, nil
		}),
	}
}

func handshake(payload string) Message {
	return Message{Kind: KindHandshake, Payload: []byte(payload)}
}

func clientTrace(actions ...Action) *WorkflowTrace {
	trace := NewWorkflowTrace("test")
	_ = trace.AddConnection(NewConnection("client", RoleInitiator, "127.0.0.1:4433"))
	trace.AddAction(actions...)
	return trace
}

func testConfig(t ExecutorType) Config {
	cfg := DefaultConfig()
	cfg.ExecutorType = t
	return cfg
}
