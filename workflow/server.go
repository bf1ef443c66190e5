package workflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/handshake-go/workflow/transport"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("workflow: server closed")

// ThreadedServer accepts connections and runs one cloned copy of a template
// trace per peer, at most Config.ServerMaxConnections at a time. Each copy is
// executed by a ReliableExecutor over the accepted connection.
type ThreadedServer struct {
	template *State
	opts     []Option
	cfg      executorConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	active   map[string]*State
	closing  atomic.Bool
}

// NewThreadedServer returns a server for template. The first connection of
// the template trace is bound to each accepted socket.
func NewThreadedServer(template *State, opts ...Option) (*ThreadedServer, error) {
	if template == nil {
		return nil, errors.New("template state cannot be nil")
	}
	if len(template.Trace().Connections()) == 0 {
		return nil, &ExecutionError{Code: codeInvalidTrace, ActionIndex: -1, Message: "server trace declares no connections"}
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	limit := template.Config().ServerMaxConnections
	if limit <= 0 {
		limit = 1
	}
	return &ThreadedServer{
		template: template,
		opts:     opts,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(limit)),
		active:   make(map[string]*State),
	}, nil
}

// State returns the template state.
func (s *ThreadedServer) State() *State { return s.template }

// ExecuteWorkflow serves until ctx is done, then shuts down gracefully.
func (s *ThreadedServer) ExecuteWorkflow(ctx context.Context) error {
	err := s.ListenAndServe(ctx)
	if errors.Is(err, ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on Config.ServerListenAddr and calls Serve.
func (s *ThreadedServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.template.Config().ServerListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen: %w", ErrTransport, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Shutdown is called or ctx is done.
// When ctx ends, Serve performs a graceful shutdown bounded by
// Config.ServerShutdownTimeout. Serve always returns a non-nil error.
func (s *ThreadedServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	log := s.cfg.logger.With().Str("addr", ln.Addr().String()).Logger()
	log.Info().Msg("threaded server listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			timeout := s.template.Config().ServerShutdownTimeout
			sctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := s.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("forced shutdown")
			}
		case <-stop:
		}
	}()

	// Workflows keep running through a graceful shutdown.
	workCtx := context.WithoutCancel(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				s.wg.Wait()
				return ErrServerClosed
			}
			return fmt.Errorf("%w: accept: %w", ErrTransport, err)
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			s.sem.Release(1)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(workCtx, conn)
	}
}

func (s *ThreadedServer) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	log := s.cfg.logger.With().Str("peer", conn.RemoteAddr().String()).Logger()

	state, err := s.template.Clone()
	if err != nil {
		log.Error().Err(err).Msg("cannot clone template state")
		_ = conn.Close()
		return
	}
	c := state.Contexts()[0]
	c.Transport = transport.NewTCPFromConn(conn, state.Config().DefaultTimeout)

	s.track(state, true)
	defer s.track(state, false)

	exec, err := NewReliableExecutor(state, s.opts...)
	if err != nil {
		log.Error().Err(err).Msg("cannot build executor")
		_ = conn.Close()
		return
	}
	if err := exec.ExecuteWorkflow(ctx); err != nil {
		log.Warn().Err(err).Str("trace_id", state.ID()).Msg("workflow failed")
	}
	if !state.Config().CloseConnections {
		_ = c.Transport.Close()
	}
	log.Debug().Str("trace_id", state.ID()).Bool("planned", state.Trace().ExecutedAsPlanned()).Msg("connection finished")
}

func (s *ThreadedServer) track(state *State, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.active[state.ID()] = state
	} else {
		delete(s.active, state.ID())
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *ThreadedServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of workflows currently running.
func (s *ThreadedServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops accepting connections and waits for active workflows to
// finish. If ctx ends first, the remaining connections are force-closed and
// ctx.Err() is returned.
func (s *ThreadedServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for _, state := range s.active {
		for _, c := range state.Contexts() {
			if c.Transport != nil {
				_ = c.Transport.Close()
			}
		}
	}
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return ctx.Err()
}
