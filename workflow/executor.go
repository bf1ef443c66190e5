package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/handshake-go/workflow/emit"
)

// Executor drives one workflow to completion.
type Executor interface {
	// ExecuteWorkflow plays the trace of State. Transport failures and
	// unsupported actions are absorbed into the State; preparation failures
	// abort the trace and are recorded on it. Other failures are returned.
	ExecuteWorkflow(ctx context.Context) error

	// State returns the state being executed.
	State() *State
}

// NewExecutor returns the executor variant selected by the state's
// Config.ExecutorType.
func NewExecutor(state *State, opts ...Option) (Executor, error) {
	switch state.Config().ExecutorType {
	case ExecutorReliable, "":
		return NewReliableExecutor(state, opts...)
	case ExecutorDatagram:
		return NewDatagramExecutor(state, opts...)
	case ExecutorPacket:
		return NewPacketExecutor(state, opts...)
	case ExecutorThreadedServer:
		return NewThreadedServer(state, opts...)
	}
	return nil, &ExecutionError{
		Code:        codeInvalidConfig,
		ActionIndex: -1,
		Message:     fmt.Sprintf("unknown executor type %q", state.Config().ExecutorType),
	}
}

// machine is the state machine shared by all per-trace executor variants.
// Variants differ in their retransmission budget, whether lower layers may
// ask to skip an action, which actions they support, and how they send the
// closing signal.
type machine struct {
	state   *State
	cfg     executorConfig
	variant ExecutorType
	log     zerolog.Logger

	maxRetransmissions int
	allowSkip          bool
	unsupported        func(Action) bool
	closeNotify        func(ctx context.Context, c *Context) error
}

func newMachine(state *State, variant ExecutorType, opts []Option) (*machine, error) {
	if state == nil {
		return nil, errors.New("state cannot be nil")
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &machine{
		state:   state,
		cfg:     cfg,
		variant: variant,
		log: cfg.logger.With().
			Str("trace_id", state.ID()).
			Str("executor", string(variant)).
			Logger(),
	}, nil
}

func (m *machine) State() *State { return m.state }

func (m *machine) emit(step int, action, msg string, meta map[string]interface{}) {
	m.cfg.emitter.Emit(emit.Event{
		TraceID: m.state.ID(),
		Step:    step,
		Action:  action,
		Msg:     msg,
		Meta:    meta,
	})
}

// initialize opens transports and layer stacks for every context and resets
// the trace.
func (m *machine) initialize(ctx context.Context) error {
	if err := m.state.Trace().Validate(); err != nil {
		m.state.recordError(err)
		return err
	}
	if cb := m.cfg.callbacks.BeforeTransportInit; cb != nil {
		if err := cb(m.state); err != nil {
			return fmt.Errorf("before transport init: %w", err)
		}
	}

	cfg := m.state.Config()
	for _, c := range m.state.Contexts() {
		if c.Transport == nil {
			h, err := m.cfg.transportFactory(c.Connection, cfg)
			if err != nil {
				return m.transportInitFailed(c, err)
			}
			c.Transport = h
		}
		if !c.Transport.Initialized() {
			if c.Connection.Timeout > 0 {
				c.Transport.SetTimeout(c.Connection.Timeout)
			} else if cfg.DefaultTimeout > 0 {
				c.Transport.SetTimeout(cfg.DefaultTimeout)
			}
			if err := c.Transport.Initialize(ctx); err != nil {
				return m.transportInitFailed(c, err)
			}
		}
		if c.Layers == nil {
			layers, err := m.cfg.layerFactory(c, cfg)
			if err != nil {
				return m.transportInitFailed(c, err)
			}
			c.Layers = layers
		}
		if err := c.Layers.Init(ctx); err != nil {
			return m.transportInitFailed(c, err)
		}
	}

	if cb := m.cfg.callbacks.AfterTransportInit; cb != nil {
		if err := cb(m.state); err != nil {
			return fmt.Errorf("after transport init: %w", err)
		}
	}

	m.state.Trace().Reset()
	return nil
}

func (m *machine) transportInitFailed(c *Context, err error) error {
	c.ReceivedTransportHandlerException = true
	execErr := &ExecutionError{
		Code:        codeTransportInit,
		ActionIndex: -1,
		Message:     fmt.Sprintf("cannot open connection %q", c.Connection.Alias),
		Cause:       fmt.Errorf("%w: %w", ErrTransport, err),
	}
	m.state.recordError(execErr)
	m.log.Warn().Err(err).Str("alias", c.Connection.Alias).Msg("transport initialization failed")
	m.closeAll()
	return execErr
}

// stopReason reports which stop policy, if any, forbids further actions.
func (m *machine) stopReason() (string, bool) {
	cfg := m.state.Config()
	for _, c := range m.state.Contexts() {
		switch {
		case cfg.StopActionsAfterFatal && c.ReceivedFatalAlert:
			return "fatal alert received on " + c.Connection.Alias, true
		case cfg.StopActionsAfterWarning && c.ReceivedWarningAlert:
			return "warning alert received on " + c.Connection.Alias, true
		case cfg.StopActionsAfterIOException && c.ReceivedTransportHandlerException:
			return "transport exception on " + c.Connection.Alias, true
		}
	}
	return "", false
}

// step outcomes.
type stepResult int

const (
	stepDone stepResult = iota
	stepSkipped
	stepAbort
)

// executeAction runs one action and classifies its failure. A non-nil error
// is fatal for the workflow.
func (m *machine) executeAction(ctx context.Context, i int, a Action) (stepResult, error) {
	kind := a.Kind()
	m.emit(i, kind, emit.MsgActionStart, nil)
	start := time.Now()

	var err error
	if m.unsupported != nil && m.unsupported(a) {
		err = fmt.Errorf("%w: %s in %s executor", ErrUnsupportedOperation, kind, m.variant)
	} else {
		err = a.Execute(ctx, m.state)
	}

	switch {
	case err == nil:
		planned := a.ExecutedAsPlanned()
		m.cfg.metrics.RecordAction(kind, planned)
		m.emit(i, kind, emit.MsgActionEnd, map[string]interface{}{
			"planned":     planned,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return stepDone, nil

	case errors.Is(err, ErrUnsupportedOperation):
		m.log.Warn().Err(err).Int("step", i).Str("action", kind).Msg("action not supported, skipping")
		m.state.unsupported = append(m.state.unsupported, i)
		markSkipped(a)
		m.emit(i, kind, emit.MsgActionEnd, map[string]interface{}{"unsupported": true})
		return stepSkipped, nil

	case m.allowSkip && errors.Is(err, ErrSkipAction):
		m.log.Debug().Int("step", i).Str("action", kind).Msg("lower layer requested skip")
		markSkipped(a)
		m.emit(i, kind, emit.MsgActionEnd, map[string]interface{}{"skipped": true})
		return stepSkipped, nil

	case errors.Is(err, ErrPreparation):
		m.log.Error().Err(err).Int("step", i).Str("action", kind).Msg("preparation failed, aborting trace")
		m.state.recordError(&ExecutionError{Code: codePreparation, ActionIndex: i, Message: "cannot prepare " + kind, Cause: err})
		m.emit(i, kind, emit.MsgTraceAborted, map[string]interface{}{"error": err.Error()})
		return stepAbort, nil
	}

	execErr := &ExecutionError{Code: codeActionFailed, ActionIndex: i, Message: kind + " failed", Cause: err}
	m.state.recordError(execErr)
	m.log.Error().Err(err).Int("step", i).Str("action", kind).Msg("action failed")
	m.emit(i, kind, emit.MsgTraceAborted, map[string]interface{}{"error": err.Error()})
	return stepAbort, execErr
}

// run plays the trace. With a positive retransmission budget it rewinds the
// current flight whenever an action did not execute as planned.
func (m *machine) run(ctx context.Context) error {
	if err := m.initialize(ctx); err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Code == codeTransportInit {
			m.recordFinalSocketStates()
			return nil
		}
		return err
	}

	actions := m.state.Trace().Actions()
	cfg := m.state.Config()

	flightStart, frontier, retries := 0, 0, 0
	for i := 0; i < len(actions); i++ {
		a := actions[i]

		if i >= frontier {
			frontier = i + 1
			if i > 0 && IsReceiving(actions[i-1]) && !IsReceiving(a) {
				flightStart, retries = i, 0
			}
		}

		if reason, stop := m.stopReason(); stop {
			m.log.Debug().Int("step", i).Str("reason", reason).Msg("stop policy triggered, skipping remaining actions")
			m.emit(i, a.Kind(), emit.MsgTraceAborted, map[string]interface{}{"reason": reason})
			break
		}

		res, err := m.executeAction(ctx, i, a)
		if err != nil {
			m.recordFinalSocketStates()
			m.closeAll()
			return err
		}
		if res == stepAbort {
			break
		}
		if res == stepSkipped || a.ExecutedAsPlanned() {
			continue
		}

		if retries < m.maxRetransmissions {
			retries++
			resume := m.retransmitFlight(ctx, actions, flightStart, i, retries)
			for j := resume; j <= i; j++ {
				actions[j].Reset()
			}
			i = resume - 1
			continue
		}

		if cfg.StopTraceAfterUnexpected {
			m.log.Debug().Int("step", i).Str("action", a.Kind()).Msg("action not executed as planned, stopping trace")
			m.emit(i, a.Kind(), emit.MsgTraceAborted, map[string]interface{}{"reason": "unexpected"})
			break
		}
	}

	return m.finish(ctx)
}

// retransmitFlight resends the prepared bytes of the sending actions that
// open the flight and returns the index execution resumes at: the first
// receiving action of the flight. Sending and state-changing actions before
// it are not executed again.
func (m *machine) retransmitFlight(ctx context.Context, actions []Action, flightStart, failed, attempt int) int {
	resume := failed
	for j := flightStart; j < failed; j++ {
		if IsReceiving(actions[j]) {
			resume = j
			break
		}
	}

	m.log.Debug().Int("step", failed).Int("flight_start", flightStart).Int("attempt", attempt).Msg("retransmitting flight")
	m.cfg.metrics.IncrementRetransmissions(string(m.variant))
	m.emit(failed, actions[failed].Kind(), emit.MsgRetransmission, map[string]interface{}{
		"attempt":      attempt,
		"flight_start": flightStart,
	})

	for j := flightStart; j < resume; j++ {
		s, ok := actions[j].(SendingAction)
		if !ok || IsReceiving(actions[j]) || len(s.Prepared()) == 0 {
			continue
		}
		c, err := m.state.Context(s.SendingAlias())
		if err != nil {
			continue
		}
		if err := c.Layers.Retransmit(ctx, s.Prepared()); err != nil {
			if isTransportError(err) {
				c.ReceivedTransportHandlerException = true
			}
			m.log.Debug().Err(err).Int("step", j).Msg("retransmission failed")
		}
	}
	return resume
}

// finish sends the closing signal, records socket states, closes connections
// and runs the completion callback.
func (m *machine) finish(ctx context.Context) error {
	cfg := m.state.Config()
	for _, c := range m.state.Contexts() {
		if c.Transport == nil || c.Layers == nil || !c.Transport.Initialized() {
			continue
		}
		if cfg.FinishWithCloseNotify && m.closeNotify != nil {
			if err := m.closeNotify(ctx, c); err != nil {
				m.log.Debug().Err(err).Str("alias", c.Connection.Alias).Msg("close notify failed")
			}
		}
		if f, ok := c.Layers.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				m.log.Debug().Err(err).Str("alias", c.Connection.Alias).Msg("flush failed")
			}
		}
	}

	m.recordFinalSocketStates()
	if cfg.CloseConnections {
		m.closeAll()
	}

	m.emit(0, "", emit.MsgTraceComplete, map[string]interface{}{
		"planned": m.state.Trace().ExecutedAsPlanned(),
	})

	if cb := m.cfg.callbacks.AfterExecution; cb != nil {
		if err := cb(m.state); err != nil {
			return fmt.Errorf("after execution: %w", err)
		}
	}
	return nil
}

func (m *machine) recordFinalSocketStates() {
	for _, c := range m.state.Contexts() {
		if c.Transport != nil {
			c.FinalSocketState = c.Transport.State()
		}
	}
}

func (m *machine) closeAll() {
	for _, c := range m.state.Contexts() {
		if c.Transport == nil {
			continue
		}
		if err := c.Transport.Close(); err != nil {
			m.log.Debug().Err(err).Str("alias", c.Connection.Alias).Msg("close failed")
		}
	}
}

// closeNotifyCurrent sends one close signal in the current write epoch.
func closeNotifyCurrent(ctx context.Context, c *Context) error {
	return c.Layers.CloseNotify(ctx, c.WriteEpoch)
}

// closeNotifyAllEpochs sends one close signal per open epoch, newest first.
func closeNotifyAllEpochs(ctx context.Context, c *Context) error {
	var errs []error
	for i := len(c.OpenEpochs) - 1; i >= 0; i-- {
		if err := c.Layers.CloseNotify(ctx, c.OpenEpochs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
