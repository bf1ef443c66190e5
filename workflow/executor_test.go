package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/workflow/emit"
	"github.com/dshills/handshake-go/workflow/transport"
)

func run(t *testing.T, state *State, env *fakeEnv, opts ...Option) error {
	t.Helper()
	exec, err := NewExecutor(state, append(env.options(), opts...)...)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return exec.ExecuteWorkflow(context.Background())
}

func TestNewExecutor_Variants(t *testing.T) {
	tests := []struct {
		typ  ExecutorType
		want string
	}{
		{ExecutorReliable, "*workflow.ReliableExecutor"},
		{ExecutorDatagram, "*workflow.DatagramExecutor"},
		{ExecutorPacket, "*workflow.PacketExecutor"},
		{ExecutorThreadedServer, "*workflow.ThreadedServer"},
	}
	for _, tt := range tests {
		exec, err := NewExecutor(NewState(testConfig(tt.typ), clientTrace()))
		if err != nil {
			t.Fatalf("%s: %v", tt.typ, err)
		}
		if got := fmt.Sprintf("%T", exec); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.typ, tt.want, got)
		}
	}

	if _, err := NewExecutor(NewState(testConfig("smoke-signals"), clientTrace())); err == nil {
		t.Error("expected error for unknown executor type")
	}
}

func TestReliableExecutor_RunsActionsInOrder(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{responses: [][]Message{{handshake("sh"), handshake("cert")}}}
	})
	events := emit.NewBufferedEmitter()
	registry := prometheus.NewRegistry()

	state := NewState(testConfig(ExecutorReliable), clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake, KindHandshake),
		NewChangeStateAction("client", FieldVersion, "TLS12"),
	))

	if err := run(t, state, env, WithEmitter(events), WithMetrics(metrics.NewPrometheusMetrics(registry))); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if !state.Trace().ExecutedAsPlanned() {
		t.Error("expected trace executed as planned")
	}

	c, _ := state.Context("client")
	if c.Version != "TLS12" {
		t.Errorf("expected negotiated version TLS12, got %q", c.Version)
	}
	if len(c.Received) != 2 {
		t.Errorf("expected 2 received messages, got %d", len(c.Received))
	}
	if env.handlers["client"].closes != 1 {
		t.Errorf("expected connection closed once, got %d", env.handlers["client"].closes)
	}

	starts := events.GetHistoryWithFilter(state.ID(), emit.HistoryFilter{Msg: emit.MsgActionStart})
	want := []string{ActionSend, ActionReceive, ActionChangeState}
	if len(starts) != len(want) {
		t.Fatalf("expected %d action_start events, got %d", len(want), len(starts))
	}
	for i, e := range starts {
		if e.Action != want[i] || e.Step != i {
			t.Errorf("event %d: expected %s at step %d, got %s at %d", i, want[i], i, e.Action, e.Step)
		}
	}
	if events.Count(emit.MsgTraceComplete) != 1 {
		t.Error("expected one trace_complete event")
	}
}

func TestReliableExecutor_ResetReproducesSequence(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{responses: [][]Message{{handshake("sh")}}}
	})
	events := emit.NewBufferedEmitter()
	state := NewState(testConfig(ExecutorReliable), clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
		NewResetConnectionAction("client"),
		NewSendAction("client", handshake("ch2")),
	))

	sequence := func() []string {
		var kinds []string
		for _, e := range events.GetHistoryWithFilter(state.ID(), emit.HistoryFilter{Msg: emit.MsgActionStart}) {
			kinds = append(kinds, e.Action)
		}
		events.Clear(state.ID())
		return kinds
	}

	if err := run(t, state, env, WithEmitter(events)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := sequence()

	state.Reset()
	if err := run(t, state, env, WithEmitter(events)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := sequence()

	if fmt.Sprint(first) != fmt.Sprint(second) || len(first) != 4 {
		t.Errorf("expected identical 4-action sequences, got %v and %v", first, second)
	}
	if !state.Trace().ExecutedAsPlanned() {
		t.Error("expected second run executed as planned")
	}
}

func TestExecutor_PreparationErrorAbortsTrace(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{sendErrs: []error{fmt.Errorf("%w: missing premaster secret", ErrPreparation)}}
	})
	state := NewState(testConfig(ExecutorReliable), clientTrace(
		NewSendAction("client", handshake("cke")),
		NewReceiveAction("client", KindHandshake),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("preparation errors must not escape, got %v", err)
	}

	var execErr *ExecutionError
	if !errors.As(state.ExecutionError(), &execErr) {
		t.Fatalf("expected recorded ExecutionError, got %v", state.ExecutionError())
	}
	if execErr.Code != codePreparation || execErr.ActionIndex != 0 {
		t.Errorf("expected PREPARATION at 0, got %s at %d", execErr.Code, execErr.ActionIndex)
	}
	if !errors.Is(state.ExecutionError(), ErrPreparation) {
		t.Error("expected recorded error to wrap ErrPreparation")
	}
	if state.Trace().Actions()[1].Executed() {
		t.Error("expected remaining actions not executed")
	}
}

func TestExecutor_FatalErrorIsReturned(t *testing.T) {
	boom := errors.New("decoder exploded")
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{recvErr: boom} })
	state := NewState(testConfig(ExecutorReliable), clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
	))

	err := run(t, state, env)
	if !errors.Is(err, boom) {
		t.Fatalf("expected fatal error to be returned, got %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.ActionIndex != 1 {
		t.Errorf("expected ExecutionError at index 1, got %v", err)
	}
	if state.ExecutionError() == nil {
		t.Error("expected error recorded on state")
	}
	if env.handlers["client"].closes == 0 {
		t.Error("expected connections closed after fatal error")
	}
}

func TestExecutor_TransportInitFailureIsAbsorbed(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{} })
	env.initErr = errors.New("connection refused")
	state := NewState(testConfig(ExecutorReliable), clientTrace(NewSendAction("client", handshake("ch"))))

	if err := run(t, state, env); err != nil {
		t.Fatalf("transport failures must not escape, got %v", err)
	}
	if !state.HasTransportException() {
		t.Error("expected transport exception flag")
	}
	if !errors.Is(state.ExecutionError(), ErrTransport) {
		t.Errorf("expected ErrTransport recorded, got %v", state.ExecutionError())
	}
	if state.Trace().Actions()[0].Executed() {
		t.Error("expected no action executed")
	}
}

func TestExecutor_StopPolicies(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Config)
		response  Message
		wantRun   bool
	}{
		{"fatal alert stops", func(c *Config) { c.StopActionsAfterFatal = true }, NewAlertMessage(AlertFatal, 20), false},
		{"fatal alert ignored", func(c *Config) { c.StopActionsAfterFatal = false }, NewAlertMessage(AlertFatal, 20), true},
		{"warning alert stops", func(c *Config) { c.StopActionsAfterWarning = true }, NewAlertMessage(AlertWarning, 0), false},
		{"unexpected stops", func(c *Config) {
			c.StopActionsAfterFatal = false
			c.StopTraceAfterUnexpected = true
		}, handshake("wrong"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newFakeEnv(func(string) *fakeLayers {
				return &fakeLayers{responses: [][]Message{{tt.response}}}
			})
			cfg := testConfig(ExecutorReliable)
			tt.configure(&cfg)
			state := NewState(cfg, clientTrace(
				NewReceiveAction("client", KindChangeCipherSpec),
				NewSendAction("client", handshake("fin")),
			))

			if err := run(t, state, env); err != nil {
				t.Fatalf("ExecuteWorkflow: %v", err)
			}
			if got := state.Trace().Actions()[1].Executed(); got != tt.wantRun {
				t.Errorf("second action executed = %v, want %v", got, tt.wantRun)
			}
		})
	}
}

func TestExecutor_Callbacks(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{} })
	var order []string
	cb := Callbacks{
		BeforeTransportInit: func(s *State) error {
			if s.Contexts()[0].Transport != nil {
				t.Error("transport opened before BeforeTransportInit")
			}
			order = append(order, "before")
			return nil
		},
		AfterTransportInit: func(s *State) error {
			if !s.Contexts()[0].Transport.Initialized() {
				t.Error("transport not open in AfterTransportInit")
			}
			order = append(order, "after-init")
			return nil
		},
		AfterExecution: func(s *State) error {
			order = append(order, "after-exec")
			return nil
		},
	}
	state := NewState(testConfig(ExecutorReliable), clientTrace(NewWaitAction(0)))
	if err := run(t, state, env, WithCallbacks(cb)); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if fmt.Sprint(order) != "[before after-init after-exec]" {
		t.Errorf("unexpected callback order %v", order)
	}
}

func TestDatagramExecutor_ExactRetransmissionBudget(t *testing.T) {
	for _, k := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{} })
			events := emit.NewBufferedEmitter()
			cfg := testConfig(ExecutorDatagram)
			cfg.MaxRetransmissions = k
			state := NewState(cfg, clientTrace(
				NewSendAction("client", handshake("ch")),
				NewReceiveAction("client", KindHandshake),
			))

			if err := run(t, state, env, WithEmitter(events)); err != nil {
				t.Fatalf("ExecuteWorkflow: %v", err)
			}
			if got := env.layers["client"].retrans; got != k {
				t.Errorf("expected exactly %d retransmissions, got %d", k, got)
			}
			if got := events.Count(emit.MsgRetransmission); got != k {
				t.Errorf("expected %d retransmission events, got %d", k, got)
			}
			if state.Trace().ExecutedAsPlanned() {
				t.Error("expected trace not executed as planned")
			}
			if got := len(env.layers["client"].sent); got != 1 {
				t.Errorf("flight messages must not be rebuilt, got %d sends", got)
			}
		})
	}
}

func TestDatagramExecutor_RetransmissionRecovers(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{respondAfter: 1, responses: [][]Message{{handshake("hvr")}}}
	})
	cfg := testConfig(ExecutorDatagram)
	cfg.MaxRetransmissions = 3
	state := NewState(cfg, clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if got := env.layers["client"].retrans; got != 1 {
		t.Errorf("expected 1 retransmission, got %d", got)
	}
	if !state.Trace().ExecutedAsPlanned() {
		t.Error("expected trace to recover after retransmission")
	}
}

func TestDatagramExecutor_CounterResetsPerFlight(t *testing.T) {
	// Each receive is answered only after a fresh retransmission. With a
	// budget of 1 both flights complete only if the counter restarts per flight.
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{
			answerPerRetransmit: true,
			responses:           [][]Message{{handshake("sh")}, {handshake("fin")}},
		}
	})
	cfg := testConfig(ExecutorDatagram)
	cfg.MaxRetransmissions = 1
	state := NewState(cfg, clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
		NewSendAction("client", handshake("fin")),
		NewReceiveAction("client", KindHandshake),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if got := env.layers["client"].retrans; got != 2 {
		t.Errorf("expected 2 retransmissions (one per flight), got %d", got)
	}
	if !state.Trace().ExecutedAsPlanned() {
		t.Error("expected both flights to complete")
	}
}

func TestDatagramExecutor_FlightStartsAfterStateChange(t *testing.T) {
	// The second flight opens with an epoch change. A timeout on its receive
	// must resend the prepared Finished bytes, not the ClientHello, and must
	// not run the epoch change or rebuild Finished.
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{responses: [][]Message{{handshake("sh")}}}
	})
	cfg := testConfig(ExecutorDatagram)
	cfg.MaxRetransmissions = 2
	state := NewState(cfg, clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
		NewChangeStateAction("client", FieldWriteEpoch, "1"),
		NewSendAction("client", handshake("fin")),
		NewReceiveAction("client", KindHandshake),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	layers := env.layers["client"]
	if layers.retrans != 2 {
		t.Errorf("expected 2 retransmissions, got %d", layers.retrans)
	}
	if got := len(layers.sent); got != 2 {
		t.Errorf("expected ch and fin to be built once each, got %d sends", got)
	}
	for i, rec := range layers.resent {
		if string(rec) != KindHandshake+":fin" {
			t.Errorf("retransmission %d: expected the fin flight, got %q", i, rec)
		}
	}
	epochChanges := 0
	for _, e := range layers.epochsSet {
		if e == 1 {
			epochChanges++
		}
	}
	if epochChanges != 1 {
		t.Errorf("expected the epoch change to run once, got %d", epochChanges)
	}
}

func TestDatagramExecutor_CloseNotifyPerEpoch(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{} })
	cfg := testConfig(ExecutorDatagram)
	cfg.FinishWithCloseNotify = true
	state := NewState(cfg, clientTrace(
		NewChangeStateAction("client", FieldWriteEpoch, "1"),
		NewChangeStateAction("client", FieldWriteEpoch, "2"),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if got := fmt.Sprint(env.layers["client"].closes); got != "[2 1 0]" {
		t.Errorf("expected close notify for epochs newest first [2 1 0], got %s", got)
	}
}

func TestReliableExecutor_CloseNotifyOnce(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{} })
	cfg := testConfig(ExecutorReliable)
	cfg.FinishWithCloseNotify = true
	state := NewState(cfg, clientTrace(NewChangeStateAction("client", FieldWriteEpoch, "1")))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if got := fmt.Sprint(env.layers["client"].closes); got != "[1]" {
		t.Errorf("expected a single close notify in epoch 1, got %s", got)
	}
}

func TestPacketExecutor_SkipAndUnsupported(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{sendErrs: []error{nil, ErrSkipAction}}
	})
	cfg := testConfig(ExecutorPacket)
	cfg.StopTraceAfterUnexpected = true

	trace := NewWorkflowTrace("quic")
	_ = trace.AddConnection(NewConnection("client", RoleInitiator, "a"))
	_ = trace.AddConnection(NewConnection("server", RoleInitiator, "b"))
	trace.AddAction(
		NewSendAction("client", Message{Kind: KindPacket, Payload: []byte("initial")}),
		NewSendAction("client", Message{Kind: KindPacket, Payload: []byte("coalesced")}),
		NewForwardAction("client", "server"),
		NewWaitAction(0),
	)
	state := NewState(cfg, trace)

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	skipped := state.Trace().Actions()[1]
	if !skipped.ExecutedAsPlanned() {
		t.Error("skipped action must not count as failed")
	}
	if got := state.UnsupportedActions(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected forward at index 2 reported unsupported, got %v", got)
	}
	if !state.Trace().Actions()[3].Executed() {
		t.Error("expected trace to continue after unsupported action")
	}
	if state.ExecutionError() != nil {
		t.Errorf("expected no execution error, got %v", state.ExecutionError())
	}
}

func TestReliableExecutor_SkipSignalIsFatal(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers { return &fakeLayers{sendErrs: []error{ErrSkipAction}} })
	state := NewState(testConfig(ExecutorReliable), clientTrace(NewSendAction("client", handshake("x"))))

	if err := run(t, state, env); !errors.Is(err, ErrSkipAction) {
		t.Errorf("expected skip signal to be fatal outside the packet executor, got %v", err)
	}
}

func TestForwardAction(t *testing.T) {
	env := newFakeEnv(func(alias string) *fakeLayers {
		if alias == "client" {
			return &fakeLayers{responses: [][]Message{{handshake("ch")}}}
		}
		return &fakeLayers{}
	})
	trace := NewWorkflowTrace("mitm")
	_ = trace.AddConnection(NewConnection("client", RoleResponder, ":0"))
	_ = trace.AddConnection(NewConnection("server", RoleInitiator, "target"))
	trace.AddAction(NewForwardAction("client", "server", KindHandshake))
	state := NewState(testConfig(ExecutorReliable), trace)

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if !state.Trace().ExecutedAsPlanned() {
		t.Error("expected forward executed as planned")
	}
	sent := env.layers["server"].sent
	if len(sent) != 1 || string(sent[0][0].Payload) != "ch" {
		t.Errorf("expected ch forwarded to server, got %v", sent)
	}
}

func TestReliableExecutor_PeerCloseEndsReceive(t *testing.T) {
	env := newFakeEnv(func(string) *fakeLayers {
		return &fakeLayers{recvErr: transport.ErrPeerClosed}
	})
	state := NewState(testConfig(ExecutorReliable), clientTrace(
		NewSendAction("client", handshake("ch")),
		NewReceiveAction("client", KindHandshake),
		NewSendAction("client", handshake("fin")),
	))

	if err := run(t, state, env); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if state.HasTransportException() {
		t.Error("peer close must not raise the transport exception flag")
	}
	if state.ExecutionError() != nil {
		t.Errorf("unexpected execution error %v", state.ExecutionError())
	}
	actions := state.Trace().Actions()
	if !actions[1].Executed() || actions[1].ExecutedAsPlanned() {
		t.Error("receive should run and miss its expected handshake")
	}
	if !actions[2].Executed() {
		t.Error("stop policies must not trigger on a peer close")
	}
}
