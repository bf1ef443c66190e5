package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/handshake-go/workflow/transport"
)

// isTransportError reports whether err is an I/O level failure that should be
// absorbed into context flags rather than abort the workflow.
func isTransportError(err error) bool {
	var ioErr *transport.IOError
	return errors.As(err, &ioErr) ||
		errors.Is(err, transport.ErrTimeout) ||
		errors.Is(err, transport.ErrNotInitialized) ||
		errors.Is(err, transport.ErrNoPeer)
}

// SendAction writes messages to one connection.
type SendAction struct {
	actionBase
	Alias string
	Msgs  []Message

	prepared [][]byte
}

// NewSendAction returns an action sending msgs over alias.
func NewSendAction(alias string, msgs ...Message) *SendAction {
	return &SendAction{Alias: alias, Msgs: msgs}
}

func (a *SendAction) Kind() string         { return ActionSend }
func (a *SendAction) Aliases() []string    { return []string{a.Alias} }
func (a *SendAction) SendingAlias() string { return a.Alias }
func (a *SendAction) Messages() []Message  { return a.Msgs }
func (a *SendAction) Prepared() [][]byte   { return a.prepared }

func (a *SendAction) Execute(ctx context.Context, s *State) error {
	c, err := s.Context(a.Alias)
	if err != nil {
		return err
	}
	planned, prepared, err := send(ctx, c, a.Msgs)
	a.prepared = prepared
	if err != nil {
		return err
	}
	a.finish(planned)
	return nil
}

func (a *SendAction) Reset() {
	a.actionBase.Reset()
	a.prepared = nil
}

func (a *SendAction) Clone() Action {
	return &SendAction{Alias: a.Alias, Msgs: cloneMessages(a.Msgs)}
}

func (a *SendAction) setDefaultAlias(alias string) {
	if a.Alias == "" {
		a.Alias = alias
	}
}

// send pushes msgs through the layer stack. Transport failures set the
// context flag and report planned=false with a nil error.
func send(ctx context.Context, c *Context, msgs []Message) (bool, [][]byte, error) {
	prepared, err := c.Layers.Send(ctx, msgs)
	if err == nil {
		return true, prepared, nil
	}
	if isTransportError(err) {
		c.ReceivedTransportHandlerException = true
		return false, prepared, nil
	}
	return false, prepared, err
}

// ReceiveAction reads messages from one connection and compares their kinds
// with the expected sequence.
type ReceiveAction struct {
	actionBase
	Alias    string
	Expected []string

	received []Message
}

// NewReceiveAction returns an action that expects messages of the given
// kinds, in order, on alias. With no expected kinds the action is planned
// only if nothing arrives.
func NewReceiveAction(alias string, expectedKinds ...string) *ReceiveAction {
	return &ReceiveAction{Alias: alias, Expected: expectedKinds}
}

func (a *ReceiveAction) Kind() string            { return ActionReceive }
func (a *ReceiveAction) Aliases() []string       { return []string{a.Alias} }
func (a *ReceiveAction) ReceivingAlias() string  { return a.Alias }
func (a *ReceiveAction) ExpectedKinds() []string { return a.Expected }
func (a *ReceiveAction) Received() []Message     { return a.received }

func (a *ReceiveAction) Execute(ctx context.Context, s *State) error {
	c, err := s.Context(a.Alias)
	if err != nil {
		return err
	}
	received, ok, err := receive(ctx, c, len(a.Expected))
	a.received = received
	if err != nil {
		return err
	}
	a.finish(ok && kindsMatch(received, a.Expected))
	return nil
}

func (a *ReceiveAction) Reset() {
	a.actionBase.Reset()
	a.received = nil
}

func (a *ReceiveAction) Clone() Action {
	return &ReceiveAction{Alias: a.Alias, Expected: append([]string(nil), a.Expected...)}
}

func (a *ReceiveAction) setDefaultAlias(alias string) {
	if a.Alias == "" {
		a.Alias = alias
	}
}

// receive reads until want messages arrived, the read timed out, or the peer
// closed or sent a fatal alert. A peer close is an observation, not a
// transport failure. want == 0 performs a single read. ok is false when the
// transport failed.
func receive(ctx context.Context, c *Context, want int) (received []Message, ok bool, err error) {
	for {
		msgs, rerr := c.Layers.Receive(ctx)
		if len(msgs) > 0 {
			c.observe(msgs)
			received = append(received, msgs...)
		}
		if rerr != nil {
			if errors.Is(rerr, transport.ErrTimeout) || errors.Is(rerr, transport.ErrPeerClosed) {
				return received, true, nil
			}
			if isTransportError(rerr) {
				c.ReceivedTransportHandlerException = true
				return received, false, nil
			}
			return received, false, rerr
		}
		if want == 0 || len(received) >= want || c.ReceivedFatalAlert || len(msgs) == 0 {
			return received, true, nil
		}
	}
}

func kindsMatch(msgs []Message, kinds []string) bool {
	if len(msgs) != len(kinds) {
		return false
	}
	for i, m := range msgs {
		if m.Kind != kinds[i] {
			return false
		}
	}
	return true
}

// ResetConnectionAction closes and reopens the transport of one connection.
type ResetConnectionAction struct {
	actionBase
	Alias string
}

// NewResetConnectionAction returns an action resetting alias.
func NewResetConnectionAction(alias string) *ResetConnectionAction {
	return &ResetConnectionAction{Alias: alias}
}

func (a *ResetConnectionAction) Kind() string      { return ActionReset }
func (a *ResetConnectionAction) Aliases() []string { return []string{a.Alias} }

func (a *ResetConnectionAction) Execute(ctx context.Context, s *State) error {
	c, err := s.Context(a.Alias)
	if err != nil {
		return err
	}
	_ = c.Transport.Close()
	c.Layers.Reset()
	c.WriteEpoch = 0
	c.OpenEpochs = []int{0}

	if err := c.Transport.Initialize(ctx); err != nil {
		c.ReceivedTransportHandlerException = true
		a.finish(false)
		return nil
	}
	if err := c.Layers.Init(ctx); err != nil {
		return err
	}
	a.finish(true)
	return nil
}

func (a *ResetConnectionAction) Clone() Action {
	return &ResetConnectionAction{Alias: a.Alias}
}

func (a *ResetConnectionAction) setDefaultAlias(alias string) {
	if a.Alias == "" {
		a.Alias = alias
	}
}

// ChangeStateAction sets one Context field without any I/O.
type ChangeStateAction struct {
	actionBase
	Alias string
	Field string
	Value string
}

// NewChangeStateAction returns an action setting field to value on alias.
func NewChangeStateAction(alias, field, value string) *ChangeStateAction {
	return &ChangeStateAction{Alias: alias, Field: field, Value: value}
}

func (a *ChangeStateAction) Kind() string                    { return ActionChangeState }
func (a *ChangeStateAction) Aliases() []string               { return []string{a.Alias} }
func (a *ChangeStateAction) Mutation() (field, value string) { return a.Field, a.Value }

func (a *ChangeStateAction) Execute(ctx context.Context, s *State) error {
	c, err := s.Context(a.Alias)
	if err != nil {
		return err
	}
	if err := c.Set(a.Field, a.Value); err != nil {
		return err
	}
	a.finish(true)
	return nil
}

func (a *ChangeStateAction) Clone() Action {
	return &ChangeStateAction{Alias: a.Alias, Field: a.Field, Value: a.Value}
}

func (a *ChangeStateAction) setDefaultAlias(alias string) {
	if a.Alias == "" {
		a.Alias = alias
	}
}

// WaitAction sleeps for a fixed duration.
type WaitAction struct {
	actionBase
	Duration time.Duration
}

// NewWaitAction returns an action that waits for d.
func NewWaitAction(d time.Duration) *WaitAction {
	return &WaitAction{Duration: d}
}

func (a *WaitAction) Kind() string      { return ActionWait }
func (a *WaitAction) Aliases() []string { return nil }

func (a *WaitAction) Execute(ctx context.Context, s *State) error {
	timer := time.NewTimer(a.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		a.finish(true)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *WaitAction) Clone() Action {
	return &WaitAction{Duration: a.Duration}
}

// ForwardAction receives messages on one connection and sends them unchanged
// over another. It has both the sending and the receiving capability.
type ForwardAction struct {
	actionBase
	From     string
	To       string
	Expected []string

	received []Message
	prepared [][]byte
}

// NewForwardAction returns an action relaying messages from one alias to another.
func NewForwardAction(from, to string, expectedKinds ...string) *ForwardAction {
	return &ForwardAction{From: from, To: to, Expected: expectedKinds}
}

func (a *ForwardAction) Kind() string            { return ActionForward }
func (a *ForwardAction) Aliases() []string       { return []string{a.From, a.To} }
func (a *ForwardAction) SendingAlias() string    { return a.To }
func (a *ForwardAction) ReceivingAlias() string  { return a.From }
func (a *ForwardAction) ExpectedKinds() []string { return a.Expected }
func (a *ForwardAction) Received() []Message     { return a.received }
func (a *ForwardAction) Messages() []Message     { return a.received }
func (a *ForwardAction) Prepared() [][]byte      { return a.prepared }

func (a *ForwardAction) Execute(ctx context.Context, s *State) error {
	from, err := s.Context(a.From)
	if err != nil {
		return err
	}
	to, err := s.Context(a.To)
	if err != nil {
		return err
	}

	received, ok, err := receive(ctx, from, len(a.Expected))
	a.received = received
	if err != nil {
		return err
	}
	if len(received) == 0 {
		a.finish(ok && len(a.Expected) == 0)
		return nil
	}

	sent, prepared, err := send(ctx, to, received)
	a.prepared = prepared
	if err != nil {
		return err
	}
	a.finish(ok && sent && kindsMatch(received, a.Expected))
	return nil
}

func (a *ForwardAction) Reset() {
	a.actionBase.Reset()
	a.received = nil
	a.prepared = nil
}

func (a *ForwardAction) Clone() Action {
	return &ForwardAction{From: a.From, To: a.To, Expected: append([]string(nil), a.Expected...)}
}
