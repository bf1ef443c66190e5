package oracle

import (
	"fmt"

	"github.com/dshills/handshake-go/workflow"
)

// TraceBuilder turns a vector into an executable, unexecuted trace. Every
// call must return a trace that shares nothing with earlier results.
type TraceBuilder interface {
	Build(v Vector) (*workflow.WorkflowTrace, error)
}

// TraceBuilderFunc adapts a function to TraceBuilder.
type TraceBuilderFunc func(v Vector) (*workflow.WorkflowTrace, error)

// Build calls f.
func (f TraceBuilderFunc) Build(v Vector) (*workflow.WorkflowTrace, error) { return f(v) }

// PayloadTraceBuilder clones Template and splices the vector payload into one
// message of one send action: bytes from Offset onward are replaced by the
// payload.
type PayloadTraceBuilder struct {
	Template     *workflow.WorkflowTrace
	SendIndex    int
	MessageIndex int
	Offset       int
}

// Build implements TraceBuilder.
func (b PayloadTraceBuilder) Build(v Vector) (*workflow.WorkflowTrace, error) {
	if b.Template == nil {
		return nil, &ConfigError{Field: "Template", Message: "trace template is nil"}
	}

	trace := b.Template.Clone()
	actions := trace.Actions()
	if b.SendIndex < 0 || b.SendIndex >= len(actions) {
		return nil, &ConfigError{Field: "SendIndex", Message: fmt.Sprintf("index %d out of range [0,%d)", b.SendIndex, len(actions))}
	}
	send, ok := actions[b.SendIndex].(*workflow.SendAction)
	if !ok {
		return nil, &ConfigError{Field: "SendIndex", Message: fmt.Sprintf("action %d is %q, not a send action", b.SendIndex, actions[b.SendIndex].Kind())}
	}
	if b.MessageIndex < 0 || b.MessageIndex >= len(send.Msgs) {
		return nil, &ConfigError{Field: "MessageIndex", Message: fmt.Sprintf("index %d out of range [0,%d)", b.MessageIndex, len(send.Msgs))}
	}

	msg := &send.Msgs[b.MessageIndex]
	if b.Offset < 0 || b.Offset > len(msg.Payload) {
		return nil, &ConfigError{Field: "Offset", Message: fmt.Sprintf("offset %d beyond payload of %d bytes", b.Offset, len(msg.Payload))}
	}

	payload := make([]byte, 0, b.Offset+len(v.Payload()))
	payload = append(payload, msg.Payload[:b.Offset]...)
	payload = append(payload, v.Payload()...)
	msg.Payload = payload
	return trace, nil
}
