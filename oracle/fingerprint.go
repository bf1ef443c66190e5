package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/transport"
)

// ResponseFingerprint is the comparable summary of what a target did in
// response to one vector. It is immutable once extracted.
type ResponseFingerprint struct {
	MessageKinds  []string              `json:"message_kinds"`
	LastKind      string                `json:"last_kind,omitempty"`
	LastPayload   []byte                `json:"last_payload,omitempty"`
	Alerts        []workflow.Alert      `json:"alerts,omitempty"`
	RecordLengths []int                 `json:"record_lengths,omitempty"`
	SocketState   transport.SocketState `json:"socket_state"`
	Elapsed       time.Duration         `json:"elapsed"`
}

// String renders the fingerprint for reports, e.g.
// "HANDSHAKE,ALERT[FATAL(20)] socket=CLOSED".
func (f ResponseFingerprint) String() string {
	var b strings.Builder
	if len(f.MessageKinds) == 0 {
		b.WriteString("<nothing>")
	}
	for i, k := range f.MessageKinds {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
	}
	if len(f.Alerts) > 0 {
		b.WriteByte('[')
		for i, a := range f.Alerts {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.String())
		}
		b.WriteByte(']')
	}
	fmt.Fprintf(&b, " socket=%s", f.SocketState)
	return b.String()
}

// Observation is what an Extractor gets to look at for one completed task.
type Observation struct {
	State   *workflow.State
	Elapsed time.Duration
}

// Extractor builds a fingerprint from one completed, non-erroneous task.
type Extractor interface {
	Extract(obs Observation) (ResponseFingerprint, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(obs Observation) (ResponseFingerprint, error)

// Extract calls f.
func (f ExtractorFunc) Extract(obs Observation) (ResponseFingerprint, error) { return f(obs) }

// DefaultExtractor fingerprints the connection of the trace's last receiving
// action (or the first connection when the trace never receives).
type DefaultExtractor struct{}

// Extract implements Extractor.
func (DefaultExtractor) Extract(obs Observation) (ResponseFingerprint, error) {
	if obs.State == nil {
		return ResponseFingerprint{}, errors.New("observation has no state")
	}

	var c *workflow.Context
	if r := obs.State.Trace().LastReceivingAction(""); r != nil {
		ctx, err := obs.State.Context(r.ReceivingAlias())
		if err != nil {
			return ResponseFingerprint{}, err
		}
		c = ctx
	} else if contexts := obs.State.Contexts(); len(contexts) > 0 {
		c = contexts[0]
	} else {
		return ResponseFingerprint{}, errors.New("state has no connections")
	}

	fp := ResponseFingerprint{
		MessageKinds: make([]string, 0, len(c.Received)),
		SocketState:  c.FinalSocketState,
		Elapsed:      obs.Elapsed,
	}
	for _, m := range c.Received {
		fp.MessageKinds = append(fp.MessageKinds, m.Kind)
		fp.RecordLengths = append(fp.RecordLengths, len(m.Payload))
		if m.Alert != nil {
			fp.Alerts = append(fp.Alerts, *m.Alert)
		}
	}
	if last, ok := c.LastReceived(); ok {
		fp.LastKind = last.Kind
		fp.LastPayload = append([]byte(nil), last.Payload...)
	}
	return fp, nil
}
