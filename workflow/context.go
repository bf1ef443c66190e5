package workflow

import (
	"fmt"
	"strconv"

	"github.com/dshills/handshake-go/workflow/transport"
)

// Context is the mutable runtime state of one connection during a workflow.
// It is owned by the State that created it and touched by one goroutine only.
type Context struct {
	Connection Connection

	// Transport is opened by the executor unless preset by the caller.
	Transport transport.Handler

	// Layers is the protocol-layer stack built over Transport.
	Layers LayerStack

	// Negotiated parameters.
	Version     string
	CipherSuite string

	// WriteEpoch is the current write epoch; OpenEpochs lists every epoch
	// opened so far, oldest first.
	WriteEpoch int
	OpenEpochs []int

	ReceivedFatalAlert                bool
	ReceivedWarningAlert              bool
	ReceivedTransportHandlerException bool

	// FinalSocketState is recorded once the workflow finishes.
	FinalSocketState transport.SocketState

	// Received holds every message received on this connection, in order.
	Received []Message

	// Values stores state changes for fields the engine does not interpret.
	Values map[string]string
}

func newContext(conn Connection) *Context {
	return &Context{
		Connection: conn,
		OpenEpochs: []int{0},
		Values:     make(map[string]string),
	}
}

// Fields understood by Context.Set.
const (
	FieldVersion     = "version"
	FieldCipherSuite = "cipher_suite"
	FieldWriteEpoch  = "write_epoch"
)

// Set applies a state change. Unknown fields are stored in Values.
func (c *Context) Set(field, value string) error {
	switch field {
	case FieldVersion:
		c.Version = value
	case FieldCipherSuite:
		c.CipherSuite = value
	case FieldWriteEpoch:
		epoch, err := strconv.Atoi(value)
		if err != nil || epoch < 0 {
			return fmt.Errorf("%w: invalid epoch %q", ErrPreparation, value)
		}
		c.setEpoch(epoch)
	default:
		if c.Values == nil {
			c.Values = make(map[string]string)
		}
		c.Values[field] = value
	}
	return nil
}

func (c *Context) setEpoch(epoch int) {
	c.WriteEpoch = epoch
	if es, ok := c.Layers.(EpochSetter); ok {
		es.SetEpoch(epoch)
	}
	for _, e := range c.OpenEpochs {
		if e == epoch {
			return
		}
	}
	c.OpenEpochs = append(c.OpenEpochs, epoch)
}

// observe records received messages and raises alert flags.
func (c *Context) observe(msgs []Message) {
	for _, m := range msgs {
		c.Received = append(c.Received, m)
		if m.Alert == nil {
			continue
		}
		if m.Alert.Level == AlertFatal {
			c.ReceivedFatalAlert = true
		} else {
			c.ReceivedWarningAlert = true
		}
	}
}

// LastReceived returns the most recent received message, if any.
func (c *Context) LastReceived() (Message, bool) {
	if len(c.Received) == 0 {
		return Message{}, false
	}
	return c.Received[len(c.Received)-1], true
}
