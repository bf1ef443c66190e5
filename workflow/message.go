package workflow

import "fmt"

// Message kinds. Message bodies are opaque to the engine; encoding specific
// handshake messages is left to the caller.
const (
	KindChangeCipherSpec = "CHANGE_CIPHER_SPEC"
	KindAlert            = "ALERT"
	KindHandshake        = "HANDSHAKE"
	KindApplicationData  = "APPLICATION_DATA"
	KindPacket           = "PACKET"
)

// AlertLevel is the severity of an alert.
type AlertLevel uint8

const (
	AlertWarning AlertLevel = 1
	AlertFatal   AlertLevel = 2
)

// AlertCloseNotify is the description of the close_notify alert.
const AlertCloseNotify uint8 = 0

// Alert is a decoded protocol alert.
type Alert struct {
	Level       AlertLevel `yaml:"level" json:"level"`
	Description uint8      `yaml:"description" json:"description"`
}

func (a Alert) String() string {
	level := "WARNING"
	if a.Level == AlertFatal {
		level = "FATAL"
	}
	return fmt.Sprintf("%s(%d)", level, a.Description)
}

// Message is one protocol message sent or received by an action.
type Message struct {
	Kind    string `yaml:"kind" json:"kind"`
	Payload []byte `yaml:"payload,omitempty" json:"payload,omitempty"`
	Alert   *Alert `yaml:"alert,omitempty" json:"alert,omitempty"`
}

// NewAlertMessage builds an alert message.
func NewAlertMessage(level AlertLevel, description uint8) Message {
	return Message{
		Kind:    KindAlert,
		Payload: []byte{byte(level), description},
		Alert:   &Alert{Level: level, Description: description},
	}
}

// Clone returns a copy that shares no memory with m.
func (m Message) Clone() Message {
	c := Message{Kind: m.Kind}
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Alert != nil {
		a := *m.Alert
		c.Alert = &a
	}
	return c
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
