// Package tracefile reads and writes configurations, workflow traces and
// vector families as YAML (or JSON, chosen by file extension).
package tracefile

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/handshake-go/workflow"
)

// TraceFile is the on-disk form of a workflow trace.
type TraceFile struct {
	Name        string                `yaml:"name" json:"name"`
	Connections []workflow.Connection `yaml:"connections" json:"connections"`
	Actions     []ActionFile          `yaml:"actions" json:"actions"`
}

// ActionFile is one action. Type selects which of the other fields apply:
//
//	send:             alias, messages
//	receive:          alias, expected
//	reset_connection: alias
//	change_state:     alias, field, value
//	wait:             duration
//	forward:          from, to, expected
type ActionFile struct {
	Type     string        `yaml:"type" json:"type"`
	Alias    string        `yaml:"alias,omitempty" json:"alias,omitempty"`
	Messages []MessageFile `yaml:"messages,omitempty" json:"messages,omitempty"`
	Expected []string      `yaml:"expected,omitempty" json:"expected,omitempty"`
	Field    string        `yaml:"field,omitempty" json:"field,omitempty"`
	Value    string        `yaml:"value,omitempty" json:"value,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	From     string        `yaml:"from,omitempty" json:"from,omitempty"`
	To       string        `yaml:"to,omitempty" json:"to,omitempty"`
}

// MessageFile is one message. Payload is hex encoded; Text is a plain-text
// alternative used when Payload is empty.
type MessageFile struct {
	Kind    string          `yaml:"kind" json:"kind"`
	Payload string          `yaml:"payload,omitempty" json:"payload,omitempty"`
	Text    string          `yaml:"text,omitempty" json:"text,omitempty"`
	Alert   *workflow.Alert `yaml:"alert,omitempty" json:"alert,omitempty"`
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func unmarshal(path string, data []byte, v interface{}) error {
	if isJSON(path) {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

func marshal(path string, v interface{}) ([]byte, error) {
	if isJSON(path) {
		return json.MarshalIndent(v, "", "  ")
	}
	return yaml.Marshal(v)
}

// LoadConfig reads a configuration on top of workflow.DefaultConfig and
// validates it.
func LoadConfig(path string) (workflow.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := workflow.DefaultConfig()
	if err := unmarshal(path, data, &cfg); err != nil {
		return workflow.Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return workflow.Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path.
func SaveConfig(path string, cfg workflow.Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadTrace reads and validates a trace.
func LoadTrace(path string) (*workflow.WorkflowTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var tf TraceFile
	if err := unmarshal(path, data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse trace %s: %w", path, err)
	}
	return tf.Build()
}

// ParseTrace decodes a YAML trace.
func ParseTrace(data []byte) (*workflow.WorkflowTrace, error) {
	var tf TraceFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	return tf.Build()
}

// SaveTrace writes trace to path.
func SaveTrace(path string, trace *workflow.WorkflowTrace) error {
	tf, err := FromTrace(trace)
	if err != nil {
		return err
	}
	data, err := marshal(path, tf)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Build converts the file form into a validated trace.
func (tf TraceFile) Build() (*workflow.WorkflowTrace, error) {
	trace := workflow.NewWorkflowTrace(tf.Name)
	for _, c := range tf.Connections {
		if err := trace.AddConnection(c); err != nil {
			return nil, err
		}
	}
	for i, af := range tf.Actions {
		a, err := af.action()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		trace.AddAction(a)
	}
	trace.Normalize()
	if err := trace.Validate(); err != nil {
		return nil, err
	}
	return trace, nil
}

func (af ActionFile) action() (workflow.Action, error) {
	switch af.Type {
	case workflow.ActionSend:
		msgs := make([]workflow.Message, 0, len(af.Messages))
		for _, mf := range af.Messages {
			m, err := mf.message()
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, m)
		}
		return workflow.NewSendAction(af.Alias, msgs...), nil
	case workflow.ActionReceive:
		return workflow.NewReceiveAction(af.Alias, af.Expected...), nil
	case workflow.ActionReset:
		return workflow.NewResetConnectionAction(af.Alias), nil
	case workflow.ActionChangeState:
		if af.Field == "" {
			return nil, fmt.Errorf("change_state needs a field")
		}
		return workflow.NewChangeStateAction(af.Alias, af.Field, af.Value), nil
	case workflow.ActionWait:
		return workflow.NewWaitAction(af.Duration), nil
	case workflow.ActionForward:
		return workflow.NewForwardAction(af.From, af.To, af.Expected...), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", af.Type)
	}
}

func (mf MessageFile) message() (workflow.Message, error) {
	if mf.Kind == "" {
		return workflow.Message{}, fmt.Errorf("message kind is required")
	}
	if mf.Alert != nil {
		m := workflow.NewAlertMessage(mf.Alert.Level, mf.Alert.Description)
		return m, nil
	}
	m := workflow.Message{Kind: mf.Kind}
	switch {
	case mf.Payload != "":
		payload, err := hex.DecodeString(strings.ReplaceAll(mf.Payload, " ", ""))
		if err != nil {
			return workflow.Message{}, fmt.Errorf("message payload: %w", err)
		}
		m.Payload = payload
	case mf.Text != "":
		m.Payload = []byte(mf.Text)
	}
	return m, nil
}

// FromTrace converts a trace to its file form. Only the plan is kept.
func FromTrace(trace *workflow.WorkflowTrace) (TraceFile, error) {
	tf := TraceFile{Name: trace.Name, Connections: trace.Connections()}
	for i, a := range trace.Actions() {
		af := ActionFile{Type: a.Kind()}
		switch act := a.(type) {
		case *workflow.SendAction:
			af.Alias = act.Alias
			for _, m := range act.Msgs {
				mf := MessageFile{Kind: m.Kind, Payload: hex.EncodeToString(m.Payload)}
				if m.Alert != nil {
					alert := *m.Alert
					mf.Alert = &alert
					mf.Payload = ""
				}
				af.Messages = append(af.Messages, mf)
			}
		case *workflow.ReceiveAction:
			af.Alias = act.Alias
			af.Expected = act.Expected
		case *workflow.ResetConnectionAction:
			af.Alias = act.Alias
		case *workflow.ChangeStateAction:
			af.Alias, af.Field, af.Value = act.Alias, act.Field, act.Value
		case *workflow.WaitAction:
			af.Duration = act.Duration
		case *workflow.ForwardAction:
			af.From, af.To, af.Expected = act.From, act.To, act.Expected
		default:
			return TraceFile{}, fmt.Errorf("action %d: cannot encode %T", i, a)
		}
		tf.Actions = append(tf.Actions, af)
	}
	return tf, nil
}
