package tracefile

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/dshills/handshake-go/oracle"
	"github.com/dshills/handshake-go/workflow"
)

// VectorFile describes a raw-payload oracle scan: where to inject the
// payloads into the trace and which payloads to try.
//
//	attack: padding-oracle
//	send_index: 0
//	message_index: 0
//	offset: 6
//	vectors:
//	  - name: valid
//	    payload: "0a0b0c"
//	control:
//	  name: known-good
//	  payload: "0a0b0d"
type VectorFile struct {
	Attack       string        `yaml:"attack" json:"attack"`
	SendIndex    int           `yaml:"send_index" json:"send_index"`
	MessageIndex int           `yaml:"message_index" json:"message_index"`
	Offset       int           `yaml:"offset" json:"offset"`
	Vectors      []VectorEntry `yaml:"vectors" json:"vectors"`
	Control      *VectorEntry  `yaml:"control,omitempty" json:"control,omitempty"`

	// IncludeControl adds the control vector to the compared family.
	IncludeControl bool `yaml:"include_control,omitempty" json:"include_control,omitempty"`

	// Precedence overrides the difference ranking, e.g. [SOCKET_STATE, LENGTH].
	Precedence []string `yaml:"precedence,omitempty" json:"precedence,omitempty"`
}

// VectorEntry is one payload, hex encoded or as plain text.
type VectorEntry struct {
	Name    string `yaml:"name" json:"name"`
	Payload string `yaml:"payload,omitempty" json:"payload,omitempty"`
	Text    string `yaml:"text,omitempty" json:"text,omitempty"`
}

func (v VectorEntry) vector() (oracle.RawVector, error) {
	if v.Name == "" {
		return oracle.RawVector{}, fmt.Errorf("vector name is required")
	}
	if v.Payload == "" {
		return oracle.RawVector{ID: v.Name, Data: []byte(v.Text)}, nil
	}
	data, err := hex.DecodeString(strings.ReplaceAll(v.Payload, " ", ""))
	if err != nil {
		return oracle.RawVector{}, fmt.Errorf("vector %q: %w", v.Name, err)
	}
	return oracle.RawVector{ID: v.Name, Data: data}, nil
}

// LoadVectors reads a vector file.
func LoadVectors(path string) (*VectorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}
	var vf VectorFile
	if err := unmarshal(path, data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse vectors %s: %w", path, err)
	}
	if len(vf.Vectors) == 0 {
		return nil, fmt.Errorf("vectors %s: %w", path, oracle.ErrNoVectors)
	}
	return &vf, nil
}

// Generator returns the vectors as an oracle.StaticGenerator.
func (vf *VectorFile) Generator() (*oracle.StaticGenerator, error) {
	gen := &oracle.StaticGenerator{IncludeControl: vf.IncludeControl}
	seen := make(map[string]bool, len(vf.Vectors))
	for _, entry := range vf.Vectors {
		v, err := entry.vector()
		if err != nil {
			return nil, err
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("duplicate vector name %q", v.ID)
		}
		seen[v.ID] = true
		gen.Vectors = append(gen.Vectors, v)
	}
	if vf.Control != nil {
		v, err := vf.Control.vector()
		if err != nil {
			return nil, err
		}
		gen.ControlVector = v
	}
	return gen, nil
}

// Builder returns the payload injector for template.
func (vf *VectorFile) Builder(template *workflow.WorkflowTrace) oracle.PayloadTraceBuilder {
	return oracle.PayloadTraceBuilder{
		Template:     template,
		SendIndex:    vf.SendIndex,
		MessageIndex: vf.MessageIndex,
		Offset:       vf.Offset,
	}
}

// EngineOptions translates the file's settings into oracle options.
func (vf *VectorFile) EngineOptions() ([]oracle.Option, error) {
	var opts []oracle.Option
	if vf.Attack != "" {
		opts = append(opts, oracle.WithAttackName(vf.Attack))
	}
	if len(vf.Precedence) > 0 {
		precedence := make([]oracle.EqualityError, 0, len(vf.Precedence))
		for _, name := range vf.Precedence {
			e, err := oracle.ParseEqualityError(name)
			if err != nil {
				return nil, err
			}
			precedence = append(precedence, e)
		}
		opts = append(opts, oracle.WithPrecedence(precedence...))
	}
	return opts, nil
}
