package oracle

import "context"

// Vector is one crafted input of an attack family.
type Vector interface {
	// Name identifies the vector in reports. Names are unique within a family.
	Name() string

	// Payload is the bytes injected into the workflow.
	Payload() []byte
}

// RawVector is a named byte payload.
type RawVector struct {
	ID   string `yaml:"name" json:"name"`
	Data []byte `yaml:"payload" json:"payload"`
}

func (v RawVector) Name() string    { return v.ID }
func (v RawVector) Payload() []byte { return v.Data }

// VectorGenerator produces the ordered vector family of one attack class.
type VectorGenerator interface {
	// Generate returns the vectors in a fixed order. It returns an error
	// wrapping ErrMaterialUnavailable when the family cannot be built.
	Generate(ctx context.Context) ([]Vector, error)

	// Control returns a known-good vector, or ErrNoControl.
	Control(ctx context.Context) (Vector, error)
}

// StaticGenerator serves a fixed list of vectors.
type StaticGenerator struct {
	Vectors       []Vector
	ControlVector Vector

	// IncludeControl appends ControlVector to the generated family.
	IncludeControl bool
}

// Generate returns a copy of the configured vectors.
func (g *StaticGenerator) Generate(ctx context.Context) ([]Vector, error) {
	out := make([]Vector, 0, len(g.Vectors)+1)
	out = append(out, g.Vectors...)
	if g.IncludeControl && g.ControlVector != nil {
		out = append(out, g.ControlVector)
	}
	return out, nil
}

// Control returns ControlVector.
func (g *StaticGenerator) Control(ctx context.Context) (Vector, error) {
	if g.ControlVector == nil {
		return nil, ErrNoControl
	}
	return g.ControlVector, nil
}

// FuncGenerator adapts functions to VectorGenerator. A nil ControlFunc
// reports ErrNoControl.
type FuncGenerator struct {
	GenerateFunc func(ctx context.Context) ([]Vector, error)
	ControlFunc  func(ctx context.Context) (Vector, error)
}

// Generate calls GenerateFunc.
func (g FuncGenerator) Generate(ctx context.Context) ([]Vector, error) {
	return g.GenerateFunc(ctx)
}

// Control calls ControlFunc.
func (g FuncGenerator) Control(ctx context.Context) (Vector, error) {
	if g.ControlFunc == nil {
		return nil, ErrNoControl
	}
	return g.ControlFunc(ctx)
}
