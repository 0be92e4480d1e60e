package layers

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Flatten reshapes [N, ...] to [N, prod(...)]; rank-1 inputs pass through.
// Ciphertexts are already flat and pass through unchanged.
type Flatten struct{}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x interface{}) (interface{}, error) {
	switch in := x.(type) {
	case *rlwe.Ciphertext:
		return in, nil
	case []*rlwe.Ciphertext:
		if len(in) == 1 {
			return in[0], nil
		}
		return nil, fmt.Errorf("flatten: %d ciphertexts, expected 1", len(in))
	}
	t, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	if len(t.Shape) < 2 {
		return t.Clone(), nil
	}
	y := t.Clone()
	return y.Reshape(t.Shape[0], len(t.Data)/t.Shape[0])
}

func (f *Flatten) Encrypted() bool { return false }
func (f *Flatten) Levels() int     { return 0 }
func (f *Flatten) Tag() string     { return "Flatten" }
