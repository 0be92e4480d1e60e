package layers

import (
	"fmt"

	"eco_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dropout zeroes each element with probability p in training mode and scales
// the survivors by 1/(1-p). In eval mode it is the identity.
type Dropout struct {
	p        float64
	training bool
	src      rand.Source
}

func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout ratio must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p}, nil
}

// Seed fixes the mask sequence.
func (d *Dropout) Seed(seed uint64) { d.src = rand.NewSource(seed) }

func (d *Dropout) Ratio() float64            { return d.p }
func (d *Dropout) SetTraining(training bool) { d.training = training }
func (d *Dropout) Training() bool            { return d.training }
func (d *Dropout) Encrypted() bool           { return false }
func (d *Dropout) Levels() int               { return 0 }

func (d *Dropout) Tag() string { return fmt.Sprintf("Dropout_%g", d.p) }

func (d *Dropout) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return d.ForwardPlain(x), nil
}

func (d *Dropout) ForwardPlain(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x.Clone()
	}
	keep := distuv.Bernoulli{P: 1 - d.p, Src: d.src}
	scale := 1 / (1 - d.p)
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if keep.Rand() == 1 {
			y.Data[i] = v * scale
		}
	}
	return y
}
