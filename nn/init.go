package nn

import (
	"fmt"
	"math"

	"eco_lib/tensor"

	"gonum.org/v1/gonum/stat/distuv"
)

// FanLayer reports the fan-in and fan-out used by Xavier initialisation.
type FanLayer interface {
	Fans() (fanIn, fanOut int)
}

// InitKind names how a parameter was initialised.
type InitKind string

const (
	InitOne    InitKind = "1"
	InitZero   InitKind = "0"
	InitXavier InitKind = "xavier"
)

// InitPolicy decides how the parameter `key` of m is initialised when no
// pretrained value exists: weights of layers with a fan (conv, linear) get
// Xavier-uniform, other weights (batch norm scale) get 1, biases and running
// means 0, running variances 1.
func InitPolicy(m Module, key string) (InitKind, error) {
	switch key {
	case "weight":
		if _, ok := m.(FanLayer); ok {
			return InitXavier, nil
		}
		return InitOne, nil
	case "bias", "running_mean":
		return InitZero, nil
	case "running_var":
		return InitOne, nil
	}
	return "", fmt.Errorf("no init policy for parameter %q of %s", key, m.Tag())
}

// InitParam applies InitPolicy to one parameter of m in place.
func InitParam(m Module, key string) (InitKind, error) {
	p, ok := m.(Parameterized)
	if !ok {
		return "", fmt.Errorf("%s has no parameters", m.Tag())
	}
	t := p.Params()[key]
	if t == nil {
		return "", fmt.Errorf("%s has no parameter %q", m.Tag(), key)
	}
	kind, err := InitPolicy(m, key)
	if err != nil {
		return "", err
	}
	switch kind {
	case InitOne:
		fill(t, 1)
	case InitZero:
		fill(t, 0)
	case InitXavier:
		fanIn, fanOut := m.(FanLayer).Fans()
		XavierUniform(t, fanIn, fanOut)
	}
	return kind, nil
}

// XavierUniform fills t from U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(t *tensor.Tensor, fanIn, fanOut int) {
	if fanIn+fanOut <= 0 {
		fill(t, 0)
		return
	}
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	dist := distuv.Uniform{
		Min: -bound,
		Max: bound,
	}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

func fill(t *tensor.Tensor, v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}
