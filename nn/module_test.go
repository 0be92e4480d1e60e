package nn

import (
	"math"
	"testing"

	"eco_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paramLayer mimics a norm layer; fanLayer adds the fans of a linear layer.
type paramLayer struct {
	w, b *tensor.Tensor
}

func (l *paramLayer) Forward(input interface{}) (interface{}, error) { return input, nil }

func (l *paramLayer) Levels() int { return 0 }

func (l *paramLayer) Encrypted() bool { return false }

func (l *paramLayer) Tag() string { return "param" }

func (l *paramLayer) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": l.w, "bias": l.b}
}

type fanLayer struct{ paramLayer }

func (l *fanLayer) Fans() (int, int) { return l.w.Shape[1], l.w.Shape[0] }

func TestInitPolicy(t *testing.T) {
	norm := &paramLayer{w: tensor.New(4), b: tensor.Full(3, 4)}
	kind, err := InitParam(norm, "weight")
	require.NoError(t, err)
	assert.Equal(t, InitOne, kind)
	kind, err = InitParam(norm, "bias")
	require.NoError(t, err)
	assert.Equal(t, InitZero, kind)
	assert.Equal(t, []float64{1, 1, 1, 1}, norm.w.Data)
	assert.Equal(t, []float64{0, 0, 0, 0}, norm.b.Data)

	lin := &fanLayer{paramLayer{w: tensor.New(3, 5), b: tensor.Full(1, 3)}}
	kind, err = InitParam(lin, "weight")
	require.NoError(t, err)
	assert.Equal(t, InitXavier, kind)
	bound := math.Sqrt(6.0 / 8.0)
	for _, v := range lin.w.Data {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}

	_, err = InitParam(lin, "gamma")
	assert.Error(t, err)
	_, err = InitPolicy(lin, "gamma")
	assert.Error(t, err)
}
