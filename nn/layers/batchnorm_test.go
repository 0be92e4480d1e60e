package layers

import (
	"math"
	"testing"

	"eco_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchNorm2D_EvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D(2, DefaultBNEps, DefaultBNMomentum)
	assert.False(t, bn.Training())

	x := seq(2, 1, 2)
	y, err := bn.ForwardPlain(x)
	require.NoError(t, err)

	for i, v := range x.Data {
		assert.InDelta(t, v/math.Sqrt(1+DefaultBNEps), y.Data[i], 1e-12)
	}
	// eval mode leaves the running estimates alone
	assert.Equal(t, []float64{0, 0}, bn.RunningMean.Data)
	assert.Equal(t, []float64{1, 1}, bn.RunningVar.Data)
}

func TestBatchNorm2D_TrainingUpdatesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D(1, DefaultBNEps, DefaultBNMomentum)
	bn.SetTraining(true)

	x, err := tensor.FromData([]float64{1, 2, 3, 4}, 2, 1, 1, 2)
	require.NoError(t, err)

	y, err := bn.ForwardPlain(x)
	require.NoError(t, err)

	std := math.Sqrt(1.25 + DefaultBNEps)
	for i, v := range x.Data {
		assert.InDelta(t, (v-2.5)/std, y.Data[i], 1e-9)
	}
	assert.InDelta(t, 0.25, bn.RunningMean.Data[0], 1e-12)
	// unbiased variance 5/3 folded in with momentum 0.1
	assert.InDelta(t, 0.9+0.1*5.0/3.0, bn.RunningVar.Data[0], 1e-12)
}

func TestBatchNorm3D_Affine(t *testing.T) {
	bn := NewBatchNorm3D(1, 0, DefaultBNMomentum)
	bn.RunningMean.Data[0] = 1
	bn.RunningVar.Data[0] = 4
	bn.Weight.Data[0] = 2
	bn.Bias.Data[0] = 3

	x, err := tensor.FromData([]float64{5, 1}, 1, 1, 1, 2)
	require.NoError(t, err)
	out, err := bn.Forward(x)
	require.NoError(t, err)

	y := out.(*tensor.Tensor)
	assert.Equal(t, []int{1, 1, 1, 2}, y.Shape)
	assert.InDelta(t, 7.0, y.Data[0], 1e-12)
	assert.InDelta(t, 3.0, y.Data[1], 1e-12)
}

func TestBatchNorm_ParamsAndErrors(t *testing.T) {
	bn := NewBatchNorm2D(4, 1e-3, 0.2)
	assert.Equal(t, 4, bn.Channels())
	assert.Equal(t, 1e-3, bn.Eps())
	assert.Equal(t, 0.2, bn.Momentum())
	assert.Len(t, bn.Params(), 4)
	assert.Equal(t, "BatchNorm2D_4", bn.Tag())

	_, err := bn.ForwardPlain(tensor.New(3, 2, 2))
	assert.Error(t, err)
}
