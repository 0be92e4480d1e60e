package factory

import (
	"errors"
	"testing"

	"eco_lib/core/ckkswrapper"
	"eco_lib/nn"
	"eco_lib/nn/layers"
	"eco_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_ConvolutionParamsMatch(t *testing.T) {
	attrs := Attrs{"num_output": 64, "kernel_size": 7, "stride": 2, "pad": 3}
	m, out, err := Build("Convolution", attrs, Options{Channels: 3, ConvBias: true})
	require.NoError(t, err)

	conv, ok := m.(*layers.Conv2D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 64, out)
	assert.Equal(t, 3, conv.InChannels())
	assert.Equal(t, 64, conv.OutChannels())
	assert.Equal(t, []int{7, 7}, conv.KernelSize())
	assert.Equal(t, []int{2, 2}, conv.Stride())
	assert.Equal(t, []int{3, 3}, conv.Padding())
	assert.True(t, conv.HasBias())
}

func TestBuild_ConvolutionPerAxisKeys(t *testing.T) {
	attrs := Attrs{
		"num_output": 16,
		"kernel_h":   3,
		"kernel_w":   1,
		"stride_h":   1,
		"stride_w":   2,
		"pad_h":      1,
		"pad_w":      0,
	}
	m, out, err := Build("Convolution", attrs, Options{Channels: 8})
	require.NoError(t, err)

	conv := m.(*layers.Conv2D)
	assert.Equal(t, 16, out)
	assert.Equal(t, []int{3, 1}, conv.KernelSize())
	assert.Equal(t, []int{1, 2}, conv.Stride())
	assert.Equal(t, []int{1, 0}, conv.Padding())
	assert.False(t, conv.HasBias())
}

func TestBuild_ConvolutionDefaults(t *testing.T) {
	m, _, err := Build("Convolution", Attrs{"num_output": 4, "kernel_size": 1}, Options{Channels: 2})
	require.NoError(t, err)

	conv := m.(*layers.Conv2D)
	assert.Equal(t, []int{1, 1}, conv.Stride())
	assert.Equal(t, []int{0, 0}, conv.Padding())
}

func TestBuild_Convolution3d(t *testing.T) {
	attrs := Attrs{
		"num_output":  128,
		"kernel_size": []interface{}{3, 3, 3},
		"stride":      []interface{}{2, 2, 2},
		"pad":         1,
	}
	m, out, err := Build("Convolution3d", attrs, Options{Channels: 96})
	require.NoError(t, err)

	conv, ok := m.(*layers.Conv3D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 128, out)
	assert.Equal(t, []int{3, 3, 3}, conv.KernelSize())
	assert.Equal(t, []int{2, 2, 2}, conv.Stride())
	assert.Equal(t, []int{1, 1, 1}, conv.Padding())
	assert.Equal(t, []int{128, 96, 3, 3, 3}, conv.W.Shape)
}

func TestBuild_ConvolutionErrors(t *testing.T) {
	cases := map[string]Attrs{
		"no num_output":   {"kernel_size": 3},
		"no kernel":       {"num_output": 8},
		"partial kernel":  {"num_output": 8, "kernel_h": 3},
		"fractional":      {"num_output": 8, "kernel_size": 2.5},
		"wrong kind":      {"num_output": "eight", "kernel_size": 3},
		"list length":     {"num_output": 8, "kernel_size": []interface{}{3, 3, 3}},
		"zero num_output": {"num_output": 0, "kernel_size": 3},
		"negative kernel": {"num_output": 4, "kernel_size": []interface{}{-1, 3}},
		"zero kernel":     {"num_output": 4, "kernel_h": 0, "kernel_w": 3},
		"zero stride":     {"num_output": 4, "kernel_size": 3, "stride": 0},
		"negative pad":    {"num_output": 4, "kernel_size": 3, "pad": -1},
	}
	for name, attrs := range cases {
		assert.NotPanics(t, func() {
			_, _, err := Build("Convolution", attrs, Options{Channels: 3})
			assert.Error(t, err, name)
		}, name)
	}

	for _, layerType := range []string{"Convolution", "BN", "InnerProduct"} {
		assert.NotPanics(t, func() {
			_, _, err := Build(layerType, Attrs{"num_output": 4, "kernel_size": 3}, Options{Channels: -2})
			assert.Error(t, err, layerType)
		}, layerType)
	}
	_, _, err := Build("Pooling3d", Attrs{"mode": "max", "kernel_size": 2, "stride": []interface{}{1, -1, 1}}, Options{Channels: 3})
	assert.Error(t, err)
	_, _, err = Build("GlobalPooling3d", Attrs{"kernel_h": -7}, Options{Channels: 3})
	assert.Error(t, err)

	_, _, err = Build("Convolution", Attrs{"kernel_size": 3}, Options{Channels: 3})
	assert.ErrorIs(t, err, ErrMissingAttr)
}

func TestBuild_Pooling(t *testing.T) {
	attrs := Attrs{"mode": "max", "kernel_size": 3, "stride": 2}
	m, out, err := Build("Pooling", attrs, Options{Channels: 192})
	require.NoError(t, err)
	maxPool, ok := m.(*layers.MaxPool2D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 192, out)
	assert.Equal(t, []int{3, 3}, maxPool.KernelSize())
	assert.Equal(t, []int{2, 2}, maxPool.Stride())
	assert.Equal(t, []int{0, 0}, maxPool.Padding())
	assert.True(t, maxPool.CeilMode())

	attrs = Attrs{"mode": "ave", "kernel_size": 3, "pad": 1}
	m, out, err = Build("Pooling", attrs, Options{Channels: 256})
	require.NoError(t, err)
	avgPool, ok := m.(*layers.AvgPool2D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 256, out)
	assert.Equal(t, []int{1, 1}, avgPool.Stride())
	assert.Equal(t, []int{1, 1}, avgPool.Padding())
}

func TestBuild_PoolingUnknownMethod(t *testing.T) {
	for _, layerType := range []string{"Pooling", "Pooling3d", "GlobalPooling3d"} {
		attrs := Attrs{"mode": "stochastic", "kernel_size": 2}
		_, _, err := Build(layerType, attrs, Options{Channels: 8})
		require.Error(t, err, layerType)

		var pe *UnknownPoolingMethodError
		require.True(t, errors.As(err, &pe), layerType)
		assert.Equal(t, "stochastic", pe.Method)
		assert.Contains(t, err.Error(), "stochastic")
	}

	_, _, err := Build("Pooling", Attrs{"kernel_size": 2}, Options{Channels: 8})
	assert.ErrorIs(t, err, ErrMissingAttr, "mode is required for Pooling")
}

func TestBuild_Pooling3d(t *testing.T) {
	attrs := Attrs{"mode": "max", "kernel_d": 1, "kernel_h": 3, "kernel_w": 3, "stride": []interface{}{1, 2, 2}}
	m, out, err := Build("Pooling3d", attrs, Options{Channels: 64})
	require.NoError(t, err)

	p, ok := m.(*layers.MaxPool3D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 64, out)
	assert.Equal(t, []int{1, 3, 3}, p.KernelSize())
	assert.Equal(t, []int{1, 2, 2}, p.Stride())
	assert.False(t, p.CeilMode())

	m, _, err = Build("Pooling3d", Attrs{"mode": "ave", "kernel_size": 2}, Options{Channels: 64})
	require.NoError(t, err)
	assert.IsType(t, &layers.AvgPool3D{}, m)
}

func TestBuild_GlobalPooling3d(t *testing.T) {
	m, out, err := Build("GlobalPooling3d", nil, Options{Channels: 512, NumSegments: 16})
	require.NoError(t, err)
	p, ok := m.(*layers.AvgPool3D)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, 512, out)
	assert.Equal(t, []int{4, 7, 7}, p.KernelSize())
	assert.Equal(t, []int{1, 1, 1}, p.Stride())

	// default segment count 4 and a floor of one frame
	for segments, depth := range map[int]int{0: 1, 2: 1, 8: 2} {
		m, _, err = Build("GlobalPooling3d", Attrs{"kernel_h": 5, "kernel_w": 6}, Options{Channels: 1, NumSegments: segments})
		require.NoError(t, err)
		assert.Equal(t, []int{depth, 5, 6}, m.(*layers.AvgPool3D).KernelSize(), "segments %d", segments)
	}

	m, _, err = Build("GlobalPooling3d", Attrs{"mode": "max"}, Options{Channels: 1})
	require.NoError(t, err)
	assert.IsType(t, &layers.MaxPool3D{}, m)
}

func TestBuild_ChannelPropagation(t *testing.T) {
	const in = 37
	cases := []struct {
		layerType string
		attrs     Attrs
		want      int
	}{
		{"Convolution", Attrs{"num_output": 11, "kernel_size": 1}, 11},
		{"Convolution3d", Attrs{"num_output": 13, "kernel_size": 1}, 13},
		{"InnerProduct", Attrs{"num_output": 101}, 101},
		{"Pooling", Attrs{"mode": "max", "kernel_size": 2}, in},
		{"Pooling3d", Attrs{"mode": "ave", "kernel_size": 2}, in},
		{"GlobalPooling3d", Attrs{}, in},
		{"ReLU", Attrs{}, in},
		{"BN", Attrs{}, in},
		{"BN3d", Attrs{"eps": 1e-3}, in},
		{"Dropout", Attrs{"dropout_ratio": 0.8}, in},
		{"Flatten", Attrs{}, in},
	}
	for _, tc := range cases {
		m, out, err := Build(tc.layerType, tc.attrs, Options{Channels: in})
		require.NoError(t, err, tc.layerType)
		require.NotNil(t, m, tc.layerType)
		assert.Equal(t, tc.want, out, tc.layerType)
	}
}

func TestBuild_BatchNormAndDropout(t *testing.T) {
	m, _, err := Build("BN", Attrs{"eps": 1e-3, "momentum": 0.01}, Options{Channels: 32})
	require.NoError(t, err)
	bn := m.(*layers.BatchNorm2D)
	assert.Equal(t, 32, bn.Channels())
	assert.Equal(t, 1e-3, bn.Eps())
	assert.Equal(t, 0.01, bn.Momentum())

	m, _, err = Build("BN3d", nil, Options{Channels: 8})
	require.NoError(t, err)
	bn3 := m.(*layers.BatchNorm3D)
	assert.Equal(t, layers.DefaultBNEps, bn3.Eps())
	assert.Equal(t, layers.DefaultBNMomentum, bn3.Momentum())

	m, _, err = Build("Dropout", nil, Options{Channels: 8})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.(*layers.Dropout).Ratio())

	m, _, err = Build("Dropout", Attrs{"dropout_ratio": 0.8}, Options{Channels: 8})
	require.NoError(t, err)
	assert.Equal(t, 0.8, m.(*layers.Dropout).Ratio())

	_, _, err = Build("Dropout", Attrs{"dropout_ratio": "high"}, Options{Channels: 8})
	assert.Error(t, err)
}

func TestBuild_InnerProduct(t *testing.T) {
	m, out, err := Build("InnerProduct", Attrs{"num_output": 51}, Options{Channels: 1024})
	require.NoError(t, err)
	fc := m.(*layers.Linear)
	assert.Equal(t, 51, out)
	assert.Equal(t, 1024, fc.InDim())
	assert.Equal(t, 51, fc.OutDim())
	assert.False(t, fc.Encrypted())

	_, _, err = Build("InnerProduct", Attrs{"num_output": 51}, Options{Channels: 1024, Encrypted: true})
	assert.Error(t, err, "encrypted without a context")
}

func TestBuild_EncryptedLayers(t *testing.T) {
	heCtx := ckkswrapper.NewHeContext()
	opts := Options{Channels: 4, Encrypted: true, HeCtx: heCtx}

	relu, _, err := Build("ReLU", nil, opts)
	require.NoError(t, err)
	assert.True(t, relu.Encrypted())

	fc, out, err := Build("InnerProduct", Attrs{"num_output": 2}, opts)
	require.NoError(t, err)
	assert.True(t, fc.Encrypted())
	assert.Equal(t, 2, out)

	// layers without a CKKS path stay plaintext
	bn, _, err := Build("BN", nil, opts)
	require.NoError(t, err)
	assert.False(t, bn.Encrypted())
}

func TestBuild_UnknownType(t *testing.T) {
	_, _, err := Build("LSTM", Attrs{}, Options{Channels: 3})
	assert.ErrorIs(t, err, ErrUnknownLayerType)
	assert.Contains(t, err.Error(), "LSTM")
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{
		"BN", "BN3d", "Convolution", "Convolution3d", "Dropout", "Flatten",
		"GlobalPooling3d", "InnerProduct", "Pooling", "Pooling3d", "ReLU",
	}, Types())

	_, ok := Lookup("Softmax")
	assert.False(t, ok)

	Register("Identity", func(attrs Attrs, opts Options) (nn.Module, int, error) {
		return layers.NewFlatten(), opts.Channels, nil
	})
	t.Cleanup(func() { delete(registry, "Identity") })

	m, out, err := Build("Identity", nil, Options{Channels: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, out)
	assert.Equal(t, "Flatten", m.Tag())
}

func TestBuild_ModuleRunsForward(t *testing.T) {
	m, _, err := Build("Convolution", Attrs{"num_output": 2, "kernel_size": 3, "pad": 1}, Options{Channels: 1})
	require.NoError(t, err)

	y, err := m.Forward(tensor.New(1, 1, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 5, 5}, y.(*tensor.Tensor).Shape)
}
