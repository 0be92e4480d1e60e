package layers

import (
	"fmt"
	"math"

	"eco_lib/tensor"
)

const (
	DefaultBNEps      = 1e-5
	DefaultBNMomentum = 0.1
)

// batchNorm normalises every channel with an affine transform. In training
// mode it uses the batch statistics and folds them into the running
// estimates; otherwise it uses the running estimates.
type batchNorm struct {
	channels      int
	dims          int
	eps, momentum float64
	training      bool

	Weight      *tensor.Tensor
	Bias        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
}

func newBatchNorm(channels, dims int, eps, momentum float64) batchNorm {
	return batchNorm{
		channels:    channels,
		dims:        dims,
		eps:         eps,
		momentum:    momentum,
		Weight:      tensor.Full(1, channels),
		Bias:        tensor.New(channels),
		RunningMean: tensor.New(channels),
		RunningVar:  tensor.Full(1, channels),
	}
}

func (bn *batchNorm) Channels() int             { return bn.channels }
func (bn *batchNorm) Eps() float64              { return bn.eps }
func (bn *batchNorm) Momentum() float64         { return bn.momentum }
func (bn *batchNorm) SetTraining(training bool) { bn.training = training }
func (bn *batchNorm) Training() bool            { return bn.training }
func (bn *batchNorm) Encrypted() bool           { return false }
func (bn *batchNorm) Levels() int               { return 0 }

func (bn *batchNorm) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight":       bn.Weight,
		"bias":         bn.Bias,
		"running_mean": bn.RunningMean,
		"running_var":  bn.RunningVar,
	}
}

func (bn *batchNorm) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return bn.ForwardPlain(x)
}

func (bn *batchNorm) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, ch, ext, _, err := spatialInput(x, bn.dims)
	if err != nil {
		return nil, err
	}
	if ch != bn.channels {
		return nil, fmt.Errorf("expected %d channels, got %d", bn.channels, ch)
	}
	plane := ext[0] * ext[1] * ext[2]
	count := n * plane
	y := tensor.New(x.Shape...)

	for c := 0; c < ch; c++ {
		mean, variance := bn.RunningMean.Data[c], bn.RunningVar.Data[c]
		if bn.training {
			mean, variance = channelStats(x.Data, n, ch, c, plane)
			unbiased := variance
			if count > 1 {
				unbiased = variance * float64(count) / float64(count-1)
			}
			bn.RunningMean.Data[c] = (1-bn.momentum)*bn.RunningMean.Data[c] + bn.momentum*mean
			bn.RunningVar.Data[c] = (1-bn.momentum)*bn.RunningVar.Data[c] + bn.momentum*unbiased
		}
		scale := bn.Weight.Data[c] / math.Sqrt(variance+bn.eps)
		shift := bn.Bias.Data[c] - mean*scale
		for b := 0; b < n; b++ {
			off := (b*ch + c) * plane
			for i := off; i < off+plane; i++ {
				y.Data[i] = x.Data[i]*scale + shift
			}
		}
	}
	return y, nil
}

// channelStats returns the mean and biased variance of channel c.
func channelStats(data []float64, n, ch, c, plane int) (float64, float64) {
	sum, sq := 0.0, 0.0
	for b := 0; b < n; b++ {
		off := (b*ch + c) * plane
		for _, v := range data[off : off+plane] {
			sum += v
			sq += v * v
		}
	}
	cnt := float64(n * plane)
	mean := sum / cnt
	return mean, math.Max(sq/cnt-mean*mean, 0)
}

// BatchNorm2D normalises [C,H,W] or [N,C,H,W] inputs per channel.
type BatchNorm2D struct{ batchNorm }

func NewBatchNorm2D(channels int, eps, momentum float64) *BatchNorm2D {
	return &BatchNorm2D{newBatchNorm(channels, 2, eps, momentum)}
}

func (bn *BatchNorm2D) Tag() string { return fmt.Sprintf("BatchNorm2D_%d", bn.channels) }

// BatchNorm3D normalises [C,D,H,W] or [N,C,D,H,W] inputs per channel.
type BatchNorm3D struct{ batchNorm }

func NewBatchNorm3D(channels int, eps, momentum float64) *BatchNorm3D {
	return &BatchNorm3D{newBatchNorm(channels, 3, eps, momentum)}
}

func (bn *BatchNorm3D) Tag() string { return fmt.Sprintf("BatchNorm3D_%d", bn.channels) }
