package factory

import (
	"fmt"

	"eco_lib/nn"
	"eco_lib/nn/layers"
)

func init() {
	Register("Convolution", buildConv)
	Register("Convolution3d", buildConv3d)
	Register("Pooling", buildPool)
	Register("Pooling3d", buildPool3d)
	Register("GlobalPooling3d", buildGlobalPool3d)
	Register("ReLU", buildReLU)
	Register("BN", buildBN)
	Register("BN3d", buildBN3d)
	Register("InnerProduct", buildInnerProduct)
	Register("Dropout", buildDropout)
	Register("Flatten", buildFlatten)
}

var (
	axes2D = []string{"_h", "_w"}
	axes3D = []string{"_d", "_h", "_w"}
)

// geometry reads kernel, stride and pad for the given axis suffixes.
// kernel is required; stride defaults to 1 and pad to 0. Kernel and stride
// must be positive and pad non-negative.
func geometry(attrs Attrs, suffixes []string) (kernel, stride, pad []int, err error) {
	keys := func(prefix string) []string {
		out := make([]string, len(suffixes))
		for i, s := range suffixes {
			out[i] = prefix + s
		}
		return out
	}
	if kernel, err = attrs.Axes("kernel_size", keys("kernel"), nil); err != nil {
		return
	}
	if stride, err = attrs.Axes("stride", keys("stride"), intPtr(1)); err != nil {
		return
	}
	if pad, err = attrs.Axes("pad", keys("pad"), intPtr(0)); err != nil {
		return
	}
	for i := range kernel {
		switch {
		case kernel[i] <= 0:
			err = fmt.Errorf("kernel must be positive, got %v", kernel)
		case stride[i] <= 0:
			err = fmt.Errorf("stride must be positive, got %v", stride)
		case pad[i] < 0:
			err = fmt.Errorf("pad must not be negative, got %v", pad)
		}
		if err != nil {
			return
		}
	}
	return
}

func to2(v []int) [2]int { return [2]int{v[0], v[1]} }
func to3(v []int) [3]int { return [3]int{v[0], v[1], v[2]} }

func numOutput(attrs Attrs) (int, error) {
	out, err := attrs.Int("num_output")
	if err != nil {
		return 0, err
	}
	if out <= 0 {
		return 0, fmt.Errorf("num_output must be positive, got %d", out)
	}
	return out, nil
}

func buildConv(attrs Attrs, opts Options) (nn.Module, int, error) {
	out, err := numOutput(attrs)
	if err != nil {
		return nil, 0, err
	}
	kernel, stride, pad, err := geometry(attrs, axes2D)
	if err != nil {
		return nil, 0, err
	}
	return layers.NewConv2D(opts.Channels, out, to2(kernel), to2(stride), to2(pad), opts.ConvBias), out, nil
}

func buildConv3d(attrs Attrs, opts Options) (nn.Module, int, error) {
	out, err := numOutput(attrs)
	if err != nil {
		return nil, 0, err
	}
	kernel, stride, pad, err := geometry(attrs, axes3D)
	if err != nil {
		return nil, 0, err
	}
	return layers.NewConv3D(opts.Channels, out, to3(kernel), to3(stride), to3(pad), opts.ConvBias), out, nil
}

func poolMode(attrs Attrs, def string) (string, error) {
	var mode string
	var err error
	if def == "" {
		mode, err = attrs.String("mode")
	} else {
		mode, err = attrs.StringOr("mode", def)
	}
	if err != nil {
		return "", err
	}
	if mode != "max" && mode != "ave" {
		return "", &UnknownPoolingMethodError{Method: mode}
	}
	return mode, nil
}

// buildPool rounds the output size up, as Caffe pooling does.
func buildPool(attrs Attrs, opts Options) (nn.Module, int, error) {
	mode, err := poolMode(attrs, "")
	if err != nil {
		return nil, 0, err
	}
	kernel, stride, pad, err := geometry(attrs, axes2D)
	if err != nil {
		return nil, 0, err
	}
	if mode == "max" {
		return layers.NewMaxPool2D(to2(kernel), to2(stride), to2(pad), true), opts.Channels, nil
	}
	return layers.NewAvgPool2D(to2(kernel), to2(stride), to2(pad), true), opts.Channels, nil
}

func buildPool3d(attrs Attrs, opts Options) (nn.Module, int, error) {
	mode, err := poolMode(attrs, "")
	if err != nil {
		return nil, 0, err
	}
	kernel, stride, pad, err := geometry(attrs, axes3D)
	if err != nil {
		return nil, 0, err
	}
	if mode == "max" {
		return layers.NewMaxPool3D(to3(kernel), to3(stride), to3(pad), false), opts.Channels, nil
	}
	return layers.NewAvgPool3D(to3(kernel), to3(stride), to3(pad), false), opts.Channels, nil
}

// buildGlobalPool3d pools over the whole clip: the temporal kernel covers
// the segments left after the 3D stem (a quarter of the input segments).
func buildGlobalPool3d(attrs Attrs, opts Options) (nn.Module, int, error) {
	mode, err := poolMode(attrs, "ave")
	if err != nil {
		return nil, 0, err
	}
	kh, err := attrs.IntOr("kernel_h", 7)
	if err != nil {
		return nil, 0, err
	}
	kw, err := attrs.IntOr("kernel_w", 7)
	if err != nil {
		return nil, 0, err
	}
	if kh <= 0 || kw <= 0 {
		return nil, 0, fmt.Errorf("kernel must be positive, got %dx%d", kh, kw)
	}
	kernel := [3]int{max(1, opts.segments()/4), kh, kw}
	stride := [3]int{1, 1, 1}
	if mode == "max" {
		return layers.NewMaxPool3D(kernel, stride, [3]int{}, false), opts.Channels, nil
	}
	return layers.NewAvgPool3D(kernel, stride, [3]int{}, false), opts.Channels, nil
}

func buildReLU(attrs Attrs, opts Options) (nn.Module, int, error) {
	act, err := layers.NewReLU(opts.Encrypted, opts.HeCtx)
	if err != nil {
		return nil, 0, err
	}
	return act, opts.Channels, nil
}

func bnParams(attrs Attrs) (eps, momentum float64, err error) {
	if eps, err = attrs.FloatOr("eps", layers.DefaultBNEps); err != nil {
		return
	}
	momentum, err = attrs.FloatOr("momentum", layers.DefaultBNMomentum)
	return
}

func buildBN(attrs Attrs, opts Options) (nn.Module, int, error) {
	eps, momentum, err := bnParams(attrs)
	if err != nil {
		return nil, 0, err
	}
	return layers.NewBatchNorm2D(opts.Channels, eps, momentum), opts.Channels, nil
}

func buildBN3d(attrs Attrs, opts Options) (nn.Module, int, error) {
	eps, momentum, err := bnParams(attrs)
	if err != nil {
		return nil, 0, err
	}
	return layers.NewBatchNorm3D(opts.Channels, eps, momentum), opts.Channels, nil
}

func buildInnerProduct(attrs Attrs, opts Options) (nn.Module, int, error) {
	out, err := numOutput(attrs)
	if err != nil {
		return nil, 0, err
	}
	fc, err := layers.NewLinear(opts.Channels, out, opts.Encrypted, opts.HeCtx)
	if err != nil {
		return nil, 0, err
	}
	return fc, out, nil
}

func buildDropout(attrs Attrs, opts Options) (nn.Module, int, error) {
	ratio, err := attrs.FloatOr("dropout_ratio", 0.5)
	if err != nil {
		return nil, 0, err
	}
	d, err := layers.NewDropout(ratio)
	if err != nil {
		return nil, 0, err
	}
	return d, opts.Channels, nil
}

func buildFlatten(attrs Attrs, opts Options) (nn.Module, int, error) {
	return layers.NewFlatten(), opts.Channels, nil
}
