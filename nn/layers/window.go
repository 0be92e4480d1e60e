package layers

import (
	"fmt"

	"eco_lib/tensor"
)

// window is the kernel/stride/padding geometry of a sliding-window layer,
// normalised to three spatial axes (depth, height, width). 2D layers use a
// unit depth axis.
type window struct {
	dims   int
	kernel [3]int
	stride [3]int
	pad    [3]int
	ceil   bool
}

func window2D(kernel, stride, pad [2]int) window {
	return window{
		dims:   2,
		kernel: [3]int{1, kernel[0], kernel[1]},
		stride: [3]int{1, stride[0], stride[1]},
		pad:    [3]int{0, pad[0], pad[1]},
	}
}

func window3D(kernel, stride, pad [3]int) window {
	return window{dims: 3, kernel: kernel, stride: stride, pad: pad}
}

func (w window) axes(v [3]int) []int {
	return append([]int(nil), v[3-w.dims:]...)
}

// outExtent computes the output size on every axis.
func (w window) outExtent(in [3]int) ([3]int, error) {
	var out [3]int
	for i := 0; i < 3; i++ {
		k, s, p := w.kernel[i], w.stride[i], w.pad[i]
		if k <= 0 || s <= 0 || p < 0 {
			return out, fmt.Errorf("invalid window kernel=%v stride=%v pad=%v", w.kernel, w.stride, w.pad)
		}
		span := in[i] + 2*p - k
		if span < 0 {
			return out, fmt.Errorf("kernel %v larger than padded input %v", w.axes(w.kernel), w.axes(in))
		}
		if w.ceil {
			out[i] = (span+s-1)/s + 1
			// the last window must start inside the input or left padding
			if (out[i]-1)*s >= in[i]+p {
				out[i]--
			}
		} else {
			out[i] = span/s + 1
		}
	}
	return out, nil
}

// spatialInput splits x into batch size, channel count and a three-axis
// extent. Inputs of rank dims+1 are unbatched, rank dims+2 batched.
func spatialInput(x *tensor.Tensor, dims int) (n, c int, ext [3]int, batched bool, err error) {
	rank := len(x.Shape)
	switch rank {
	case dims + 1:
		n, batched = 1, false
	case dims + 2:
		n, batched = x.Shape[0], true
	default:
		return 0, 0, ext, false, fmt.Errorf("expected %dD or %dD input, got shape %v", dims+1, dims+2, x.Shape)
	}
	sp := x.Shape[rank-dims:]
	c = x.Shape[rank-dims-1]
	ext = [3]int{1, 1, 1}
	copy(ext[3-dims:], sp)
	return n, c, ext, batched, nil
}

// spatialShape is the inverse of spatialInput.
func spatialShape(n, c int, ext [3]int, dims int, batched bool) []int {
	shape := make([]int, 0, dims+2)
	if batched {
		shape = append(shape, n)
	}
	shape = append(shape, c)
	return append(shape, ext[3-dims:]...)
}

func asTensor(input interface{}) (*tensor.Tensor, error) {
	x, ok := input.(*tensor.Tensor)
	if !ok {
		return nil, ErrType
	}
	return x, nil
}
