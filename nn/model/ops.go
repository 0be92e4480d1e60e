package model

import (
	"fmt"
	"math"

	"eco_lib/tensor"
)

// concat joins tensors along the channel axis (axis 1).
func concat(ts []*tensor.Tensor) (*tensor.Tensor, error) {
	first := ts[0]
	if len(first.Shape) < 2 {
		return nil, fmt.Errorf("concat needs batched inputs, got shape %v", first.Shape)
	}
	n := first.Shape[0]
	inner := tensor.Numel(first.Shape[2:])
	channels := 0
	for _, t := range ts {
		if len(t.Shape) != len(first.Shape) || t.Shape[0] != n || tensor.Numel(t.Shape[2:]) != inner {
			return nil, fmt.Errorf("concat shape mismatch: %v vs %v", first.Shape, t.Shape)
		}
		channels += t.Shape[1]
	}

	shape := append([]int{n, channels}, first.Shape[2:]...)
	out := tensor.New(shape...)
	o := 0
	for b := 0; b < n; b++ {
		for _, t := range ts {
			chunk := t.Shape[1] * inner
			o += copy(out.Data[o:], t.Data[b*chunk:(b+1)*chunk])
		}
	}
	return out, nil
}

// eltwise combines same-shaped tensors element by element.
func eltwise(op string, ts []*tensor.Tensor) (*tensor.Tensor, error) {
	out := ts[0].Clone()
	for _, t := range ts[1:] {
		if !tensor.SameShape(out, t) {
			return nil, fmt.Errorf("eltwise shape mismatch: %v vs %v", out.Shape, t.Shape)
		}
		if op == "SUM" {
			sum, err := tensor.Add(out, t)
			if err != nil {
				return nil, err
			}
			out = sum
			continue
		}
		for i, v := range t.Data {
			if op == "PROD" {
				out.Data[i] *= v
			} else {
				out.Data[i] = math.Max(out.Data[i], v)
			}
		}
	}
	return out, nil
}

// reshape3d regroups per-frame features [N*T, C, H, W] into clips
// [N, C, T, H, W] for the 3D part of the network.
func reshape3d(x *tensor.Tensor, segments int) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("reshape3d expects [N*T, C, H, W], got %v", x.Shape)
	}
	if x.Shape[0]%segments != 0 {
		return nil, fmt.Errorf("batch %d is not a multiple of %d segments", x.Shape[0], segments)
	}
	n, c := x.Shape[0]/segments, x.Shape[1]
	plane := x.Shape[2] * x.Shape[3]
	out := tensor.New(n, c, segments, x.Shape[2], x.Shape[3])
	for b := 0; b < n; b++ {
		for t := 0; t < segments; t++ {
			for ch := 0; ch < c; ch++ {
				src := ((b*segments+t)*c + ch) * plane
				dst := ((b*c+ch)*segments + t) * plane
				copy(out.Data[dst:dst+plane], x.Data[src:src+plane])
			}
		}
	}
	return out, nil
}
