package layers

import (
	"fmt"
	"math"

	"eco_lib/tensor"
)

// pool is the plaintext pooling shared by the max/average 2D/3D layers.
// Max pooling ignores padded positions. Average pooling divides by the window
// clipped to the padded extent, so padding counts as zeros.
type pool struct {
	win window
	avg bool
}

func (p *pool) KernelSize() []int { return p.win.axes(p.win.kernel) }
func (p *pool) Stride() []int     { return p.win.axes(p.win.stride) }
func (p *pool) Padding() []int    { return p.win.axes(p.win.pad) }
func (p *pool) CeilMode() bool    { return p.win.ceil }
func (p *pool) Encrypted() bool   { return false }
func (p *pool) Levels() int       { return 0 }

func (p *pool) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return p.ForwardPlain(x)
}

func (p *pool) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, ch, in, batched, err := spatialInput(x, p.win.dims)
	if err != nil {
		return nil, err
	}
	out, err := p.win.outExtent(in)
	if err != nil {
		return nil, err
	}
	y := tensor.New(spatialShape(n, ch, out, p.win.dims, batched)...)

	var lo, hi [3]int
	o := 0
	for plane := 0; plane < n*ch; plane++ {
		base := plane * in[0] * in[1] * in[2]
		for od := 0; od < out[0]; od++ {
			for oh := 0; oh < out[1]; oh++ {
				for ow := 0; ow < out[2]; ow++ {
					pos := [3]int{od, oh, ow}
					count := 1
					for a := 0; a < 3; a++ {
						lo[a] = pos[a]*p.win.stride[a] - p.win.pad[a]
						hi[a] = min(lo[a]+p.win.kernel[a], in[a]+p.win.pad[a])
						count *= hi[a] - lo[a]
						lo[a] = max(lo[a], 0)
						hi[a] = min(hi[a], in[a])
					}
					y.Data[o] = p.reduce(x.Data, base, in, lo, hi, count)
					o++
				}
			}
		}
	}
	return y, nil
}

func (p *pool) reduce(data []float64, base int, in, lo, hi [3]int, count int) float64 {
	best := math.Inf(-1)
	sum := 0.0
	for d := lo[0]; d < hi[0]; d++ {
		for h := lo[1]; h < hi[1]; h++ {
			row := base + (d*in[1]+h)*in[2]
			for w := lo[2]; w < hi[2]; w++ {
				v := data[row+w]
				sum += v
				if v > best {
					best = v
				}
			}
		}
	}
	if p.avg {
		return sum / float64(count)
	}
	return best
}

// MaxPool2D takes the maximum over each 2D window.
type MaxPool2D struct{ pool }

// NewMaxPool2D creates a 2D max pooling layer. ceilMode rounds the output
// size up instead of down.
func NewMaxPool2D(kernel, stride, padding [2]int, ceilMode bool) *MaxPool2D {
	w := window2D(kernel, stride, padding)
	w.ceil = ceilMode
	return &MaxPool2D{pool{win: w}}
}

func (p *MaxPool2D) Tag() string {
	return fmt.Sprintf("MaxPool2D_k%v_s%v", p.KernelSize(), p.Stride())
}

// AvgPool2D averages each 2D window.
type AvgPool2D struct{ pool }

func NewAvgPool2D(kernel, stride, padding [2]int, ceilMode bool) *AvgPool2D {
	w := window2D(kernel, stride, padding)
	w.ceil = ceilMode
	return &AvgPool2D{pool{win: w, avg: true}}
}

func (p *AvgPool2D) Tag() string {
	return fmt.Sprintf("AvgPool2D_k%v_s%v", p.KernelSize(), p.Stride())
}

// MaxPool3D takes the maximum over each 3D window.
type MaxPool3D struct{ pool }

func NewMaxPool3D(kernel, stride, padding [3]int, ceilMode bool) *MaxPool3D {
	w := window3D(kernel, stride, padding)
	w.ceil = ceilMode
	return &MaxPool3D{pool{win: w}}
}

func (p *MaxPool3D) Tag() string {
	return fmt.Sprintf("MaxPool3D_k%v_s%v", p.KernelSize(), p.Stride())
}

// AvgPool3D averages each 3D window.
type AvgPool3D struct{ pool }

func NewAvgPool3D(kernel, stride, padding [3]int, ceilMode bool) *AvgPool3D {
	w := window3D(kernel, stride, padding)
	w.ceil = ceilMode
	return &AvgPool3D{pool{win: w, avg: true}}
}

func (p *AvgPool3D) Tag() string {
	return fmt.Sprintf("AvgPool3D_k%v_s%v", p.KernelSize(), p.Stride())
}
