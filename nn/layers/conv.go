package layers

import (
	"fmt"

	"eco_lib/tensor"
)

// conv is the plaintext convolution shared by Conv2D and Conv3D.
type conv struct {
	inChan, outChan int
	win             window

	// W is [outChan, inChan, *kernel]; B is [outChan], nil without bias.
	W *tensor.Tensor
	B *tensor.Tensor
}

func newConv(inChan, outChan int, win window, bias bool) conv {
	shape := append([]int{outChan, inChan}, win.axes(win.kernel)...)
	c := conv{
		inChan:  inChan,
		outChan: outChan,
		win:     win,
		W:       tensor.New(shape...),
	}
	if bias {
		c.B = tensor.New(outChan)
	}
	return c
}

func (c *conv) InChannels() int   { return c.inChan }
func (c *conv) OutChannels() int  { return c.outChan }
func (c *conv) KernelSize() []int { return c.win.axes(c.win.kernel) }
func (c *conv) Stride() []int     { return c.win.axes(c.win.stride) }
func (c *conv) Padding() []int    { return c.win.axes(c.win.pad) }
func (c *conv) HasBias() bool     { return c.B != nil }

func (c *conv) Encrypted() bool { return false }
func (c *conv) Levels() int     { return 0 }

// Fans returns the Xavier fan-in and fan-out: channels times kernel volume.
func (c *conv) Fans() (int, int) {
	vol := c.win.kernel[0] * c.win.kernel[1] * c.win.kernel[2]
	return c.inChan * vol, c.outChan * vol
}

func (c *conv) Params() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{"weight": c.W}
	if c.B != nil {
		p["bias"] = c.B
	}
	return p
}

func (c *conv) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return c.ForwardPlain(x)
}

// ForwardPlain performs a zero-padded strided convolution.
func (c *conv) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, ch, in, batched, err := spatialInput(x, c.win.dims)
	if err != nil {
		return nil, err
	}
	if ch != c.inChan {
		return nil, fmt.Errorf("expected %d input channels, got %d", c.inChan, ch)
	}
	out, err := c.win.outExtent(in)
	if err != nil {
		return nil, err
	}

	D, H, W := in[0], in[1], in[2]
	KD, KH, KW := c.win.kernel[0], c.win.kernel[1], c.win.kernel[2]
	s, p := c.win.stride, c.win.pad
	y := tensor.New(spatialShape(n, c.outChan, out, c.win.dims, batched)...)

	o := 0
	for b := 0; b < n; b++ {
		for oc := 0; oc < c.outChan; oc++ {
			bias := 0.0
			if c.B != nil {
				bias = c.B.Data[oc]
			}
			for od := 0; od < out[0]; od++ {
				for oh := 0; oh < out[1]; oh++ {
					for ow := 0; ow < out[2]; ow++ {
						sum := bias
						for ic := 0; ic < c.inChan; ic++ {
							xBase := (b*c.inChan + ic) * D
							wBase := (oc*c.inChan + ic) * KD
							for kd := 0; kd < KD; kd++ {
								id := od*s[0] - p[0] + kd
								if id < 0 || id >= D {
									continue
								}
								for kh := 0; kh < KH; kh++ {
									ih := oh*s[1] - p[1] + kh
									if ih < 0 || ih >= H {
										continue
									}
									xRow := ((xBase+id)*H + ih) * W
									wRow := ((wBase+kd)*KH + kh) * KW
									for kw := 0; kw < KW; kw++ {
										iw := ow*s[2] - p[2] + kw
										if iw < 0 || iw >= W {
											continue
										}
										sum += x.Data[xRow+iw] * c.W.Data[wRow+kw]
									}
								}
							}
						}
						y.Data[o] = sum
						o++
					}
				}
			}
		}
	}
	return y, nil
}

// Conv2D is a 2D convolution over [C,H,W] or [N,C,H,W] inputs.
type Conv2D struct{ conv }

// NewConv2D creates a Conv2D with weights [outChan, inChan, kh, kw].
func NewConv2D(inChan, outChan int, kernel, stride, padding [2]int, bias bool) *Conv2D {
	return &Conv2D{newConv(inChan, outChan, window2D(kernel, stride, padding), bias)}
}

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_k%v_s%v_p%v", c.inChan, c.outChan, c.KernelSize(), c.Stride(), c.Padding())
}

// Conv3D is a 3D convolution over [C,D,H,W] or [N,C,D,H,W] inputs.
type Conv3D struct{ conv }

// NewConv3D creates a Conv3D with weights [outChan, inChan, kd, kh, kw].
func NewConv3D(inChan, outChan int, kernel, stride, padding [3]int, bias bool) *Conv3D {
	return &Conv3D{newConv(inChan, outChan, window3D(kernel, stride, padding), bias)}
}

func (c *Conv3D) Tag() string {
	return fmt.Sprintf("Conv3D_%d_%d_k%v_s%v_p%v", c.inChan, c.outChan, c.KernelSize(), c.Stride(), c.Padding())
}
