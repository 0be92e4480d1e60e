package layers

import (
	"fmt"

	"eco_lib/core/ckkswrapper"
	"eco_lib/tensor"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Poly holds the definition of a polynomial approximation.
type Poly struct {
	Name   string
	Coeffs []float64 // c0, c1, c2, ...
	Degree int
	Levels int // Levels consumed by the HE evaluation
}

// Eval evaluates the polynomial at x with Horner's rule.
func (p Poly) Eval(x float64) float64 {
	res := p.Coeffs[p.Degree]
	for i := p.Degree - 1; i >= 0; i-- {
		res = res*x + p.Coeffs[i]
	}
	return res
}

// SupportedPolynomials contains precomputed polynomial approximations.
var SupportedPolynomials = map[string]Poly{
	// least-squares fit of max(0, x) on [-1, 1]
	"ReLU2": {
		Name:   "ReLU2",
		Coeffs: []float64{0.3183099, 0.5, 0.2122066},
		Degree: 2,
		Levels: 2,
	},
}

// Activation is a ReLU layer. Plaintext inputs get the exact function;
// ciphertexts get the polynomial approximation.
type Activation struct {
	poly      Poly
	encrypted bool
	heCtx     *ckkswrapper.HeContext
	serverKit *ckkswrapper.ServerKit
	eval      *WrappedEvaluator
}

// NewActivation creates a new activation layer.
func NewActivation(polyName string, encrypted bool, heCtx *ckkswrapper.HeContext) (*Activation, error) {
	poly, ok := SupportedPolynomials[polyName]
	if !ok {
		return nil, fmt.Errorf("unsupported polynomial: %s", polyName)
	}
	a := &Activation{poly: poly, heCtx: heCtx}
	if encrypted {
		if err := a.EnableEncrypted(true); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// NewReLU is NewActivation with the default ReLU approximation.
func NewReLU(encrypted bool, heCtx *ckkswrapper.HeContext) (*Activation, error) {
	return NewActivation("ReLU2", encrypted, heCtx)
}

func (a *Activation) EnableEncrypted(encrypted bool) error {
	if encrypted && a.heCtx == nil {
		return fmt.Errorf("heCtx is required for an encrypted activation layer")
	}
	if encrypted && a.serverKit == nil {
		a.serverKit = a.heCtx.GenServerKit([]int{})
		a.eval = NewWrappedEvaluator(a.serverKit.Evaluator)
	}
	a.encrypted = encrypted
	return nil
}

func (a *Activation) Levels() int {
	if a.encrypted {
		return a.poly.Levels
	}
	return 0
}

func (a *Activation) Encrypted() bool { return a.encrypted }

func (a *Activation) Poly() Poly { return a.poly }

func (a *Activation) Evaluator() *WrappedEvaluator { return a.eval }

func (a *Activation) Tag() string { return "Activation_" + a.poly.Name }

// Forward processes the input through the layer.
func (a *Activation) Forward(input interface{}) (interface{}, error) {
	if a.encrypted {
		switch in := input.(type) {
		case *rlwe.Ciphertext:
			return a.ForwardCipher(in)
		case []*rlwe.Ciphertext:
			out := make([]*rlwe.Ciphertext, len(in))
			for i, ct := range in {
				res, err := a.ForwardCipher(ct)
				if err != nil {
					return nil, err
				}
				out[i] = res
			}
			return out, nil
		}
		return nil, fmt.Errorf("encrypted activation expects *rlwe.Ciphertext or []*rlwe.Ciphertext input, got %T", input)
	}
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return a.ForwardPlain(x), nil
}

// ForwardPlain applies max(0, x) element-wise.
func (a *Activation) ForwardPlain(x *tensor.Tensor) *tensor.Tensor {
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y
}

// ForwardCipher evaluates c0 + x(c1 + x c2) on every slot of ct.
func (a *Activation) ForwardCipher(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	if !a.encrypted {
		return nil, ErrNotEncrypted
	}
	if ct == nil {
		return nil, fmt.Errorf("input ciphertext is nil")
	}
	ct, err := a.heCtx.EnsureLevels(ct, a.Levels())
	if err != nil {
		return nil, fmt.Errorf("refresh input: %w", err)
	}
	a.eval.ResetCounters()
	defer a.eval.PrintCounters(a.Tag())
	c := a.poly.Coeffs

	pt, err := a.constant(c[2], ct.Level(), a.heCtx.Params.DefaultScale())
	if err != nil {
		return nil, err
	}
	res, err := a.eval.MulNew(ct, pt)
	if err != nil {
		return nil, err
	}
	if err = a.eval.Rescale(res, res); err != nil {
		return nil, err
	}
	if pt, err = a.constant(c[1], res.Level(), res.Scale); err != nil {
		return nil, err
	}
	if res, err = a.eval.AddPlainNew(res, pt); err != nil {
		return nil, err
	}

	if res, err = a.eval.MulRelinNew(res, ct); err != nil {
		return nil, err
	}
	if err = a.eval.Rescale(res, res); err != nil {
		return nil, err
	}
	if pt, err = a.constant(c[0], res.Level(), res.Scale); err != nil {
		return nil, err
	}
	return a.eval.AddPlainNew(res, pt)
}

// constant encodes v in every slot.
func (a *Activation) constant(v float64, level int, scale rlwe.Scale) (*rlwe.Plaintext, error) {
	vec := make([]float64, a.heCtx.Params.MaxSlots())
	for i := range vec {
		vec[i] = v
	}
	pt := ckks.NewPlaintext(a.heCtx.Params, level)
	pt.Scale = scale
	if err := a.serverKit.Encoder.Encode(vec, pt); err != nil {
		return nil, fmt.Errorf("encode coefficient: %w", err)
	}
	return pt, nil
}
