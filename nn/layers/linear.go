package layers

import (
	"fmt"

	"eco_lib/core/ckkswrapper"
	"eco_lib/tensor"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Linear is a fully-connected layer supporting plaintext & HE forward.
//
// In encrypted mode the input is one ciphertext whose first inDim slots hold
// the input vector; the output ciphertext holds the outDim results in its
// first slots. Weights stay in plaintext on the evaluating side.
type Linear struct {
	W, B *tensor.Tensor

	encrypted bool
	heCtx     *ckkswrapper.HeContext
	serverKit *ckkswrapper.ServerKit
	eval      *WrappedEvaluator
}

// NewLinear(inDim→outDim, encrypted, heCtx) sets up W [outDim, inDim], B and
// the rotation keys needed by the encrypted forward pass.
func NewLinear(inDim, outDim int, encrypted bool, heCtx *ckkswrapper.HeContext) (*Linear, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions %d -> %d", inDim, outDim)
	}
	l := &Linear{W: tensor.New(outDim, inDim), B: tensor.New(outDim), heCtx: heCtx}
	if encrypted {
		if err := l.EnableEncrypted(true); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// EnableEncrypted switches the layer between encrypted and plaintext mode
func (l *Linear) EnableEncrypted(encrypted bool) error {
	if !encrypted {
		l.encrypted = false
		return nil
	}
	if l.heCtx == nil {
		return fmt.Errorf("heCtx is required for an encrypted linear layer")
	}
	slots := l.heCtx.Params.MaxSlots()
	if l.InDim() > slots || l.OutDim() > slots {
		return fmt.Errorf("linear %d -> %d does not fit in %d slots", l.InDim(), l.OutDim(), slots)
	}
	if l.serverKit == nil {
		rots := []int{}
		// tree-sum of the row products into slot 0
		for step := 1; step < l.span(); step *= 2 {
			rots = append(rots, step)
		}
		// move result j from slot 0 to slot j
		for j := 1; j < l.OutDim(); j++ {
			rots = append(rots, -j)
		}
		l.serverKit = l.heCtx.GenServerKit(rots)
		l.eval = NewWrappedEvaluator(l.serverKit.Evaluator)
	}
	l.encrypted = true
	return nil
}

func (l *Linear) InDim() int  { return l.W.Shape[1] }
func (l *Linear) OutDim() int { return l.W.Shape[0] }

// span is the power of two covering the input vector.
func (l *Linear) span() int {
	s := 1
	for s < l.InDim() {
		s *= 2
	}
	return s
}

func (l *Linear) Encrypted() bool { return l.encrypted }

// Levels is two: one rescale after the row product, one after the slot mask.
func (l *Linear) Levels() int {
	if l.encrypted {
		return 2
	}
	return 0
}

func (l *Linear) Fans() (int, int) { return l.InDim(), l.OutDim() }

func (l *Linear) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": l.W, "bias": l.B}
}

// Evaluator exposes the counting evaluator used by the encrypted pass.
func (l *Linear) Evaluator() *WrappedEvaluator { return l.eval }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.InDim(), l.OutDim())
}

func (l *Linear) Forward(input interface{}) (interface{}, error) {
	if l.encrypted {
		ct, ok := input.(*rlwe.Ciphertext)
		if !ok {
			return nil, fmt.Errorf("encrypted linear expects *rlwe.Ciphertext input, got %T", input)
		}
		return l.ForwardHE(ct)
	}
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return l.ForwardPlain(x)
}

// ForwardPlain computes x·Wᵀ + b. A tensor holding exactly inDim values gives
// an [outDim] result; a tensor whose leading axis is the batch gives
// [N, outDim], every sample flattened.
func (l *Linear) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	inDim, outDim := l.InDim(), l.OutDim()
	total := len(x.Data)

	var n int
	var outShape []int
	switch {
	case total == inDim && (len(x.Shape) < 2 || x.Shape[0] != 1):
		n, outShape = 1, []int{outDim}
	case len(x.Shape) >= 2 && x.Shape[0]*inDim == total:
		n, outShape = x.Shape[0], []int{x.Shape[0], outDim}
	default:
		return nil, fmt.Errorf("linear expects %d features per sample, got shape %v", inDim, x.Shape)
	}

	rows := &tensor.Tensor{Data: x.Data, Shape: []int{n, inDim}}
	out, err := tensor.MatMulT(rows, l.W)
	if err != nil {
		return nil, err
	}
	out.Shape = outShape
	for i := 0; i < n; i++ {
		row := out.Data[i*outDim : (i+1)*outDim]
		for j := range row {
			row[j] += l.B.Data[j]
		}
	}
	return out, nil
}

// ForwardHE evaluates the layer on an encrypted input vector. Each output is
// a masked tree-sum of the input times one weight row, rotated into its slot.
func (l *Linear) ForwardHE(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	if !l.encrypted {
		return nil, ErrNotEncrypted
	}
	ct, err := l.heCtx.EnsureLevels(ct, l.Levels())
	if err != nil {
		return nil, fmt.Errorf("refresh input: %w", err)
	}
	l.eval.ResetCounters()
	defer l.eval.PrintCounters(l.Tag())

	params := l.heCtx.Params
	slots := params.MaxSlots()
	inDim, outDim := l.InDim(), l.OutDim()

	var acc *rlwe.Ciphertext
	for j := 0; j < outDim; j++ {
		row := make([]float64, slots)
		copy(row, l.W.Data[j*inDim:(j+1)*inDim])
		rowPT, err := l.encode(row, ct.Level(), params.DefaultScale())
		if err != nil {
			return nil, err
		}
		prod, err := l.eval.MulNew(ct, rowPT)
		if err != nil {
			return nil, fmt.Errorf("row %d product: %w", j, err)
		}
		if err := l.eval.Rescale(prod, prod); err != nil {
			return nil, fmt.Errorf("row %d rescale: %w", j, err)
		}
		for step := 1; step < l.span(); step *= 2 {
			rot, err := l.eval.RotateNew(prod, step)
			if err != nil {
				return nil, fmt.Errorf("row %d rotate %d: %w", j, step, err)
			}
			if prod, err = l.eval.AddNew(prod, rot); err != nil {
				return nil, err
			}
		}

		mask := make([]float64, slots)
		mask[0] = 1
		maskPT, err := l.encode(mask, prod.Level(), params.DefaultScale())
		if err != nil {
			return nil, err
		}
		cell, err := l.eval.MulNew(prod, maskPT)
		if err != nil {
			return nil, fmt.Errorf("row %d mask: %w", j, err)
		}
		if err := l.eval.Rescale(cell, cell); err != nil {
			return nil, fmt.Errorf("row %d mask rescale: %w", j, err)
		}
		if j > 0 {
			if cell, err = l.eval.RotateNew(cell, -j); err != nil {
				return nil, fmt.Errorf("row %d placement: %w", j, err)
			}
		}
		if acc == nil {
			acc = cell
		} else if acc, err = l.eval.AddNew(acc, cell); err != nil {
			return nil, err
		}
	}

	bias := make([]float64, slots)
	copy(bias, l.B.Data)
	biasPT, err := l.encode(bias, acc.Level(), acc.Scale)
	if err != nil {
		return nil, err
	}
	return l.eval.AddPlainNew(acc, biasPT)
}

func (l *Linear) encode(values []float64, level int, scale rlwe.Scale) (*rlwe.Plaintext, error) {
	pt := ckks.NewPlaintext(l.heCtx.Params, level)
	pt.Scale = scale
	if err := l.serverKit.Encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return pt, nil
}
