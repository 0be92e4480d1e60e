package nn

import (
	"fmt"
	"math"

	"eco_lib/tensor"
)

// Softmax normalises every row of [N, K] logits (or a single [K] vector)
// into class probabilities.
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	rows, k, err := classRows(logits)
	if err != nil {
		return nil, err
	}
	out := tensor.New(logits.Shape...)
	for r := 0; r < rows; r++ {
		row := logits.Data[r*k : (r+1)*k]
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		dst := out.Data[r*k : (r+1)*k]
		for i, v := range row {
			dst[i] = math.Exp(v - maxLogit)
			expSum += dst[i]
		}
		for i := range dst {
			dst[i] /= expSum
		}
	}
	return out, nil
}

// Argmax returns the index of the largest entry of every row.
func Argmax(scores *tensor.Tensor) ([]int, error) {
	rows, k, err := classRows(scores)
	if err != nil {
		return nil, err
	}
	best := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := scores.Data[r*k : (r+1)*k]
		for i, v := range row {
			if v > row[best[r]] {
				best[r] = i
			}
		}
	}
	return best, nil
}

func classRows(t *tensor.Tensor) (int, int, error) {
	switch len(t.Shape) {
	case 1:
		if t.Shape[0] > 0 {
			return 1, t.Shape[0], nil
		}
	case 2:
		if t.Shape[1] > 0 {
			return t.Shape[0], t.Shape[1], nil
		}
	}
	return 0, 0, fmt.Errorf("expected [K] or [N, K] scores, got shape %v", t.Shape)
}
