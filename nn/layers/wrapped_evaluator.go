package layers

import (
	"eco_lib/utils"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// WrappedEvaluator wraps a ckks.Evaluator to count operations
type WrappedEvaluator struct {
	eval *ckks.Evaluator

	// Operation counters
	RotateCount  int
	MulCount     int
	RescaleCount int
	AddCount     int
}

// NewWrappedEvaluator creates a new wrapped evaluator
func NewWrappedEvaluator(eval *ckks.Evaluator) *WrappedEvaluator {
	return &WrappedEvaluator{
		eval: eval,
	}
}

// ResetCounters resets all operation counters to zero
func (w *WrappedEvaluator) ResetCounters() {
	w.RotateCount = 0
	w.MulCount = 0
	w.RescaleCount = 0
	w.AddCount = 0
}

// PrintCounters prints the current operation counts when utils.Verbose is set.
func (w *WrappedEvaluator) PrintCounters(phaseName string) {
	utils.Logf("=== Phase: %s ===\n", phaseName)
	utils.Logf("Rotates: %d, Muls: %d, Rescales: %d, Adds: %d\n",
		w.RotateCount, w.MulCount, w.RescaleCount, w.AddCount)
}

// RotateNew rotates ct left by krot slots.
func (w *WrappedEvaluator) RotateNew(ct *rlwe.Ciphertext, krot int) (*rlwe.Ciphertext, error) {
	w.RotateCount++
	return w.eval.RotateNew(ct, krot)
}

// MulNew multiplies a ciphertext by a plaintext.
func (w *WrappedEvaluator) MulNew(ct *rlwe.Ciphertext, pt *rlwe.Plaintext) (*rlwe.Ciphertext, error) {
	w.MulCount++
	return w.eval.MulNew(ct, pt)
}

// MulRelinNew multiplies two ciphertexts and relinearizes the result.
func (w *WrappedEvaluator) MulRelinNew(ct1, ct2 *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	w.MulCount++
	return w.eval.MulRelinNew(ct1, ct2)
}

// Rescale wraps eval.Rescale and counts rescales
func (w *WrappedEvaluator) Rescale(ct *rlwe.Ciphertext, ctOut *rlwe.Ciphertext) error {
	w.RescaleCount++
	return w.eval.Rescale(ct, ctOut)
}

// AddNew wraps eval.AddNew and counts additions
func (w *WrappedEvaluator) AddNew(ct1, ct2 *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	w.AddCount++
	return w.eval.AddNew(ct1, ct2)
}

// AddPlainNew adds a plaintext to a ciphertext.
func (w *WrappedEvaluator) AddPlainNew(ct *rlwe.Ciphertext, pt *rlwe.Plaintext) (*rlwe.Ciphertext, error) {
	w.AddCount++
	return w.eval.AddNew(ct, pt)
}
