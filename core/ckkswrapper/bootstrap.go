package ckkswrapper

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// CheatBootstrap refreshes a ciphertext's level by decrypting and re-encrypting.
// It needs the secret key, so it only stands in for real bootstrapping when the
// evaluating party and the key owner are the same process.
func (h *HeContext) CheatBootstrap(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	pt := h.Decryptor.DecryptNew(ct)

	values := make([]complex128, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, err
	}

	newPt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(values, newPt); err != nil {
		return nil, err
	}
	return h.Encryptor.EncryptNew(newPt)
}

// EnsureLevels returns ct unchanged when it still has at least `levels`
// rescales left, and a refreshed copy otherwise.
func (h *HeContext) EnsureLevels(ct *rlwe.Ciphertext, levels int) (*rlwe.Ciphertext, error) {
	if ct.Level() >= levels {
		return ct, nil
	}
	return h.CheatBootstrap(ct)
}
