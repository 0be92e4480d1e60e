package ckkswrapper

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// DefaultLogN is the ring degree used by NewHeContext.
const DefaultLogN = 14

// HeContext holds the client-side CKKS material: parameters, keys and the
// encoder/encryptor/decryptor built from them.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	kgen *rlwe.KeyGenerator
	sk   *rlwe.SecretKey
	rlk  *rlwe.RelinearizationKey
}

// ServerKit is what an evaluating party needs: parameters, an encoder and an
// evaluator loaded with relinearization and the requested rotation keys.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
}

// NewHeContext creates a context with DefaultLogN.
func NewHeContext() *HeContext {
	return NewHeContextWithLogN(DefaultLogN)
}

// NewHeContextWithLogN creates a context with a 2^logN ring and five 40-bit
// rescaling primes. It panics on invalid parameters.
func NewHeContextWithLogN(logN int) *HeContext {
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{55, 40, 40, 40, 40, 40},
		LogP:            []int{61},
		LogDefaultScale: 40,
	})
	if err != nil {
		panic(err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)

	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		kgen:      kgen,
		sk:        sk,
		rlk:       rlk,
	}
}

// GenServerKit generates Galois keys for the given rotation steps and returns
// an evaluator bound to them. Zero and duplicate steps are skipped.
func (h *HeContext) GenServerKit(rots []int) *ServerKit {
	seen := make(map[uint64]bool, len(rots))
	galEls := make([]uint64, 0, len(rots))
	for _, r := range rots {
		if r == 0 {
			continue
		}
		el := h.Params.GaloisElement(r)
		if seen[el] {
			continue
		}
		seen[el] = true
		galEls = append(galEls, el)
	}

	gks := h.kgen.GenGaloisKeysNew(galEls, h.sk)
	evk := rlwe.NewMemEvaluationKeySet(h.rlk, gks...)

	return &ServerKit{
		Params:    h.Params,
		Encoder:   ckks.NewEncoder(h.Params),
		Evaluator: ckks.NewEvaluator(h.Params, evk),
	}
}

// EncryptVector encodes values into the first slots of a fresh ciphertext at
// the maximum level.
func (h *HeContext) EncryptVector(values []float64) (*rlwe.Ciphertext, error) {
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(values, pt); err != nil {
		return nil, err
	}
	return h.Encryptor.EncryptNew(pt)
}

// DecryptVector decrypts ct and returns the real parts of its first n slots.
func (h *HeContext) DecryptVector(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]complex128, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, err
	}
	if n > len(decoded) {
		n = len(decoded)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = real(decoded[i])
	}
	return out, nil
}
