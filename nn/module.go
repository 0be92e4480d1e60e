package nn

import (
	"eco_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	// Forward takes a *tensor.Tensor for plaintext layers, or a ciphertext for
	// layers running encrypted.
	Forward(input interface{}) (interface{}, error)
	Encrypted() bool
	// Levels is the number of CKKS levels one encrypted forward pass consumes.
	Levels() int
	Tag() string
}

// Trainable is implemented by layers whose forward pass differs between
// training and inference (batch norm, dropout).
type Trainable interface {
	SetTraining(training bool)
	Training() bool
}

// Parameterized is implemented by layers carrying learnable or running
// parameters. Keys are "weight", "bias", "running_mean" and "running_var".
type Parameterized interface {
	Params() map[string]*tensor.Tensor
}
