package layers

import "errors"

var ErrType = &TypeError{"input must be *tensor.Tensor"}

// ErrNotEncrypted is returned by HE entry points of a plaintext layer.
var ErrNotEncrypted = errors.New("layer is not in encrypted mode")

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }
