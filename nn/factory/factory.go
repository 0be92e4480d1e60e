// Package factory turns layer descriptions from a model definition into
// nn/layers modules. A string-keyed table maps each layer type to a builder;
// Build dispatches on it and reports the channel count the next layer sees.
package factory

import (
	"errors"
	"fmt"
	"sort"

	"eco_lib/core/ckkswrapper"
	"eco_lib/nn"
)

// DefaultNumSegments is used when Options.NumSegments is not positive.
const DefaultNumSegments = 4

// ErrUnknownLayerType is returned by Build for a type with no builder.
var ErrUnknownLayerType = errors.New("unknown layer type")

// UnknownPoolingMethodError reports a pooling mode other than max or ave.
type UnknownPoolingMethodError struct {
	Method string
}

func (e *UnknownPoolingMethodError) Error() string {
	return fmt.Sprintf("unknown pooling method: %s", e.Method)
}

// Options carries everything a builder needs besides the attributes.
type Options struct {
	// Channels is the channel count of the layer input.
	Channels int
	// ConvBias adds a bias term to convolutions.
	ConvBias bool
	// NumSegments sizes the temporal kernel of global pooling.
	NumSegments int
	// Encrypted builds layers that support it (InnerProduct, ReLU) in CKKS
	// mode on HeCtx.
	Encrypted bool
	HeCtx     *ckkswrapper.HeContext
}

func (o Options) segments() int {
	if o.NumSegments <= 0 {
		return DefaultNumSegments
	}
	return o.NumSegments
}

// BuildFunc constructs one layer and returns it with its output channel count.
type BuildFunc func(attrs Attrs, opts Options) (nn.Module, int, error)

var registry = map[string]BuildFunc{}

// Register adds or replaces the builder for a layer type.
func Register(layerType string, fn BuildFunc) {
	registry[layerType] = fn
}

// Lookup returns the builder for a layer type.
func Lookup(layerType string) (BuildFunc, bool) {
	fn, ok := registry[layerType]
	return fn, ok
}

// Types lists the registered layer types in sorted order.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs a layer of the given type. The returned channel count is
// the layer's output channels: num_output for convolution and inner product
// layers, opts.Channels for everything else.
func Build(layerType string, attrs Attrs, opts Options) (nn.Module, int, error) {
	fn, ok := Lookup(layerType)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownLayerType, layerType)
	}
	if opts.Channels <= 0 {
		return nil, 0, fmt.Errorf("build %s: input channels must be positive, got %d", layerType, opts.Channels)
	}
	if attrs == nil {
		attrs = Attrs{}
	}
	m, out, err := fn(attrs, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s: %w", layerType, err)
	}
	return m, out, nil
}
