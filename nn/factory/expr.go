package factory

import (
	"fmt"
	"strings"

	"eco_lib/nn"
)

// LayerInfo is one layer description of a model definition.
type LayerInfo struct {
	ID    string `yaml:"id"`
	Expr  string `yaml:"expr"`
	Attrs Attrs  `yaml:"attrs"`
}

// BasicLayer is a constructed single-input, single-output layer.
type BasicLayer struct {
	ID          string
	Output      string
	Op          string
	Input       string
	Module      nn.Module
	OutChannels int
}

// ParseExpr splits a layer expression "out1,out2<=Op<=in1,in2" into its
// output blobs, operator and input blobs.
func ParseExpr(expr string) (outputs []string, op string, inputs []string, err error) {
	parts := strings.Split(expr, "<=")
	if len(parts) != 3 {
		return nil, "", nil, fmt.Errorf("malformed layer expression %q: want out<=Op<=in", expr)
	}
	op = strings.TrimSpace(parts[1])
	if op == "" {
		return nil, "", nil, fmt.Errorf("malformed layer expression %q: empty operator", expr)
	}
	if outputs, err = blobList(parts[0]); err != nil {
		return nil, "", nil, fmt.Errorf("layer expression %q outputs: %w", expr, err)
	}
	if inputs, err = blobList(parts[2]); err != nil {
		return nil, "", nil, fmt.Errorf("layer expression %q inputs: %w", expr, err)
	}
	return outputs, op, inputs, nil
}

func blobList(s string) ([]string, error) {
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty blob name in %q", s)
		}
		out = append(out, name)
	}
	return out, nil
}

// GetBasicLayer parses info.Expr and builds its operator with Build.
func GetBasicLayer(info LayerInfo, opts Options) (*BasicLayer, error) {
	outputs, op, inputs, err := ParseExpr(info.Expr)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 || len(inputs) != 1 {
		return nil, fmt.Errorf("layer %s: %s takes one input and one output, got %d -> %d",
			info.ID, op, len(inputs), len(outputs))
	}
	m, out, err := Build(op, info.Attrs, opts)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", info.ID, err)
	}
	return &BasicLayer{
		ID:          info.ID,
		Output:      outputs[0],
		Op:          op,
		Input:       inputs[0],
		Module:      m,
		OutChannels: out,
	}, nil
}
