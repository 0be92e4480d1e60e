package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"eco_lib/core/ckkswrapper"
	"eco_lib/nn"
	"eco_lib/nn/factory"
	"eco_lib/nn/layers"
	"eco_lib/tensor"
	"eco_lib/utils"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Structural operators evaluated by the network itself.
const (
	OpConcat    = "Concat"
	OpEltwise   = "Eltwise"
	OpReshape3d = "Reshape3d"
)

// Layer types the assembly treats specially under encryption.
const (
	opInnerProduct = "InnerProduct"
	opReLU         = "ReLU"
)

// DefaultInputChannels is used when BuildOptions.InputChannels is not positive.
const DefaultInputChannels = 3

// BuildOptions configures network assembly.
type BuildOptions struct {
	InputChannels int
	NumSegments   int
	ConvBias      bool
	Encrypted     bool
	HeCtx         *ckkswrapper.HeContext
	// Stats, when set, records the construction time of every layer.
	Stats *utils.BuildStats
}

// Node is one layer of a built network. Module is nil for structural
// operators.
type Node struct {
	ID          string
	Op          string
	Inputs      []string
	Outputs     []string
	Module      nn.Module
	OutChannels int
	// Clip is set for nodes after Reshape3d, which work on [N, C, T, H, W].
	Clip bool

	eltwise string
}

// Net is a network assembled from a Definition.
type Net struct {
	Name     string
	Inputs   []string
	Nodes    []*Node
	channels map[string]int
	segments int
	heCtx    *ckkswrapper.HeContext
}

// Build constructs every layer of def in order, propagating channel counts
// between blobs.
//
// With opts.Encrypted the encrypted part starts at the first InnerProduct:
// InnerProduct layers run under CKKS, and so does a ReLU whose input is
// already encrypted. Every other layer stays in plaintext.
func Build(def *Definition, opts BuildOptions) (*Net, error) {
	if len(def.Layers) == 0 {
		return nil, fmt.Errorf("model definition %q has no layers", def.Name)
	}
	if opts.InputChannels <= 0 {
		opts.InputChannels = DefaultInputChannels
	}
	if opts.NumSegments <= 0 {
		opts.NumSegments = factory.DefaultNumSegments
	}

	net := &Net{
		Name:     def.Name,
		Inputs:   append([]string(nil), def.Inputs...),
		channels: make(map[string]int),
		segments: opts.NumSegments,
		heCtx:    opts.HeCtx,
	}
	for _, in := range net.Inputs {
		net.channels[in] = opts.InputChannels
	}
	cipher := make(map[string]bool)
	clip := make(map[string]bool)

	for _, info := range def.Layers {
		outputs, op, inputs, err := factory.ParseExpr(info.Expr)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", info.ID, err)
		}
		inChannels := make([]int, len(inputs))
		for i, in := range inputs {
			c, ok := net.channels[in]
			if !ok {
				return nil, fmt.Errorf("layer %s: input blob %q is not produced by any earlier layer", info.ID, in)
			}
			inChannels[i] = c
		}

		node := &Node{ID: info.ID, Op: op, Inputs: inputs, Outputs: outputs, Clip: op == OpReshape3d}
		for _, in := range inputs {
			node.Clip = node.Clip || clip[in]
		}
		encIn := cipher[inputs[0]]
		switch op {
		case OpConcat:
			for _, c := range inChannels {
				node.OutChannels += c
			}
		case OpEltwise:
			node.OutChannels = inChannels[0]
			node.eltwise, err = info.Attrs.StringOr("operation", "SUM")
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", info.ID, err)
			}
			node.eltwise = strings.ToUpper(node.eltwise)
			if node.eltwise != "SUM" && node.eltwise != "PROD" && node.eltwise != "MAX" {
				return nil, fmt.Errorf("layer %s: unknown eltwise operation %q", info.ID, node.eltwise)
			}
		case OpReshape3d:
			node.OutChannels = inChannels[0]
		default:
			start := time.Now()
			bl, err := factory.GetBasicLayer(info, factory.Options{
				Channels:    inChannels[0],
				ConvBias:    opts.ConvBias,
				NumSegments: opts.NumSegments,
				Encrypted:   opts.Encrypted && (op == opInnerProduct || (op == opReLU && encIn)),
				HeCtx:       opts.HeCtx,
			})
			if err != nil {
				return nil, err
			}
			if opts.Stats != nil {
				opts.Stats.Record(op, time.Since(start))
			}
			node.Module = bl.Module
			node.OutChannels = bl.OutChannels
		}
		if len(outputs) != 1 && node.Module == nil {
			return nil, fmt.Errorf("layer %s: %s produces one output, got %d", info.ID, op, len(outputs))
		}

		encOut := node.Module != nil && (node.Module.Encrypted() || (encIn && passesCiphertext(node.Module)))
		for _, out := range outputs {
			net.channels[out] = node.OutChannels
			cipher[out] = encOut
			clip[out] = node.Clip
		}
		net.Nodes = append(net.Nodes, node)
		utils.Logf("built %s (%s) -> %d channels\n", node.ID, op, node.OutChannels)
	}
	return net, nil
}

// Channels returns the channel count of a blob.
func (n *Net) Channels(blob string) (int, bool) {
	c, ok := n.channels[blob]
	return c, ok
}

// Output is the blob produced by the last layer.
func (n *Net) Output() string {
	if len(n.Nodes) == 0 {
		return ""
	}
	last := n.Nodes[len(n.Nodes)-1]
	return last.Outputs[0]
}

// Node returns the node with the given id.
func (n *Net) Node(id string) (*Node, bool) {
	for _, node := range n.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return nil, false
}

// SetTraining switches every layer between training and eval mode.
func (n *Net) SetTraining(training bool) {
	for _, node := range n.Nodes {
		if tr, ok := node.Module.(nn.Trainable); ok {
			tr.SetTraining(training)
		}
	}
}

// Encrypted returns true if any layer runs in CKKS mode.
func (n *Net) Encrypted() bool {
	for _, node := range n.Nodes {
		if node.Module != nil && node.Module.Encrypted() {
			return true
		}
	}
	return false
}

// StateDict returns every parameter keyed "<layer id>.<param>". The tensors
// are the live parameters, not copies.
func (n *Net) StateDict() map[string]*tensor.Tensor {
	sd := make(map[string]*tensor.Tensor)
	for _, node := range n.Nodes {
		p, ok := node.Module.(nn.Parameterized)
		if !ok {
			continue
		}
		for key, t := range p.Params() {
			sd[node.ID+"."+key] = t
		}
	}
	return sd
}

// LoadStateDict copies the matching entries of sd into the network and
// returns the sorted keys it did not provide. Entries for unknown keys are
// ignored; an entry whose shape differs from the parameter, such as a
// classifier trained on another dataset, is left out and reported as missing.
func (n *Net) LoadStateDict(sd map[string]*tensor.Tensor) ([]string, error) {
	var missing []string
	for key, t := range n.StateDict() {
		src, ok := sd[key]
		if !ok || !tensor.SameShape(src, t) {
			if ok {
				utils.Logf("%s: pretrained shape %v does not match %v, skipped\n", key, src.Shape, t.Shape)
			}
			missing = append(missing, key)
			continue
		}
		copy(t.Data, src.Data)
	}
	sort.Strings(missing)
	return missing, nil
}

// Pretrained parts selectable by SelectPretrained.
const (
	PartScratch  = "scratch"
	Part2D       = "2D"
	Part3D       = "3D"
	PartFinetune = "finetune"
	PartBoth     = "both"
)

// SelectPretrained keeps the entries of sd that belong to the requested part
// of the network: nothing for scratch, the per-frame layers before Reshape3d
// for 2D, the clip layers from Reshape3d on for 3D, everything otherwise.
func (n *Net) SelectPretrained(sd map[string]*tensor.Tensor, part string) (map[string]*tensor.Tensor, error) {
	switch part {
	case PartFinetune, PartBoth:
		return sd, nil
	case PartScratch:
		return map[string]*tensor.Tensor{}, nil
	case Part2D, Part3D:
	default:
		return nil, fmt.Errorf("unknown pretrained part %q", part)
	}
	out := make(map[string]*tensor.Tensor)
	for key, t := range sd {
		i := strings.LastIndex(key, ".")
		if i <= 0 {
			continue
		}
		node, ok := n.Node(key[:i])
		if ok && node.Clip == (part == Part3D) {
			out[key] = t
		}
	}
	return out, nil
}

// InitUninitialized applies the default init policy to the given state dict
// keys, typically those returned by LoadStateDict.
func (n *Net) InitUninitialized(keys []string) (map[string]nn.InitKind, error) {
	kinds := make(map[string]nn.InitKind, len(keys))
	for _, key := range keys {
		i := strings.LastIndex(key, ".")
		if i <= 0 {
			return nil, fmt.Errorf("malformed parameter key %q", key)
		}
		node, ok := n.Node(key[:i])
		if !ok || node.Module == nil {
			return nil, fmt.Errorf("no layer for parameter %q", key)
		}
		kind, err := nn.InitParam(node.Module, key[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		utils.Logf("%s init as: %s\n", key, kind)
		kinds[key] = kind
	}
	return kinds, nil
}

// Forward runs the network on a single input blob and returns the output
// blob. Plaintext inputs are batched tensors; a tensor reaching an encrypted
// layer is encrypted first, so the result may be a ciphertext.
func (n *Net) Forward(x interface{}) (interface{}, error) {
	if len(n.Inputs) != 1 {
		return nil, fmt.Errorf("network has %d inputs, use ForwardBlobs", len(n.Inputs))
	}
	blobs, err := n.ForwardBlobs(map[string]interface{}{n.Inputs[0]: x})
	if err != nil {
		return nil, err
	}
	return blobs[n.Output()], nil
}

// ForwardBlobs runs the network on named inputs and returns every blob.
func (n *Net) ForwardBlobs(inputs map[string]interface{}) (map[string]interface{}, error) {
	blobs := make(map[string]interface{}, len(inputs))
	for _, name := range n.Inputs {
		x, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input blob %q", name)
		}
		blobs[name] = x
	}

	for _, node := range n.Nodes {
		args := make([]interface{}, len(node.Inputs))
		for i, in := range node.Inputs {
			args[i] = blobs[in]
		}
		out, err := n.run(node, args)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", node.ID, err)
		}
		for _, name := range node.Outputs {
			blobs[name] = out
		}
	}
	return blobs, nil
}

func (n *Net) run(node *Node, args []interface{}) (interface{}, error) {
	if node.Module != nil {
		x := args[0]
		switch v := x.(type) {
		case *tensor.Tensor:
			if node.Module.Encrypted() {
				ct, err := n.encrypt(v)
				if err != nil {
					return nil, err
				}
				x = ct
			}
		case *rlwe.Ciphertext:
			if !node.Module.Encrypted() && !passesCiphertext(node.Module) {
				t, err := n.Plaintext(node.Inputs[0], v)
				if err != nil {
					return nil, err
				}
				x = t
			}
		}
		return node.Module.Forward(x)
	}

	ts := make([]*tensor.Tensor, len(args))
	for i, a := range args {
		t, err := n.Plaintext(node.Inputs[i], a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Op, err)
		}
		ts[i] = t
	}
	switch node.Op {
	case OpConcat:
		return concat(ts)
	case OpEltwise:
		return eltwise(node.eltwise, ts)
	case OpReshape3d:
		return reshape3d(ts[0], n.segments)
	}
	return nil, fmt.Errorf("no forward for operator %s", node.Op)
}

// Plaintext returns the value of blob as a tensor. A ciphertext is decrypted
// into a [1, channels] tensor: encrypted blobs always hold one sample's
// feature vector.
func (n *Net) Plaintext(blob string, v interface{}) (*tensor.Tensor, error) {
	switch x := v.(type) {
	case *tensor.Tensor:
		return x, nil
	case *rlwe.Ciphertext:
		if n.heCtx == nil {
			return nil, fmt.Errorf("blob %s is encrypted but the network has no HE context", blob)
		}
		c, ok := n.channels[blob]
		if !ok {
			return nil, fmt.Errorf("unknown blob %q", blob)
		}
		vals, err := n.heCtx.DecryptVector(x, c)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", blob, err)
		}
		return tensor.FromData(vals, 1, c)
	}
	return nil, fmt.Errorf("blob %s: %w, got %T", blob, layers.ErrType, v)
}

// passesCiphertext reports whether a plaintext layer forwards ciphertexts
// unchanged.
func passesCiphertext(m nn.Module) bool {
	_, ok := m.(*layers.Flatten)
	return ok
}

// encrypt packs a single sample into one ciphertext.
func (n *Net) encrypt(t *tensor.Tensor) (*rlwe.Ciphertext, error) {
	if n.heCtx == nil {
		return nil, fmt.Errorf("encrypted layer without an HE context")
	}
	if len(t.Shape) > 1 && t.Shape[0] != 1 {
		return nil, fmt.Errorf("encrypted layers take a single sample, got batch %d", t.Shape[0])
	}
	if slots := n.heCtx.Params.MaxSlots(); len(t.Data) > slots {
		return nil, fmt.Errorf("%d values do not fit in %d slots", len(t.Data), slots)
	}
	return n.heCtx.EncryptVector(t.Data)
}
