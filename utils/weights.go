package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"eco_lib/tensor"
)

// WeightsVersion is written into every saved weights file.
const WeightsVersion = "1.0"

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all parameters of a model, grouped by layer id
type ModelWeights struct {
	Version string                 `json:"version"`
	Model   string                 `json:"model,omitempty"`
	Layers  map[string]LayerWeight `json:"layers"`
}

// LayerWeight contains the parameters of one layer
type LayerWeight struct {
	Weight      *WeightData `json:"weight,omitempty"`
	Bias        *WeightData `json:"bias,omitempty"`
	RunningMean *WeightData `json:"running_mean,omitempty"`
	RunningVar  *WeightData `json:"running_var,omitempty"`
}

func (lw *LayerWeight) slot(param string) (**WeightData, error) {
	switch param {
	case "weight":
		return &lw.Weight, nil
	case "bias":
		return &lw.Bias, nil
	case "running_mean":
		return &lw.RunningMean, nil
	case "running_var":
		return &lw.RunningVar, nil
	}
	return nil, fmt.Errorf("unknown parameter %q", param)
}

// FromStateDict groups a "<layer>.<param>" keyed state dict by layer.
func FromStateDict(model string, sd map[string]*tensor.Tensor) (*ModelWeights, error) {
	mw := &ModelWeights{Version: WeightsVersion, Model: model, Layers: make(map[string]LayerWeight)}
	for key, t := range sd {
		layer, param, ok := splitKey(key)
		if !ok {
			return nil, fmt.Errorf("malformed state dict key %q", key)
		}
		lw := mw.Layers[layer]
		slot, err := lw.slot(param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*slot = TensorToWeightData(key, t)
		mw.Layers[layer] = lw
	}
	return mw, nil
}

// StateDict flattens the weights back into "<layer>.<param>" keys.
func (mw *ModelWeights) StateDict() map[string]*tensor.Tensor {
	sd := make(map[string]*tensor.Tensor)
	for layer, lw := range mw.Layers {
		for _, param := range []string{"weight", "bias", "running_mean", "running_var"} {
			slot, _ := lw.slot(param)
			if *slot != nil {
				sd[layer+"."+param] = WeightDataToTensor(*slot)
			}
		}
	}
	return sd
}

// Keys returns the sorted state dict keys present in mw.
func (mw *ModelWeights) Keys() []string {
	keys := make([]string, 0)
	for k := range mw.StateDict() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitKey(key string) (string, string, bool) {
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	for layer, lw := range weights.Layers {
		for _, wd := range []*WeightData{lw.Weight, lw.Bias, lw.RunningMean, lw.RunningVar} {
			if wd != nil && tensor.Numel(wd.Shape) != len(wd.Data) {
				return nil, fmt.Errorf("layer %s: %s has shape %v but %d values", layer, wd.Name, wd.Shape, len(wd.Data))
			}
		}
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int{}, t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}
