// Package model assembles networks from YAML model definitions. Each layer is
// an expression "out<=Op<=in" over named blobs; layer operators are built by
// nn/factory and Concat, Eltwise and Reshape3d are evaluated here.
package model

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"eco_lib/nn/factory"

	"gopkg.in/yaml.v3"
)

const maxDefinitionSize = 4 * 1024 * 1024

// Definition is a parsed model definition.
type Definition struct {
	Name   string              `yaml:"name"`
	Inputs []string            `yaml:"inputs"`
	Layers []factory.LayerInfo `yaml:"layers"`
}

// Load reads a model definition from a .yaml or .yml file.
func Load(path string) (*Definition, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("model definition must have .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model definition: %w", err)
	}
	if info.Size() > maxDefinitionSize {
		return nil, fmt.Errorf("model definition too large: %d bytes (max %d)", info.Size(), maxDefinitionSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return def, nil
}

// Parse decodes a model definition. Inputs default to ["data"] and a layer
// without an id takes the name of its first output.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse model definition: %w", err)
	}

	if len(def.Inputs) == 0 {
		def.Inputs = []string{"data"}
	}
	if len(def.Layers) == 0 {
		return nil, fmt.Errorf("model definition %q has no layers", def.Name)
	}
	for i := range def.Layers {
		l := &def.Layers[i]
		outputs, _, _, err := factory.ParseExpr(l.Expr)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if l.ID == "" {
			l.ID = outputs[0]
		}
		if l.Attrs == nil {
			l.Attrs = factory.Attrs{}
		}
	}
	return &def, nil
}

// SetNumClasses sets num_output of the last InnerProduct layer, the
// classifier, to n.
func (d *Definition) SetNumClasses(n int) error {
	if n <= 0 {
		return fmt.Errorf("number of classes must be positive, got %d", n)
	}
	for i := len(d.Layers) - 1; i >= 0; i-- {
		_, op, _, err := factory.ParseExpr(d.Layers[i].Expr)
		if err != nil {
			return err
		}
		if op == opInnerProduct {
			if d.Layers[i].Attrs == nil {
				d.Layers[i].Attrs = factory.Attrs{}
			}
			d.Layers[i].Attrs["num_output"] = n
			return nil
		}
	}
	return fmt.Errorf("model %q has no InnerProduct layer", d.Name)
}
