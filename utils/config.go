package utils

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Config holds the network build configuration
type Config struct {
	ModelPath     string
	InputChannels int
	NumSegments   int
	ConvBias      bool
	Dataset       string
	Encrypted     bool
	LogN          int
	WeightsPath   string
	Pretrained    string
	SavePath      string
	InputShape    []int
}

// PretrainedParts are the accepted values of Config.Pretrained.
var PretrainedParts = []string{"scratch", "2D", "3D", "finetune", "both"}

// datasetClasses maps a dataset name to its number of action classes.
var datasetClasses = map[string]int{
	"ucf101":    101,
	"hmdb51":    51,
	"kinetics":  400,
	"something": 174,
}

// NumClasses returns the class count of a known dataset.
func NumClasses(dataset string) (int, error) {
	n, ok := datasetClasses[dataset]
	if !ok {
		return 0, fmt.Errorf("unknown dataset %q (known: %s)", dataset, strings.Join(Datasets(), ", "))
	}
	return n, nil
}

// Datasets lists the known dataset names in sorted order.
func Datasets() []string {
	names := make([]string, 0, len(datasetClasses))
	for name := range datasetClasses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseShape parses a comma or space separated list of positive dimensions
func ParseShape(shapeStr string) ([]int, error) {
	parts := strings.FieldsFunc(shapeStr, func(r rune) bool { return r == ',' || r == ' ' })
	shape := make([]int, len(parts))
	for i, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", i, n)
		}
		shape[i] = n
	}
	return shape, nil
}

// ValidateConfig validates build configuration
func ValidateConfig(config *Config) error {
	if config.ModelPath == "" {
		return fmt.Errorf("model definition path is required")
	}

	if config.InputChannels <= 0 {
		return fmt.Errorf("input channels must be positive")
	}

	if config.NumSegments <= 0 {
		return fmt.Errorf("number of segments must be positive")
	}

	if config.Dataset != "" {
		if _, err := NumClasses(config.Dataset); err != nil {
			return err
		}
	}

	if config.Pretrained != "" {
		known := false
		for _, p := range PretrainedParts {
			known = known || p == config.Pretrained
		}
		if !known {
			return fmt.Errorf("unknown pretrained part %q (known: %s)", config.Pretrained, strings.Join(PretrainedParts, ", "))
		}
	}

	if config.Encrypted && (config.LogN < 12 || config.LogN > 16) {
		return fmt.Errorf("logN must be in [12, 16], got %d", config.LogN)
	}

	if len(config.InputShape) > 0 && len(config.InputShape) < 2 {
		return fmt.Errorf("input shape needs at least batch and channel axes, got %v", config.InputShape)
	}

	return nil
}
