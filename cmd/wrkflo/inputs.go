package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadInputFile reads a YAML or JSON mapping from path, or from stdin when
// path is "-".
func loadInputFile(path string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	var inputs map[string]any
	if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse input file: %w", err)
	}
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return inputs, nil
}

// parseInputs merges key=value arguments over the inputs file. Values that
// parse as JSON keep their type; anything else is a string.
func parseInputs(inputArgs []string, inputFile string, stdin io.Reader) (map[string]any, error) {
	inputs := make(map[string]any)
	if inputFile != "" {
		var err error
		inputs, err = loadInputFile(inputFile, stdin)
		if err != nil {
			return nil, err
		}
	}

	for _, arg := range inputArgs {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q (expected key=value)", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[key] = v
	}
	return inputs, nil
}
