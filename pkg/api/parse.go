package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const dslExtension = ".kts"

// LoadDefinition reads a declaration file, sets Dir/FilePath, and validates it.
// Files ending in .kts are read with the DSL reader, everything else as YAML.
func LoadDefinition(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading definition file: %w", err)
	}

	var d *Definition
	if strings.HasSuffix(filename, dslExtension) {
		d, err = ParseDSL(data)
	} else {
		d, err = ParseDefinition(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing definition file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	d.FilePath = absPath
	d.Dir = filepath.Dir(absPath)

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validating definition %s: %w", filename, err)
	}

	return d, nil
}

// ParseDefinition unmarshals YAML content into a Definition without
// validating it.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
