// Package loader handles loading of the digitiser and recording configuration
// files.
//
// LOCATION: internal/loader/loader.go
//
// A configuration file is a YAML mapping whose values are scalars or a single
// level of nested mappings:
//
//	software_timeout: 500      # ms
//	h5_flush_size: 100
//	file_name: run42
//	ch0:
//	  enabled: true
//	ch3:
//	  enabled: true
//
// Document order is preserved because the channel mapping is defined by it.

package loader

import (
	"fmt"
	"os"

	"github.com/xtxerr/digirec/internal/errors"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Load
// =============================================================================

// Load loads a configuration dictionary from a YAML file.
// Every failure is reported as a configuration error.
func Load(path string) (Dict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dict{}, errors.Classify(errors.ErrConfig, fmt.Errorf("read config %s: %w", path, err))
	}

	d, err := Parse(data)
	if err != nil {
		return Dict{}, errors.Wrapf(err, "config %s", path)
	}
	return d, nil
}

// Parse parses a configuration document. Environment variables are expanded
// before parsing.
func Parse(data []byte) (Dict, error) {
	expanded := os.ExpandEnv(string(data))

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return Dict{}, errors.Classify(errors.ErrConfig, fmt.Errorf("parse: %w", err))
	}

	// Empty document
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewDict(), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Dict{}, errors.NewInvalidValue("document", root.Tag, "top level must be a mapping")
	}

	return decodeMapping(root, 0)
}

// decodeMapping decodes a mapping node, allowing one level of nesting.
func decodeMapping(node *yaml.Node, depth int) (Dict, error) {
	d := NewDict()

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value

		if _, dup := d.values[key]; dup {
			return Dict{}, errors.NewInvalidValue("key", key, fmt.Sprintf("duplicate key (line %d)", keyNode.Line))
		}

		switch valNode.Kind {
		case yaml.MappingNode:
			if depth > 0 {
				return Dict{}, errors.NewInvalidValue("key", key, "only one level of nesting is supported")
			}
			section, err := decodeMapping(valNode, depth+1)
			if err != nil {
				return Dict{}, errors.Wrapf(err, "section %s", key)
			}
			d.Set(key, section)

		case yaml.ScalarNode:
			var v any
			if err := valNode.Decode(&v); err != nil {
				return Dict{}, errors.Classify(errors.ErrConfig, fmt.Errorf("key %s: %w", key, err))
			}
			d.Set(key, v)

		case yaml.AliasNode:
			return Dict{}, errors.NewInvalidValue("key", key, "aliases are not supported")

		default:
			return Dict{}, errors.NewInvalidValue("key", key, "sequences are not supported")
		}
	}

	return d, nil
}
