// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/pgmakeschemas/pgms/pkg/fsguard"
)

// readManifestValue opens path (unless virtualDoc is supplied, in which
// case the file is never read), decodes it as YAML, checks it has exactly
// one top-level key equal to wantTag, validates that key's value against
// the tag's JSON Schema, and returns the value's fields as a map of
// yaml.Nodes keyed by name, for typed field extraction.
func readManifestValue(path string, allowList []string, wantTag string, virtualDoc *yaml.Node) (fields map[string]*yaml.Node, err error) {
	var root *yaml.Node
	if virtualDoc != nil {
		root = virtualDoc
	} else {
		var doc yaml.Node
		if err := decodeYAMLFile(path, allowList, &doc); err != nil {
			return nil, err
		}
		root = &doc
		if root.Kind == yaml.DocumentNode {
			if len(root.Content) != 1 {
				return nil, ManifestError{Path: path, Reason: "empty or multi-document manifest"}
			}
			root = root.Content[0]
		}
	}

	if root.Kind != yaml.MappingNode || len(root.Content) != 2 {
		return nil, ManifestError{Path: path, Reason: "expected exactly one top-level key"}
	}

	tagNode, valueNode := root.Content[0], root.Content[1]
	if tagNode.Value != wantTag {
		return nil, ManifestError{Path: path, Reason: fmt.Sprintf("expected top-level key %q, got %q", wantTag, tagNode.Value)}
	}
	if valueNode.Kind != yaml.MappingNode {
		return nil, ManifestError{Path: path, Reason: fmt.Sprintf("value of %q must be a mapping", wantTag)}
	}

	var raw any
	if err := valueNode.Decode(&raw); err != nil {
		return nil, ManifestError{Path: path, Reason: err.Error()}
	}
	if err := validateTagValue(path, wantTag, raw); err != nil {
		return nil, err
	}

	return mapOf(valueNode), nil
}

func decodeYAMLFile(path string, allowList []string, out *yaml.Node) error {
	rc, err := fsguard.Open(path, allowList)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := yaml.NewDecoder(rc)
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return ManifestError{Path: path, Reason: "empty manifest"}
		}
		return ManifestError{Path: path, Reason: err.Error()}
	}
	return nil
}

func mapOf(node *yaml.Node) map[string]*yaml.Node {
	m := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		m[node.Content[i].Value] = node.Content[i+1]
	}
	return m
}

func stringField(m map[string]*yaml.Node, key string) (value string, present bool, err error) {
	node, ok := m[key]
	if !ok {
		return "", false, nil
	}
	if err := node.Decode(&value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

func stringSliceField(m map[string]*yaml.Node, key string) ([]string, error) {
	node, ok := m[key]
	if !ok {
		return nil, nil
	}

	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return nil, err
		}
		return []string{single}, nil
	}

	var out []string
	if err := node.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
