package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML document and flattens it into Settings.
//
// Nested mappings become dotted keys; sequences are joined with commas.
//
//	retention:
//	  type: keeplastn
//	  numToKeep: 3
//
// yields "retention.type" = "keeplastn" and "retention.numToKeep" = "3".
func LoadYAML(r io.Reader) (*Settings, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return New(), nil
		}
		return nil, Errorf("", "invalid yaml").WithCause(err)
	}
	s := New()
	flatten(s, "", doc)
	return s, nil
}

// LoadYAMLFile reads the YAML file at path.
func LoadYAMLFile(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

func flatten(s *Settings, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flatten(s, join(prefix, k), child)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		s.Set(prefix, strings.Join(parts, ","))
	case nil:
		s.Set(prefix, "")
	default:
		s.Set(prefix, fmt.Sprint(t))
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
