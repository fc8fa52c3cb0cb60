package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and compiles an endpoint configuration file. Decoding uses
// KnownFields so an unrecognized variant tag is rejected at load time
// rather than silently ignored, per the "surfaced once at load time, never
// at request time" rule.
func Load(path string) ([]Endpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadBytes(b)
}

// LoadBytes parses and compiles raw YAML, for embedding or tests that don't
// want to touch the filesystem.
func LoadBytes(b []byte) ([]Endpoint, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return Compile(&doc)
}
