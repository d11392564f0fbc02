package repository

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"codearena/internal/problem/model"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Problems []model.Problem `yaml:"problems"`
}

// LoadFile reads a problem catalog from a YAML file.
func LoadFile(path string) ([]model.Problem, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	problems, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return problems, nil
}

// Parse decodes a catalog document. Unknown fields are rejected.
func Parse(r io.Reader) ([]model.Problem, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return file.Problems, nil
}
