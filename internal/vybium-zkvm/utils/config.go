package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("utils: invalid configuration file")

// DecodeYAML strictly decodes a single YAML document into out: unknown keys
// are errors.
func DecodeYAML(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty document", ErrConfig)
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// LoadYAML reads and strictly decodes the YAML file at path.
func LoadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := DecodeYAML(data, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// EncodeYAML renders v with two-space indentation.
func EncodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
