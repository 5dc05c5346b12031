package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load decodes a JSON or YAML file into T, picking the decoder from the extension.
func Load[T any](path string) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	return Decode[T](f, filepath.Ext(path))
}

func Decode[T any](r io.Reader, ext string) (T, error) {
	var v T
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&v); err != nil {
			return v, fmt.Errorf("decoding yaml: %w", err)
		}
	case ".json", "":
		if err := json.NewDecoder(r).Decode(&v); err != nil {
			return v, fmt.Errorf("decoding json: %w", err)
		}
	default:
		return v, fmt.Errorf("unsupported file type %q", ext)
	}
	return v, nil
}
