package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
)

// LoadDictionary loads a dictionary seed from a YAML file.
func LoadDictionary(path string) (dictionary.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dictionary.Seed{}, err
	}

	var seed dictionary.Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return dictionary.Seed{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return seed, nil
}

// SaveDictionary writes a dictionary seed as YAML.
func SaveDictionary(path string, seed dictionary.Seed) error {
	data, err := yaml.Marshal(seed)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
