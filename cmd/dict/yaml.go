package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
)

func writeYAML(seed dictionary.Seed) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(seed); err != nil {
		return err
	}
	return enc.Close()
}
