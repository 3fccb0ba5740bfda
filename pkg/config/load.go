package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"rule-crawler/pkg/utils"
)

// Load reads and decodes a YAML configuration file. Defaults are not applied;
// call Validate on the result.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config %s: %w", utils.ErrConfigValidation, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into an AppConfig. Unknown keys are rejected.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing YAML: %w", utils.ErrConfigValidation, err)
	}
	return &cfg, nil
}
