// Package config loads YAML configuration files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load decodes the YAML file at the given path into conf.
//
// Unknown fields are rejected. If expandEnv is true, references to ${VAR} or
// $VAR are replaced with the corresponding environment variable before
// decoding, where ${VAR:default} uses 'default' if VAR is unset.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), expandVar))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandVar(s string) string {
	name, defaultValue, hasDefault := strings.Cut(s, ":")
	value, ok := os.LookupEnv(name)
	if !ok && hasDefault {
		return defaultValue
	}
	return value
}
