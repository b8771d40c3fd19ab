package ringkey

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Path is the path of the ring key file. If empty gossip traffic is
	// not encrypted.
	Path string `json:"path" yaml:"path"`

	// Key is the encoded ring key, used instead of Path when the key is
	// injected from the environment.
	Key string `json:"key" yaml:"key"`
}

func (c *Config) Validate() error {
	if c.Path != "" && c.Key != "" {
		return fmt.Errorf("cannot specify both path and key")
	}
	return nil
}

// Enabled returns whether a ring key is configured.
func (c *Config) Enabled() bool {
	return c.Path != "" || c.Key != ""
}

// Load returns the configured key, or nil if no key is configured.
func (c *Config) Load() (*Key, error) {
	switch {
	case c.Key != "":
		return Parse([]byte(c.Key))
	case c.Path != "":
		return Load(c.Path)
	default:
		return nil, nil
	}
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Path,
		"ring-key.path",
		c.Path,
		`
Path to the ring key file used to encrypt gossip traffic.

Every member of the cluster must use the same ring key. Members with a
different key, or no key, cannot communicate with the cluster.

Generate a key with 'murmur ring-key generate'.`,
	)
	fs.StringVar(
		&c.Key,
		"ring-key.key",
		c.Key,
		`
The encoded ring key contents.

This can be used instead of '--ring-key.path' to pass the key from an
environment variable when using '--config.expand-env'.`,
	)
}
