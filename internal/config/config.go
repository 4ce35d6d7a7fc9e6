// Package config loads the application configuration from a YAML file.
package config

import (
	"io/ioutil"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"github.com/proteome-exchange/pxget/dataset"
	"github.com/proteome-exchange/pxget/download"
)

// DefaultPath is where the configuration file is looked up when none is given.
const DefaultPath = "~/.proteome-exchange/config.yaml"

// Config of the proteome-exchange command.
type Config struct {
	// Log level: debug, info, warning or error.
	LogLevel string `yaml:"log_level"`
	// Bolt database caching metadata documents. Empty disables the cache.
	MetadataCache string `yaml:"metadata_cache"`
	// Default number of parallel downloads. Zero means the number of CPUs.
	Threads int `yaml:"threads"`

	Metadata dataset.Config  `yaml:"metadata"`
	Download download.Config `yaml:"download"`
}

// DefaultConfig is used for settings missing from the configuration file.
var DefaultConfig = Config{
	LogLevel:      "info",
	MetadataCache: "~/.proteome-exchange/metadata.db",
	Metadata:      dataset.DefaultConfig,
	Download:      download.DefaultConfig,
}

// Load reads the configuration at path on top of DefaultConfig.
// A missing file is not an error. Paths in the configuration are expanded.
func Load(path string) (*Config, error) {
	c := DefaultConfig
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return c.expand()
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.UnmarshalStrict(b, &c); err != nil {
		return nil, err
	}
	return c.expand()
}

func (c Config) expand() (*Config, error) {
	var err error
	c.MetadataCache, err = homedir.Expand(c.MetadataCache)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
