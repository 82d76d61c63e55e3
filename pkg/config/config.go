// Package config loads the optional readygate YAML file that supplies
// defaults for the command-line flags. Explicit flags always win over file
// values.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".readygate.yaml"

type File struct {
	// Rules is a readiness expression in the same grammar as --rules.
	Rules string `yaml:"rules,omitempty"`
	// ReadyTimeout is a duration literal in the same grammar as
	// --ready-timeout, e.g. "30s".
	ReadyTimeout string `yaml:"ready-timeout,omitempty"`
	// Retries is the ceiling on consecutive failed attempts; absent means
	// relaunch forever.
	Retries *uint64 `yaml:"retries,omitempty"`
	// Cwd is the child working directory.
	Cwd string `yaml:"cwd,omitempty"`
	// Env is merged over the inherited environment of the child.
	Env map[string]string `yaml:"env,omitempty"`
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &cfg, nil
}

func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}
