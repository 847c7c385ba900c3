package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the file name searched for when --config is not given.
const DefaultConfigFile = "darkwatch.yaml"

// ErrConfigNotFound is returned when the forum file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile reads and parses the forum file at path.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses forum file contents.
func ParseConfig(data []byte) (*File, error) {
	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	if cf.Forums == nil {
		cf.Forums = make(map[string]ForumConfig)
	}
	return &cf, nil
}

// FindConfigFile returns the forum file to load. An explicit configPath is
// used as is when it exists; otherwise ./darkwatch.yaml and then the XDG
// config directory are tried. It returns "" when nothing is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := []string{DefaultConfigFile, filepath.Join(XDGConfigDir(), DefaultConfigFile)}
	if cwd, err := os.Getwd(); err == nil {
		candidates[0] = filepath.Join(cwd, DefaultConfigFile)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
