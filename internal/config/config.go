// Package config loads the optional DraftLoop policy file.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/DraftLoop/DraftLoop/internal/models"
	"github.com/DraftLoop/DraftLoop/internal/style"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape of the policy file. All fields are optional;
// zero values fall back to the built-in defaults.
type FileConfig struct {
	Model            string   `yaml:"model"`
	Temperature      float64  `yaml:"temperature"`
	MaxIterations    int      `yaml:"max_iterations"`
	MaxErrors        int      `yaml:"max_errors"`
	QualityThreshold int      `yaml:"quality_threshold"`
	Platform         string   `yaml:"platform"`
	StyleTags        []string `yaml:"style_tags"`
}

// Load reads the policy file at path. A missing file is not an error: callers
// get an empty config and the defaults apply. An unreadable or malformed file
// is an error, since a present config that silently does nothing is worse
// than failing at startup.
func Load(path string) (*FileConfig, error) {
	if path == "" {
		return &FileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config.Load: no policy file present", "path", path)
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	slog.Info("config.Load: policy file loaded", "path", path, "model", cfg.Model, "platform", cfg.Platform)
	return &cfg, nil
}

// Policy converts the file values into a session policy with defaults filled
// in for anything the file left unset.
func (c *FileConfig) Policy() models.Policy {
	policy := models.Policy{
		MaxIterations:    c.MaxIterations,
		MaxErrors:        c.MaxErrors,
		QualityThreshold: c.QualityThreshold,
		Platform:         c.Platform,
		StyleTags:        style.ValidateTags(c.StyleTags),
	}
	policy.ApplyDefaults()
	return policy
}
