package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DraftLoop/DraftLoop/internal/models"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policy := cfg.Policy()
	if policy.MaxIterations != models.DefaultMaxIterations {
		t.Errorf("expected default max iterations, got %d", policy.MaxIterations)
	}
	if policy.QualityThreshold != models.QualityThreshold {
		t.Errorf("expected default quality threshold, got %d", policy.QualityThreshold)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoad_ParsesPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "draftloop.yaml")
	content := []byte("model: gpt-4o\ntemperature: 0.4\nmax_iterations: 5\nquality_threshold: 8\nplatform: linkedin\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.Temperature != 0.4 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}

	policy := cfg.Policy()
	if policy.MaxIterations != 5 {
		t.Errorf("max iterations = %d", policy.MaxIterations)
	}
	if policy.QualityThreshold != 8 {
		t.Errorf("quality threshold = %d", policy.QualityThreshold)
	}
	if policy.Platform != "linkedin" {
		t.Errorf("platform = %q", policy.Platform)
	}
	// Unset fields fall back to defaults.
	if policy.MaxErrors != models.DefaultMaxErrors {
		t.Errorf("max errors = %d", policy.MaxErrors)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}
