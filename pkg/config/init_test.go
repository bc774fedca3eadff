package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitConfigToPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read generated config: %v", err)
	}

	content := string(data)
	if !strings.HasPrefix(content, "# blobspace Configuration File") {
		t.Errorf("Expected header comment, got: %q", content[:min(len(content), 40)])
	}
	for _, section := range []string{"logging:", "metadata:", "content:", "spaces:", "reconcile:", "conversion:"} {
		if !strings.Contains(content, section) {
			t.Errorf("Expected section %q in generated config", section)
		}
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestInitConfigToPath_Loadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	defaults := GetDefaultConfig()
	if cfg.Logging.Level != defaults.Logging.Level {
		t.Errorf("Expected level %q, got %q", defaults.Logging.Level, cfg.Logging.Level)
	}
	if cfg.Storage.OptimisticLockBackoff != defaults.Storage.OptimisticLockBackoff {
		t.Errorf("Expected backoff %v, got %v", defaults.Storage.OptimisticLockBackoff, cfg.Storage.OptimisticLockBackoff)
	}
	if cfg.Reconcile.TemporaryGrace != defaults.Reconcile.TemporaryGrace {
		t.Errorf("Expected temporary grace %v, got %v", defaults.Reconcile.TemporaryGrace, cfg.Reconcile.TemporaryGrace)
	}
	if len(cfg.Spaces) != 1 || cfg.Spaces[0].Name != "default" || !cfg.Spaces[0].UseNormalizedNames {
		t.Errorf("Expected the default space, got %+v", cfg.Spaces)
	}
	if got, _ := cfg.Content.Filesystem["path"].(string); got != "/tmp/blobspace/content" {
		t.Errorf("Expected default content path, got %q", got)
	}
}

func TestInitConfigToPath_Exists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("custom: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	err := InitConfigToPath(configPath, false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("Expected hint about --force, got: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if strings.Contains(string(data), "custom: true") {
		t.Error("Expected config to be overwritten")
	}
}

func TestInitConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected %q, got %q", GetDefaultConfigPath(), path)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config from the default location: %v", err)
	}
	if cfg.Metadata.Type != "memory" {
		t.Errorf("Expected metadata type 'memory', got %q", cfg.Metadata.Type)
	}
}
