package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sections are written in this order, each preceded by its comment.
var sections = []struct {
	key     string
	comment string
	value   func(cfg *Config) any
}{
	{"logging", "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file path)",
		func(cfg *Config) any { return cfg.Logging }},
	{"server", "Graceful shutdown timeout and the Prometheus endpoint",
		func(cfg *Config) any { return cfg.Server }},
	{"metadata", "Metadata store: memory, badger or sql (dialect postgres or sqlite3)",
		func(cfg *Config) any { return cfg.Metadata }},
	{"content", "Content store: filesystem, memory or s3",
		func(cfg *Config) any { return cfg.Content }},
	{"storage", "Engine tuning shared by every space. node defaults to a random id",
		func(cfg *Config) any { return cfg.Storage }},
	{"spaces", "Storage spaces served by this process",
		func(cfg *Config) any { return cfg.Spaces }},
	{"reconcile", "Background loops: delete sweep, change notifications, retention and touch flush",
		func(cfg *Config) any { return cfg.Reconcile }},
	{"conversion", "Variant conversion workers",
		func(cfg *Config) any { return cfg.Conversion }},
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg section by section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var b strings.Builder

	b.WriteString("# blobspace Configuration File\n")
	b.WriteString("#\n")
	b.WriteString("# Every setting can be overridden with a BLOBSPACE_ environment variable,\n")
	b.WriteString("# e.g. BLOBSPACE_LOGGING_LEVEL=DEBUG.\n")

	for _, section := range sections {
		data, err := yaml.Marshal(map[string]any{section.key: section.value(cfg)})
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s: %w", section.key, err)
		}
		fmt.Fprintf(&b, "\n# %s\n", section.comment)
		b.Write(data)
	}

	return b.String(), nil
}
