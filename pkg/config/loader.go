package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a SyncConfig from a YAML file, substituting ${VAR} references
// with environment variable values before parsing. This is how client
// credentials reach the config without ever being written to disk.
func Load(filePath string) (*SyncConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	cfg := NewSyncConfig("")
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Save writes a SyncConfig to a YAML file. Intended for scaffolding example
// configs; secrets should stay as ${VAR} references, so Save refuses configs
// with resolved credentials.
func Save(filePath string, cfg *SyncConfig) error {
	if cfg.Source.ClientSecret != "" && !strings.HasPrefix(cfg.Source.ClientSecret, "${") {
		return fmt.Errorf("refusing to write resolved client secret to disk")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
