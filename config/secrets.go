// Package config loads runtime configuration and user-scoped secrets for the
// viva session server. Secrets live as one plain-text file per setting in the
// user's config directory, written wholesale on change with owner-only
// permissions; a missing or empty file means absence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dirName = ".viva"

// Well-known secret names.
const (
	SecretAPIKey       = "api_key"
	SecretOpenAIAPIKey = "openai_api_key"
	SecretSystemPrompt = "system_prompt"
)

// Dir returns the user-scoped configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// LoadSecret reads a secret file verbatim. Missing or empty files yield "".
func LoadSecret(name string) string {
	dir, err := Dir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveSecret writes a secret file wholesale with owner-only read/write.
func SaveSecret(name, value string) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	// WriteFile only applies the mode on creation.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}

// SaveErrorArtifact persists a rendered recoverable error for later
// diagnosis and returns the artifact path.
func SaveErrorArtifact(body string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	name := fmt.Sprintf("error_%d.md", time.Now().UnixNano())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", fmt.Errorf("write error artifact: %w", err)
	}
	return path, nil
}

// APIKey resolves the provider key: secret file first, then environment.
func APIKey() string {
	if key := LoadSecret(SecretAPIKey); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// TranscriptionKey resolves the transcription-service key: secret file first,
// then environment.
func TranscriptionKey() string {
	if key := LoadSecret(SecretOpenAIAPIKey); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}
