package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - путь по умолчанию для Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// ReadSecret читает секрет из файла в каталоге Docker Secrets.
// Каталог можно переопределить переменной окружения SECRETS_DIR.
func ReadSecret(secretName string) (string, error) {
	dir := os.Getenv("SECRETS_DIR")
	if dir == "" {
		dir = DefaultSecretsDir
	}
	filePath := filepath.Join(dir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// MaskURL hides the password part of a connection URL for logging.
func MaskURL(raw string) string {
	schemaIdx := strings.Index(raw, "://")
	atIdx := strings.LastIndex(raw, "@")
	if schemaIdx == -1 || atIdx == -1 || atIdx < schemaIdx+3 {
		return raw
	}
	userInfo := raw[schemaIdx+3 : atIdx]
	if colon := strings.Index(userInfo, ":"); colon != -1 {
		userInfo = userInfo[:colon] + ":****"
	}
	return raw[:schemaIdx+3] + userInfo + raw[atIdx:]
}
