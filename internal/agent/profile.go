package agent

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// LoadPersona builds the persona from a prompt file, falling back to the
// built-in prompt when path is empty, unreadable or blank.
func LoadPersona(path, childName string, logger *zap.Logger) Persona {
	if path == "" {
		return DefaultPersona(childName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("persona file unreadable, using default", zap.String("path", path), zap.Error(err))
		return DefaultPersona(childName)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		logger.Warn("persona file empty, using default", zap.String("path", path))
		return DefaultPersona(childName)
	}
	logger.Info("persona loaded", zap.String("path", path))
	return NewPersona("Buddy", childName, prompt)
}
