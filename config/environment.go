package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// Environment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func Environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProduction reports whether the process runs with a production
// environment marker.
func IsProduction() bool {
	return Environment() == environmentProduction
}

// ResolveConfigPath prefers an environment-specific configuration file
// (config/config.<env>.yml) when the caller asked for the default path
// and such a file exists. An explicitly chosen path always wins.
func ResolveConfigPath(path, defaultPath string) string {
	if path != defaultPath {
		return path
	}
	ext := filepath.Ext(defaultPath)
	envPath := strings.TrimSuffix(defaultPath, ext) + "." + Environment() + ext
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return path
}
