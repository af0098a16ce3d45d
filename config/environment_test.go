package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvironmentAliases(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"", "development"},
		{"prod", "production"},
		{"Production", "production"},
		{"stag", "staging"},
		{"qa", "qa"},
	}
	for _, tt := range tests {
		t.Setenv("APP_ENV", tt.value)
		if got := Environment(); got != tt.want {
			t.Fatalf("Environment() with APP_ENV=%q = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestIsProduction(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if !IsProduction() {
		t.Fatal("IsProduction() = false with APP_ENV=prod")
	}
	t.Setenv("APP_ENV", "development")
	if IsProduction() {
		t.Fatal("IsProduction() = true with APP_ENV=development")
	}
}

func TestResolveConfigPathPrefersEnvFile(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yml")
	envPath := filepath.Join(dir, "config.staging.yml")
	for _, p := range []string{defaultPath, envPath} {
		if err := os.WriteFile(p, []byte("symbols: [BTCIRT]\n"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	t.Setenv("APP_ENV", "staging")

	if got := ResolveConfigPath(defaultPath, defaultPath); got != envPath {
		t.Fatalf("ResolveConfigPath = %q, want environment file %q", got, envPath)
	}

	// An explicitly chosen path wins even when an env file exists.
	explicit := filepath.Join(dir, "other.yml")
	if got := ResolveConfigPath(explicit, defaultPath); got != explicit {
		t.Fatalf("ResolveConfigPath = %q, want explicit %q", got, explicit)
	}
}

func TestResolveConfigPathFallsBack(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yml")
	t.Setenv("APP_ENV", "production")

	if got := ResolveConfigPath(defaultPath, defaultPath); got != defaultPath {
		t.Fatalf("ResolveConfigPath = %q, want default %q when no env file exists", got, defaultPath)
	}
}
