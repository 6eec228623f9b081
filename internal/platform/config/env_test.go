package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"PAIRING_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("PAIRING_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDotEnvSkipsMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load missing dotenv: %v", err)
	}
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "PAIRING_DOTENV_NEW=from-file\nPAIRING_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("PAIRING_DOTENV_SET", "from-env")
	t.Setenv("PAIRING_DOTENV_NEW", "")
	if err := os.Unsetenv("PAIRING_DOTENV_NEW"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("PAIRING_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("PAIRING_DOTENV_NEW = %q, want from-file", got)
	}
	if got := os.Getenv("PAIRING_DOTENV_SET"); got != "from-env" {
		t.Fatalf("PAIRING_DOTENV_SET = %q, want from-env", got)
	}
}
