package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CAMPI_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CAMPI_TEST_VALUE", "")
	os.Unsetenv("CAMPI_TEST_VALUE")

	LoadEnvFile(path)
	if got := os.Getenv("CAMPI_TEST_VALUE"); got != "from-file" {
		t.Fatalf("CAMPI_TEST_VALUE = %q", got)
	}

	// existing variables win over the file
	t.Setenv("CAMPI_TEST_VALUE", "from-env")
	LoadEnvFile(path)
	if got := os.Getenv("CAMPI_TEST_VALUE"); got != "from-env" {
		t.Fatalf("CAMPI_TEST_VALUE = %q", got)
	}

	LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger("debug", "JSON")
	if logger == nil {
		t.Fatal("nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not enabled")
	}
}
