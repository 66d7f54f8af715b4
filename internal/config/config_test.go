package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigHasSaneResourceLimits(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ResourceLimits.MaxRows <= 0 {
		t.Fatalf("MaxRows = %d, want > 0", cfg.ResourceLimits.MaxRows)
	}
	if cfg.ResourceLimits.QueryTimeout <= 0 {
		t.Fatalf("QueryTimeout = %v, want > 0", cfg.ResourceLimits.QueryTimeout)
	}
	if !cfg.Security.MaskSensitiveData {
		t.Fatal("expected masking enabled by default")
	}
	if len(cfg.Security.BannedSQLPatterns) == 0 {
		t.Fatal("expected non-empty default banned SQL pattern list")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.yaml")
	yamlDoc := `
resource_limits:
  max_rows: 42
  query_timeout: 15s
security:
  mask_sensitive_data: false
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.ResourceLimits.MaxRows != 42 {
		t.Fatalf("MaxRows = %d, want 42", cfg.ResourceLimits.MaxRows)
	}
	if cfg.ResourceLimits.QueryTimeout != 15*time.Second {
		t.Fatalf("QueryTimeout = %v, want 15s", cfg.ResourceLimits.QueryTimeout)
	}
	if cfg.Security.MaskSensitiveData {
		t.Fatal("expected mask_sensitive_data override to false")
	}
	// Fields not present in the YAML keep their defaults.
	if cfg.ResourceLimits.MaxMemoryMB != 512 {
		t.Fatalf("MaxMemoryMB = %d, want default 512", cfg.ResourceLimits.MaxMemoryMB)
	}
}

func TestLoadFromEnvOverridesResourceLimits(t *testing.T) {
	t.Setenv("NOVA_SANDBOX_MAX_ROWS", "7")
	t.Setenv("NOVA_SANDBOX_MASK_SENSITIVE_DATA", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.ResourceLimits.MaxRows != 7 {
		t.Fatalf("MaxRows = %d, want 7", cfg.ResourceLimits.MaxRows)
	}
	if cfg.Security.MaskSensitiveData {
		t.Fatal("expected NOVA_SANDBOX_MASK_SENSITIVE_DATA=false to disable masking")
	}
}

func TestStoreReloadSwapsWithoutAffectingOldSnapshot(t *testing.T) {
	first := DefaultConfig()
	first.ResourceLimits.MaxRows = 100
	store := NewStore(first)

	snapshot := store.Load()
	if snapshot.ResourceLimits.MaxRows != 100 {
		t.Fatalf("MaxRows = %d, want 100", snapshot.ResourceLimits.MaxRows)
	}

	second := DefaultConfig()
	second.ResourceLimits.MaxRows = 200
	store.Reload(second)

	if snapshot.ResourceLimits.MaxRows != 100 {
		t.Fatal("reload must not mutate a snapshot already captured by Load")
	}
	if store.Load().ResourceLimits.MaxRows != 200 {
		t.Fatalf("Load() after Reload = %d, want 200", store.Load().ResourceLimits.MaxRows)
	}
}
