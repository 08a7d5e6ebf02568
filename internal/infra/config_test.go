package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("PROVIDER_TIMEOUT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageURL != "http://localhost:8080/static" {
		t.Fatalf("StorageURL mismatch: got %q", cfg.StorageURL)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver mismatch: got %q", cfg.StoreDriver)
	}
	if cfg.JobCost != 1 || !cfg.InlineDispatch {
		t.Fatalf("unexpected engine defaults: cost=%d inline=%v", cfg.JobCost, cfg.InlineDispatch)
	}
	if cfg.RecoveryCutoff() != 90*time.Second {
		t.Fatalf("RecoveryCutoff = %s", cfg.RecoveryCutoff())
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")

	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "45s", want: 45 * time.Second},
		{raw: "2m", want: 2 * time.Minute},
		{raw: "12", want: 12 * time.Second},
		{raw: "soon", want: 60 * time.Second},
	}
	for _, tc := range tests {
		t.Setenv("PROVIDER_TIMEOUT", tc.raw)
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig(%q) returned error: %v", tc.raw, err)
		}
		if cfg.ProviderTimeout != tc.want {
			t.Fatalf("ProviderTimeout(%q) = %s, want %s", tc.raw, cfg.ProviderTimeout, tc.want)
		}
	}
}

func TestLoadConfigMemoryDriverSkipsDatabase(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("CORSOrigins mismatch: %#v", cfg.CORSOrigins)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}},
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "sqlite"}},
		{name: "zero cost", env: map[string]string{"JOB_COST": "0"}},
		{name: "no workers", env: map[string]string{"ENGINE_WORKERS": "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://example")
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
