package config

import (
	"os"
	"path/filepath"
	"testing"

	"asahi/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Cache.TTLSeconds != 86400 {
		t.Errorf("cache ttl = %d, want 86400", cfg.Cache.TTLSeconds)
	}
	if cfg.Batching.MaxBatchSize != 10 || cfg.Batching.MinBatchSize != 2 {
		t.Errorf("batching sizes = %d/%d", cfg.Batching.MinBatchSize, cfg.Batching.MaxBatchSize)
	}
	if len(cfg.Batching.EligibleTaskTypes) != 3 {
		t.Errorf("eligible tasks = %v", cfg.Batching.EligibleTaskTypes)
	}
	if cfg.Observability.Anomaly.CostSpikeThreshold != 2.0 {
		t.Errorf("cost spike threshold = %v", cfg.Observability.Anomaly.CostSpikeThreshold)
	}
	if cfg.Governance.PBKDF2Iterations != 480000 {
		t.Errorf("pbkdf2 iterations = %d", cfg.Governance.PBKDF2Iterations)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[cache]
ttl_seconds = 3600
max_entries = 50

[batching]
max_batch_size = 4

[embeddings]
dimension = 256
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.TTLSeconds != 3600 {
		t.Errorf("ttl = %d, want 3600", cfg.Cache.TTLSeconds)
	}
	if cfg.Batching.MaxBatchSize != 4 {
		t.Errorf("max batch = %d, want 4", cfg.Batching.MaxBatchSize)
	}
	if cfg.Embeddings.Dimension != 256 {
		t.Errorf("dimension = %d, want 256", cfg.Embeddings.Dimension)
	}
	// Untouched sections keep defaults.
	if cfg.Routing.DefaultQualityThreshold != 3.5 {
		t.Errorf("default quality = %v", cfg.Routing.DefaultQualityThreshold)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
	if cfg.Cache.TTLSeconds != 86400 {
		t.Errorf("ttl = %d", cfg.Cache.TTLSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ASAHI_CACHE_TTL_SECONDS", "120")
	t.Setenv("ASAHI_BATCHING_MAX_WAIT_MS", "750")
	t.Setenv("ASAHI_EMBEDDINGS_PROVIDER", "mock")
	t.Setenv("ASAHI_OBSERVABILITY_ENABLED", "false")
	t.Setenv("ASAHI_TRACKING_BASELINE_INPUT_RATE", "0.02")
	t.Setenv("ASAHI_BATCHING_ELIGIBLE_TASK_TYPES", "faq, translation")

	cfg := LoadOrDefault("")
	if cfg.Cache.TTLSeconds != 120 {
		t.Errorf("ttl = %d, want 120", cfg.Cache.TTLSeconds)
	}
	if cfg.Batching.MaxWaitMs != 750 {
		t.Errorf("max wait = %d, want 750", cfg.Batching.MaxWaitMs)
	}
	if cfg.Embeddings.Provider != "mock" {
		t.Errorf("provider = %s", cfg.Embeddings.Provider)
	}
	if cfg.Observability.Enabled {
		t.Error("observability should be disabled")
	}
	if cfg.Tracking.BaselineInputRate != 0.02 {
		t.Errorf("baseline rate = %v", cfg.Tracking.BaselineInputRate)
	}
	if len(cfg.Batching.EligibleTaskTypes) != 2 || cfg.Batching.EligibleTaskTypes[1] != "translation" {
		t.Errorf("eligible tasks = %v", cfg.Batching.EligibleTaskTypes)
	}
}

func TestInvalidEnvOverrideIgnored(t *testing.T) {
	t.Setenv("ASAHI_CACHE_TTL_SECONDS", "not-a-number")
	cfg := LoadOrDefault("")
	if cfg.Cache.TTLSeconds != 86400 {
		t.Errorf("invalid override should keep default, got %d", cfg.Cache.TTLSeconds)
	}
}

func TestValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")

	t.Run("min above max batch size", func(t *testing.T) {
		content := "[batching]\nmin_batch_size = 9\nmax_batch_size = 3\n"
		os.WriteFile(path, []byte(content), 0o644)
		if _, err := Load(path); domain.Kind(err) != domain.ErrConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		content := "[cache]\nttl_seconds = -5\n"
		os.WriteFile(path, []byte(content), 0o644)
		if _, err := Load(path); domain.Kind(err) != domain.ErrConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
