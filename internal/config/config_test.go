package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.Regtech.BaseURL == "" || cfg.Secudium.BaseURL == "" {
		t.Error("source base URLs must default")
	}
	if cfg.Regtech.TimeoutSec != 30 || cfg.Regtech.MaxPages != 100 {
		t.Errorf("regtech defaults: %+v", cfg.Regtech)
	}
	if cfg.Regtech.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v", cfg.Regtech.Timeout())
	}
	if cfg.CacheCapacity != 4096 || cfg.CacheTTLSec != 300 {
		t.Errorf("cache defaults: capacity=%d ttl=%d", cfg.CacheCapacity, cfg.CacheTTLSec)
	}
	if cfg.TriggerQueueKey != "blacktide:triggers" {
		t.Errorf("queue key = %s", cfg.TriggerQueueKey)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("metrics addr = %s", cfg.MetricsAddr)
	}
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{CacheCapacity: 16}
	cfg.Regtech.MaxPages = 5
	cfg.SetDefaults()

	if cfg.CacheCapacity != 16 {
		t.Errorf("explicit cache capacity overwritten: %d", cfg.CacheCapacity)
	}
	if cfg.Regtech.MaxPages != 5 {
		t.Errorf("explicit max pages overwritten: %d", cfg.Regtech.MaxPages)
	}
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	bad := cfg
	bad.Regtech.BaseURL = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing base_url must fail validation")
	}

	bad = cfg
	bad.Secudium.MaxPages = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero max_pages must fail validation")
	}

	bad = cfg
	bad.CredFile = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing cred_file must fail validation")
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
regtech:
  base_url: https://portal.example.com
  max_pages: 3
redis_addr: localhost:6379
export_endpoint: https://ingest.example.com/v1/batches
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Regtech.BaseURL != "https://portal.example.com" {
		t.Errorf("base_url = %s", cfg.Regtech.BaseURL)
	}
	if cfg.Regtech.MaxPages != 3 {
		t.Errorf("max_pages = %d", cfg.Regtech.MaxPages)
	}
	// Untouched fields still get defaults.
	if cfg.Secudium.BaseURL == "" || cfg.Regtech.TimeoutSec != 30 {
		t.Error("defaults not applied after file load")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"secudium": {"base_url": "https://feed.example.com"}, "cache_capacity": 128}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Secudium.BaseURL != "https://feed.example.com" || cfg.CacheCapacity != 128 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(""), 0o644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("toml must be rejected")
	}
}

func TestMergeWithFlags(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.RedisAddr = "from-file:6379"

	cfg.MergeWithFlags(map[string]interface{}{
		"redis_addr":   "from-flag:6379",
		"metrics_addr": "",
	})

	if cfg.RedisAddr != "from-flag:6379" {
		t.Errorf("flag must win: %s", cfg.RedisAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("empty flag must not clobber: %s", cfg.MetricsAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("POSTGRES_DSN", "postgres://env/db")

	var cfg Config
	cfg.SetDefaults()
	cfg.LoadFromEnv()

	if cfg.RedisAddr != "env-redis:6379" || cfg.PostgresDSN != "postgres://env/db" {
		t.Errorf("env not applied: %+v", cfg)
	}
}
