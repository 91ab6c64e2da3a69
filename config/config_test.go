package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// withArgs swaps the global flag set so LoadConfig can run more than once.
func withArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet("hashsweep", flag.ExitOnError)
	os.Args = append([]string{"hashsweep"}, args...)
}

func TestParseCommaSeparated(t *testing.T) {
	res := parseCommaSeparated("a,b , c")
	if len(res) != 3 || res[1] != "b" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseCommaSeparated(""); len(res) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders("Authorization=Bearer x, bad, =empty,Env=prod")
	if len(h) != 2 || h["Authorization"] != "Bearer x" || h["Env"] != "prod" {
		t.Fatalf("unexpected headers: %v", h)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"start_paths":["/tmp"],"algorithm":"sha256","builtin_signatures":false}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Default()
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StartPaths[0] != "/tmp" || cfg.Algorithm != "sha256" || cfg.BuiltinSignatures {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := cfg.loadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.normalize()
		return cfg
	}
	if err := valid().validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"algorithm":      func(c *Config) { c.Algorithm = "crc32" },
		"no signatures":  func(c *Config) { c.BuiltinSignatures = false },
		"builtin sha256": func(c *Config) { c.Algorithm = "sha256" },
		"chunk size":     func(c *Config) { c.ChunkSize = -1 },
		"read mode":      func(c *Config) { c.ReadMode = "fast" },
		"format":         func(c *Config) { c.OutputFormat = "xml" },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"max io":         func(c *Config) { c.MaxIOPerSecond = -1 },
		"fuzzy":          func(c *Config) { c.FuzzyMinSize = -1 },
		"otel endpoint":  func(c *Config) { c.OtelEndpoint = "collector:4318" },
		"no paths":       func(c *Config) { c.StartPaths = nil },
		"diag threshold": func(c *Config) { c.DiagSlowScanThreshold = -time.Second },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	cfg := valid()
	cfg.Algorithm = "sha256"
	cfg.SignatureFiles = []string{"sha256.txt"}
	if err := cfg.validate(); err != nil {
		t.Fatalf("sha256 with a signature file should validate: %v", err)
	}

	cfg = valid()
	cfg.StartPaths = nil
	cfg.Removable = true
	if err := cfg.validate(); err != nil {
		t.Fatalf("removable without paths should validate: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	withArgs(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Algorithm != "md5" || cfg.ChunkSize != 4096 || !cfg.BuiltinSignatures {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.StartPaths) != 1 || cfg.StartPaths[0] != "." {
		t.Fatalf("unexpected start paths: %v", cfg.StartPaths)
	}
}

func TestLoadConfigScanFlags(t *testing.T) {
	withArgs(t,
		"--path", "/a, /b",
		"--signatures", "bad.txt,families.yaml",
		"--algorithm", "SHA256",
		"--builtin-signatures=false",
		"--chunk-size", "65536",
		"--read-mode", "AUTO",
		"--flag-types", ".EXE, elf",
		"--include", "*.bin",
		"--exclude", "re:/proc/",
		"--fuzzy",
		"--format", "CSV",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.StartPaths) != 2 || cfg.StartPaths[1] != "/b" {
		t.Fatalf("unexpected paths: %v", cfg.StartPaths)
	}
	if len(cfg.SignatureFiles) != 2 || cfg.Algorithm != "sha256" || cfg.BuiltinSignatures {
		t.Fatalf("unexpected signature settings: %+v", cfg)
	}
	if cfg.ChunkSize != 65536 || cfg.ReadMode != "auto" || cfg.OutputFormat != "csv" || !cfg.Fuzzy {
		t.Fatalf("unexpected scan settings: %+v", cfg)
	}
	if len(cfg.FlagTypes) != 2 || cfg.FlagTypes[0] != "exe" || cfg.FlagTypes[1] != "elf" {
		t.Fatalf("unexpected flag types: %v", cfg.FlagTypes)
	}
	if cfg.IncludePatterns[0] != "*.bin" || cfg.ExcludePatterns[0] != "re:/proc/" {
		t.Fatalf("unexpected patterns: %v %v", cfg.IncludePatterns, cfg.ExcludePatterns)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"algorithm":"sha1","log_level":"debug","max_io_per_second":50}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	withArgs(t, "--config", path, "--log-level", "warn", "--signatures", "sha1.txt")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Algorithm != "sha1" || cfg.MaxIOPerSecond != 50 {
		t.Fatalf("config file values lost: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("flag should override config file, got %s", cfg.LogLevel)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("unexpected config file %s", cfg.ConfigFile)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	withArgs(t, "--algorithm", "crc32")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected invalid algorithm error")
	}
}

func TestTraceFlightFlags(t *testing.T) {
	withArgs(t,
		"--trace-flight",
		"--trace-flight-file", "trace.out",
		"--trace-flight-max-bytes", "2048",
		"--trace-flight-min-age", "5s",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TraceFlight || cfg.TraceFlightFile != "trace.out" {
		t.Fatalf("unexpected trace flight settings: %+v", cfg)
	}
	if cfg.TraceFlightMaxBytes != 2048 || cfg.TraceFlightMinAge != 5*time.Second {
		t.Fatalf("unexpected trace flight limits: %d %v", cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge)
	}
}

func TestOtelFlags(t *testing.T) {
	withArgs(t,
		"--otel-endpoint", "https://otel.example.com/v1/logs",
		"--otel-export-paths",
		"--otel-headers", "Authorization=Bearer test,Env=prod",
		"--otel-service-name", "hashsweep-agent",
		"--otel-timeout", "10s",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OtelEndpoint != "https://otel.example.com/v1/logs" {
		t.Fatalf("unexpected otel endpoint: %s", cfg.OtelEndpoint)
	}
	if cfg.OtelServiceName != "hashsweep-agent" || cfg.OtelTimeout != 10*time.Second || !cfg.OtelExportPaths {
		t.Fatalf("unexpected otel settings: %+v", cfg)
	}
	if cfg.OtelHeaders["Authorization"] != "Bearer test" || cfg.OtelHeaders["Env"] != "prod" {
		t.Fatalf("unexpected otel headers: %v", cfg.OtelHeaders)
	}
}
