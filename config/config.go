package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hashsweep/hasher"
	"hashsweep/version"
)

type Config struct {
	StartPaths            []string          `json:"start_paths"`
	Removable             bool              `json:"removable"`
	SignatureFiles        []string          `json:"signature_files"`
	BuiltinSignatures     bool              `json:"builtin_signatures"`
	Algorithm             string            `json:"algorithm"`
	ChunkSize             int               `json:"chunk_size"`
	ReadMode              string            `json:"read_mode"`
	MmapMinSize           int64             `json:"mmap_min_size"`
	IncludePatterns       []string          `json:"include_patterns"`
	ExcludePatterns       []string          `json:"exclude_patterns"`
	MaxFileSize           int64             `json:"max_file_size"`
	MaxIOPerSecond        int               `json:"max_io_per_second"`
	FlagTypes             []string          `json:"flag_types"`
	Fuzzy                 bool              `json:"fuzzy"`
	FuzzyMinSize          int64             `json:"fuzzy_min_size"`
	FuzzyMaxSize          int64             `json:"fuzzy_max_size"`
	SkipCount             bool              `json:"skip_count"`
	OutputFormat          string            `json:"output_format"`
	OutputFileName        string            `json:"output_file_name"`
	MaxOutputFileSize     int64             `json:"max_output_file_size"`
	LogLevel              string            `json:"log_level"`
	ConfigFile            string            `json:"config_file"`
	TraceFile             string            `json:"trace_file"`
	DiagSlowScanThreshold time.Duration     `json:"diag_slow_scan_threshold"`
	DiagDir               string            `json:"diag_dir"`
	DiagGoroutineLeak     bool              `json:"diag_goroutine_leak"`
	OtelEndpoint          string            `json:"otel_endpoint"`
	OtelFromEnv           bool              `json:"otel_from_env"`
	OtelHeaders           map[string]string `json:"otel_headers"`
	OtelServiceName       string            `json:"otel_service_name"`
	OtelTimeout           time.Duration     `json:"otel_timeout"`
	OtelExportPaths       bool              `json:"otel_export_paths"`
	TraceFlight           bool              `json:"trace_flight"`
	TraceFlightFile       string            `json:"trace_flight_file"`
	TraceFlightMaxBytes   uint64            `json:"trace_flight_max_bytes"`
	TraceFlightMinAge     time.Duration     `json:"trace_flight_min_age"`
}

// Default returns the configuration used when no flags or config file are given.
func Default() *Config {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	return &Config{
		StartPaths:            []string{"."},
		SignatureFiles:        []string{},
		BuiltinSignatures:     true,
		Algorithm:             "md5",
		ChunkSize:             hasher.DefaultChunkSize,
		ReadMode:              hasher.ReadModeStream,
		MmapMinSize:           128 * 1024,
		IncludePatterns:       []string{},
		ExcludePatterns:       []string{},
		MaxFileSize:           0,
		MaxIOPerSecond:        0,
		FlagTypes:             []string{"exe", "elf", "zip"},
		Fuzzy:                 false,
		FuzzyMinSize:          256,
		FuzzyMaxSize:          20 * 1024 * 1024,
		SkipCount:             false,
		OutputFormat:          "json",
		OutputFileName:        fmt.Sprintf("hashsweep-%s-%d.ndjson", timestamp, now.Unix()),
		MaxOutputFileSize:     104857600,
		LogLevel:              "info",
		TraceFile:             "trace.out",
		DiagSlowScanThreshold: 0,
		DiagDir:               ".",
		DiagGoroutineLeak:     false,
		OtelEndpoint:          "",
		OtelFromEnv:           false,
		OtelHeaders:           map[string]string{},
		OtelServiceName:       "hashsweep",
		OtelTimeout:           5 * time.Second,
		OtelExportPaths:       false,
		TraceFlight:           false,
		TraceFlightFile:       "trace-flight.out",
	}
}

func LoadConfig() (*Config, error) {
	cfg := Default()

	startPath := flag.String("path", strings.Join(cfg.StartPaths, ","), fmt.Sprintf("Comma-separated list of directories to scan (default: %s).", strings.Join(cfg.StartPaths, ",")))
	removable := flag.Bool("removable", cfg.Removable, fmt.Sprintf("Also scan every mounted removable volume (default: %t).", cfg.Removable))
	signatureFiles := flag.String("signatures", "", "Comma-separated list of signature files, plain text or .yaml (default: none).")
	builtin := flag.Bool("builtin-signatures", cfg.BuiltinSignatures, fmt.Sprintf("Include the built-in md5 signatures (default: %t).", cfg.BuiltinSignatures))
	algorithm := flag.String("algorithm", cfg.Algorithm, fmt.Sprintf("Digest algorithm: %s (default: %s).", strings.Join(hasher.Supported(), ", "), cfg.Algorithm))
	chunkSize := flag.Int("chunk-size", cfg.ChunkSize, fmt.Sprintf("Read chunk size in bytes (default: %d).", cfg.ChunkSize))
	readMode := flag.String("read-mode", cfg.ReadMode, fmt.Sprintf("File read mode: stream, mmap, or auto (default: %s).", cfg.ReadMode))
	mmapMinSize := flag.Int64("mmap-min-size", cfg.MmapMinSize, fmt.Sprintf("Minimum file size in bytes for the mmap read path (default: %d).", cfg.MmapMinSize))
	includes := flag.String("include", "", "Comma-separated list of include patterns; prefix with re: for a regex (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns; prefix with re: for a regex (default: none).")
	maxFileSize := flag.Int64("max-file-size", cfg.MaxFileSize, "Skip files larger than this many bytes (default: 0, unlimited).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum files opened per second (default: 0, unlimited).")
	flagTypes := flag.String("flag-types", strings.Join(cfg.FlagTypes, ","), fmt.Sprintf("Comma-separated header types to report as flagged (default: %s).", strings.Join(cfg.FlagTypes, ",")))
	fuzzy := flag.Bool("fuzzy", cfg.Fuzzy, fmt.Sprintf("Compare TLSH digests against fuzzy signatures (default: %t).", cfg.Fuzzy))
	fuzzyMinSize := flag.Int64("fuzzy-min-size", cfg.FuzzyMinSize, fmt.Sprintf("Minimum file size in bytes for fuzzy hashing (default: %d).", cfg.FuzzyMinSize))
	fuzzyMaxSize := flag.Int64("fuzzy-max-size", cfg.FuzzyMaxSize, fmt.Sprintf("Maximum file size in bytes for fuzzy hashing (default: %d).", cfg.FuzzyMaxSize))
	skipCount := flag.Bool("skip-count", cfg.SkipCount, "Skip initial file counting to start scanning immediately")
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Report format: json or csv (default: %s).", cfg.OutputFormat))
	output := flag.String("output", cfg.OutputFileName, "Report file name, empty to disable (default: hashsweep-<timestamp>-<unix>.ndjson).")
	maxOutputFileSize := flag.Int64("max-output-file-size", cfg.MaxOutputFileSize, fmt.Sprintf("Maximum report file size before rotation in bytes (default: %d).", cfg.MaxOutputFileSize))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	traceFile := flag.String("trace-file", cfg.TraceFile, fmt.Sprintf("Runtime trace output when built with -tags trace (default: %s).", cfg.TraceFile))
	diagSlowScanThreshold := flag.Duration(
		"diag-slow-scan-threshold",
		cfg.DiagSlowScanThreshold,
		"If positive, emit diagnostics when scan progress stalls for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	diagGoroutineLeak := flag.Bool(
		"diag-goroutine-leak",
		cfg.DiagGoroutineLeak,
		"Write goroutine leak profile on shutdown (default: false).",
	)
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: hashsweep).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include raw file paths and scan roots in OTEL payloads (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for flight recorder buffer (default: 0 for runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain (default: 0).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("hashsweep version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.StartPaths = parseCommaSeparated(*startPath)
		case "removable":
			cfg.Removable = *removable
		case "signatures":
			cfg.SignatureFiles = parseCommaSeparated(*signatureFiles)
		case "builtin-signatures":
			cfg.BuiltinSignatures = *builtin
		case "algorithm":
			cfg.Algorithm = *algorithm
		case "chunk-size":
			cfg.ChunkSize = *chunkSize
		case "read-mode":
			cfg.ReadMode = *readMode
		case "mmap-min-size":
			cfg.MmapMinSize = *mmapMinSize
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "max-file-size":
			cfg.MaxFileSize = *maxFileSize
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "flag-types":
			cfg.FlagTypes = parseCommaSeparated(*flagTypes)
		case "fuzzy":
			cfg.Fuzzy = *fuzzy
		case "fuzzy-min-size":
			cfg.FuzzyMinSize = *fuzzyMinSize
		case "fuzzy-max-size":
			cfg.FuzzyMaxSize = *fuzzyMaxSize
		case "skip-count":
			cfg.SkipCount = *skipCount
		case "format":
			cfg.OutputFormat = *format
		case "output":
			cfg.OutputFileName = *output
		case "max-output-file-size":
			cfg.MaxOutputFileSize = *maxOutputFileSize
		case "log-level":
			cfg.LogLevel = *logLevel
		case "trace-file":
			cfg.TraceFile = *traceFile
		case "diag-slow-scan-threshold":
			cfg.DiagSlowScanThreshold = *diagSlowScanThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutine-leak":
			cfg.DiagGoroutineLeak = *diagGoroutineLeak
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		}
	})
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("hashsweep - known-bad file hash scanner")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hashsweep [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Exit status: 0 no match, 1 error, 3 at least one known-bad file.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  hashsweep --path \"/tmp\"")
	fmt.Println("  hashsweep --path \"/home,/srv\" --signatures bad.txt,families.yaml")
	fmt.Println("  hashsweep --removable --algorithm sha256 --signatures sha256.txt --builtin-signatures=false")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %w", err)
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Algorithm = strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	cfg.ReadMode = strings.ToLower(strings.TrimSpace(cfg.ReadMode))
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.FlagTypes = normalizeTypes(cfg.FlagTypes)
	if cfg.Algorithm == "" {
		cfg.Algorithm = "md5"
	}
	if cfg.ReadMode == "" {
		cfg.ReadMode = hasher.ReadModeStream
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = hasher.DefaultChunkSize
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "json"
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.FuzzyMaxSize > 0 && cfg.FuzzyMaxSize < cfg.FuzzyMinSize {
		cfg.FuzzyMaxSize = cfg.FuzzyMinSize
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
	cfg.StartPaths = nonEmpty(cfg.StartPaths)
	cfg.SignatureFiles = nonEmpty(cfg.SignatureFiles)
	if len(cfg.StartPaths) == 0 && !cfg.Removable {
		cfg.StartPaths = []string{"."}
	}
}

func (cfg *Config) validate() error {
	if len(cfg.StartPaths) == 0 && !cfg.Removable {
		return fmt.Errorf("either start path(s) or --removable must be specified")
	}
	if hasher.DigestLength(cfg.Algorithm) == 0 {
		return fmt.Errorf("invalid algorithm: %s (supported: %s)", cfg.Algorithm, strings.Join(hasher.Supported(), ", "))
	}
	if !cfg.BuiltinSignatures && len(cfg.SignatureFiles) == 0 {
		return fmt.Errorf("no signatures: pass --signatures or keep --builtin-signatures enabled")
	}
	if cfg.Algorithm != "md5" && len(cfg.SignatureFiles) == 0 {
		return fmt.Errorf("no signatures: built-in signatures are md5, pass --signatures for %s", cfg.Algorithm)
	}
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}
	if cfg.ReadMode != hasher.ReadModeStream && cfg.ReadMode != hasher.ReadModeMmap && cfg.ReadMode != hasher.ReadModeAuto {
		return fmt.Errorf("invalid read-mode value: %s", cfg.ReadMode)
	}
	if cfg.MmapMinSize < 0 {
		return fmt.Errorf("mmap-min-size must be zero or positive")
	}
	if cfg.MaxFileSize < 0 {
		return fmt.Errorf("max-file-size must be zero or positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.FuzzyMinSize < 0 || cfg.FuzzyMaxSize < 0 {
		return fmt.Errorf("fuzzy size limits must be zero or positive")
	}
	if cfg.OutputFormat != "json" && cfg.OutputFormat != "csv" {
		return fmt.Errorf("invalid output format: %s (json or csv)", cfg.OutputFormat)
	}
	if cfg.MaxOutputFileSize < 0 {
		return fmt.Errorf("max-output-file-size must be zero or positive")
	}
	if cfg.DiagSlowScanThreshold < 0 {
		return fmt.Errorf("diag-slow-scan-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

// normalizeTypes lowercases header types and drops a leading dot.
func normalizeTypes(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(item)), ".")
		if item == "" {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
