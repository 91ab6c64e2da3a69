package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hashsweep/config"
	"hashsweep/diag"
	"hashsweep/hasher"
	"hashsweep/logger"
	"hashsweep/output"
	"hashsweep/scanner"
	"hashsweep/signatures"
	"hashsweep/systeminfo"
	"hashsweep/tracing"
	"hashsweep/utils"
	"hashsweep/version"

	"github.com/schollz/progressbar/v3"
)

// Exit statuses.
const (
	exitClean   = 0
	exitFailure = 1
	exitMatches = 3
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitFailure
	}

	logger.Init(cfg.LogLevel)

	if err := tracing.Start(cfg.TraceFile); err != nil {
		logger.Warnf("Failed to start trace: %v", err)
	} else {
		defer tracing.Stop()
	}

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go handleSignalEvent(cancel, cfg.TraceFlight, cfg.TraceFlightFile, sigChan)

	return run(ctx, cfg, os.Stdout)
}

// run scans every configured root and prints matched paths to stdout, one
// per line. It returns the process exit status.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer) int {
	set, err := signatures.Load(cfg.Algorithm, cfg.BuiltinSignatures, cfg.SignatureFiles...)
	if err != nil {
		logger.Errorf("Failed to load signatures: %v", err)
		return exitFailure
	}
	if set.Len() == 0 && !set.HasFuzzy() {
		logger.Warn("No signatures loaded; no file can match")
	}
	logger.Infof("Loaded %d %s signatures", set.Len(), set.Algorithm())

	roots := scanRoots(cfg)
	if len(roots) == 0 {
		logger.Error("No paths to scan")
		return exitFailure
	}

	hashOpts := hasher.Options{
		Algorithm:   cfg.Algorithm,
		ChunkSize:   cfg.ChunkSize,
		ReadMode:    cfg.ReadMode,
		MmapMinSize: cfg.MmapMinSize,
	}
	sc, err := scanner.New(scanner.Options{
		Signatures:     set,
		Hash:           hashOpts,
		Filter:         utils.NewPathFilter(cfg.IncludePatterns, cfg.ExcludePatterns),
		MaxFileSize:    cfg.MaxFileSize,
		MaxIOPerSecond: cfg.MaxIOPerSecond,
		FlagTypes:      cfg.FlagTypes,
		Fuzzy:          cfg.Fuzzy,
		FuzzyMinSize:   cfg.FuzzyMinSize,
		FuzzyMaxSize:   cfg.FuzzyMaxSize,
	})
	if err != nil {
		logger.Errorf("Invalid scan options: %v", err)
		return exitFailure
	}

	startTime := time.Now()
	writer, err := output.New(cfg, output.StartRecord{
		Version:         version.Version,
		StartTime:       startTime.UTC().Format(time.RFC3339),
		Roots:           roots,
		Algorithm:       set.Algorithm(),
		Signatures:      set.Len(),
		FuzzySignatures: set.HasFuzzy(),
		Host:            systeminfo.Collect(),
	})
	if err != nil {
		logger.Errorf("Failed to initialize output: %v", err)
		return exitFailure
	}
	defer writer.Close()

	watchOpts := diag.Options{
		StallThreshold: cfg.DiagSlowScanThreshold,
		Dir:            cfg.DiagDir,
		GoroutineLeak:  cfg.DiagGoroutineLeak,
		Snapshot: func() diag.Snapshot {
			live := sc.Progress()
			return diag.Snapshot{
				Root:        live.Root,
				Path:        sc.Current(),
				Processed:   sc.Processed(),
				Matched:     live.Matched,
				Unreadable:  live.Unreadable,
				BytesHashed: live.BytesHashed,
			}
		},
	}
	if cfg.TraceFlight {
		watchOpts.WriteFlightTrace = tracing.WriteFlightRecorder
	}
	watchdog := diag.New(watchOpts)
	watchdog.Start(ctx)
	defer watchdog.Stop()

	totalFiles := 0
	if !cfg.SkipCount {
		logger.Info("Counting total number of files...")
		for _, root := range roots {
			count, err := sc.CountFiles(ctx, root)
			if err != nil {
				logger.Warnf("Failed to count files in %s: %v", root, err)
				continue
			}
			totalFiles += count
		}
		logger.Infof("Total files to scan: %d", totalFiles)
	}
	bar := newProgressBar(totalFiles, cfg.SkipCount)

	var (
		total  scanner.Summary
		failed bool
	)
	for i, root := range roots {
		if ctx.Err() != nil {
			break
		}
		events, err := sc.Stream(ctx, root)
		if err != nil {
			logger.Errorf("Cannot scan %s: %v", root, err)
			failed = true
			continue
		}
		for ev := range events {
			if ev.Matched {
				fmt.Fprintln(stdout, ev.Path)
			}
			writer.WriteEvent(ev)
			_ = bar.Add(1)
		}
		if sum := sc.Summary(); i == 0 {
			total = sum
		} else {
			total.Merge(sum)
		}
	}
	_ = bar.Finish()

	endTime := time.Now()
	writer.WriteSummary(output.SummaryRecord{
		Summary:    total,
		StartTime:  startTime.UTC().Format(time.RFC3339),
		EndTime:    endTime.UTC().Format(time.RFC3339),
		Roots:      roots,
		TotalFiles: totalFiles,
	})
	logger.Debugf("Wrote %d report records for %d files", writer.RecordsWritten(), writer.FilesSeen())

	logger.WithField("duration", endTime.Sub(startTime).Round(time.Millisecond).String()).
		Infof("Scanned %d files: %d matched, %d flagged, %d similar, %d unreadable",
			total.FilesSeen, total.Matched, total.Flagged, total.Similar, total.Unreadable)

	switch {
	case ctx.Err() != nil:
		logger.Warn("Scan interrupted before completion")
		if total.Matched > 0 {
			return exitMatches
		}
		return exitFailure
	case total.Matched > 0:
		return exitMatches
	case failed:
		return exitFailure
	default:
		return exitClean
	}
}

// scanRoots returns the configured paths followed by any removable volumes,
// without duplicates.
func scanRoots(cfg *config.Config) []string {
	roots := make([]string, 0, len(cfg.StartPaths))
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		roots = append(roots, p)
	}
	for _, p := range cfg.StartPaths {
		add(p)
	}
	if cfg.Removable {
		volumes, err := utils.RemovableVolumes()
		if err != nil {
			logger.Warnf("Failed to list removable volumes: %v", err)
		}
		if len(volumes) == 0 {
			logger.Info("No removable volumes mounted")
		}
		for _, v := range volumes {
			add(v)
		}
	}
	return roots
}

func newProgressBar(total int, skipCount bool) *progressbar.ProgressBar {
	if skipCount {
		return progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning files"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Scanning files"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionFullWidth(),
	)
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("HASHSWEEP_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}

func handleSignalEvent(cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string, sigChan <-chan os.Signal) {
	if _, ok := <-sigChan; !ok {
		return
	}
	logger.Info("Interrupt signal received. Shutting down...")

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
	}

	cancelFunc()
}
