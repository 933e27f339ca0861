package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cachetrace/simcache/internal/hierarchy"
	"github.com/cachetrace/simcache/internal/trace"
)

var fs = afero.NewOsFs()

func newLogger(level string) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	switch strings.ToLower(level) {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger.Sugar(), nil
}

func runSimulation(cfg *config, tracePath string) error {
	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := buildHierarchy(cfg, logger)
	if err != nil {
		return err
	}

	logger.Infow("opening trace", "path", tracePath)
	r, closeTrace, err := openTrace(tracePath)
	if err != nil {
		return errors.Wrapf(err, "opening trace file %q", tracePath)
	}
	defer closeTrace()

	var skipped int64
	err = trace.Scan(r, func(rec trace.Record) error {
		perform := h.PerformFetch
		if !rec.IsRead {
			perform = h.PerformSet
		}
		_, _, _, err := perform(rec.Address, rec.ForData)
		return err
	}, func(parseErr error) {
		skipped++
		logger.Warnw("skipping malformed trace line", "error", parseErr.Error())
	})
	if err != nil {
		return errors.Wrap(err, "replaying trace")
	}
	logger.Infow("trace replay complete", "total_accesses", h.Stats().TotalAccesses(), "skipped_lines", skipped)

	outputPath := cfg.output
	if outputPath == "" {
		outputPath = tracePath + ".metrics"
	}
	if err := writeReport(cfg, h, outputPath); err != nil {
		return err
	}
	logger.Infow("wrote metrics report", "path", outputPath, "format", cfg.format)

	if cfg.pretty {
		printPrettySummary(h)
	}
	return nil
}

// openTrace opens path for reading, transparently gzip-decompressing a
// ".gz"-suffixed file. The returned close func releases every resource
// opened along the way.
func openTrace(path string) (io.Reader, func(), error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, func() { _ = f.Close() }, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrap(err, "opening gzip trace")
	}
	return gz, func() { _ = gz.Close(); _ = f.Close() }, nil
}

// writeReport serializes the hierarchy's metrics to outputPath under an
// advisory file lock, guarding against two concurrent runs interleaving
// writes to the same path.
func writeReport(cfg *config, h *hierarchy.Hierarchy, outputPath string) error {
	lock := flock.New(outputPath + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, "acquiring output lock")
	}
	defer func() { _ = lock.Unlock() }()

	var buf bytes.Buffer
	switch strings.ToLower(cfg.format) {
	case "json":
		if err := writeJSONReport(&buf, h); err != nil {
			return err
		}
	case "text", "":
		if err := h.Stats().Save(&buf); err != nil {
			return errors.Wrap(err, "rendering text report")
		}
	default:
		return errors.Errorf("unknown output format %q", cfg.format)
	}

	if err := afero.WriteFile(fs, outputPath, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", outputPath)
	}
	return nil
}

// writeJSONReport serializes the hierarchy's metrics.Report with goccy's
// encoder — a faster, structured alternative to the canonical text format
// for feeding downstream tooling (SPEC_FULL.md §3).
func writeJSONReport(buf *bytes.Buffer, h *hierarchy.Hierarchy) error {
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h.Stats().Report()); err != nil {
		return errors.Wrap(err, "encoding json report")
	}
	return nil
}

func printPrettySummary(h *hierarchy.Hierarchy) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Level", "Hits", "Misses"})
	for _, name := range []string{hierarchy.IL1Name, hierarchy.DL1Name, hierarchy.UL2Name, hierarchy.UL3Name, hierarchy.MEMName} {
		t.AppendRow(table.Row{name, h.Stats().Hits(name), h.Stats().Misses(name)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Total accesses", h.Stats().TotalAccesses(), ""})
	fmt.Println(t.Render())
}
