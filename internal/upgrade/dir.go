package upgrade

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/files"
)

const (
	opUpgradeDir  = "upgrade.dir"
	opUpgradeFile = "upgrade.file"
)

// Status is the outcome of upgrading one snapshot file.
type Status string

const (
	StatusUpgraded Status = "upgraded"
	StatusCurrent  Status = "current"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// FileResult describes one visited snapshot file.
type FileResult struct {
	Path        string
	Status      Status
	FromVersion string
	ToVersion   string
	Err         error
}

// Report lists the visited files in path order.
type Report struct {
	Files []FileResult
}

// Failed reports whether any file could not be upgraded.
func (r Report) Failed() bool {
	for _, file := range r.Files {
		if file.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Count returns the number of files with status.
func (r Report) Count(status Status) int {
	count := 0
	for _, file := range r.Files {
		if file.Status == status {
			count++
		}
	}
	return count
}

// UpgradeDir upgrades every snapshot under <dir>/meta in place.
// A file that fails is reported and the batch continues with the next one.
func UpgradeDir(dir string, d dialect.Dialect, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !d.Valid() {
		return Report{}, fmt.Errorf("%w: %q", dialect.ErrUnknownDialect, d)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "meta", "*_snapshot.json"))
	if err != nil {
		return Report{}, err
	}
	sort.Strings(paths)

	report := Report{Files: make([]FileResult, 0, len(paths))}
	for _, path := range paths {
		result := upgradeFile(path, d)
		switch result.Status {
		case StatusFailed:
			logger.Error("snapshot upgrade failed",
				zap.String("operation", opUpgradeFile),
				zap.String("reason", "upgrade_failed"),
				zap.String("path", path),
				zap.Error(result.Err))
		case StatusSkipped:
			logger.Warn("snapshot skipped",
				zap.String("operation", opUpgradeFile),
				zap.String("path", path),
				zap.String("version", result.FromVersion),
				zap.Error(result.Err))
		case StatusUpgraded:
			logger.Info("snapshot upgraded",
				zap.String("path", path),
				zap.String("from", result.FromVersion),
				zap.String("to", result.ToVersion))
		default:
			logger.Debug("snapshot current", zap.String("path", path))
		}
		report.Files = append(report.Files, result)
	}
	logger.Info("upgrade finished",
		zap.String("operation", opUpgradeDir),
		zap.Int("upgraded", report.Count(StatusUpgraded)),
		zap.Int("current", report.Count(StatusCurrent)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Int("failed", report.Count(StatusFailed)))
	return report, nil
}

func upgradeFile(path string, d dialect.Dialect) FileResult {
	result := FileResult{Path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		result.Status, result.Err = StatusFailed, err
		return result
	}
	header, err := ProbeVersion(raw)
	if err != nil {
		result.Status, result.Err = StatusFailed, err
		return result
	}
	result.FromVersion = header.Version

	if err := checkDialect(header.Dialect, d); err != nil {
		result.Status, result.Err = StatusFailed, err
		return result
	}
	if d.IsLatest(header.Version) {
		result.Status, result.ToVersion = StatusCurrent, header.Version
		return result
	}
	if !d.IsSupported(header.Version) {
		result.Status, result.Err = StatusSkipped, d.CheckVersion(header.Version)
		return result
	}

	upgraded, err := UpgradeJSON(raw, d)
	if err != nil {
		result.Status = StatusFailed
		if errors.Is(err, dialect.ErrUnsupportedVersion) {
			result.Status = StatusSkipped
		}
		result.Err = err
		return result
	}
	info, err := os.Stat(path)
	if err != nil {
		result.Status, result.Err = StatusFailed, err
		return result
	}
	if err := files.WriteAtomic(path, upgraded, info.Mode().Perm()); err != nil {
		result.Status, result.Err = StatusFailed, err
		return result
	}
	result.Status, result.ToVersion = StatusUpgraded, d.CurrentVersion()
	return result
}
