package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultTempRetention = time.Hour

	temporaryDirectoryPrefix = "temp_"

	logEventSweepFailed  = "temp_sweep_failed"
	logEventSweepRemoved = "temp_sweep_removed"

	errorMessageMissingDirectory = "task: missing sweep directory"
)

// ErrMissingSweepDirectory indicates a TempSweeper without a directory to sweep.
var ErrMissingSweepDirectory = errors.New(errorMessageMissingDirectory)

// TempSweeper removes per-submission temp_* directories that are older than the retention period.
// Only directories are considered; the sweep directory should belong to the service.
type TempSweeper struct {
	directory string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewTempSweeper builds a TempSweeper for directory; a non-positive retention defaults to one hour.
func NewTempSweeper(directory string, retention time.Duration, logger *zap.Logger) (*TempSweeper, error) {
	trimmedDirectory := strings.TrimSpace(directory)
	if trimmedDirectory == "" {
		return nil, ErrMissingSweepDirectory
	}
	if retention <= 0 {
		retention = defaultTempRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TempSweeper{
		directory: trimmedDirectory,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run sweeps once and logs the outcome. It matches RunnerFunc.
func (sweeper *TempSweeper) Run(ctx context.Context) {
	removed, sweepErr := sweeper.Sweep(ctx)
	if sweepErr != nil {
		sweeper.logger.Warn(logEventSweepFailed, zap.String("directory", sweeper.directory), zap.Error(sweepErr))
	}
	if removed > 0 {
		sweeper.logger.Info(logEventSweepRemoved, zap.String("directory", sweeper.directory), zap.Int("entries", removed))
	}
}

// Sweep removes expired leftovers and reports how many entries were deleted.
func (sweeper *TempSweeper) Sweep(ctx context.Context) (int, error) {
	entries, readErr := os.ReadDir(sweeper.directory)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return 0, nil
		}
		return 0, readErr
	}

	cutoff := sweeper.now().Add(-sweeper.retention)
	removed := 0
	var sweepErr *multierror.Error
	for _, entry := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return removed, ctxErr
		}
		if !isSubmissionLeftover(entry) {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			if !errors.Is(infoErr, os.ErrNotExist) {
				sweepErr = multierror.Append(sweepErr, infoErr)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if removeErr := os.RemoveAll(filepath.Join(sweeper.directory, entry.Name())); removeErr != nil {
			sweepErr = multierror.Append(sweepErr, removeErr)
			continue
		}
		removed++
	}
	return removed, sweepErr.ErrorOrNil()
}

func isSubmissionLeftover(entry os.DirEntry) bool {
	return entry.IsDir() && strings.HasPrefix(entry.Name(), temporaryDirectoryPrefix)
}
