package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/deposit"
)

func touchOld(testingT *testing.T, path string, age time.Duration) {
	testingT.Helper()
	stamp := time.Now().Add(-age)
	require.NoError(testingT, os.Chtimes(path, stamp, stamp))
}

func TestTempSweeperRemovesExpiredLeftovers(testingT *testing.T) {
	directory := testingT.TempDir()

	expiredDirectory := filepath.Join(directory, "temp_Jean_Dupont_123")
	require.NoError(testingT, os.MkdirAll(expiredDirectory, 0o700))
	require.NoError(testingT, os.WriteFile(filepath.Join(expiredDirectory, "Jean_Dupont_temp1.jpg"), []byte("x"), 0o600))
	touchOld(testingT, expiredDirectory, 2*time.Hour)

	freshDirectory := filepath.Join(directory, "temp_Marie_456")
	require.NoError(testingT, os.MkdirAll(freshDirectory, 0o700))

	looseFile := filepath.Join(directory, "c_Jean_Dupont_2.jpg")
	require.NoError(testingT, os.WriteFile(looseFile, []byte("x"), 0o600))
	touchOld(testingT, looseFile, 3*time.Hour)

	unrelated := filepath.Join(directory, "notes.txt")
	require.NoError(testingT, os.WriteFile(unrelated, []byte("keep"), 0o600))
	touchOld(testingT, unrelated, 48*time.Hour)

	sweeper, sweeperErr := NewTempSweeper(directory, time.Hour, zap.NewNop())
	require.NoError(testingT, sweeperErr)

	removed, sweepErr := sweeper.Sweep(context.Background())
	require.NoError(testingT, sweepErr)
	require.Equal(testingT, 1, removed)

	require.NoDirExists(testingT, expiredDirectory)
	require.FileExists(testingT, looseFile)
	require.DirExists(testingT, freshDirectory)
	require.FileExists(testingT, unrelated)
}

func TestTempSweeperOnDefaultWorkDirectorySparesSharedTemp(testingT *testing.T) {
	sharedTemp := testingT.TempDir()
	testingT.Setenv("TMPDIR", sharedTemp)

	foreignDirectory := filepath.Join(sharedTemp, "temp_otherapp_cache")
	require.NoError(testingT, os.MkdirAll(foreignDirectory, 0o700))
	foreignDatabase := filepath.Join(foreignDirectory, "important.db")
	require.NoError(testingT, os.WriteFile(foreignDatabase, []byte("data"), 0o600))
	touchOld(testingT, foreignDirectory, 2*time.Hour)
	foreignImage := filepath.Join(sharedTemp, "c_report.jpg")
	require.NoError(testingT, os.WriteFile(foreignImage, []byte("x"), 0o600))
	touchOld(testingT, foreignImage, 2*time.Hour)

	workDirectory, ensureErr := deposit.EnsureWorkDirectory("")
	require.NoError(testingT, ensureErr)
	require.Equal(testingT, filepath.Join(sharedTemp, deposit.WorkDirectoryName), workDirectory)

	ownDirectory := filepath.Join(workDirectory, "temp_Jean_Dupont_1")
	require.NoError(testingT, os.MkdirAll(ownDirectory, 0o700))
	touchOld(testingT, ownDirectory, 2*time.Hour)

	sweeper, sweeperErr := NewTempSweeper(workDirectory, time.Hour, zap.NewNop())
	require.NoError(testingT, sweeperErr)

	removed, sweepErr := sweeper.Sweep(context.Background())
	require.NoError(testingT, sweepErr)
	require.Equal(testingT, 1, removed)
	require.NoDirExists(testingT, ownDirectory)
	require.FileExists(testingT, foreignDatabase)
	require.FileExists(testingT, foreignImage)
}

func TestTempSweeperToleratesMissingDirectory(testingT *testing.T) {
	sweeper, sweeperErr := NewTempSweeper(filepath.Join(testingT.TempDir(), "absent"), 0, nil)
	require.NoError(testingT, sweeperErr)
	require.Equal(testingT, defaultTempRetention, sweeper.retention)

	removed, sweepErr := sweeper.Sweep(context.Background())
	require.NoError(testingT, sweepErr)
	require.Zero(testingT, removed)
}

func TestTempSweeperRequiresDirectory(testingT *testing.T) {
	_, sweeperErr := NewTempSweeper("  ", time.Hour, nil)
	require.ErrorIs(testingT, sweeperErr, ErrMissingSweepDirectory)
}

func TestTempSweeperRunsFromScheduler(testingT *testing.T) {
	directory := testingT.TempDir()
	expiredDirectory := filepath.Join(directory, "temp_client_1")
	require.NoError(testingT, os.MkdirAll(expiredDirectory, 0o700))
	touchOld(testingT, expiredDirectory, 2*time.Hour)

	sweeper, sweeperErr := NewTempSweeper(directory, time.Hour, zap.NewNop())
	require.NoError(testingT, sweeperErr)

	scheduler := NewScheduler(time.Hour, sweeper.Run)
	scheduler.Start(context.Background())
	testingT.Cleanup(scheduler.Stop)

	require.Eventually(testingT, func() bool {
		_, statErr := os.Stat(expiredDirectory)
		return os.IsNotExist(statErr)
	}, testSchedulerTimeout, testSchedulerInterval)
}
