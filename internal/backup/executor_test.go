package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// shCommand fakes a backup tool with a shell one-liner. The executor only
// cares about stdout, stderr and the exit code.
func shCommand(t *testing.T, tool config.Tool, script string) *Command {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("executor tests drive /bin/sh")
	}

	dir := t.TempDir()
	return &Command{
		Tool:       tool,
		ToolPath:   "sh",
		ToolArgs:   []string{"-c", script},
		OutputFile: filepath.Join(dir, "artifact.out"),
		LogFile:    filepath.Join(dir, "backup.log"),
		EnsureDirs: []string{dir},
	}
}

func TestExecutorStreamToolSuccess(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, "printf streamdata")
	staging := filepath.Join(filepath.Dir(cmd.OutputFile), "tmp")
	cmd.StagingDir = staging
	cmd.EnsureDirs = append(cmd.EnsureDirs, staging)

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	require.True(t, result.Success, "run failed: %v", result.Err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, int64(len("streamdata")), result.ArtifactSize)
	assert.Positive(t, result.Duration)

	content, err := os.ReadFile(cmd.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "streamdata", string(content))

	assert.NoDirExists(t, staging, "the empty staging dir is removed after success")
}

func TestExecutorCompressorPipeline(t *testing.T) {
	cmd := shCommand(t, config.ToolMysqldump, "printf 'dump body'")
	cmd.Compressor = []string{"sh", "-c", "tr a-z A-Z"}

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	require.True(t, result.Success, "run failed: %v", result.Err)
	content, err := os.ReadFile(cmd.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "DUMP BODY", string(content), "tool stdout must flow through the compressor")
}

func TestExecutorToolFailureRemovesPartialArtifact(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, "printf partial; echo 'boom: table gone' >&2; exit 3")

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "boom: table gone")
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeExecution))
	assert.NoFileExists(t, cmd.OutputFile, "a failed run must not leave a partial artifact")
}

func TestExecutorCompressorFailure(t *testing.T) {
	cmd := shCommand(t, config.ToolMysqldump, "printf data")
	cmd.Compressor = []string{"sh", "-c", "exit 5"}

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	assert.False(t, result.Success)
	assert.Equal(t, 5, result.ExitCode)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeExecution))
	assert.NoFileExists(t, cmd.OutputFile)
}

func TestExecutorToolMissing(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, "")
	cmd.ToolPath = filepath.Join(t.TempDir(), "no-such-binary")

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	assert.False(t, result.Success)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeExecution))
	assert.NoFileExists(t, cmd.OutputFile)
}

func TestExecutorWatcherCancellation(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, "printf started; exec sleep 30")

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel(apperrors.NewWatcherPollError(errors.New("processlist poll failed")))
	}()

	start := time.Now()
	result := NewExecutor(discardLogger(t)).Run(ctx, cmd)

	assert.False(t, result.Success)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeWatcherPoll),
		"the watcher's poll error must survive as the run error, got %v", result.Err)
	assert.NoFileExists(t, cmd.OutputFile)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation must kill the child")
}

func TestExecutorInterrupt(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := NewExecutor(discardLogger(t)).Run(ctx, cmd)

	assert.False(t, result.Success)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeInterrupted))
	assert.NoFileExists(t, cmd.OutputFile)
}

func TestExecutorXtrabackupStderrGoesToLog(t *testing.T) {
	cmd := shCommand(t, config.ToolXtrabackup, "echo 'xtrabackup: progress' >&2; printf XBSTCK01")

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	require.True(t, result.Success, "run failed: %v", result.Err)
	assert.Empty(t, result.Stderr, "xtrabackup stderr is not held in memory")

	logContent, err := os.ReadFile(cmd.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(logContent), "xtrabackup: progress")

	artifact, err := os.ReadFile(cmd.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "XBSTCK01", string(artifact))
}

func TestExecutorCreatesEnsureDirs(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "mysql3306", "tmp")
	cmd := &Command{
		Tool:       config.ToolMydumper,
		ToolPath:   "sh",
		ToolArgs:   []string{"-c", "printf x"},
		OutputFile: filepath.Join(base, "mysql3306", "a.stream"),
		LogFile:    filepath.Join(base, "mysql3306", "b.log"),
		EnsureDirs: []string{filepath.Join(base, "mysql3306"), nested},
		StagingDir: nested,
	}

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)
	require.True(t, result.Success, "run failed: %v", result.Err)
}

func TestExecutorEnsureDirsFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))

	cmd := &Command{
		Tool:       config.ToolMydumper,
		ToolPath:   "sh",
		ToolArgs:   []string{"-c", "printf x"},
		OutputFile: filepath.Join(base, "a.stream"),
		LogFile:    filepath.Join(base, "b.log"),
		EnsureDirs: []string{filepath.Join(blocker, "sub")},
	}

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)
	assert.False(t, result.Success)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeExecution))
}

func TestExecutorChildEnvCarriesPassword(t *testing.T) {
	cmd := shCommand(t, config.ToolMydumper, `printf "%s" "$MYSQL_PWD"`)
	cmd.Env = []string{"MYSQL_PWD=s3cret"}

	result := NewExecutor(discardLogger(t)).Run(context.Background(), cmd)

	require.True(t, result.Success, "run failed: %v", result.Err)
	content, err := os.ReadFile(cmd.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(content))
}
