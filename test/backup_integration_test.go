// Package test drives the backup pipeline across package boundaries:
// configuration, build, preflight, execution, verification, encryption and
// retention against fake tool binaries.
package test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-liumh/mysqlbackup/internal/backup"
	"github.com/michael-liumh/mysqlbackup/internal/config"
	"github.com/michael-liumh/mysqlbackup/internal/database"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

const dumpPayload = "-- MySQL dump\nCREATE TABLE t1 (id INT PRIMARY KEY);\nINSERT INTO t1 VALUES (1);\n"

// installFakeTool drops an executable sh script into dir.
func installFakeTool(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

// lz4Frame compresses content into a real LZ4 frame.
func lz4Frame(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func discardLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{Output: io.Discard})
	require.NoError(t, err)
	return logger
}

// pipelineFixture wires a mysqldump pipeline against fake binaries: the
// fake mysqldump emits a little SQL, the fake lz4 drains stdin and emits a
// pre-built genuine LZ4 frame, and the fake mysql answers the preflight
// probe and the watcher poll.
func pipelineFixture(t *testing.T) *config.Config {
	t.Helper()

	bin := t.TempDir()
	frame := lz4Frame(t, dumpPayload)
	fixture := filepath.Join(bin, "payload.lz4")
	require.NoError(t, os.WriteFile(fixture, frame, 0o644))

	installFakeTool(t, bin, "mysqldump", `printf 'dump output'`)
	installFakeTool(t, bin, "lz4", `cat > /dev/null
cat "`+fixture+`"`)
	installFakeTool(t, bin, "mysql", `case "$*" in
*processlist*) exit 0 ;;
*) echo 42 ;;
esac`)
	t.Setenv("PATH", bin)

	defaultsFile := filepath.Join(bin, "my.cnf")
	require.NoError(t, os.WriteFile(defaultsFile, []byte("[client]\nuser=backup\n"), 0o600))

	cfg := &config.Config{
		Connection: config.Connection{DefaultsFile: defaultsFile},
		Backup: config.BackupOptions{
			Tool:      config.ToolMysqldump,
			Databases: []string{"app"},
			BaseDir:   t.TempDir(),
			Threads:   2,
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBackupPipelineIntegration(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are sh scripts")
	}

	ctx := context.Background()
	cfg := pipelineFixture(t)
	logger := discardLogger(t)

	var (
		cmd      *backup.Command
		result   *backup.Result
		artifact string
	)

	t.Run("build", func(t *testing.T) {
		var err error
		cmd, err = backup.Build(cfg)
		require.NoError(t, err)

		assert.True(t, filepath.IsAbs(cmd.OutputFile))
		assert.Contains(t, filepath.Base(cmd.OutputFile), "mysqldump")
		assert.True(t, len(cmd.Compressor) > 0 && cmd.Compressor[0] == "lz4")
		assert.Contains(t, cmd.ToolArgs, "--databases")
		assert.Contains(t, cmd.ToolArgs, "app")
	})

	t.Run("preflight", func(t *testing.T) {
		pf := backup.NewPreflight(cfg, database.NewRunner(cfg.Connection), logger)
		require.NoError(t, pf.Run(ctx, cmd))
		assert.Equal(t, "mysqldump", filepath.Base(cmd.ToolPath))
	})

	t.Run("execute", func(t *testing.T) {
		result = backup.NewExecutor(logger).Run(ctx, cmd)
		require.NoError(t, result.Err)
		require.True(t, result.Success)

		artifact = result.ArtifactPath
		content, err := os.ReadFile(artifact)
		require.NoError(t, err)
		assert.Equal(t, lz4Frame(t, dumpPayload), content)
		assert.Equal(t, int64(len(content)), result.ArtifactSize)
	})

	t.Run("quick verify", func(t *testing.T) {
		require.NoError(t, backup.QuickVerify(artifact))
	})

	t.Run("metadata sidecar", func(t *testing.T) {
		meta, err := backup.NewMetadata(cfg, cmd, result)
		require.NoError(t, err)
		require.NoError(t, meta.Write())

		loaded, err := backup.LoadMetadata(artifact)
		require.NoError(t, err)
		assert.Equal(t, "mysqldump", loaded.Tool)
		assert.Equal(t, result.ArtifactSize, loaded.SizeBytes)
	})

	t.Run("deep verify", func(t *testing.T) {
		report, err := backup.Verify(artifact, "")
		require.NoError(t, err)
		assert.Equal(t, "lz4", report.Compression)
		assert.Equal(t, int64(len(dumpPayload)), report.DecompressedBytes)
		assert.True(t, report.ChecksumVerified)
	})

	t.Run("encrypt and verify", func(t *testing.T) {
		encPath, err := backup.EncryptArtifact(artifact, "hunter2")
		require.NoError(t, err)
		assert.NoFileExists(t, artifact)

		report, err := backup.Verify(encPath, "hunter2")
		require.NoError(t, err)
		assert.True(t, report.Encrypted)
		assert.Equal(t, "lz4", report.Compression)
		assert.True(t, report.ChecksumVerified)

		artifact = encPath
	})

	t.Run("retention sweep", func(t *testing.T) {
		dir := filepath.Dir(artifact)
		stale := filepath.Join(dir, "old_run.sql.lz4")
		require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))
		old := time.Now().Add(-40 * 24 * time.Hour)
		require.NoError(t, os.Chtimes(stale, old, old))

		ret := backup.NewRetention(config.RetentionConfig{Enabled: true, Days: 30}, logger)
		sweep, err := ret.Sweep(dir, artifact)
		require.NoError(t, err)

		assert.Equal(t, []string{stale}, sweep.Removed)
		assert.FileExists(t, artifact)
	})
}

func TestBackupPipelineFailureRemovesPartialArtifact(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are sh scripts")
	}

	ctx := context.Background()
	cfg := pipelineFixture(t)
	logger := discardLogger(t)

	// The dump tool writes half an artifact and dies.
	installFakeTool(t, filepath.Dir(cfg.Connection.DefaultsFile), "mysqldump", `printf 'partial'
echo 'mysqldump: Got error: 1045' >&2
exit 2`)

	cmd, err := backup.Build(cfg)
	require.NoError(t, err)
	pf := backup.NewPreflight(cfg, database.NewRunner(cfg.Connection), logger)
	require.NoError(t, pf.Run(ctx, cmd))

	result := backup.NewExecutor(logger).Run(ctx, cmd)

	assert.False(t, result.Success)
	assert.True(t, apperrors.IsType(result.Err, apperrors.ErrorTypeExecution))
	assert.Contains(t, result.Stderr, "1045")
	assert.NoFileExists(t, cmd.OutputFile)
}
