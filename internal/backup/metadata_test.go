package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-liumh/mysqlbackup/internal/config"
)

func TestChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	sum, err := ChecksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447", sum)
}

func TestChecksumFileMissing(t *testing.T) {
	_, err := ChecksumFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestNewMetadata(t *testing.T) {
	cfg := testConfig(t, config.ToolXtrabackup)
	artifact := filepath.Join(t.TempDir(), "server.fullback.xb")
	require.NoError(t, os.WriteFile(artifact, []byte("XBSTCK01data"), 0o644))

	cmd := &Command{
		Tool:        config.ToolXtrabackup,
		ToolPath:    filepath.Join(t.TempDir(), "no-such-tool"),
		Incremental: true,
		BaseLSN:     "26599270",
	}
	result := &Result{
		Success:      true,
		ArtifactPath: artifact,
		ArtifactSize: 12,
		Duration:     90 * time.Second,
	}

	meta, err := NewMetadata(cfg, cmd, result)
	require.NoError(t, err)

	_, err = uuid.Parse(meta.RunID)
	assert.NoError(t, err, "run IDs are UUIDs")
	assert.Equal(t, "xtrabackup", meta.Tool)
	assert.Empty(t, meta.ToolVersion, "an unresolvable binary leaves the version blank")
	assert.Equal(t, "10.20.30.40:3306", meta.Server)
	assert.True(t, meta.Incremental)
	assert.Equal(t, "26599270", meta.BaseLSN)
	assert.Equal(t, artifact, meta.Artifact)
	assert.Equal(t, int64(12), meta.SizeBytes)
	assert.Len(t, meta.SHA256, 64)
	assert.InDelta(t, 90, meta.DurationSeconds, 0.1)
	assert.True(t, meta.StartedAt.Before(meta.FinishedAt))
}

func TestMetadataWriteAndLoad(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "db.sql.lz4")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0o644))

	meta := &Metadata{
		RunID:     uuid.NewString(),
		Tool:      "mysqldump",
		Server:    "127.0.0.1:3306",
		Databases: []string{"app"},
		Artifact:  artifact,
		SizeBytes: 7,
		SHA256:    "abc",
	}
	require.NoError(t, meta.Write())
	assert.FileExists(t, SidecarPath(artifact))

	loaded, err := LoadMetadata(artifact)
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, loaded.RunID)
	assert.Equal(t, meta.Tool, loaded.Tool)
	assert.Equal(t, meta.Databases, loaded.Databases)
	assert.Equal(t, meta.SHA256, loaded.SHA256)
}

func TestLoadMetadataMissing(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "none.sql.lz4"))
	require.Error(t, err)
}

func TestLoadMetadataInvalidJSON(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "db.sql.lz4")
	require.NoError(t, os.WriteFile(SidecarPath(artifact), []byte("{broken"), 0o644))

	_, err := LoadMetadata(artifact)
	require.Error(t, err)
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/b/a.sql.lz4.meta.json", SidecarPath("/b/a.sql.lz4"))
	assert.Equal(t, "/b/a.sql.lz4.enc.meta.json", SidecarPath("/b/a.sql.lz4.enc"))
}
