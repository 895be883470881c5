package backup

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

func writeArtifact(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func lz4Artifact(t *testing.T, name string, plain []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return writeArtifact(t, name, buf.Bytes())
}

func sidecarFor(t *testing.T, artifact string) string {
	t.Helper()
	sum, err := ChecksumFile(artifact)
	require.NoError(t, err)
	meta := &Metadata{RunID: "run-1", Tool: "mysqldump", Artifact: artifact, SHA256: sum}
	require.NoError(t, meta.Write())
	return sum
}

func TestQuickVerifyMissingArtifact(t *testing.T) {
	err := QuickVerify(filepath.Join(t.TempDir(), "gone.sql.lz4"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeVerification))
}

func TestQuickVerifyEmptyArtifact(t *testing.T) {
	path := writeArtifact(t, "empty.stream", nil)
	err := QuickVerify(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestQuickVerifyStream(t *testing.T) {
	path := writeArtifact(t, "dump.stream", []byte("mydumper wrote this"))
	assert.NoError(t, QuickVerify(path))
}

func TestQuickVerifyXbstream(t *testing.T) {
	good := writeArtifact(t, "srv.fullback.xb", []byte("XBSTCK01rest-of-stream"))
	assert.NoError(t, QuickVerify(good))

	bad := writeArtifact(t, "bad.fullback.xb", []byte("NOTXBSTKrest-of-stream"))
	require.Error(t, QuickVerify(bad))

	short := writeArtifact(t, "short.incremental.xb", []byte("XB"))
	require.Error(t, QuickVerify(short))
}

func TestQuickVerifyLZ4(t *testing.T) {
	good := lz4Artifact(t, "db.sql.lz4", []byte("CREATE TABLE t (id INT);\n"))
	assert.NoError(t, QuickVerify(good))

	bad := writeArtifact(t, "garbage.sql.lz4", []byte("this is not an lz4 frame"))
	err := QuickVerify(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lz4")
}

func TestVerifyLZ4WithSidecar(t *testing.T) {
	plain := bytes.Repeat([]byte("INSERT INTO t VALUES (42);\n"), 2000)
	artifact := lz4Artifact(t, "db.sql.lz4", plain)
	sum := sidecarFor(t, artifact)

	report, err := Verify(artifact, "")
	require.NoError(t, err)
	assert.Equal(t, "lz4", report.Compression)
	assert.Equal(t, int64(len(plain)), report.DecompressedBytes)
	assert.Equal(t, sum, report.SHA256)
	assert.Equal(t, sum, report.SidecarSHA256)
	assert.True(t, report.ChecksumVerified)
	assert.False(t, report.Encrypted)
}

func TestVerifyWithoutSidecar(t *testing.T) {
	artifact := lz4Artifact(t, "db.sql.lz4", []byte("SELECT 1;\n"))

	report, err := Verify(artifact, "")
	require.NoError(t, err)
	assert.False(t, report.ChecksumVerified)
	assert.Empty(t, report.SidecarSHA256)
	assert.NotEmpty(t, report.SHA256)
}

func TestVerifyChecksumMismatch(t *testing.T) {
	artifact := lz4Artifact(t, "db.sql.lz4", []byte("SELECT 1;\n"))
	meta := &Metadata{RunID: "run-1", Tool: "mysqldump", Artifact: artifact, SHA256: "deadbeef"}
	require.NoError(t, meta.Write())

	report, err := Verify(artifact, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
	assert.False(t, report.ChecksumVerified)
}

func TestVerifyCorruptLZ4(t *testing.T) {
	artifact := lz4Artifact(t, "db.sql.lz4", bytes.Repeat([]byte("abcd"), 16*1024))

	raw, err := os.ReadFile(artifact)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(artifact, raw[:len(raw)/2], 0o644))

	_, err = Verify(artifact, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestVerifyGzip(t *testing.T) {
	plain := []byte("-- gzip backed dump\n")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	artifact := writeArtifact(t, "db.sql.gz", buf.Bytes())

	report, err := Verify(artifact, "")
	require.NoError(t, err)
	assert.Equal(t, "gzip", report.Compression)
	assert.Equal(t, int64(len(plain)), report.DecompressedBytes)
}

func TestVerifyZstd(t *testing.T) {
	plain := bytes.Repeat([]byte("zstd payload "), 512)
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(plain)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	artifact := writeArtifact(t, "db.sql.zst", buf.Bytes())

	report, err := Verify(artifact, "")
	require.NoError(t, err)
	assert.Equal(t, "zstd", report.Compression)
	assert.Equal(t, int64(len(plain)), report.DecompressedBytes)
}

func TestVerifyXbstream(t *testing.T) {
	content := []byte("XBSTCK01" + "chunked payload bytes")
	artifact := writeArtifact(t, "srv.fullback.xb", content)

	report, err := Verify(artifact, "")
	require.NoError(t, err)
	assert.Equal(t, "none", report.Compression)
	assert.Equal(t, int64(len(content)), report.DecompressedBytes)

	bad := writeArtifact(t, "bad.fullback.xb", []byte("WRONGMAGICpayload"))
	_, err = Verify(bad, "")
	require.Error(t, err)
}

func TestVerifyEncrypted(t *testing.T) {
	plain := bytes.Repeat([]byte("INSERT INTO t VALUES (7);\n"), 1000)
	artifact := lz4Artifact(t, "db.sql.lz4", plain)
	sum := sidecarFor(t, artifact)

	encPath, err := EncryptArtifact(artifact, "hunter2")
	require.NoError(t, err)

	report, err := Verify(encPath, "hunter2")
	require.NoError(t, err)
	assert.True(t, report.Encrypted)
	assert.Equal(t, "lz4", report.Compression)
	assert.Equal(t, int64(len(plain)), report.DecompressedBytes)
	assert.Equal(t, sum, report.SHA256)
	assert.True(t, report.ChecksumVerified)
}

func TestVerifyEncryptedNeedsPassphrase(t *testing.T) {
	artifact := lz4Artifact(t, "db.sql.lz4", []byte("SELECT 1;\n"))
	encPath, err := EncryptArtifact(artifact, "hunter2")
	require.NoError(t, err)

	_, err = Verify(encPath, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEncryption))

	_, err = Verify(encPath, "wrong")
	require.Error(t, err)
}

func TestFormatChecksum(t *testing.T) {
	assert.Equal(t, "abc", FormatChecksum("abc"))
	assert.Equal(t, "a948904f2f0f...", FormatChecksum("a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"))
}
