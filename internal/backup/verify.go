package backup

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

const xbstreamMagic = "XBSTCK01"

// quickProbeBytes bounds how much of the stream the post-run check decodes.
const quickProbeBytes = 1 << 20

// QuickVerify is the cheap post-run check: the artifact exists, is
// non-empty, and its head looks like what the tool should have produced.
func QuickVerify(artifact string) error {
	info, err := os.Stat(artifact)
	if err != nil {
		return apperrors.NewVerificationError("artifact missing after backup", err)
	}
	if info.Size() == 0 {
		return apperrors.NewVerificationError("artifact is empty", nil)
	}

	switch {
	case strings.HasSuffix(artifact, ".sql.lz4"):
		return probeLZ4(artifact)
	case strings.HasSuffix(artifact, ".xb"):
		return probeXbstream(artifact)
	}
	return nil
}

func probeLZ4(artifact string) error {
	f, err := os.Open(artifact)
	if err != nil {
		return apperrors.NewVerificationError("cannot open artifact", err)
	}
	defer f.Close()

	if _, err := io.CopyN(io.Discard, lz4.NewReader(f), quickProbeBytes); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewVerificationError("artifact is not a valid lz4 stream", err)
	}
	return nil
}

func probeXbstream(artifact string) error {
	f, err := os.Open(artifact)
	if err != nil {
		return apperrors.NewVerificationError("cannot open artifact", err)
	}
	defer f.Close()

	magic := make([]byte, len(xbstreamMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return apperrors.NewVerificationError("artifact is too short for an xbstream", err)
	}
	if string(magic) != xbstreamMagic {
		return apperrors.NewVerificationError("artifact does not start with the xbstream magic", nil)
	}
	return nil
}

// VerifyReport is what the deep verification pass found out.
type VerifyReport struct {
	Artifact          string
	SizeBytes         int64
	Encrypted         bool
	Compression       string
	DecompressedBytes int64
	SHA256            string
	SidecarSHA256     string
	ChecksumVerified  bool
}

// Verify streams the whole artifact: decrypts when it carries the .enc
// suffix, decompresses by extension (lz4, zstd, gzip), and compares the
// checksum against the metadata sidecar when one exists. The report is
// returned even on failure with whatever was established.
func Verify(artifact, passphrase string) (*VerifyReport, error) {
	report := &VerifyReport{Artifact: artifact, Compression: "none"}

	info, err := os.Stat(artifact)
	if err != nil {
		return report, apperrors.NewVerificationError("cannot stat artifact", err)
	}
	report.SizeBytes = info.Size()

	f, err := os.Open(artifact)
	if err != nil {
		return report, apperrors.NewVerificationError("cannot open artifact", err)
	}
	defer f.Close()

	var src io.Reader = f
	plainName := artifact
	if strings.HasSuffix(artifact, EncryptedSuffix) {
		report.Encrypted = true
		plainName = strings.TrimSuffix(artifact, EncryptedSuffix)
		if passphrase == "" {
			return report, apperrors.NewEncryptionError("encrypted artifact needs a passphrase", nil)
		}
		if src, err = NewDecryptReader(f, passphrase); err != nil {
			return report, err
		}
	}

	// The checksum covers the bytes as the tool wrote them, before
	// encryption; hash between the decryptor and the decompressor.
	h := sha256.New()
	tee := io.TeeReader(src, h)

	report.Compression = compressionFor(plainName)
	report.DecompressedBytes, err = drainDecoded(tee, report.Compression, plainName)
	if err != nil {
		return report, err
	}
	report.SHA256 = hex.EncodeToString(h.Sum(nil))

	if meta, metaErr := LoadMetadata(artifact); metaErr == nil && meta.SHA256 != "" {
		report.SidecarSHA256 = meta.SHA256
		report.ChecksumVerified = report.SHA256 == meta.SHA256
		if !report.ChecksumVerified {
			return report, apperrors.NewVerificationError("checksum does not match the metadata sidecar", nil)
		}
	}
	return report, nil
}

func compressionFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".lz4"):
		return "lz4"
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return "zstd"
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".gzip"):
		return "gzip"
	default:
		return "none"
	}
}

func drainDecoded(r io.Reader, compression, plainName string) (int64, error) {
	switch compression {
	case "lz4":
		n, err := io.Copy(io.Discard, lz4.NewReader(r))
		if err != nil {
			return n, apperrors.NewVerificationError("lz4 stream is corrupt", err)
		}
		return n, nil
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return 0, apperrors.NewVerificationError("zstd stream is corrupt", err)
		}
		defer dec.Close()
		n, err := io.Copy(io.Discard, dec)
		if err != nil {
			return n, apperrors.NewVerificationError("zstd stream is corrupt", err)
		}
		return n, nil
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return 0, apperrors.NewVerificationError("gzip stream is corrupt", err)
		}
		n, err := io.Copy(io.Discard, zr)
		if err != nil {
			return n, apperrors.NewVerificationError("gzip stream is corrupt", err)
		}
		if err := zr.Close(); err != nil {
			return n, apperrors.NewVerificationError("gzip stream is corrupt", err)
		}
		return n, nil
	default:
		if strings.HasSuffix(plainName, ".xb") {
			return drainXbstream(r)
		}
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return n, apperrors.NewVerificationError("cannot read artifact", err)
		}
		return n, nil
	}
}

func drainXbstream(r io.Reader) (int64, error) {
	magic := make([]byte, len(xbstreamMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, apperrors.NewVerificationError("artifact is too short for an xbstream", err)
	}
	if string(magic) != xbstreamMagic {
		return 0, apperrors.NewVerificationError("artifact does not start with the xbstream magic", nil)
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return n, apperrors.NewVerificationError("cannot read artifact", err)
	}
	return n + int64(len(magic)), nil
}

// FormatChecksum shortens a sha256 for display.
func FormatChecksum(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12] + "..."
}
