package backup

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// Encrypted artifacts are a small header followed by framed AES-256-GCM
// chunks, so multi-gigabyte files never have to fit in memory:
//
//	magic (8) | version (1) | salt (32)
//	repeat: flag (1) | ciphertext length (4, big endian) | ciphertext
//
// The key comes from PBKDF2-SHA256 over the passphrase with the per-file
// salt. Nonces are the chunk counter, which is safe because the salt makes
// every file key unique. The flag (0 = more, 1 = final) rides along as GCM
// additional data, so a stream cut at a chunk boundary fails decryption
// instead of passing silently.
const (
	encMagic     = "MBKENC01"
	encVersion   = byte(1)
	encSaltSize  = 32
	encChunkSize = 1 << 20

	encIterations = 100000
	encKeySize    = 32

	// EncryptedSuffix marks artifacts that went through EncryptArtifact.
	EncryptedSuffix = ".enc"
)

const (
	chunkMore  = byte(0)
	chunkFinal = byte(1)
)

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, encIterations, encKeySize, sha256.New)
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkNonce(gcm cipher.AEAD, counter uint64) []byte {
	nonce := make([]byte, gcm.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], counter)
	return nonce
}

// EncryptArtifact replaces an artifact with its encrypted form at
// <artifact>.enc and moves the metadata sidecar along with it. The plaintext
// is removed only after the encrypted file is complete.
func EncryptArtifact(artifact, passphrase string) (string, error) {
	if passphrase == "" {
		return "", apperrors.NewEncryptionError("encryption passphrase is empty", nil)
	}

	encPath := artifact + EncryptedSuffix
	tmpPath := encPath + ".tmp"

	if err := encryptFile(artifact, tmpPath, passphrase); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, encPath); err != nil {
		os.Remove(tmpPath)
		return "", apperrors.NewEncryptionError("cannot move encrypted artifact into place", err)
	}
	if err := os.Remove(artifact); err != nil {
		return "", apperrors.NewEncryptionError("cannot remove plaintext artifact", err)
	}

	moveSidecar(artifact, encPath)
	return encPath, nil
}

func encryptFile(src, dst, passphrase string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewEncryptionError("cannot open artifact", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return apperrors.NewEncryptionError("cannot create encrypted artifact", err)
	}
	defer out.Close()

	salt := make([]byte, encSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return apperrors.NewEncryptionError("cannot generate salt", err)
	}

	gcm, err := newAEAD(passphrase, salt)
	if err != nil {
		return apperrors.NewEncryptionError("cannot initialize cipher", err)
	}

	w := bufio.NewWriterSize(out, 256*1024)
	w.WriteString(encMagic)
	w.WriteByte(encVersion)
	w.Write(salt)

	br := bufio.NewReaderSize(in, 256*1024)
	buf := make([]byte, encChunkSize)
	var lenBuf [4]byte

	for counter := uint64(0); ; counter++ {
		n, err := io.ReadFull(br, buf)
		final := false
		switch {
		case err == nil:
			if _, peekErr := br.Peek(1); peekErr == io.EOF {
				final = true
			}
		case errors.Is(err, io.ErrUnexpectedEOF):
			final = true
		case errors.Is(err, io.EOF):
			// Zero bytes left; an empty final chunk still authenticates
			// the end of the stream.
			final = true
		default:
			return apperrors.NewEncryptionError("cannot read artifact", err)
		}

		flag := chunkMore
		if final {
			flag = chunkFinal
		}
		ct := gcm.Seal(nil, chunkNonce(gcm, counter), buf[:n], []byte{flag})

		w.WriteByte(flag)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))
		w.Write(lenBuf[:])
		if _, err := w.Write(ct); err != nil {
			return apperrors.NewEncryptionError("cannot write encrypted artifact", err)
		}

		if final {
			return flushEncrypted(w, out)
		}
	}
}

func flushEncrypted(w *bufio.Writer, out *os.File) error {
	if err := w.Flush(); err != nil {
		return apperrors.NewEncryptionError("cannot write encrypted artifact", err)
	}
	if err := out.Sync(); err != nil {
		return apperrors.NewEncryptionError("cannot sync encrypted artifact", err)
	}
	return nil
}

// moveSidecar rewrites the metadata under the encrypted name. Best effort: a
// missing or unreadable sidecar is not worth failing the encryption over.
func moveSidecar(artifact, encPath string) {
	meta, err := LoadMetadata(artifact)
	if err != nil {
		return
	}
	meta.Encrypted = true
	meta.Artifact = encPath
	if err := meta.Write(); err != nil {
		return
	}
	os.Remove(SidecarPath(artifact))
}

// decryptReader streams an encrypted artifact back to plaintext.
type decryptReader struct {
	src     *bufio.Reader
	gcm     cipher.AEAD
	counter uint64
	rem     []byte
	done    bool
}

// NewDecryptReader checks the header of an encrypted stream and returns a
// reader for the plaintext. Truncated or tampered streams surface as read
// errors, not short data.
func NewDecryptReader(r io.Reader, passphrase string) (io.Reader, error) {
	src := bufio.NewReaderSize(r, 256*1024)

	header := make([]byte, len(encMagic)+1+encSaltSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, apperrors.NewEncryptionError("not an encrypted artifact: header too short", err)
	}
	if string(header[:len(encMagic)]) != encMagic {
		return nil, apperrors.NewEncryptionError("not an encrypted artifact: bad magic", nil)
	}
	if header[len(encMagic)] != encVersion {
		return nil, apperrors.NewEncryptionError(fmt.Sprintf("unsupported encryption version %d", header[len(encMagic)]), nil)
	}

	gcm, err := newAEAD(passphrase, header[len(encMagic)+1:])
	if err != nil {
		return nil, apperrors.NewEncryptionError("cannot initialize cipher", err)
	}
	return &decryptReader{src: src, gcm: gcm}, nil
}

func (d *decryptReader) Read(p []byte) (int, error) {
	for len(d.rem) == 0 {
		if d.done {
			return 0, io.EOF
		}
		if err := d.nextChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.rem)
	d.rem = d.rem[n:]
	return n, nil
}

func (d *decryptReader) nextChunk() error {
	flag, err := d.src.ReadByte()
	if errors.Is(err, io.EOF) {
		return apperrors.NewEncryptionError("encrypted artifact is truncated", nil)
	}
	if err != nil {
		return apperrors.NewEncryptionError("cannot read encrypted artifact", err)
	}
	if flag != chunkMore && flag != chunkFinal {
		return apperrors.NewEncryptionError("encrypted artifact is corrupt: bad chunk flag", nil)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(d.src, lenBuf[:]); err != nil {
		return apperrors.NewEncryptionError("encrypted artifact is truncated", err)
	}
	ctLen := binary.BigEndian.Uint32(lenBuf[:])
	if ctLen > encChunkSize+uint32(d.gcm.Overhead()) {
		return apperrors.NewEncryptionError("encrypted artifact is corrupt: oversized chunk", nil)
	}

	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(d.src, ct); err != nil {
		return apperrors.NewEncryptionError("encrypted artifact is truncated", err)
	}

	plain, err := d.gcm.Open(ct[:0], chunkNonce(d.gcm, d.counter), ct, []byte{flag})
	if err != nil {
		return apperrors.NewEncryptionError("decryption failed: wrong passphrase or corrupt artifact", err)
	}
	d.counter++
	d.rem = plain
	if flag == chunkFinal {
		d.done = true
	}
	return nil
}
