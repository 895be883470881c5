package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/michael-liumh/mysqlbackup/internal/config"
)

// Metadata is the sidecar record written next to a successful artifact as
// <artifact>.meta.json. Verification and retention read it back.
type Metadata struct {
	RunID           string    `json:"run_id"`
	Tool            string    `json:"tool"`
	ToolVersion     string    `json:"tool_version,omitempty"`
	Server          string    `json:"server"`
	Databases       []string  `json:"databases,omitempty"`
	Tables          []string  `json:"tables,omitempty"`
	Incremental     bool      `json:"incremental"`
	BaseLSN         string    `json:"base_lsn,omitempty"`
	Artifact        string    `json:"artifact"`
	SizeBytes       int64     `json:"size_bytes"`
	SHA256          string    `json:"sha256"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Encrypted       bool      `json:"encrypted,omitempty"`
}

// SidecarPath returns the metadata path for an artifact.
func SidecarPath(artifact string) string {
	return artifact + ".meta.json"
}

// NewMetadata assembles the sidecar record for a finished run, checksumming
// the artifact on the way.
func NewMetadata(cfg *config.Config, cmd *Command, result *Result) (*Metadata, error) {
	checksum, err := ChecksumFile(result.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("cannot checksum artifact: %w", err)
	}

	finished := time.Now()
	return &Metadata{
		RunID:           uuid.NewString(),
		Tool:            cmd.Tool.String(),
		ToolVersion:     toolVersion(cmd.ToolPath),
		Server:          cfg.Connection.Address(),
		Databases:       cfg.Backup.Databases,
		Tables:          cfg.Backup.Tables,
		Incremental:     cmd.Incremental,
		BaseLSN:         cmd.BaseLSN,
		Artifact:        result.ArtifactPath,
		SizeBytes:       result.ArtifactSize,
		SHA256:          checksum,
		StartedAt:       finished.Add(-result.Duration),
		FinishedAt:      finished,
		DurationSeconds: result.Duration.Seconds(),
	}, nil
}

// Write saves the sidecar next to the artifact.
func (m *Metadata) Write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal metadata: %w", err)
	}
	if err := os.WriteFile(SidecarPath(m.Artifact), data, 0o644); err != nil {
		return fmt.Errorf("cannot write metadata sidecar: %w", err)
	}
	return nil
}

// LoadMetadata reads the sidecar for an artifact.
func LoadMetadata(artifact string) (*Metadata, error) {
	data, err := os.ReadFile(SidecarPath(artifact))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cannot parse metadata sidecar: %w", err)
	}
	return &m, nil
}

// ChecksumFile streams a file through SHA-256.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// toolVersion asks the tool for its version banner. Best effort only.
func toolVersion(toolPath string) string {
	if toolPath == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, toolPath, "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
