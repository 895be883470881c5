package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

// artifactSuffixes are the endings a backup run can produce, before the
// optional encryption suffix.
var artifactSuffixes = []string{".sql.lz4", ".stream", ".fullback.xb", ".incremental.xb"}

// Retention sweeps old artifacts out of a backup directory.
type Retention struct {
	cfg    config.RetentionConfig
	logger *logging.Logger

	now func() time.Time
}

// NewRetention creates a sweeper for the configured policy.
func NewRetention(cfg config.RetentionConfig, logger *logging.Logger) *Retention {
	return &Retention{cfg: cfg, logger: logger, now: time.Now}
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Scanned    int
	Kept       int
	Removed    []string
	FreedBytes int64
	DryRun     bool
	Errors     []string
}

type artifactEntry struct {
	path    string
	modTime time.Time
	size    int64
}

// Sweep applies the age and count policies to the artifacts in dir. The
// newest artifact and the protect path (the one just produced) are never
// candidates. Sidecars follow their artifact.
func (r *Retention) Sweep(dir, protect string) (*SweepResult, error) {
	result := &SweepResult{DryRun: r.cfg.DryRun}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("cannot read backup directory: %w", err)
	}

	var artifacts []artifactEntry
	for _, entry := range entries {
		if entry.IsDir() || !IsArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifactEntry{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}
	result.Scanned = len(artifacts)
	if len(artifacts) == 0 {
		return result, nil
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].modTime.After(artifacts[j].modTime)
	})

	keep := make(map[string]bool, len(artifacts))
	keep[artifacts[0].path] = true
	if protect != "" {
		keep[protect] = true
	}
	if r.cfg.Keep > 0 {
		for i := 0; i < len(artifacts) && i < r.cfg.Keep; i++ {
			keep[artifacts[i].path] = true
		}
	}
	if r.cfg.Days > 0 {
		cutoff := r.now().AddDate(0, 0, -r.cfg.Days)
		for _, a := range artifacts {
			if a.modTime.After(cutoff) {
				keep[a.path] = true
			}
		}
	}

	for _, a := range artifacts {
		if keep[a.path] {
			result.Kept++
			continue
		}
		if r.cfg.DryRun {
			r.logger.Infof("Retention dry run: would remove %s (%s old)", a.path, formatAge(r.now().Sub(a.modTime)))
			result.Removed = append(result.Removed, a.path)
			result.FreedBytes += a.size
			continue
		}
		if err := r.remove(a); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Removed = append(result.Removed, a.path)
		result.FreedBytes += a.size
	}

	return result, nil
}

func (r *Retention) remove(a artifactEntry) error {
	if err := os.Remove(a.path); err != nil {
		r.logger.Errorf("Retention: cannot remove %s: %v", a.path, err)
		return fmt.Errorf("cannot remove %s: %w", a.path, err)
	}
	if err := os.Remove(SidecarPath(a.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warnf("Retention: cannot remove sidecar for %s: %v", a.path, err)
	}
	r.logger.Infof("Retention: removed %s (%s old)", a.path, formatAge(r.now().Sub(a.modTime)))
	return nil
}

// IsArtifactName reports whether a file name looks like a backup artifact,
// encrypted or not.
func IsArtifactName(name string) bool {
	name = strings.TrimSuffix(name, EncryptedSuffix)
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func formatAge(age time.Duration) string {
	days := int(age.Hours() / 24)
	if days < 1 {
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
	return fmt.Sprintf("%dd", days)
}
