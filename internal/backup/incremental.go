package backup

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LastLSN reads the to_lsn value from an xtrabackup checkpoint file, the
// point the next incremental backup starts from. A missing file is not an
// error: it reports found=false and the run downgrades to a full backup.
func LastLSN(checkpointFile string) (lsn string, found bool, err error) {
	f, err := os.Open(checkpointFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || strings.TrimSpace(key) != "to_lsn" {
			continue
		}

		lsn = strings.TrimSpace(value)
		if _, err := strconv.ParseUint(lsn, 10, 64); err != nil {
			return "", false, fmt.Errorf("malformed to_lsn %q in %s", lsn, checkpointFile)
		}
		return lsn, true, nil
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
