package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type statusIcon struct {
	unicode string
	ascii   string
}

var (
	iconSuccess = statusIcon{"✓", "[ok]"}
	iconWarning = statusIcon{"⚠", "[warn]"}
	iconError   = statusIcon{"✗", "[fail]"}
	iconInfo    = statusIcon{"•", "[info]"}
)

// StatusWriter prints progress and result lines for the operator.
type StatusWriter struct {
	out     io.Writer
	colors  ColorSystem
	unicode bool
}

// NewStatusWriter creates a writer bound to out, with color and Unicode
// support detected from the environment.
func NewStatusWriter(out io.Writer) *StatusWriter {
	return &StatusWriter{
		out:     out,
		colors:  NewColorSystem(DefaultColorTheme()),
		unicode: detectUnicodeSupport(),
	}
}

// detectUnicodeSupport checks if the terminal renders Unicode symbols.
func detectUnicodeSupport() bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return false
	}
	return strings.Contains(strings.ToUpper(lang), "UTF")
}

func (w *StatusWriter) icon(ic statusIcon) string {
	if w.unicode {
		return ic.unicode
	}
	return ic.ascii
}

func (w *StatusWriter) line(ic statusIcon, clr Color, format string, args ...interface{}) {
	fmt.Fprintf(w.out, "%s %s\n", w.colors.Colorize(w.icon(ic), clr), fmt.Sprintf(format, args...))
}

// Successf prints a green success line.
func (w *StatusWriter) Successf(format string, args ...interface{}) {
	w.line(iconSuccess, w.colors.Theme().Success, format, args...)
}

// Warnf prints a yellow warning line.
func (w *StatusWriter) Warnf(format string, args ...interface{}) {
	w.line(iconWarning, w.colors.Theme().Warning, format, args...)
}

// Errorf prints a red failure line.
func (w *StatusWriter) Errorf(format string, args ...interface{}) {
	w.line(iconError, w.colors.Theme().Error, format, args...)
}

// Infof prints a neutral progress line.
func (w *StatusWriter) Infof(format string, args ...interface{}) {
	w.line(iconInfo, w.colors.Theme().Info, format, args...)
}

// BackupReport is the final summary of one backup run.
type BackupReport struct {
	Tool        string
	Server      string
	Artifact    string
	SizeBytes   int64
	SHA256      string
	Duration    time.Duration
	Incremental bool
	BaseLSN     string
	Encrypted   bool
	Uploaded    string
	Swept       int
}

// PrintReport renders the final artifact report as aligned key/value
// lines.
func (w *StatusWriter) PrintReport(r BackupReport) {
	rows := [][2]string{
		{"Tool", r.Tool},
		{"Server", r.Server},
		{"Artifact", r.Artifact},
		{"Size", FormatBytes(r.SizeBytes)},
		{"Duration", FormatDuration(r.Duration)},
	}
	if r.SHA256 != "" {
		rows = append(rows, [2]string{"SHA-256", r.SHA256})
	}
	if r.Incremental {
		rows = append(rows, [2]string{"Incremental", "yes, from LSN " + r.BaseLSN})
	}
	if r.Encrypted {
		rows = append(rows, [2]string{"Encrypted", "yes"})
	}
	if r.Uploaded != "" {
		rows = append(rows, [2]string{"Uploaded", r.Uploaded})
	}
	if r.Swept > 0 {
		rows = append(rows, [2]string{"Retention", fmt.Sprintf("%d old artifact(s) removed", r.Swept)})
	}
	w.PrintRows(rows)
}

// PrintRows renders key/value pairs as aligned, muted-key lines.
func (w *StatusWriter) PrintRows(rows [][2]string) {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		key := fmt.Sprintf("%-*s", width, row[0])
		fmt.Fprintf(w.out, "  %s  %s\n", w.colors.Colorize(key, w.colors.Theme().Muted), row[1])
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration at second granularity, keeping
// millisecond detail for sub-second runs.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
