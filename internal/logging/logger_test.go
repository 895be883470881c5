package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name: "default config",
			config: Config{
				Level:  LogLevelNormal,
				Format: "text",
			},
			want: LogLevelNormal,
		},
		{
			name: "verbose config",
			config: Config{
				Level:  LogLevelVerbose,
				Format: "json",
			},
			want: LogLevelVerbose,
		},
		{
			name: "quiet config",
			config: Config{
				Level:  LogLevelQuiet,
				Format: "text",
			},
			want: LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()
	if logger == nil {
		t.Fatal("NewDefaultLogger() returned nil")
	}

	if logger.GetLevel() != LogLevelNormal {
		t.Errorf("NewDefaultLogger() level = %v, want %v", logger.GetLevel(), LogLevelNormal)
	}
}

func TestLoggerFileSink(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "process_mysql_backup.log")

	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Level:   LogLevelNormal,
		Output:  &buf,
		LogFile: logFile,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("backup starting")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "backup starting") {
		t.Errorf("log file missing message, got %q", string(data))
	}
	if !strings.Contains(buf.String(), "backup starting") {
		t.Error("console output missing message")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.SetLevel(LogLevelDebug)
	if logger.GetLevel() != LogLevelDebug {
		t.Errorf("SetLevel() = %v, want %v", logger.GetLevel(), LogLevelDebug)
	}

	logger.Debug("visible at debug")
	if !strings.Contains(buf.String(), "visible at debug") {
		t.Error("debug message suppressed after SetLevel(debug)")
	}
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})

	logger.Info("should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Error("info message logged at quiet level")
	}

	logger.Error("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("error message suppressed at quiet level")
	}
}

func TestIsLevelEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	if !logger.IsLevelEnabled(LogLevelNormal) {
		t.Error("normal level should be enabled")
	}
	if logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("verbose level should not be enabled at normal")
	}
}

func TestLogConnectionProbe(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogConnectionProbe("db1.example.com:3306", 42, 120*time.Millisecond, nil)
	if !strings.Contains(buf.String(), "Connection probe succeeded") {
		t.Errorf("missing success message, got %q", buf.String())
	}

	buf.Reset()
	logger.LogConnectionProbe("db1.example.com:3306", 0, time.Millisecond, errors.New("access denied"))
	if !strings.Contains(buf.String(), "Connection probe failed") {
		t.Errorf("missing failure message, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "access denied") {
		t.Error("missing underlying error in probe log")
	}
}

func TestLogBackupResult(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogBackupResult("mysqldump", "/data/backups/a.sql.lz4", 1024, time.Second, nil)
	if !strings.Contains(buf.String(), "Backup completed") {
		t.Errorf("missing completion message, got %q", buf.String())
	}

	buf.Reset()
	logger.LogBackupResult("mysqldump", "/data/backups/a.sql.lz4", 0, time.Second, errors.New("exit status 2"))
	if !strings.Contains(buf.String(), "Backup failed") {
		t.Errorf("missing failure message, got %q", buf.String())
	}
}

func TestLogSessionKill(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogSessionKill(99, nil)
	if !strings.Contains(buf.String(), "Killed session") {
		t.Errorf("missing kill message, got %q", buf.String())
	}

	buf.Reset()
	logger.LogSessionKill(100, errors.New("unknown thread id"))
	if !strings.Contains(buf.String(), "Failed to kill") {
		t.Errorf("missing kill failure message, got %q", buf.String())
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	done := logger.LogOperationStart("preflight", map[string]interface{}{"tool": "mydumper"})
	done(nil)

	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("missing completion message, got %q", buf.String())
	}

	buf.Reset()
	done = logger.LogOperationStart("preflight", nil)
	done(errors.New("binary missing"))

	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("missing failure message, got %q", buf.String())
	}
}

func TestSanitizeCmdline(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "long password flag",
			input: "mysqldump --host=db1 --password=hunter2 --all-databases",
			want:  "mysqldump --host=db1 --password=*** --all-databases",
		},
		{
			name:  "password flag at end",
			input: "mysqldump --password=hunter2",
			want:  "mysqldump --password=***",
		},
		{
			name:  "short password flag",
			input: "mysql -psecret -e select",
			want:  "mysql -p*** -e select",
		},
		{
			name:  "port flag untouched",
			input: "mysqldump --port=3306 --all-databases",
			want:  "mysqldump --port=3306 --all-databases",
		},
		{
			name:  "no credentials",
			input: "xtrabackup --backup --target-dir=/data",
			want:  "xtrabackup --backup --target-dir=/data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeCmdline(tt.input); got != tt.want {
				t.Errorf("SanitizeCmdline() = %q, want %q", got, tt.want)
			}
		})
	}
}
