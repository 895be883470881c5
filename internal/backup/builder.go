// Package backup builds, checks and runs the external backup tool
// invocation for one backup run: command construction, preflight checks,
// the FTWRL hang watcher, pipeline execution and the post-run steps
// (metadata, verification, encryption, retention).
package backup

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
)

// Command is the fully resolved invocation of one backup run. The executor
// wires Tool's stdout into Compressor's stdin when a compressor is present,
// otherwise straight into OutputFile.
type Command struct {
	Tool     config.Tool
	ToolPath string   // binary to exec; preflight may swap in a fallback
	ToolArgs []string // argv after the binary

	Compressor []string // compressor argv including its binary, empty for stream tools

	OutputFile string // artifact path
	LogFile    string // tool log path; also the xtrabackup stderr sink
	StagingDir string // tmp dir for stream tools, removed after success

	EnsureDirs []string // directories the executor creates before starting

	Env []string // extra child env entries, MYSQL_PWD when password auth

	Incremental bool   // incremental xtrabackup run
	BaseLSN     string // LSN the incremental starts from

	Warnings []string // non-fatal notices raised during build
}

// String renders the pipeline for logs. Safe to print: credentials never
// appear in argv.
func (c *Command) String() string {
	parts := []string{c.ToolPath + " " + strings.Join(c.ToolArgs, " ")}
	if len(c.Compressor) > 0 {
		parts = append(parts, strings.Join(c.Compressor, " "))
	}
	return strings.Join(parts, " | ") + " > " + c.OutputFile
}

// Build constructs the backup command for the validated configuration.
func Build(cfg *config.Config) (*Command, error) {
	return buildAt(cfg, time.Now())
}

func buildAt(cfg *config.Config, now time.Time) (*Command, error) {
	cmd := &Command{
		Tool:       cfg.Backup.Tool,
		ToolPath:   cfg.Backup.Tool.String(),
		LogFile:    cfg.Backup.BackupLog,
		EnsureDirs: []string{cfg.Backup.BackupDir},
	}

	if cfg.Connection.PasswordAuth() && cfg.Connection.Password != "" {
		cmd.Env = append(cmd.Env, "MYSQL_PWD="+cfg.Connection.Password)
	}

	var err error
	switch cfg.Backup.Tool {
	case config.ToolMysqldump:
		err = buildMysqldump(cfg, cmd)
	case config.ToolMysqlpump:
		err = buildMysqlpump(cfg, cmd)
	case config.ToolMydumper:
		err = buildMydumper(cfg, cmd)
	case config.ToolXtrabackup:
		err = buildXtrabackup(cfg, cmd)
	default:
		err = apperrors.NewConfigError(fmt.Sprintf("unknown backup tool %q", cfg.Backup.Tool), nil)
	}
	if err != nil {
		return nil, err
	}

	cmd.ToolArgs = append(cmd.ToolArgs, cfg.Backup.Extra...)

	if cmd.OutputFile == "" {
		cmd.OutputFile = artifactPath(cfg, cmd.Incremental, now)
	}
	return cmd, nil
}

func buildMysqldump(cfg *config.Config, cmd *Command) error {
	args := append([]string{}, cfg.Connection.Args()...)
	args = append(args,
		"--master-data=2",
		"--single-transaction",
		"--set-gtid-purged=AUTO",
		"--skip-tz-utc",
		"--complete-insert",
		"--hex-blob",
		"--default-character-set", "utf8mb4",
		"--routines",
		"--events",
		"--triggers",
		"--add-drop-table",
		"--max-allowed-packet=256M",
		"--log-error="+cmd.LogFile,
	)

	if cfg.Backup.JustInsert {
		args = append(args, justInsertArgs...)
	}
	if cfg.Backup.NoData {
		args = append(args,
			"--no-data",
			"--skip-lock-tables",
			"--skip-add-drop-database",
			"--skip-add-drop-table",
			"--skip-add-drop-trigger",
		)
	}

	switch {
	case len(cfg.Backup.Databases) > 0:
		args = append(args, "--databases")
		args = append(args, cfg.Backup.Databases...)
	case len(cfg.Backup.Tables) > 0:
		args = append(args, "--tables")
		args = append(args, cfg.Backup.Tables...)
	default:
		args = append(args, "--all-databases")
	}

	cmd.ToolArgs = args
	cmd.Compressor = lz4Pipeline()
	cmd.OutputFile = cfg.Backup.BackupFile
	return nil
}

func buildMysqlpump(cfg *config.Config, cmd *Command) error {
	args := append([]string{}, cfg.Connection.Args()...)
	args = append(args,
		fmt.Sprintf("--default-parallelism=%d", cfg.Backup.Threads),
		"--single-transaction",
		"--set-gtid-purged=ON",
		"--skip-tz-utc",
		"--add-drop-table",
		"--complete-insert",
		"--extended-insert=1000",
		"--hex-blob",
		"--default-character-set", "utf8mb4",
		"--routines",
		"--events",
		"--triggers",
		"--log-error-file="+cmd.LogFile,
	)

	if cfg.Backup.JustInsert {
		args = append(args, justInsertArgs...)
	}
	if cfg.Backup.NoData {
		args = append(args, "--skip-dump-rows")
	}

	switch {
	case len(cfg.Backup.Databases) > 0:
		args = append(args, "--include-databases="+strings.Join(cfg.Backup.Databases, ","))
	case len(cfg.Backup.Tables) > 0:
		args = append(args, "--include-tables="+strings.Join(cfg.Backup.Tables, ","))
	default:
		args = append(args, "--all-databases")
	}

	cmd.ToolArgs = args
	cmd.Compressor = lz4Pipeline()
	cmd.OutputFile = cfg.Backup.BackupFile
	return nil
}

func buildMydumper(cfg *config.Config, cmd *Command) error {
	staging := cfg.TmpDir()

	args := append([]string{}, cfg.Connection.Args()...)
	args = append(args,
		"--threads", strconv.Itoa(cfg.Backup.Threads),
		"--trx-consistency-only",
		"--use-savepoints",
		"--triggers",
		"--events",
		"--routines",
		"--skip-definer",
		"--compress",
		"--rows", "100000",
		"--skip-tz-utc",
		"--complete-insert",
		"--set-names", "utf8mb4",
		"--disk-limits", "1024:4096",
		"--logfile", cmd.LogFile,
		"-v", "3",
		"--stream",
		"-o", staging,
	)

	if cfg.Backup.NoData {
		args = append(args, "--no-data", "--no-locks")
	}

	switch {
	case len(cfg.Backup.Databases) > 0:
		args = append(args, "--regex", databaseRegex(cfg.Backup.Databases))
	case len(cfg.Backup.Tables) > 0:
		args = append(args, "--tables-list", strings.Join(cfg.Backup.Tables, ","))
	}

	cmd.ToolArgs = args
	cmd.StagingDir = staging
	cmd.EnsureDirs = append(cmd.EnsureDirs, staging)
	cmd.OutputFile = cfg.Backup.BackupFile
	return nil
}

func buildXtrabackup(cfg *config.Config, cmd *Command) error {
	if len(cfg.Backup.Databases) > 0 || len(cfg.Backup.Tables) > 0 {
		return apperrors.NewUnsupportedFilterError(cfg.Backup.Tool.String())
	}

	staging := cfg.TmpDir()
	history := cfg.HistoryDir()

	args := append([]string{}, cfg.Connection.Args()...)
	args = append(args,
		"--backup",
		"--stream=xbstream",
		"--compress",
		fmt.Sprintf("--compress-threads=%d", cfg.Backup.Threads),
		fmt.Sprintf("--parallel=%d", cfg.Backup.Threads),
		"--target-dir="+cfg.Backup.BackupDir,
		"--tmpdir="+staging,
		"--extra-lsndir="+history,
	)

	if cfg.Backup.Incremental {
		lsn, found, err := LastLSN(cfg.CheckpointFile())
		switch {
		case err != nil:
			cmd.Warnings = append(cmd.Warnings,
				fmt.Sprintf("cannot read checkpoint history (%v); taking a full backup instead", err))
		case !found:
			cmd.Warnings = append(cmd.Warnings,
				"no checkpoint history found; taking a full backup instead")
		default:
			args = append(args, "--incremental-lsn="+lsn)
			cmd.Incremental = true
			cmd.BaseLSN = lsn
		}
	}

	cmd.ToolArgs = args
	cmd.StagingDir = staging
	cmd.EnsureDirs = append(cmd.EnsureDirs, staging, history)
	cmd.OutputFile = cfg.Backup.BackupFile
	return nil
}

// justInsertArgs strips schema statements so the dump replays as pure
// inserts. mysqldump and mysqlpump share the spelling.
var justInsertArgs = []string{
	"--skip-add-drop-table",
	"--skip-add-locks",
	"--no-create-info",
}

func lz4Pipeline() []string {
	return []string{"lz4", "-z", "-9", "-c"}
}

// databaseRegex anchors each database name to its schema qualifier, e.g.
// ^(app\.|billing\.) for databases app and billing.
func databaseRegex(databases []string) string {
	return `^(` + strings.Join(databases, `\.|`) + `\.)`
}

// artifactPath names the artifact <host>_<port>_<tool>_<timestamp>.<ext>
// with dots in the host replaced by underscores. Socket and localhost runs
// use the machine's primary route IP when one is discoverable.
func artifactPath(cfg *config.Config, incremental bool, now time.Time) string {
	host := cfg.Connection.Host
	if cfg.Connection.Local() {
		if ip := primaryIP(); ip != "" {
			host = ip
		}
	}
	host = strings.ReplaceAll(host, ".", "_")

	name := fmt.Sprintf("%s_%d_%s_%s.%s",
		host,
		cfg.Connection.Port,
		cfg.Backup.Tool,
		now.Format("20060102_150405"),
		artifactExtension(cfg.Backup.Tool, incremental),
	)
	return filepath.Join(cfg.Backup.BackupDir, name)
}

func artifactExtension(tool config.Tool, incremental bool) string {
	switch tool {
	case config.ToolXtrabackup:
		if incremental {
			return "incremental.xb"
		}
		return "fullback.xb"
	case config.ToolMydumper:
		return "stream"
	default:
		return "sql.lz4"
	}
}

// primaryIP returns the source address of the default route. The UDP dial
// performs a route lookup only; no packet leaves the machine.
func primaryIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
