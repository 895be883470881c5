package backup

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	"github.com/michael-liumh/mysqlbackup/internal/database"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

// Preflight validates the environment before any artifact is created: the
// tool binary resolves, no other invocation is already backing up the same
// server, and the server answers with the credentials the backup will use.
type Preflight struct {
	cfg    *config.Config
	runner database.QueryRunner
	logger *logging.Logger

	lookPath  func(file string) (string, error)
	processes func() ([]processInfo, error)
}

type processInfo struct {
	pid     int32
	cmdline []string
}

// NewPreflight creates the preflight checker for one run.
func NewPreflight(cfg *config.Config, runner database.QueryRunner, logger *logging.Logger) *Preflight {
	return &Preflight{
		cfg:       cfg,
		runner:    runner,
		logger:    logger,
		lookPath:  exec.LookPath,
		processes: runningProcesses,
	}
}

func runningProcesses() ([]processInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	infos := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		infos = append(infos, processInfo{pid: p.Pid, cmdline: cmdline})
	}
	return infos, nil
}

// Run executes the checks in order and resolves cmd.ToolPath to the binary
// the executor will start.
func (p *Preflight) Run(ctx context.Context, cmd *Command) error {
	binary, err := p.resolveBinary()
	if err != nil {
		return err
	}
	cmd.ToolPath = binary
	p.logger.WithField("binary", binary).Debug("Resolved backup tool binary")

	if cmd.Tool.UsesCompressorPipeline() {
		if _, err := p.lookPath("lz4"); err != nil {
			return apperrors.NewToolNotFoundError("lz4", err)
		}
	}

	if err := p.checkNotAlreadyRunning(cmd); err != nil {
		return err
	}
	return p.probeConnection(ctx)
}

// resolveBinary locates the configured tool on the execution path. The
// xtrabackup name differs across server flavors, so that tool falls back
// through the MariaDB spellings.
func (p *Preflight) resolveBinary() (string, error) {
	candidates := []string{p.cfg.Backup.Tool.String()}
	if p.cfg.Backup.Tool == config.ToolXtrabackup {
		candidates = []string{"xtrabackup", "mariabackup", "mariadb-backup"}
	}

	var lastErr error
	for _, name := range candidates {
		path, err := p.lookPath(name)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", apperrors.NewToolNotFoundError(strings.Join(candidates, ", "), lastErr)
}

// checkNotAlreadyRunning scans the process table for a backup of the same
// server: any process whose command line carries this tool plus these
// connection args. Best effort only; two invocations starting in the same
// instant can both pass.
func (p *Preflight) checkNotAlreadyRunning(cmd *Command) error {
	signature := filepath.Base(cmd.ToolPath) + " " + strings.Join(p.cfg.Connection.Args(), " ")

	procs, err := p.processes()
	if err != nil {
		p.logger.Warnf("Cannot scan the process table (%v); skipping the duplicate-run check", err)
		return nil
	}

	for _, proc := range procs {
		cmdline := strings.Join(proc.cmdline, " ")
		if strings.Contains(cmdline, signature) {
			return apperrors.NewAlreadyRunningError(proc.pid, logging.SanitizeCmdline(cmdline))
		}
	}
	return nil
}

// probeConnection issues the table-count query with the same credentials
// the backup will use.
func (p *Preflight) probeConnection(ctx context.Context) error {
	start := time.Now()
	count, err := database.TableCount(ctx, p.runner)
	p.logger.LogConnectionProbe(p.cfg.Connection.Address(), count, time.Since(start), err)
	if err != nil {
		return apperrors.NewConnectionError("cannot reach the server with the backup credentials", err)
	}
	return nil
}
