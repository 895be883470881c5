// Package application wires one backup invocation end to end:
// login-path resolution, command construction, preflight, the hang
// watcher, the executor, and the post-run steps (verify, metadata,
// encryption, upload, retention).
package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/michael-liumh/mysqlbackup/internal/backup"
	"github.com/michael-liumh/mysqlbackup/internal/config"
	"github.com/michael-liumh/mysqlbackup/internal/database"
	"github.com/michael-liumh/mysqlbackup/internal/display"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/loginpath"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
	"github.com/michael-liumh/mysqlbackup/internal/storage"
)

// appLogName is the orchestrator's own rotated log, separate from the
// tool log the backup binaries write into.
const appLogName = "mysqlbackup.log"

// App runs one backup invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	status *display.StatusWriter
	errOut *display.StatusWriter

	editor      loginPathEditor
	newRunner   func(config.Connection) database.QueryRunner
	newProvider func(context.Context, config.UploadConfig) (storage.Provider, error)
}

type loginPathEditor interface {
	Ensure(ctx context.Context, conn config.Connection, reset bool) error
}

// New creates the application for a validated configuration.
func New(cfg *config.Config) (*App, error) {
	level := logging.LogLevelNormal
	if cfg.Debug {
		level = logging.LogLevelDebug
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stdout,
		LogFile: filepath.Join(cfg.Backup.BackupDir, appLogName),
	})
	if err != nil {
		return nil, apperrors.NewConfigError("cannot initialize logging", err)
	}

	return &App{
		cfg:         cfg,
		logger:      logger,
		status:      display.NewStatusWriter(os.Stdout),
		errOut:      display.NewStatusWriter(os.Stderr),
		editor:      loginpath.NewEditor(logger),
		newRunner:   database.NewRunner,
		newProvider: storage.NewProvider,
	}, nil
}

// Logger exposes the application logger.
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Run executes the backup and returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	done := a.logger.LogOperationStart("backup", map[string]interface{}{
		"tool":   a.cfg.Backup.Tool.String(),
		"server": a.cfg.Connection.Address(),
	})

	code := a.run(ctx)
	if code == 0 {
		done(nil)
	} else {
		done(fmt.Errorf("exit code %d", code))
	}
	return code
}

func (a *App) run(ctx context.Context) int {
	for _, warning := range a.cfg.Warnings() {
		a.logger.Warnf("%s", warning)
	}

	if a.cfg.Connection.LoginPath != "" {
		if err := a.editor.Ensure(ctx, a.cfg.Connection, a.cfg.ResetLoginPath); err != nil {
			return a.fail(err)
		}
	}

	cmd, err := backup.Build(a.cfg)
	if err != nil {
		return a.fail(err)
	}
	for _, warning := range cmd.Warnings {
		a.logger.Warnf("%s", warning)
	}

	preflight := backup.NewPreflight(a.cfg, a.newRunner(a.cfg.Connection), a.logger)
	if err := preflight.Run(ctx, cmd); err != nil {
		return a.fail(err)
	}

	// The watcher cancels the run on a fatal poll error; the
	// orchestrator cancels the watcher as soon as the tool is done.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watcher := backup.NewWatcher(a.newRunner(a.cfg.Connection), a.cfg.Connection.User, a.logger, func(err error) {
		cancel(err)
	})
	go watcher.Watch(runCtx)

	result := backup.NewExecutor(a.logger).Run(runCtx, cmd)
	cancel(nil)

	if !result.Success {
		return a.fail(result.Err)
	}
	return a.postRun(ctx, cmd, result)
}

// postRun handles everything after a successful backup. Only a failed
// integrity check turns the run into a failure; the other steps degrade
// to warnings because the local artifact is intact.
func (a *App) postRun(ctx context.Context, cmd *backup.Command, result *backup.Result) int {
	artifact := result.ArtifactPath

	if err := backup.QuickVerify(artifact); err != nil {
		return a.fail(apperrors.NewExecutionError("backup artifact failed verification", err))
	}

	meta, err := backup.NewMetadata(a.cfg, cmd, result)
	if err != nil {
		a.warn(fmt.Sprintf("cannot compute run metadata: %v", err))
	} else if err := meta.Write(); err != nil {
		a.warn(fmt.Sprintf("cannot write metadata sidecar: %v", err))
		meta = nil
	}

	encrypted := false
	encryptionFailed := false
	if a.cfg.Encryption.Enabled {
		encPath, err := backup.EncryptArtifact(artifact, a.cfg.Encryption.Passphrase)
		if err != nil {
			encryptionFailed = true
			a.warn(fmt.Sprintf("encryption failed, artifact left unencrypted: %v", err))
		} else {
			artifact = encPath
			encrypted = true
			a.logger.Infof("Encrypted artifact to %s", encPath)
		}
	}

	uploaded := ""
	if a.cfg.Upload.Enabled {
		if encryptionFailed {
			a.warn("skipping upload: the artifact was meant to be encrypted")
		} else {
			uploaded = a.upload(ctx, artifact)
		}
	}

	swept := 0
	if a.cfg.Retention.Enabled {
		sweep, err := backup.NewRetention(a.cfg.Retention, a.logger).Sweep(filepath.Dir(artifact), artifact)
		if err != nil {
			a.warn(fmt.Sprintf("retention sweep failed: %v", err))
		} else {
			swept = len(sweep.Removed)
			for _, msg := range sweep.Errors {
				a.warn(msg)
			}
		}
	}

	report := display.BackupReport{
		Tool:        cmd.Tool.String(),
		Server:      a.cfg.Connection.Address(),
		Artifact:    artifact,
		SizeBytes:   result.ArtifactSize,
		Duration:    result.Duration,
		Incremental: cmd.Incremental,
		BaseLSN:     cmd.BaseLSN,
		Encrypted:   encrypted,
		Uploaded:    uploaded,
		Swept:       swept,
	}
	if meta != nil {
		report.SHA256 = backup.FormatChecksum(meta.SHA256)
	}

	a.status.Successf("Backup complete: %s", artifact)
	a.status.PrintReport(report)
	return 0
}

// upload pushes the artifact and its sidecar to the configured provider.
// Failures are warnings; the returned provider name is empty when
// nothing made it out.
func (a *App) upload(ctx context.Context, artifact string) string {
	provider, err := a.newProvider(ctx, a.cfg.Upload)
	if err != nil {
		a.warn(fmt.Sprintf("upload skipped: %v", err))
		return ""
	}

	if err := provider.Upload(ctx, artifact, filepath.Base(artifact)); err != nil {
		a.warn(fmt.Sprintf("upload failed, local artifact is intact: %v", err))
		return ""
	}

	sidecar := backup.SidecarPath(artifact)
	if _, err := os.Stat(sidecar); err == nil {
		if err := provider.Upload(ctx, sidecar, filepath.Base(sidecar)); err != nil {
			a.warn(fmt.Sprintf("sidecar upload failed: %v", err))
		}
	}

	a.logger.Infof("Uploaded artifact via %s", provider.Name())
	return provider.Name()
}

func (a *App) warn(msg string) {
	a.logger.Warnf("%s", msg)
	a.status.Warnf("%s", msg)
}

func (a *App) fail(err error) int {
	a.logger.Errorf("%v", err)
	a.errOut.Errorf("%s", apperrors.FormatUserError(err))
	a.printHints(err)
	if apperrors.IsType(err, apperrors.ErrorTypeInterrupted) {
		return 130
	}
	return 1
}

// printHints gives the operator a starting point per failure class.
func (a *App) printHints(err error) {
	var hints []string
	switch apperrors.GetErrorType(err) {
	case apperrors.ErrorTypeToolNotFound:
		hints = []string{
			"Verify the backup tool is installed and on PATH",
			"xtrabackup ships with percona-xtrabackup, mariabackup with the MariaDB server packages",
			"Dump-style backups also need the lz4 binary for the compression stage",
		}
	case apperrors.ErrorTypeAlreadyRunning:
		hints = []string{
			"Another backup for this server is still running",
			"Wait for it to finish, or check the process list if it looks stuck",
		}
	case apperrors.ErrorTypeConnection:
		hints = []string{
			"Check that the database server is running and reachable",
			"Verify host, port, socket, and credentials",
			"Login-path credentials can be inspected with: mysqlbackup login-path show",
		}
	case apperrors.ErrorTypeUnsupportedFilter:
		hints = []string{
			"xtrabackup copies the whole instance and cannot filter databases or tables",
			"Drop --databases/--tables, or back up with mysqldump, mysqlpump, or mydumper",
		}
	case apperrors.ErrorTypeWatcherPoll:
		hints = []string{
			"The hang watcher could not poll the server, so the run was aborted",
			"A backup holding FLUSH TABLES WITH READ LOCK unwatched can stall all writes",
		}
	case apperrors.ErrorTypeExecution:
		hints = []string{
			"Check the tool log in the backup directory for the full error output",
		}
	}
	if len(hints) == 0 {
		return
	}

	fmt.Fprintf(os.Stderr, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(os.Stderr, "- %s\n", hint)
	}
}
