package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

// Result reports how one backup run ended.
type Result struct {
	Success      bool
	ExitCode     int
	ArtifactPath string
	ArtifactSize int64
	Stderr       string
	Duration     time.Duration
	Err          error
}

// Executor runs the backup pipeline with native pipes: the tool's stdout
// feeds the compressor's stdin when one is configured, otherwise the
// artifact file directly. No shell is involved.
type Executor struct {
	logger *logging.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *logging.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run executes the command and always returns a Result. Any failure or
// cancellation deletes the partial artifact; a success for stream-style
// tools removes the now-empty staging directory.
func (e *Executor) Run(ctx context.Context, cmd *Command) *Result {
	start := time.Now()
	result := &Result{ArtifactPath: cmd.OutputFile, ExitCode: -1}

	for _, dir := range cmd.EnsureDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Err = apperrors.NewExecutionError("cannot create backup directories", err)
			result.Duration = time.Since(start)
			return result
		}
	}

	e.logger.LogBackupStart(cmd.Tool.String(), cmd.OutputFile)
	e.logger.Debugf("Pipeline: %s", cmd.String())

	runErr := e.runPipeline(ctx, cmd, result)
	result.Duration = time.Since(start)

	if runErr != nil {
		e.reportFailure(cmd, result, runErr)
		e.removePartialArtifact(cmd.OutputFile)
		result.Err = e.classifyFailure(ctx, cmd, result, runErr)
		e.logger.LogBackupResult(cmd.Tool.String(), cmd.OutputFile, 0, result.Duration, result.Err)
		return result
	}

	result.Success = true
	result.ExitCode = 0
	if info, err := os.Stat(cmd.OutputFile); err == nil {
		result.ArtifactSize = info.Size()
	}

	if cmd.StagingDir != "" {
		if err := os.Remove(cmd.StagingDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warnf("Cannot remove staging directory %s: %v", cmd.StagingDir, err)
		}
	}

	e.logger.LogBackupResult(cmd.Tool.String(), cmd.OutputFile, result.ArtifactSize, result.Duration, nil)
	return result
}

func (e *Executor) runPipeline(ctx context.Context, cmd *Command, result *Result) error {
	outFile, err := os.OpenFile(cmd.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create artifact file: %w", err)
	}
	defer outFile.Close()

	tool := exec.CommandContext(ctx, cmd.ToolPath, cmd.ToolArgs...)
	tool.Env = append(os.Environ(), cmd.Env...)

	var toolStderr strings.Builder
	var drain sync.WaitGroup

	if cmd.Tool == config.ToolXtrabackup {
		// xtrabackup narrates on stderr; append it to the backup log
		// instead of holding it in memory.
		logFile, err := os.OpenFile(cmd.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open backup log: %w", err)
		}
		defer logFile.Close()
		tool.Stderr = logFile
	} else {
		stderrPipe, err := tool.StderrPipe()
		if err != nil {
			return fmt.Errorf("cannot open stderr pipe: %w", err)
		}
		drain.Add(1)
		go func() {
			defer drain.Done()
			e.drainStderr(stderrPipe, &toolStderr)
		}()
	}

	var waitCompressor func() error
	if len(cmd.Compressor) > 0 {
		waitCompressor, err = e.startCompressor(ctx, cmd, tool, outFile)
		if err != nil {
			return err
		}
	} else {
		tool.Stdout = outFile
	}

	if err := tool.Start(); err != nil {
		if waitCompressor != nil {
			waitCompressor()
		}
		return apperrors.NewExecutionError(fmt.Sprintf("cannot start %s", cmd.ToolPath), err)
	}

	drain.Wait()
	toolErr := tool.Wait()
	result.Stderr = strings.TrimSpace(toolStderr.String())

	var compErr error
	if waitCompressor != nil {
		compErr = waitCompressor()
	}

	if toolErr != nil {
		result.ExitCode = exitCode(toolErr)
		return toolErr
	}
	if compErr != nil {
		result.ExitCode = exitCode(compErr)
		return fmt.Errorf("compressor failed: %w", compErr)
	}
	return nil
}

// startCompressor wires the tool's stdout into the compressor's stdin and
// the compressor's stdout into the artifact. The compressor starts first so
// the pipe has a reader before the tool produces data.
func (e *Executor) startCompressor(ctx context.Context, cmd *Command, tool *exec.Cmd, outFile *os.File) (wait func() error, err error) {
	toolOut, err := tool.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot open stdout pipe: %w", err)
	}

	comp := exec.CommandContext(ctx, cmd.Compressor[0], cmd.Compressor[1:]...)
	comp.Stdin = toolOut
	comp.Stdout = outFile

	var compStderr strings.Builder
	comp.Stderr = &compStderr

	if err := comp.Start(); err != nil {
		return nil, apperrors.NewExecutionError(fmt.Sprintf("cannot start %s", cmd.Compressor[0]), err)
	}

	return func() error {
		err := comp.Wait()
		if err != nil && compStderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(compStderr.String()))
		}
		return err
	}, nil
}

// drainStderr collects the tool's stderr, echoing each line at debug level
// while the run is in flight.
func (e *Executor) drainStderr(r io.Reader, sink *strings.Builder) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sink.WriteString(line)
		sink.WriteByte('\n')
		e.logger.Debugf("tool: %s", line)
	}
}

func (e *Executor) reportFailure(cmd *Command, result *Result, runErr error) {
	switch {
	case result.Stderr != "":
		e.logger.Errorf("%s failed: %v\n%s", cmd.Tool, runErr, result.Stderr)
	default:
		e.logger.Errorf("%s failed: %v; check the tool log at %s", cmd.Tool, runErr, cmd.LogFile)
	}
}

// classifyFailure maps a pipeline error to the typed taxonomy: watcher
// cancellations keep their poll error, signal cancellations become an
// interruption, everything else is an execution failure.
func (e *Executor) classifyFailure(ctx context.Context, cmd *Command, result *Result, runErr error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		var appErr *apperrors.AppError
		if errors.As(cause, &appErr) {
			return appErr
		}
		return apperrors.NewInterruptedError(cause)
	}

	var appErr *apperrors.AppError
	if errors.As(runErr, &appErr) {
		return appErr
	}
	return apperrors.NewExecutionError(fmt.Sprintf("%s exited abnormally", cmd.Tool), runErr)
}

func (e *Executor) removePartialArtifact(path string) {
	if path == "" {
		return
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		e.logger.Infof("Removed partial artifact %s", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		e.logger.Warnf("Cannot remove partial artifact %s: %v", path, err)
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
