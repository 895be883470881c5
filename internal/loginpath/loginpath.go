// Package loginpath wraps the mysql_config_editor binary that maintains
// the obfuscated ~/.mylogin.cnf credential store. Backups that connect
// with --login-path keep the password out of both the command line and
// the process environment.
package loginpath

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/michael-liumh/mysqlbackup/internal/config"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

const editorBinary = "mysql_config_editor"

// Editor shells out to mysql_config_editor.
type Editor struct {
	logger *logging.Logger

	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewEditor creates an editor that resolves the binary from PATH.
func NewEditor(logger *logging.Logger) *Editor {
	return &Editor{
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// SetOptions describes the login path to store.
type SetOptions struct {
	Name   string
	Host   string
	Port   int
	User   string
	Socket string
}

func (e *Editor) resolve() (string, error) {
	path, err := e.lookPath(editorBinary)
	if err != nil {
		return "", apperrors.NewToolNotFoundError(editorBinary, err)
	}
	return path, nil
}

// Show prints the stored settings of one login path. Values are
// obfuscated by the editor itself (the password shows as *****).
func (e *Editor) Show(ctx context.Context, name string) (string, error) {
	path, err := e.resolve()
	if err != nil {
		return "", err
	}

	out, err := e.command(ctx, path, "print", "--login-path="+name).Output()
	if err != nil {
		return "", apperrors.NewExecutionError(fmt.Sprintf("cannot read login path %s", name), err)
	}
	return string(out), nil
}

// HasPassword reports whether the login path exists and carries a
// password entry.
func (e *Editor) HasPassword(ctx context.Context, name string) bool {
	out, err := e.Show(ctx, name)
	return err == nil && strings.Contains(out, "password")
}

// Remove drops a login path from the credential store.
func (e *Editor) Remove(ctx context.Context, name string) error {
	path, err := e.resolve()
	if err != nil {
		return err
	}

	out, err := e.command(ctx, path, "remove", "--login-path="+name).CombinedOutput()
	if err != nil {
		return apperrors.NewExecutionError(fmt.Sprintf("cannot remove login path %s: %s", name, strings.TrimSpace(string(out))), err)
	}
	return nil
}

// Set stores a login path. The editor prompts for the password on the
// terminal itself, so stdin and stderr stay attached to the operator.
func (e *Editor) Set(ctx context.Context, opts SetOptions) error {
	path, err := e.resolve()
	if err != nil {
		return err
	}

	args := []string{
		"set",
		"--login-path=" + opts.Name,
		"--host=" + opts.Host,
		"--user=" + opts.User,
		"--port=" + strconv.Itoa(opts.Port),
	}
	if opts.Socket != "" {
		args = append(args, "--socket="+opts.Socket)
	}
	// --skip-warn suppresses the overwrite confirmation when the login
	// path already exists.
	args = append(args, "--skip-warn", "--password")

	cmd := e.command(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return apperrors.NewExecutionError(fmt.Sprintf("cannot store login path %s", opts.Name), err)
	}
	return nil
}

// Ensure makes the configured login path usable before a backup run.
// With reset the stored entry is replaced; otherwise it is created only
// when no password is stored yet.
func (e *Editor) Ensure(ctx context.Context, conn config.Connection, reset bool) error {
	if conn.LoginPath == "" {
		return nil
	}

	if reset {
		if err := e.Remove(ctx, conn.LoginPath); err != nil {
			e.logger.Debugf("Login path remove before reset: %v", err)
		}
		e.logger.Infof("Login path reset, please enter the password for backup.")
	} else {
		if e.HasPassword(ctx, conn.LoginPath) {
			return nil
		}
		e.logger.Infof("Login path unset, please enter the password for backup.")
	}

	return e.Set(ctx, SetOptions{
		Name:   conn.LoginPath,
		Host:   conn.Host,
		Port:   conn.Port,
		User:   conn.User,
		Socket: conn.Socket,
	})
}
