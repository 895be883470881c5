// Package database runs ad-hoc queries against the target server for the
// preflight probe and the hang watcher. Two implementations exist because
// login-path and defaults-file credentials are readable only by MySQL client
// programs: those configurations query through the mysql binary, everything
// else goes over the wire driver. Both open a fresh connection per call and
// hold nothing between calls.
package database

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/michael-liumh/mysqlbackup/internal/config"
)

// QueryRunner executes SQL against the target server. Query returns all
// result rows with every column rendered as text; Exec discards any output.
type QueryRunner interface {
	Query(ctx context.Context, query string) ([][]string, error)
	Exec(ctx context.Context, stmt string) error
}

// NewRunner selects the query path for the configured credentials.
func NewRunner(conn config.Connection) QueryRunner {
	if conn.RequiresClientBinary() {
		return NewClientRunner(conn)
	}
	return NewDriverRunner(conn)
}

// DriverRunner queries over the wire protocol via go-sql-driver. Each call
// opens its own connection and closes it before returning.
type DriverRunner struct {
	dsn  string
	open func(dsn string) (*sql.DB, error)
}

// NewDriverRunner creates a runner for host/port or socket credentials.
func NewDriverRunner(conn config.Connection) *DriverRunner {
	return &DriverRunner{dsn: DSN(conn), open: openMySQL}
}

func openMySQL(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// DSN builds the driver connection string. No schema is selected; the
// runner only touches information_schema.
func DSN(conn config.Connection) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	if conn.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = conn.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	}
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

// Query opens a connection, runs the query and returns every row as text.
func (r *DriverRunner) Query(ctx context.Context, query string) ([][]string, error) {
	db, err := r.open(r.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result [][]string
	for rows.Next() {
		raw := make([]sql.RawBytes, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, col := range raw {
			row[i] = string(col)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Exec opens a connection and runs a statement that returns no rows.
func (r *DriverRunner) Exec(ctx context.Context, stmt string) error {
	db, err := r.open(r.dsn)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, stmt)
	return err
}

// ClientRunner queries through the mysql client binary, one process per
// call. The password, when present, travels via MYSQL_PWD in the child
// environment, never on the command line.
type ClientRunner struct {
	binary string
	args   []string
	env    []string
}

// NewClientRunner creates a runner that shells out to the mysql client.
func NewClientRunner(conn config.Connection) *ClientRunner {
	runner := &ClientRunner{binary: "mysql", args: conn.Args()}
	if conn.PasswordAuth() && conn.Password != "" {
		runner.env = append(runner.env, "MYSQL_PWD="+conn.Password)
	}
	return runner
}

func (r *ClientRunner) commandArgs(query string) []string {
	args := append([]string{}, r.args...)
	return append(args, "--skip-column-names", "-e", query)
}

// Query runs the query through `mysql -e` and parses the tab-separated
// batch output.
func (r *ClientRunner) Query(ctx context.Context, query string) ([][]string, error) {
	cmd := exec.CommandContext(ctx, r.binary, r.commandArgs(query)...)
	cmd.Env = append(os.Environ(), r.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("mysql client query failed: %w", err)
		}
		return nil, fmt.Errorf("mysql client query failed: %w: %s", err, msg)
	}
	return parseBatchOutput(stdout.String()), nil
}

// Exec runs a statement through the client, ignoring any output.
func (r *ClientRunner) Exec(ctx context.Context, stmt string) error {
	_, err := r.Query(ctx, stmt)
	return err
}

// parseBatchOutput splits the client's non-interactive output into rows of
// tab-separated columns.
func parseBatchOutput(out string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}
