package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	// tableCountQuery counts user tables; run once before the backup as a
	// connectivity probe with the same credentials the backup will use.
	tableCountQuery = `select count(concat(table_schema,'.',table_name)) from information_schema.tables where table_schema not in ('sys','information_schema','performance_schema')`

	// processlistQuery snapshots every server session; the watcher filters
	// the rows itself.
	processlistQuery = `select id, user, state, info from information_schema.processlist`
)

// Session is one row of the server's process list.
type Session struct {
	ID    uint64
	User  string
	State string
	Info  string
}

// TableCount probes connectivity by counting the server's user tables.
func TableCount(ctx context.Context, runner QueryRunner) (int, error) {
	rows, err := runner.Query(ctx, tableCountQuery)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("table count probe returned no rows")
	}

	count, err := strconv.Atoi(strings.TrimSpace(rows[0][0]))
	if err != nil {
		return 0, fmt.Errorf("unexpected table count %q: %w", rows[0][0], err)
	}
	return count, nil
}

// Processlist snapshots the server's current sessions.
func Processlist(ctx context.Context, runner QueryRunner) ([]Session, error) {
	rows, err := runner.Query(ctx, processlistQuery)
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{
			ID:    id,
			User:  row[1],
			State: row[2],
			Info:  row[3],
		})
	}
	return sessions, nil
}

// Kill terminates a server session.
func Kill(ctx context.Context, runner QueryRunner, id uint64) error {
	return runner.Exec(ctx, fmt.Sprintf("KILL %d", id))
}
