package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chstore "solana-backtest-lab/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database when missing, applies
// every migration statement and returns a connection to that database.
// ClickHouse migrations must be idempotent (IF NOT EXISTS); they are rerun
// on every start.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	migrations, err := Clickhouse()
	if err != nil {
		return nil, err
	}
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(dbName))
	_ = admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, m := range migrations {
		stmts, err := splitStatements(m.SQL)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		// The driver executes one statement per call.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
	}
	return conn, nil
}

// errQuotedSemicolon rejects input the plain splitter would cut apart.
var errQuotedSemicolon = errors.New("semicolon inside string literal")

// splitStatements splits on ';' after dropping "--" comment lines. Semicolons
// inside single-quoted literals are rejected rather than handled.
func splitStatements(sql string) ([]string, error) {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, line)
	}
	body := strings.Join(lines, "\n")

	quoted := false
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\'':
			if quoted && i+1 < len(body) && body[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return nil, errQuotedSemicolon
			}
		}
	}

	var stmts []string
	for _, part := range strings.Split(body, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn has no database")
	}
	return db, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
